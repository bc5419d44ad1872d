package gateway

import (
	"fmt"

	"github.com/muurk/btgate/internal/config"
	"github.com/muurk/btgate/internal/discovery"
	"github.com/muurk/btgate/internal/radio/bleradio"
	"github.com/muurk/btgate/internal/radio/sim"
)

// OptionsFromConfig builds gateway options from the configuration, loading
// the fleet descriptor and preparing the name cache.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	d := cfg.Discovery

	mode, err := discovery.ParseInquiryMode(d.InquiryMode)
	if err != nil {
		return Options{}, err
	}

	fleet, err := config.LoadFleet(d.Fleet)
	if err != nil {
		return Options{}, err
	}

	return Options{
		Period:      d.Period,
		InquiryMode: mode,
		OnlineCheck: d.OnlineCheck,
		Policy: discovery.DevicePolicy{
			IgnoreUnnamed:     d.IgnoreUnnamed,
			DepartureCheck:    d.DepartureCheck,
			UnpairOnDeparture: d.UnpairOnDeparture,
			CachedRecheck:     d.CachedRecheck,
		},
		StackQuirks: d.StackQuirks,
		Fleet:       fleet,
		Names:       discovery.NewNameCache(config.NameStoreFor(d.NameCache), cfg.Devices),
	}, nil
}

// OpenRadio opens the radio backend selected in the configuration.
func OpenRadio(cfg *config.RadioConfig) (discovery.Radio, error) {
	switch cfg.Backend {
	case config.BackendSim:
		if cfg.SimFile == "" {
			return nil, fmt.Errorf("radio backend %q needs sim_file", cfg.Backend)
		}
		scenario, err := sim.LoadScenario(cfg.SimFile)
		if err != nil {
			return nil, err
		}
		return sim.New(scenario)
	case config.BackendBLE, "":
		return bleradio.Open(bleradio.Config{
			HCIIndex:   cfg.HCIIndex,
			ScanWindow: cfg.ScanWindow,
		})
	default:
		return nil, fmt.Errorf("unknown radio backend %q", cfg.Backend)
	}
}
