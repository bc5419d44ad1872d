package config

import "time"

// Config is the gateway configuration file.
type Config struct {
	Version   int               `yaml:"version"`
	Discovery *DiscoveryConfig  `yaml:"discovery,omitempty"`
	Radio     *RadioConfig      `yaml:"radio,omitempty"`
	API       *APIConfig        `yaml:"api,omitempty"`
	Announce  *AnnounceConfig   `yaml:"announce,omitempty"`
	Devices   map[string]string `yaml:"devices,omitempty"` // Seed names keyed by address
}

// DiscoveryConfig holds the inquiry and registry policy.
type DiscoveryConfig struct {
	Period            time.Duration `yaml:"period"`              // Delay between the end of one inquiry and the next
	InquiryMode       string        `yaml:"inquiry_mode"`        // giac or liac
	IgnoreUnnamed     bool          `yaml:"ignore_unnamed"`      // Skip devices without a friendly name
	OnlineCheck       bool          `yaml:"online_check"`        // Probe every inquired device before accepting it
	DepartureCheck    bool          `yaml:"departure_check"`     // Probe missing devices before removing them
	UnpairOnDeparture bool          `yaml:"unpair_on_departure"` // Remove link keys of departed fleet devices
	CachedRecheck     bool          `yaml:"cached_recheck"`      // Probe devices remembered by the stack
	StackQuirks       bool          `yaml:"stack_quirks"`        // Apply per-stack workarounds on top of the above
	NameCache         string        `yaml:"name_cache"`          // Empty or "null" disables persistence
	Fleet             string        `yaml:"fleet"`               // Fleet descriptor path
}

// RadioConfig selects and tunes the radio backend.
type RadioConfig struct {
	Backend    string        `yaml:"backend"`     // ble or sim
	HCIIndex   int           `yaml:"hci_index"`   // Linux HCI device index
	ScanWindow time.Duration `yaml:"scan_window"` // Length of one inquiry on LE radios
	SimFile    string        `yaml:"sim_file"`    // Scenario file for the sim backend
}

// APIConfig configures the HTTP API and event feed.
type APIConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	TLSCert string `yaml:"tls_cert,omitempty"`
	TLSKey  string `yaml:"tls_key,omitempty"`
}

// AnnounceConfig controls mDNS advertisement of the API.
type AnnounceConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

// Backend names.
const (
	BackendBLE = "ble"
	BackendSim = "sim"
)

// NewConfig returns a configuration with default values.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Discovery: &DiscoveryConfig{
			Period:         10 * time.Second,
			InquiryMode:    "giac",
			DepartureCheck: true,
			StackQuirks:    true,
		},
		Radio: &RadioConfig{
			Backend:    BackendBLE,
			ScanWindow: 5 * time.Second,
		},
		API: &APIConfig{
			Host: "0.0.0.0",
			Port: 8380,
		},
		Announce: &AnnounceConfig{
			Enabled:  true,
			Instance: "btgate",
		},
		Devices: make(map[string]string),
	}
}

// applyDefaults fills sections and values missing from a loaded file.
func (c *Config) applyDefaults() {
	def := NewConfig()
	if c.Discovery == nil {
		c.Discovery = def.Discovery
	}
	if c.Discovery.Period <= 0 {
		c.Discovery.Period = def.Discovery.Period
	}
	if c.Discovery.InquiryMode == "" {
		c.Discovery.InquiryMode = def.Discovery.InquiryMode
	}
	if c.Radio == nil {
		c.Radio = def.Radio
	}
	if c.Radio.Backend == "" {
		c.Radio.Backend = def.Radio.Backend
	}
	if c.Radio.ScanWindow <= 0 {
		c.Radio.ScanWindow = def.Radio.ScanWindow
	}
	if c.API == nil {
		c.API = def.API
	}
	if c.API.Port == 0 {
		c.API.Port = def.API.Port
	}
	if c.Announce == nil {
		c.Announce = def.Announce
	}
	if c.Announce.Instance == "" {
		c.Announce.Instance = def.Announce.Instance
	}
	if c.Devices == nil {
		c.Devices = make(map[string]string)
	}
}
