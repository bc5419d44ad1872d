package config

import (
	"fmt"
	"os"

	"github.com/muurk/btgate/internal/discovery"
	"github.com/muurk/btgate/internal/logging"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FleetFile is the on-disk fleet descriptor.
type FleetFile struct {
	DeviceFilter string        `yaml:"device_filter,omitempty"` // Regex over address or name
	Devices      []FleetDevice `yaml:"devices"`
}

// FleetDevice is one fleet entry as written in the descriptor.
type FleetDevice struct {
	ID       string `yaml:"id"` // Regex over address or name
	PIN      string `yaml:"pin,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Realm    string `yaml:"realm,omitempty"`
	Retry    *bool  `yaml:"retry,omitempty"`     // Defaults to true
	MaxRetry int    `yaml:"max_retry,omitempty"` // Defaults to 1
}

// LoadFleet reads and compiles the fleet descriptor at path. A missing file
// is not an error: it returns a nil fleet, which accepts every device and
// never pairs.
func LoadFleet(path string) (*discovery.Fleet, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logging.Warn("Fleet descriptor not found, accepting all devices", zap.String("path", path))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet descriptor: %w", err)
	}

	var file FleetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse fleet descriptor: %w", err)
	}

	fleet, err := file.Compile()
	if err != nil {
		return nil, err
	}

	logging.Info("Fleet descriptor loaded",
		zap.String("path", path),
		zap.Int("entries", len(fleet.Entries)),
		zap.Bool("filter", fleet.Filter != nil),
	)
	return fleet, nil
}

// Compile turns the descriptor into a discovery.Fleet.
func (f *FleetFile) Compile() (*discovery.Fleet, error) {
	fleet := &discovery.Fleet{}

	if f.DeviceFilter != "" {
		re, err := discovery.CompilePattern(f.DeviceFilter)
		if err != nil {
			return nil, fmt.Errorf("device_filter: %w", err)
		}
		fleet.Filter = re
	}

	for i, d := range f.Devices {
		if d.ID == "" {
			return nil, fmt.Errorf("devices[%d]: id is required", i)
		}
		entry, err := discovery.NewFleetEntry(d.ID)
		if err != nil {
			return nil, fmt.Errorf("devices[%d]: %w", i, err)
		}
		entry.PIN = d.PIN
		entry.Username = d.Username
		entry.Password = d.Password
		entry.Realm = d.Realm
		if d.Retry != nil {
			entry.Retry = *d.Retry
		}
		if d.MaxRetry != 0 {
			entry.MaxRetry = d.MaxRetry
		}
		fleet.Entries = append(fleet.Entries, entry)
	}

	return fleet, nil
}
