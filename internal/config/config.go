package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	appName       = "btgate"
	configFile    = "btgate.yaml"
	fleetFile     = "fleet.yaml"
	nameCacheFile = "names.yaml"
)

// Mutex for thread-safe file operations
var fileMutex sync.Mutex

// GetConfigDir returns the OS-appropriate configuration directory for the application.
// This follows platform conventions:
//   - Linux: $XDG_CONFIG_HOME/btgate or $HOME/.config/btgate
//   - macOS: $HOME/.config/btgate (following XDG convention on macOS)
//   - Windows: %LOCALAPPDATA%\btgate
func GetConfigDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			baseDir = filepath.Join(userProfile, "AppData", "Local", appName)
		} else {
			baseDir = filepath.Join(localAppData, appName)
		}

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".config", appName)

	default:
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome != "" {
			baseDir = filepath.Join(xdgConfigHome, appName)
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			baseDir = filepath.Join(homeDir, ".config", appName)
		}
	}

	return baseDir, nil
}

// GetConfigPath returns the default path of the gateway configuration file.
func GetConfigPath() (string, error) {
	return inConfigDir(configFile)
}

// DefaultFleetPath returns the default fleet descriptor path.
func DefaultFleetPath() (string, error) {
	return inConfigDir(fleetFile)
}

// DefaultNameCachePath returns the default name cache path.
func DefaultNameCachePath() (string, error) {
	return inConfigDir(nameCacheFile)
}

func inConfigDir(name string) (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, name), nil
}

// Load reads the configuration at path. An empty path means the default
// location. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := NewConfig()
		if err := cfg.resolvePaths(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.Version != 1 {
		return nil, fmt.Errorf("unsupported config version: %d (expected 1)", cfg.Version)
	}

	cfg.applyDefaults()
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolvePaths fills the fleet and name cache locations that were left out.
// An explicit "null" name cache stays disabled.
func (c *Config) resolvePaths() error {
	if c.Discovery.Fleet == "" {
		p, err := DefaultFleetPath()
		if err != nil {
			return err
		}
		c.Discovery.Fleet = p
	}
	if c.Discovery.NameCache == "" {
		p, err := DefaultNameCachePath()
		if err != nil {
			return err
		}
		c.Discovery.NameCache = p
	}
	return nil
}

// NameCacheDisabled reports whether name persistence is turned off.
func NameCacheDisabled(path string) bool {
	p := strings.TrimSpace(path)
	return p == "" || strings.EqualFold(p, "null")
}

// Save writes the configuration to path atomically.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# btgate configuration file
# Discovery policy, radio backend and API settings for the gateway.
#
# Fleet credentials live in the fleet descriptor, not in this file.
#
# Location: ` + path + `

`)
	return writeAtomic(path, append(header, data...))
}

// writeAtomic writes data to a temporary file next to path and renames it
// into place.
func writeAtomic(path string, data []byte) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save %s: %w", filepath.Base(path), err)
	}

	return nil
}
