// Package config loads the btgate configuration files.
//
// Three YAML files are involved:
//   - btgate.yaml: discovery policy, radio backend, API and mDNS settings
//   - fleet.yaml: device filter and fleet entries with pairing credentials
//   - names.yaml: the persisted friendly name cache
//
// # Configuration File Location
//
// Files default to platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/btgate/ or $HOME/.config/btgate/
//   - macOS: $HOME/.config/btgate/
//   - Windows: %LOCALAPPDATA%\btgate\
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fleet, err := config.LoadFleet(cfg.Discovery.Fleet)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	names := discovery.NewNameCache(config.NameStoreFor(cfg.Discovery.NameCache), cfg.Devices)
//
// # Thread Safety
//
// Writes are serialized by a package mutex and performed atomically through a
// temporary file and rename.
package config
