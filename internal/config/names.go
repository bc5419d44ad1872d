package config

import (
	"fmt"
	"os"

	"github.com/muurk/btgate/internal/discovery"
	"gopkg.in/yaml.v3"
)

// NameFile persists the friendly name cache as a YAML map of address to
// name. It implements discovery.NameStore.
type NameFile struct {
	Path string
}

// NameStoreFor returns the store for path, or a nil interface when
// persistence is disabled.
func NameStoreFor(path string) discovery.NameStore {
	if NameCacheDisabled(path) {
		return nil
	}
	return &NameFile{Path: path}
}

// Load reads the cache. A missing file loads empty.
func (n *NameFile) Load() (map[string]string, error) {
	data, err := os.ReadFile(n.Path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read name cache: %w", err)
	}

	names := make(map[string]string)
	if err := yaml.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("failed to parse name cache: %w", err)
	}
	return names, nil
}

// Save writes names atomically.
func (n *NameFile) Save(names map[string]string) error {
	data, err := yaml.Marshal(names)
	if err != nil {
		return fmt.Errorf("failed to marshal name cache: %w", err)
	}
	header := []byte("# btgate friendly name cache (address: name)\n\n")
	return writeAtomic(n.Path, append(header, data...))
}
