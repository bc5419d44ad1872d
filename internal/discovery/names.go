package discovery

import (
	"sync"

	"github.com/muurk/btgate/internal/logging"
	"go.uber.org/zap"
)

// NameStore loads and persists the address to name map.
type NameStore interface {
	Load() (map[string]string, error)
	Save(names map[string]string) error
}

// NameCache remembers friendly names between inquiries and, with a store,
// between restarts. Names are keyed by normalised address.
type NameCache struct {
	mu    sync.RWMutex
	names map[string]string
	store NameStore
}

// NewNameCache creates a cache seeded with seed. store may be nil, in which
// case nothing is persisted.
func NewNameCache(store NameStore, seed map[string]string) *NameCache {
	c := &NameCache{
		names: make(map[string]string, len(seed)),
		store: store,
	}
	for addr, name := range seed {
		if name != "" {
			c.names[NewIdentity(addr).Address] = name
		}
	}
	return c
}

// Load merges the persisted names into the cache. Persisted names override
// seeded ones.
func (c *NameCache) Load() error {
	if c.store == nil {
		return nil
	}
	stored, err := c.store.Load()
	if err != nil {
		return err
	}

	c.mu.Lock()
	for addr, name := range stored {
		if name != "" {
			c.names[NewIdentity(addr).Address] = name
		}
	}
	n := len(c.names)
	c.mu.Unlock()

	logging.Debug("Name cache loaded", zap.Int("names", n))
	return nil
}

// Lookup returns the cached name of id.
func (c *NameCache) Lookup(id Identity) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[id.Address]
	return name, ok
}

// Put caches name for id. Empty names are ignored.
func (c *NameCache) Put(id Identity, name string) {
	if name == "" {
		return
	}
	c.mu.Lock()
	c.names[id.Address] = name
	c.mu.Unlock()
}

// Names returns a copy of the cache contents.
func (c *NameCache) Names() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.names))
	for k, v := range c.names {
		out[k] = v
	}
	return out
}

// Persist writes the cache to its store, if any.
func (c *NameCache) Persist() error {
	if c.store == nil {
		return nil
	}
	return c.store.Save(c.Names())
}
