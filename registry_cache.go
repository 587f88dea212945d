package filterql

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// RegistryCache holds built registries keyed by resource name. Registries are
// immutable, so entries never need invalidation.
type RegistryCache struct {
	entries *xsync.MapOf[string, *Registry]
}

// NewRegistryCache creates an empty cache.
func NewRegistryCache() *RegistryCache {
	return &RegistryCache{entries: xsync.NewMapOf[string, *Registry]()}
}

// Get returns the registry for resource, building it with build on first use.
// A failed build is not cached.
func (c *RegistryCache) Get(resource string, build func() (*Registry, error)) (*Registry, error) {
	if r, ok := c.entries.Load(resource); ok {
		return r, nil
	}
	r, err := build()
	if err != nil {
		return nil, err
	}
	actual, _ := c.entries.LoadOrStore(resource, r)
	return actual, nil
}

// Lookup returns a cached registry without building one.
func (c *RegistryCache) Lookup(resource string) (*Registry, bool) {
	return c.entries.Load(resource)
}

// Len reports the number of cached registries.
func (c *RegistryCache) Len() int {
	return c.entries.Size()
}
