/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package packagejson

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache holds parsed manifests by file path. The resolver reads the same
// manifest for every module of a package, and the watcher drops the entry
// of a manifest that changed.
type Cache interface {
	// GetOrLoad returns the cached result for path or runs load. Load
	// failures are remembered until the path is invalidated.
	GetOrLoad(path string, load func() (*PackageJSON, error)) (*PackageJSON, error)
	Invalidate(path string)
}

type loaded struct {
	pkg *PackageJSON
	err error
}

// MemoryCache is a Cache safe for concurrent use. Concurrent loads of one
// path share a single read. A load that overlaps an invalidation of its
// path is returned to its callers but not stored.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]loaded
	// epochs counts invalidations per path.
	epochs map[string]uint64
	group  singleflight.Group
}

// NewMemoryCache creates an empty manifest cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]loaded),
		epochs:  make(map[string]uint64),
	}
}

// Get returns a successfully loaded manifest.
func (c *MemoryCache) Get(path string) (*PackageJSON, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[path]
	if !ok || e.err != nil {
		return nil, false
	}
	return e.pkg, true
}

// Set stores a manifest parsed elsewhere.
func (c *MemoryCache) Set(path string, pkg *PackageJSON) {
	c.mu.Lock()
	c.entries[path] = loaded{pkg: pkg}
	c.mu.Unlock()
}

// Invalidate drops the entry for path, including a remembered failure.
func (c *MemoryCache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.epochs[path]++
	c.mu.Unlock()
}

// Len returns the number of entries, failures included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) GetOrLoad(path string, load func() (*PackageJSON, error)) (*PackageJSON, error) {
	c.mu.RLock()
	e, ok := c.entries[path]
	epoch := c.epochs[path]
	c.mu.RUnlock()
	if ok {
		return e.pkg, e.err
	}

	v, _, _ := c.group.Do(path, func() (any, error) {
		pkg, err := load()
		res := loaded{pkg: pkg, err: err}
		c.mu.Lock()
		if c.epochs[path] == epoch {
			c.entries[path] = res
		}
		c.mu.Unlock()
		return res, nil
	})
	res := v.(loaded)
	return res.pkg, res.err
}
