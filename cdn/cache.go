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

package cdn

import (
	"slices"
	"sync"

	"bennypowers.dev/sheaf/packagejson"
)

// PackageCache holds package.json manifests fetched from a CDN, keyed by
// name@version. Published versions are immutable, so entries never go
// stale; the cache only bounds memory.
type PackageCache struct {
	mu      sync.Mutex
	entries map[string]*remoteEntry
	order   []string
	maxSize int
}

type remoteEntry struct {
	once sync.Once
	pkg  *packagejson.PackageJSON
	err  error
}

// NewPackageCache returns a cache of at most maxSize manifests.
func NewPackageCache(maxSize int) *PackageCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &PackageCache{
		entries: make(map[string]*remoteEntry),
		maxSize: maxSize,
	}
}

func cacheKey(name, version string) string {
	return name + "@" + version
}

// Get returns a successfully loaded manifest.
func (c *PackageCache) Get(name, version string) (*packagejson.PackageJSON, bool) {
	c.mu.Lock()
	e, ok := c.entries[cacheKey(name, version)]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	e.once.Do(func() {})
	return e.pkg, e.err == nil && e.pkg != nil
}

// Set stores pkg, replacing any entry for the same version.
func (c *PackageCache) Set(name, version string, pkg *packagejson.PackageJSON) {
	e := &remoteEntry{pkg: pkg}
	e.once.Do(func() {})
	c.mu.Lock()
	c.insert(cacheKey(name, version), e)
	c.mu.Unlock()
}

// GetOrLoad returns the cached manifest or runs load once for all
// concurrent callers. Failed loads are not retained.
func (c *PackageCache) GetOrLoad(name, version string, load func() (*packagejson.PackageJSON, error)) (*packagejson.PackageJSON, error) {
	key := cacheKey(name, version)
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &remoteEntry{}
		c.insert(key, e)
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.pkg, e.err = load()
	})
	if e.err != nil {
		c.mu.Lock()
		if c.entries[key] == e {
			c.remove(key)
		}
		c.mu.Unlock()
		return nil, e.err
	}
	return e.pkg, nil
}

// Invalidate drops the manifest for name@version.
func (c *PackageCache) Invalidate(name, version string) {
	c.mu.Lock()
	c.remove(cacheKey(name, version))
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *PackageCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*remoteEntry)
	c.order = nil
	c.mu.Unlock()
}

// Size returns the number of entries.
func (c *PackageCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *PackageCache) insert(key string, e *remoteEntry) {
	if _, ok := c.entries[key]; ok {
		c.entries[key] = e
		return
	}
	if len(c.entries) >= c.maxSize {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	c.entries[key] = e
	c.order = append(c.order, key)
}

func (c *PackageCache) remove(key string) {
	delete(c.entries, key)
	if i := slices.Index(c.order, key); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
}
