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

package resolve

import (
	"slices"
	"strings"
	"sync"
)

// cacheKey identifies one resolution request.
type cacheKey struct {
	specifier  string
	fromDir    string
	conditions string
}

type cacheEntry struct {
	resolved Resolved
	err      error
}

// Cache memoizes resolutions and tracks which filesystem paths each one
// consulted, so a change to a path drops exactly the entries that read it.
type Cache struct {
	mu sync.RWMutex

	entries map[cacheKey]cacheEntry

	// consulted maps request -> paths it probed or read
	consulted map[cacheKey][]string

	// dependents maps path -> requests that consulted it
	dependents map[string]map[cacheKey]bool
}

// NewCache creates an empty resolution cache.
func NewCache() *Cache {
	return &Cache{
		entries:    make(map[cacheKey]cacheEntry),
		consulted:  make(map[cacheKey][]string),
		dependents: make(map[string]map[cacheKey]bool),
	}
}

func (c *Cache) get(key cacheKey) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *Cache) put(key cacheKey, entry cacheEntry, paths []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropLocked(key)
	c.entries[key] = entry
	c.consulted[key] = paths
	for _, p := range paths {
		if c.dependents[p] == nil {
			c.dependents[p] = make(map[cacheKey]bool)
		}
		c.dependents[p][key] = true
	}
}

// Invalidate drops every entry that consulted path, or any path below it
// when path is a directory. Returns the number of dropped entries.
func (c *Cache) Invalidate(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []cacheKey
	for key := range c.dependents[path] {
		keys = append(keys, key)
	}
	prefix := strings.TrimSuffix(path, "/") + "/"
	for p, deps := range c.dependents {
		if strings.HasPrefix(p, prefix) {
			for key := range deps {
				keys = append(keys, key)
			}
		}
	}

	dropped := 0
	for _, key := range keys {
		if _, ok := c.entries[key]; ok {
			dropped++
		}
		c.dropLocked(key)
	}
	return dropped
}

// dropLocked removes key and its edges from the dependents index.
func (c *Cache) dropLocked(key cacheKey) {
	for _, p := range c.consulted[key] {
		delete(c.dependents[p], key)
		if len(c.dependents[p]) == 0 {
			delete(c.dependents, p)
		}
	}
	delete(c.consulted, key)
	delete(c.entries, key)
}

// consultedPaths returns the sorted, distinct paths consulted by a cached
// resolution, or nil when the request is not cached.
func (c *Cache) consultedPaths(key cacheKey) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := c.consulted[key]
	if paths == nil {
		return nil
	}
	out := slices.Clone(paths)
	slices.Sort(out)
	return slices.Compact(out)
}

// Len returns the number of cached resolutions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
