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
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultRegistryURL is the public npm registry.
const DefaultRegistryURL = "https://registry.npmjs.org"

// Registry answers version queries against an npm registry. Packuments
// are fetched once per package per Registry.
type Registry struct {
	fetcher  Fetcher
	baseURL  string
	versions *VersionCache

	group singleflight.Group
	mu    sync.Mutex
	docs  map[string]*RegistryPackage
}

// RegistryPackage is the subset of an npm packument sheaf reads.
type RegistryPackage struct {
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]json.RawMessage `json:"versions"`
}

// NewRegistry returns a client for the public npm registry.
func NewRegistry(fetcher Fetcher) *Registry {
	return NewRegistryWithURL(fetcher, DefaultRegistryURL)
}

// NewRegistryWithURL returns a client for a mirror or private registry.
func NewRegistryWithURL(fetcher Fetcher, baseURL string) *Registry {
	return &Registry{
		fetcher:  fetcher,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		versions: NewVersionCache(),
		docs:     make(map[string]*RegistryPackage),
	}
}

// Package fetches and caches the packument for name.
func (r *Registry) Package(ctx context.Context, name string) (*RegistryPackage, error) {
	r.mu.Lock()
	doc, ok := r.docs[name]
	r.mu.Unlock()
	if ok {
		return doc, nil
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		data, err := r.fetcher.Fetch(ctx, r.baseURL+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("fetching %s from registry: %w", name, err)
		}
		var pkg RegistryPackage
		if err := json.Unmarshal(data, &pkg); err != nil {
			return nil, fmt.Errorf("parsing registry metadata for %s: %w", name, err)
		}
		r.mu.Lock()
		r.docs[name] = &pkg
		r.mu.Unlock()
		return &pkg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RegistryPackage), nil
}

// ResolveVersion picks the version of name that versionRange selects: a
// dist-tag, an exact published version, or the highest match of an npm
// range.
func (r *Registry) ResolveVersion(ctx context.Context, name, versionRange string) (string, error) {
	if versionRange == "" {
		versionRange = "latest"
	}
	if cached, ok := r.versions.Get(name, versionRange); ok {
		return cached, nil
	}
	pkg, err := r.Package(ctx, name)
	if err != nil {
		return "", err
	}
	resolved, err := pkg.Resolve(versionRange)
	if err != nil {
		return "", err
	}
	r.versions.Set(name, versionRange, resolved)
	return resolved, nil
}

// Resolve selects a published version for versionRange.
func (pkg *RegistryPackage) Resolve(versionRange string) (string, error) {
	if tag, ok := pkg.DistTags[versionRange]; ok {
		return tag, nil
	}
	if _, ok := pkg.Versions[versionRange]; ok {
		return versionRange, nil
	}
	rng, err := ParseRange(versionRange)
	if err != nil {
		return "", err
	}
	published := slices.Sorted(maps.Keys(pkg.Versions))
	if v := rng.Highest(published); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no version of %s matches %q", pkg.Name, versionRange)
}

// VersionCache remembers range resolutions, evicting the least recently
// used entry past its capacity.
type VersionCache struct {
	mu      sync.Mutex
	entries map[string]string
	order   []string
	maxSize int
}

// NewVersionCache returns a cache holding up to 1000 resolutions.
func NewVersionCache() *VersionCache {
	return NewVersionCacheWithSize(1000)
}

// NewVersionCacheWithSize returns a cache holding up to maxSize
// resolutions.
func NewVersionCacheWithSize(maxSize int) *VersionCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &VersionCache{
		entries: make(map[string]string),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
	}
}

// Get returns the cached resolution of name@versionRange.
func (c *VersionCache) Get(name, versionRange string) (string, bool) {
	key := name + "@" + versionRange
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if ok {
		c.touch(key)
	}
	return v, ok
}

// Set records the resolution of name@versionRange.
func (c *VersionCache) Set(name, versionRange, version string) {
	key := name + "@" + versionRange
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = version
		c.touch(key)
		return
	}
	if len(c.entries) >= c.maxSize {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	c.entries[key] = version
	c.order = append(c.order, key)
}

// Len returns the number of cached resolutions.
func (c *VersionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *VersionCache) touch(key string) {
	if i := slices.Index(c.order, key); i >= 0 {
		c.order = append(slices.Delete(c.order, i, i+1), key)
	}
}
