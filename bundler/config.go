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

package bundler

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"bennypowers.dev/sheaf/cdn"
	"bennypowers.dev/sheaf/chunk"
	"bennypowers.dev/sheaf/codegen"
	"bennypowers.dev/sheaf/hmr"
	"bennypowers.dev/sheaf/loader"
	"bennypowers.dev/sheaf/packagejson"
	"bennypowers.dev/sheaf/resolve"
)

// Split strategies.
const (
	StrategyThreshold = "threshold"
	StrategyDuplicate = "duplicate"
)

// Config describes a build. Keys follow the config file layout.
type Config struct {
	// Root is the project directory. Relative entries, the output
	// directory and runtime module IDs are taken relative to it.
	Root string `mapstructure:"root" json:"root"`
	// Entries are script, stylesheet or HTML page paths.
	Entries []string `mapstructure:"entries" json:"entries"`
	// OutDir receives the assets and manifest. Empty keeps the build in
	// memory.
	OutDir string `mapstructure:"out-dir" json:"outDir,omitempty"`
	// Workers sizes the worker pool. Zero uses one worker per CPU.
	Workers int `mapstructure:"workers" json:"workers,omitempty"`
	// CacheDir holds the persistent transform cache. Empty disables it.
	CacheDir string `mapstructure:"cache-dir" json:"cacheDir,omitempty"`

	Resolve ResolveConfig `mapstructure:"resolve" json:"resolve"`
	// Loaders maps file patterns to stage chains; the first match wins.
	Loaders []loader.Rule `mapstructure:"loaders" json:"loaders"`
	// Commands registers external transformer stages by name.
	Commands map[string]loader.CommandConfig `mapstructure:"commands" json:"commands,omitempty"`
	// Define lists NAME=VALUE replacements for the define stage.
	Define []string `mapstructure:"define" json:"define,omitempty"`

	Output     OutputConfig     `mapstructure:"output" json:"output"`
	Split      SplitConfig      `mapstructure:"split" json:"split"`
	Federation FederationConfig `mapstructure:"federation" json:"federation"`
	HMR        HMRConfig        `mapstructure:"hmr" json:"hmr"`
}

// ResolveConfig configures module resolution.
type ResolveConfig struct {
	Extensions []string `mapstructure:"extensions" json:"extensions"`
	Conditions []string `mapstructure:"conditions" json:"conditions"`
	MainFields []string `mapstructure:"main-fields" json:"mainFields"`
	// Aliases lists FROM=TO specifier rewrites. FROM also matches
	// specifiers continuing below it with "/".
	Aliases   []string `mapstructure:"aliases" json:"aliases,omitempty"`
	Externals []string `mapstructure:"externals" json:"externals,omitempty"`
	Platform  string   `mapstructure:"platform" json:"platform"`
	// Workspaces resolves the packages of the enclosing npm workspace by
	// name.
	Workspaces bool `mapstructure:"workspaces" json:"workspaces"`
}

// OutputConfig configures emitted assets.
type OutputConfig struct {
	Template   string `mapstructure:"template" json:"template"`
	PublicPath string `mapstructure:"public-path" json:"publicPath"`
	SourceMaps bool   `mapstructure:"source-maps" json:"sourceMaps"`
	TreeShake  bool   `mapstructure:"tree-shake" json:"treeShake"`
}

// SplitConfig configures shared chunk extraction.
type SplitConfig struct {
	Strategy  string `mapstructure:"strategy" json:"strategy"`
	MinChunks int    `mapstructure:"min-chunks" json:"minChunks"`
	// MinSize is the smallest module, in bytes, worth extracting.
	MinSize int `mapstructure:"min-size" json:"minSize,omitempty"`
}

// FederationConfig configures packages served by the host page instead
// of the bundle.
type FederationConfig struct {
	Shared []cdn.Shared `mapstructure:"shared" json:"shared,omitempty"`
	// Provider names the CDN shared packages are loaded from.
	Provider string `mapstructure:"provider" json:"provider"`
	// Registry overrides the npm registry used to pick versions.
	Registry string `mapstructure:"registry" json:"registry,omitempty"`
	// Imports lists SPECIFIER=URL import map entries for externals.
	Imports []string `mapstructure:"imports" json:"imports,omitempty"`
}

// HMRConfig configures watch mode.
type HMRConfig struct {
	Path   string        `mapstructure:"path" json:"path"`
	Window time.Duration `mapstructure:"window" json:"window"`
	// Ignore lists doublestar patterns the file watcher skips.
	Ignore []string `mapstructure:"ignore" json:"ignore"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() Config {
	return Config{
		Root:   ".",
		OutDir: "dist",
		Resolve: ResolveConfig{
			Extensions: slices.Clone(resolve.DefaultExtensions),
			Conditions: slices.Clone(packagejson.DefaultConditions),
			MainFields: slices.Clone(resolve.DefaultMainFields),
			Platform:   string(resolve.PlatformBrowser),
		},
		Loaders: slices.Clone(loader.DefaultRules),
		Output: OutputConfig{
			Template:   codegen.DefaultTemplate,
			PublicPath: "/",
			SourceMaps: true,
			TreeShake:  true,
		},
		Split: SplitConfig{
			Strategy:  StrategyThreshold,
			MinChunks: 2,
		},
		Federation: FederationConfig{
			Provider: cdn.DefaultProvider.Name,
		},
		HMR: HMRConfig{
			Path:   codegen.DefaultHMRPath,
			Window: hmr.DefaultWindow,
			Ignore: slices.Clone(hmr.DefaultIgnore),
		},
	}
}

// ErrNoEntries is returned for a configuration without entries.
var ErrNoEntries = errors.New("no entries configured")

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	if len(c.Entries) == 0 {
		return errors.Join(ErrNoEntries, c.check())
	}
	return c.check()
}

// check validates everything but the entries, which only builds need.
func (c *Config) check() error {
	var errs []error
	switch resolve.Platform(c.Resolve.Platform) {
	case "", resolve.PlatformBrowser, resolve.PlatformNode, resolve.PlatformNeutral:
	default:
		errs = append(errs, fmt.Errorf("unknown platform %q", c.Resolve.Platform))
	}
	switch c.Split.Strategy {
	case "", StrategyThreshold, StrategyDuplicate:
	default:
		errs = append(errs, fmt.Errorf("unknown split strategy %q", c.Split.Strategy))
	}
	if p := c.Federation.Provider; p != "" && !cdn.IsValidProvider(p) {
		errs = append(errs, fmt.Errorf("unknown provider %q: must be one of %s", p, strings.Join(cdn.ProviderNames(), ", ")))
	}
	for _, s := range c.Federation.Shared {
		if s.Name == "" {
			errs = append(errs, errors.New("shared package without a name"))
		}
	}
	if _, err := ParsePairs(c.Define); err != nil {
		errs = append(errs, fmt.Errorf("define: %w", err))
	}
	if _, err := ParsePairs(c.Resolve.Aliases); err != nil {
		errs = append(errs, fmt.Errorf("aliases: %w", err))
	}
	if _, err := ParsePairs(c.Federation.Imports); err != nil {
		errs = append(errs, fmt.Errorf("imports: %w", err))
	}
	return errors.Join(errs...)
}

// ParsePairs splits KEY=VALUE items into a map. Values may contain "=".
func ParsePairs(items []string) (map[string]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(items))
	for _, item := range items {
		k, v, ok := strings.Cut(item, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid pair %q: want KEY=VALUE", item)
		}
		out[k] = v
	}
	return out, nil
}

func (c *Config) strategy() chunk.SharedStrategy {
	if c.Split.Strategy == StrategyDuplicate {
		return chunk.DuplicateStrategy{}
	}
	return chunk.ThresholdStrategy{MinChunks: c.Split.MinChunks, MinSize: c.Split.MinSize}
}

// abs resolves path against the root.
func (c *Config) abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.Root, path)
}
