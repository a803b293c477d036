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
	"fmt"
	"strings"

	"bennypowers.dev/sheaf/importmap"
	"bennypowers.dev/sheaf/packagejson"
	"golang.org/x/sync/errgroup"
)

// Logger receives diagnostics from federation lookups.
type Logger interface {
	Warning(format string, args ...any)
	Debug(format string, args ...any)
}

// Shared configures a package loaded from the host at runtime instead of
// being bundled.
type Shared struct {
	Name string `mapstructure:"name" json:"name"`
	// RequiredVersion is an npm range the served version should satisfy.
	RequiredVersion string `mapstructure:"requiredVersion" json:"requiredVersion,omitempty"`
	// URL pins the module URL, bypassing provider and registry.
	URL string `mapstructure:"url" json:"url,omitempty"`
}

// VersionMismatch reports an installed shared package outside its
// required range.
type VersionMismatch struct {
	Package   string
	Installed string
	Required  string
}

func (m *VersionMismatch) Error() string {
	return fmt.Sprintf("shared package %s: installed %s does not satisfy %s", m.Package, m.Installed, m.Required)
}

// Federation builds the import map that serves shared packages.
type Federation struct {
	fetcher    Fetcher
	provider   Provider
	registry   *Registry
	cache      *PackageCache
	conditions []string
	logger     Logger
}

// NewFederation returns a Federation using DefaultProvider and the public
// npm registry.
func NewFederation(fetcher Fetcher) *Federation {
	return &Federation{
		fetcher:  fetcher,
		provider: DefaultProvider,
		registry: NewRegistry(fetcher),
		cache:    NewPackageCache(100),
	}
}

// WithProvider serves shared packages from p.
func (f *Federation) WithProvider(p Provider) *Federation {
	f.provider = p
	return f
}

// WithRegistry queries r for versions of packages not installed locally.
func (f *Federation) WithRegistry(r *Registry) *Federation {
	f.registry = r
	return f
}

// WithConditions sets the export conditions used to find entry points.
func (f *Federation) WithConditions(conditions []string) *Federation {
	f.conditions = conditions
	return f
}

// WithLogger sets the logger.
func (f *Federation) WithLogger(l Logger) *Federation {
	f.logger = l
	return f
}

type sharedURL struct {
	name, entry string
	subpaths    map[string]string
	mismatch    *VersionMismatch
}

// ImportMap maps every shared package, and its subpaths, to a URL.
// installed holds the manifests of locally installed packages by name;
// their versions win over the registry. Version mismatches are returned
// alongside the map rather than failing the build.
func (f *Federation) ImportMap(ctx context.Context, shared []Shared, installed map[string]*packagejson.PackageJSON) (*importmap.ImportMap, []*VersionMismatch, error) {
	urls := make([]sharedURL, len(shared))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range shared {
		g.Go(func() error {
			u, err := f.locate(gctx, s, installed[s.Name])
			if err != nil {
				return fmt.Errorf("shared package %s: %w", s.Name, err)
			}
			urls[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	im := &importmap.ImportMap{}
	var mismatches []*VersionMismatch
	for _, u := range urls {
		im.Set(u.name, u.entry)
		for spec, url := range u.subpaths {
			im.Set(spec, url)
		}
		if u.mismatch != nil {
			mismatches = append(mismatches, u.mismatch)
		}
	}
	return im, mismatches, nil
}

func (f *Federation) locate(ctx context.Context, s Shared, local *packagejson.PackageJSON) (sharedURL, error) {
	u := sharedURL{name: s.Name}
	if s.URL != "" {
		u.entry = s.URL
		return u, nil
	}

	var (
		version string
		pkg     *packagejson.PackageJSON
	)
	if local != nil && local.Version != "" {
		version, pkg = local.Version, local
		if s.RequiredVersion != "" {
			rng, err := ParseRange(s.RequiredVersion)
			if err != nil {
				return u, err
			}
			if !rng.Satisfies(version) {
				u.mismatch = &VersionMismatch{Package: s.Name, Installed: version, Required: s.RequiredVersion}
				if f.logger != nil {
					f.logger.Warning("%v", u.mismatch)
				}
			}
		}
	} else {
		v, err := f.registry.ResolveVersion(ctx, s.Name, s.RequiredVersion)
		if err != nil {
			return u, err
		}
		version = v
		pkg, err = f.manifest(ctx, s.Name, version)
		if err != nil {
			return u, err
		}
	}

	u.entry = f.provider.URL(s.Name, version, entryPath(pkg, f.resolveOptions()))
	u.subpaths = f.subpaths(s.Name, version, pkg)
	if f.logger != nil {
		f.logger.Debug("shared %s@%s -> %s", s.Name, version, u.entry)
	}
	return u, nil
}

// subpaths maps the package's exported subpaths. Wildcard exports become
// trailing-slash prefixes. A package without exports, or with any
// wildcard, also maps its own directory.
func (f *Federation) subpaths(name, version string, pkg *packagejson.PackageJSON) map[string]string {
	opts := f.resolveOptions()
	out := make(map[string]string)
	if pkg.HasTrailingSlashExport(opts) {
		out[name+"/"] = f.provider.URL(name, version, "")
	}
	for _, e := range pkg.ExportEntries(opts) {
		if e.Subpath == "." {
			continue
		}
		out[name+strings.TrimPrefix(e.Subpath, ".")] = f.provider.URL(name, version, e.Target)
	}
	for _, w := range pkg.WildcardExports(opts) {
		prefix := strings.TrimPrefix(w.Pattern[:strings.Index(w.Pattern, "*")], ".")
		if !strings.HasSuffix(prefix, "/") {
			continue
		}
		out[name+prefix] = f.provider.URL(name, version, w.Target)
	}
	return out
}

func (f *Federation) resolveOptions() *packagejson.ResolveOptions {
	if f.conditions == nil {
		return nil
	}
	return &packagejson.ResolveOptions{Conditions: f.conditions}
}

func (f *Federation) manifest(ctx context.Context, name, version string) (*packagejson.PackageJSON, error) {
	return f.cache.GetOrLoad(name, version, func() (*packagejson.PackageJSON, error) {
		data, err := f.fetcher.Fetch(ctx, f.provider.PackageJSONURL(name, version))
		if err != nil {
			return nil, err
		}
		return packagejson.Parse(data)
	})
}

// entryPath is the package-relative path of the main entry point.
func entryPath(pkg *packagejson.PackageJSON, opts *packagejson.ResolveOptions) string {
	if pkg.Exports == nil && pkg.Module != "" {
		return pkg.Module
	}
	if p, err := pkg.ResolveExport(".", opts); err == nil {
		return p
	}
	for _, p := range []string{pkg.Module, pkg.Main} {
		if p != "" {
			return p
		}
	}
	return "index.js"
}
