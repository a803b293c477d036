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

// Package resolve maps import specifiers to canonical module identities.
//
// Resolution follows the Node.js algorithm as used by browser bundlers:
// aliases, extension probing, directory indexes, package.json exports and
// imports maps with ordered conditions, workspaces, and symlink real paths.
// Every lookup records the paths it consulted so that a filesystem change
// invalidates exactly the cached answers that depended on it.
package resolve

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"slices"
	"strings"

	"bennypowers.dev/sheaf/fs"
	"bennypowers.dev/sheaf/packagejson"
)

// Logger is an interface for logging messages during resolution.
type Logger interface {
	Warning(format string, args ...any)
	Debug(format string, args ...any)
}

// Platform selects platform-specific resolution behavior.
type Platform string

const (
	PlatformBrowser Platform = "browser"
	PlatformNode    Platform = "node"
	PlatformNeutral Platform = "neutral"
)

// DefaultExtensions is the probing order for extensionless specifiers.
var DefaultExtensions = []string{".tsx", ".ts", ".jsx", ".js", ".mjs", ".cjs", ".json", ".css"}

// DefaultMainFields lists the package.json fields consulted, in order, when
// a package has no exports map.
var DefaultMainFields = []string{"module", "main"}

// Options configures a Resolver. Zero values select defaults.
type Options struct {
	Extensions []string
	Conditions []string
	MainFields []string
	Aliases    map[string]string
	Externals  []string
	Platform   Platform
}

// Resolved is the outcome of a successful resolution.
type Resolved struct {
	// ID is the canonical module identity: the real path plus the
	// conditions it was resolved under, or "external:<specifier>".
	ID        string
	Path      string
	Query     string
	Specifier string
	External  bool

	// PackageName and PackageDir are set for bare specifiers.
	PackageName string
	PackageDir  string
}

// ModuleID builds the canonical identity of a resolved file.
func ModuleID(path, query string, conditions []string) string {
	id := path + "?conditions=" + strings.Join(conditions, ",")
	if query != "" {
		id += "&" + query
	}
	return id
}

// ExternalID builds the identity of an external specifier.
func ExternalID(specifier string) string {
	return "external:" + specifier
}

// PathFromID returns the file path portion of a module ID.
func PathFromID(id string) string {
	if strings.HasPrefix(id, "external:") {
		return ""
	}
	if i := strings.Index(id, "?"); i >= 0 {
		return id[:i]
	}
	return id
}

// Resolver resolves specifiers against a FileSystem.
// It is safe for concurrent use.
type Resolver struct {
	fs         fs.FileSystem
	logger     Logger
	extensions []string
	conditions []string
	mainFields []string
	externals  []string
	aliases    *AliasTable
	platform   Platform
	workspace  map[string]string
	manifests  packagejson.Cache
	cache      *Cache
}

// New creates a Resolver with default options.
func New(fsys fs.FileSystem, logger Logger) *Resolver {
	return &Resolver{
		fs:         fsys,
		logger:     logger,
		extensions: DefaultExtensions,
		conditions: packagejson.DefaultConditions,
		mainFields: DefaultMainFields,
		platform:   PlatformBrowser,
		workspace:  map[string]string{},
		manifests:  packagejson.NewMemoryCache(),
		cache:      NewCache(),
	}
}

func (r *Resolver) clone() *Resolver {
	c := *r
	c.cache = NewCache()
	return &c
}

// WithOptions returns a new Resolver using opts. Empty fields keep the
// receiver's settings.
func (r *Resolver) WithOptions(opts Options) *Resolver {
	c := r.clone()
	if len(opts.Extensions) > 0 {
		c.extensions = slices.Clone(opts.Extensions)
	}
	if len(opts.Conditions) > 0 {
		c.conditions = slices.Clone(opts.Conditions)
	}
	if len(opts.MainFields) > 0 {
		c.mainFields = slices.Clone(opts.MainFields)
	}
	if opts.Aliases != nil {
		c.aliases = NewAliasTable(opts.Aliases)
	}
	if opts.Externals != nil {
		c.externals = slices.Clone(opts.Externals)
	}
	if opts.Platform != "" {
		c.platform = opts.Platform
	}
	return c
}

// WithWorkspacePackages returns a new Resolver that resolves the given
// workspace packages by name before searching node_modules.
func (r *Resolver) WithWorkspacePackages(packages []WorkspacePackage) *Resolver {
	c := r.clone()
	c.workspace = make(map[string]string, len(packages))
	for _, pkg := range packages {
		c.workspace[pkg.Name] = pkg.Path
	}
	return c
}

// Conditions returns the default condition list.
func (r *Resolver) Conditions() []string {
	return slices.Clone(r.conditions)
}

func (r *Resolver) effectiveConditions(conditions []string) []string {
	if len(conditions) == 0 {
		return r.conditions
	}
	return conditions
}

// Resolve maps specifier, imported from a file in fromDir, to a module.
// Pass nil conditions to use the configured defaults. Failures are
// returned as *Error and are cached like successes.
func (r *Resolver) Resolve(specifier, fromDir string, conditions []string) (Resolved, error) {
	conds := r.effectiveConditions(conditions)
	key := cacheKey{specifier: specifier, fromDir: fromDir, conditions: strings.Join(conds, ",")}
	if e, ok := r.cache.get(key); ok {
		return e.resolved, e.err
	}

	l := &lookup{r: r, specifier: specifier, fromDir: fromDir, conditions: conds}
	res, err := l.resolve()
	if err == nil && !res.External {
		res.ID = ModuleID(res.Path, res.Query, conds)
	}
	if err != nil {
		r.debug("resolve %q from %s: %v", specifier, fromDir, err)
		res = Resolved{}
	}
	r.cache.put(key, cacheEntry{resolved: res, err: err}, l.consulted)
	return res, err
}

// Invalidate drops cached resolutions and manifests that consulted path.
// Returns the number of resolutions dropped.
func (r *Resolver) Invalidate(path string) int {
	if filepath.Base(path) == "package.json" {
		r.manifests.Invalidate(path)
	}
	return r.cache.Invalidate(path)
}

// Consulted returns the paths a cached resolution depended on.
func (r *Resolver) Consulted(specifier, fromDir string, conditions []string) []string {
	conds := r.effectiveConditions(conditions)
	return r.cache.consultedPaths(cacheKey{specifier: specifier, fromDir: fromDir, conditions: strings.Join(conds, ",")})
}

// CacheLen returns the number of cached resolutions.
func (r *Resolver) CacheLen() int {
	return r.cache.Len()
}

// NearestPackage returns the closest package.json at or above the directory
// containing path, and that package's directory.
func (r *Resolver) NearestPackage(path string) (*packagejson.PackageJSON, string) {
	for dir := filepath.Dir(path); ; {
		pkg, err := r.loadManifest(filepath.Join(dir, "package.json"))
		if err == nil && pkg != nil {
			return pkg, dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, ""
		}
		dir = parent
	}
}

// loadManifest returns nil, nil when the manifest does not exist.
func (r *Resolver) loadManifest(path string) (*packagejson.PackageJSON, error) {
	pkg, err := r.manifests.GetOrLoad(path, func() (*packagejson.PackageJSON, error) {
		return packagejson.ParseFile(r.fs, path)
	})
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, nil
	}
	return pkg, err
}

func (r *Resolver) debug(format string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(format, args...)
	}
}

// lookup carries the state of one uncached resolution.
type lookup struct {
	r          *Resolver
	specifier  string
	fromDir    string
	conditions []string
	consulted  []string
}

func (l *lookup) fail(kind Kind, manifest string, err error) *Error {
	return &Error{Kind: kind, Specifier: l.specifier, FromDir: l.fromDir, Manifest: manifest, Err: err}
}

func (l *lookup) isFile(p string) bool {
	l.consulted = append(l.consulted, p)
	return fs.IsFile(l.r.fs, p)
}

func (l *lookup) isDir(p string) bool {
	l.consulted = append(l.consulted, p)
	return fs.IsDir(l.r.fs, p)
}

func (l *lookup) manifest(dir string) (*packagejson.PackageJSON, string, error) {
	path := filepath.Join(dir, "package.json")
	l.consulted = append(l.consulted, path)
	pkg, err := l.r.loadManifest(path)
	if err != nil {
		return nil, path, l.fail(InvalidManifest, path, err)
	}
	return pkg, path, nil
}

func (l *lookup) resolve() (Resolved, error) {
	spec := l.specifier
	if aliased, ok := l.r.aliases.Apply(spec); ok {
		l.r.debug("alias %q -> %q", spec, aliased)
		spec = aliased
	}

	if matchesExternal(l.r.externals, spec) ||
		(l.r.platform == PlatformBrowser && IsNodeBuiltin(spec)) {
		return Resolved{ID: ExternalID(spec), Specifier: spec, External: true}, nil
	}

	switch {
	case isRelative(spec):
		query := ""
		if i := strings.IndexByte(spec, '?'); i >= 0 {
			spec, query = spec[:i], spec[i+1:]
		}
		path := spec
		if !filepath.IsAbs(path) {
			path = filepath.Join(l.fromDir, filepath.FromSlash(spec))
		}
		found, err := l.loadPath(path)
		if err != nil {
			return Resolved{}, err
		}
		if found == "" {
			return Resolved{}, l.fail(NotFound, "", nil)
		}
		res := l.finish(found, "", "")
		res.Query = query
		return res, nil
	case strings.HasPrefix(spec, "#"):
		return l.resolveImports(spec)
	default:
		return l.resolveBare(spec, l.fromDir)
	}
}

func (l *lookup) finish(path, pkgName, pkgDir string) Resolved {
	if real, err := l.r.fs.RealPath(path); err == nil {
		path = real
	}
	if pkgDir != "" {
		if real, err := l.r.fs.RealPath(pkgDir); err == nil {
			pkgDir = real
		}
	}
	return Resolved{Path: path, Specifier: l.specifier, PackageName: pkgName, PackageDir: pkgDir}
}

// loadPath tries path as a file, with each extension, then as a
// directory. Returns "" when nothing matched.
func (l *lookup) loadPath(path string) (string, error) {
	if found := l.loadFile(path); found != "" {
		return found, nil
	}
	if l.isDir(path) {
		return l.loadDirectory(path)
	}
	return "", nil
}

func (l *lookup) loadFile(path string) string {
	if l.isFile(path) {
		return path
	}
	for _, ext := range l.r.extensions {
		if l.isFile(path + ext) {
			return path + ext
		}
	}
	// TypeScript sources are imported by their emitted .js names
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for _, alt := range tsAlternates[ext] {
		if l.isFile(base + alt) {
			return base + alt
		}
	}
	return ""
}

var tsAlternates = map[string][]string{
	".js":  {".ts", ".tsx"},
	".jsx": {".tsx"},
	".mjs": {".mts"},
	".cjs": {".cts"},
}

func (l *lookup) loadDirectory(dir string) (string, error) {
	pkg, _, err := l.manifest(dir)
	if err != nil {
		return "", err
	}
	if pkg != nil {
		for _, field := range l.r.mainFields {
			entry := mainFieldValue(pkg, field)
			if entry == "" {
				continue
			}
			p := filepath.Join(dir, filepath.FromSlash(entry))
			if found := l.loadFile(p); found != "" {
				return found, nil
			}
			if found := l.loadIndex(p); found != "" {
				return found, nil
			}
		}
	}
	return l.loadIndex(dir), nil
}

func (l *lookup) loadIndex(dir string) string {
	for _, ext := range l.r.extensions {
		if p := filepath.Join(dir, "index"+ext); l.isFile(p) {
			return p
		}
	}
	return ""
}

func mainFieldValue(pkg *packagejson.PackageJSON, field string) string {
	switch field {
	case "module":
		return pkg.Module
	case "main":
		return pkg.Main
	case "browser":
		if s, ok := pkg.Browser.(string); ok {
			return s
		}
	}
	return ""
}

func (l *lookup) resolveImports(spec string) (Resolved, error) {
	dir, pkg, manifestPath, err := l.nearestManifest(l.fromDir)
	if err != nil {
		return Resolved{}, err
	}
	if pkg == nil {
		return Resolved{}, l.fail(NotFound, "", fmt.Errorf("no package.json above %s", l.fromDir))
	}

	target, isPath, err := pkg.ResolveImport(spec, &packagejson.ResolveOptions{Conditions: l.conditions})
	if err != nil {
		return Resolved{}, l.manifestError(manifestPath, err)
	}
	if !isPath {
		return l.resolveBare(target, dir)
	}
	found, err := l.loadPath(filepath.Join(dir, filepath.FromSlash(target)))
	if err != nil {
		return Resolved{}, err
	}
	if found == "" {
		return Resolved{}, l.fail(NotFound, manifestPath, fmt.Errorf("import target %s does not exist", target))
	}
	return l.finish(found, pkg.Name, dir), nil
}

func (l *lookup) nearestManifest(from string) (dir string, pkg *packagejson.PackageJSON, path string, err error) {
	for dir = from; ; {
		pkg, path, err = l.manifest(dir)
		if err != nil || pkg != nil {
			return dir, pkg, path, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil, "", nil
		}
		dir = parent
	}
}

func (l *lookup) resolveBare(spec, fromDir string) (Resolved, error) {
	name, subpath := ParsePackageName(spec)

	// a package may import itself by name through its own exports
	if dir, pkg, path, err := l.nearestManifest(fromDir); err == nil && pkg != nil && pkg.Name == name && pkg.Exports != nil {
		return l.resolvePackage(dir, path, pkg, name, subpath)
	}

	if dir, ok := l.r.workspace[name]; ok {
		return l.resolvePackageDir(dir, name, subpath)
	}

	for dir := fromDir; ; {
		if filepath.Base(dir) != "node_modules" {
			candidate := filepath.Join(dir, "node_modules", filepath.FromSlash(name))
			if l.isDir(candidate) {
				return l.resolvePackageDir(candidate, name, subpath)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return Resolved{}, l.fail(NotFound, "", fmt.Errorf("package %s is not installed", name))
}

func (l *lookup) resolvePackageDir(dir, name, subpath string) (Resolved, error) {
	pkg, path, err := l.manifest(dir)
	if err != nil {
		return Resolved{}, err
	}
	if pkg == nil {
		var found string
		if subpath == "" {
			found, err = l.loadDirectory(dir)
		} else {
			found, err = l.loadPath(filepath.Join(dir, filepath.FromSlash(subpath)))
		}
		if err != nil {
			return Resolved{}, err
		}
		if found == "" {
			return Resolved{}, l.fail(NotFound, "", nil)
		}
		return l.finish(found, name, dir), nil
	}
	return l.resolvePackage(dir, path, pkg, name, subpath)
}

func (l *lookup) resolvePackage(dir, manifestPath string, pkg *packagejson.PackageJSON, name, subpath string) (Resolved, error) {
	if pkg.Exports != nil {
		sub := "."
		if subpath != "" {
			sub = "./" + subpath
		}
		target, err := pkg.ResolveExport(sub, &packagejson.ResolveOptions{Conditions: l.conditions})
		if err != nil {
			return Resolved{}, l.manifestError(manifestPath, err)
		}
		p := filepath.Join(dir, filepath.FromSlash(target))
		if !l.isFile(p) {
			return Resolved{}, l.fail(NotFound, manifestPath, fmt.Errorf("export target %s does not exist", target))
		}
		return l.finish(p, name, dir), nil
	}

	var found string
	var err error
	if subpath == "" {
		found, err = l.loadDirectory(dir)
	} else {
		found, err = l.loadPath(filepath.Join(dir, filepath.FromSlash(subpath)))
	}
	if err != nil {
		return Resolved{}, err
	}
	if found == "" {
		return Resolved{}, l.fail(NotFound, manifestPath, nil)
	}
	return l.finish(found, name, dir), nil
}

func (l *lookup) manifestError(manifestPath string, err error) *Error {
	switch {
	case errors.Is(err, packagejson.ErrAmbiguousExports):
		return l.fail(AmbiguousExports, manifestPath, err)
	case errors.Is(err, packagejson.ErrInvalidTarget):
		return l.fail(InvalidManifest, manifestPath, err)
	default:
		return l.fail(NotFound, manifestPath, err)
	}
}
