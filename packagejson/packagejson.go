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

// Package packagejson provides parsing and export resolution for package.json files.
package packagejson

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"bennypowers.dev/sheaf/fs"
)

// workspacesObjectFormat represents the object format for workspaces field.
// Used by yarn classic with nohoist: {"packages": [...], "nohoist": [...]}
type workspacesObjectFormat struct {
	Packages []string `json:"packages"`
}

var (
	// ErrNotExported is returned when a subpath is not exported by the package.
	ErrNotExported = errors.New("not exported by package.json")

	// ErrAmbiguousExports is returned when an exports object mixes subpath
	// keys (".", "./x") with condition keys ("import", "default").
	ErrAmbiguousExports = errors.New("exports mixes subpath keys and condition keys")

	// ErrInvalidTarget is returned when an export or import target is not a
	// "./" relative path inside the package.
	ErrInvalidTarget = errors.New("invalid export target")
)

// DefaultConditions is the default export condition priority for browser environments.
var DefaultConditions = []string{"browser", "import", "default"}

// ResolveOptions configures how conditional exports are resolved.
type ResolveOptions struct {
	// Conditions is the ordered list of conditions to try when resolving exports.
	// Earlier entries take precedence. "default" is always tried last.
	// If nil, defaults to DefaultConditions.
	Conditions []string
}

func (opts *ResolveOptions) conditions() []string {
	list := DefaultConditions
	if opts != nil && len(opts.Conditions) > 0 {
		list = opts.Conditions
	}
	if !slices.Contains(list, "default") {
		list = append(slices.Clone(list), "default")
	}
	return list
}

// PackageJSON represents the subset of package.json relevant for bundling.
type PackageJSON struct {
	Name             string            `json:"name"`
	Version          string            `json:"version"`
	Type             string            `json:"type,omitempty"`
	Main             string            `json:"main,omitempty"`
	Module           string            `json:"module,omitempty"`
	Browser          any               `json:"browser,omitempty"`
	Exports          any               `json:"exports,omitempty"`
	Imports          any               `json:"imports,omitempty"`
	RawSideEffects   any               `json:"sideEffects,omitempty"`
	Dependencies     map[string]string `json:"dependencies,omitempty"`
	DevDependencies  map[string]string `json:"devDependencies,omitempty"`
	PeerDependencies map[string]string `json:"peerDependencies,omitempty"`
	RawWorkspaces    json.RawMessage   `json:"workspaces,omitempty"`
}

// WorkspacePatterns returns the workspace glob patterns from the workspaces field.
// Handles both array format ["packages/*"] and object format {"packages": ["libs/*"]}.
func (pkg *PackageJSON) WorkspacePatterns() []string {
	if len(pkg.RawWorkspaces) == 0 {
		return nil
	}

	var patterns []string
	if err := json.Unmarshal(pkg.RawWorkspaces, &patterns); err == nil {
		return patterns
	}

	var obj workspacesObjectFormat
	if err := json.Unmarshal(pkg.RawWorkspaces, &obj); err == nil {
		return obj.Packages
	}

	return nil
}

// HasWorkspaces returns true if the package has workspace patterns defined.
func (pkg *PackageJSON) HasWorkspaces() bool {
	return len(pkg.WorkspacePatterns()) > 0
}

// ExportEntry represents a single export from a package.
type ExportEntry struct {
	Subpath string // The export subpath (e.g., ".", "./button")
	Target  string // The resolved target path (e.g., "index.js")
}

// WildcardExport represents a wildcard export pattern.
type WildcardExport struct {
	Pattern string // The pattern (e.g., "./*")
	Target  string // The target prefix (e.g., "dist/")
}

// Parse parses package.json data.
func Parse(data []byte) (*PackageJSON, error) {
	var pkg PackageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// ParseFile parses a package.json file.
func ParseFile(fs fs.FileSystem, path string) (*PackageJSON, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pkg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return pkg, nil
}

// ResolveExport resolves a subpath export to its target file path.
// The subpath should be "." for the main export or "./subpath" for subpath exports.
// Returns the resolved path without leading "./".
// Pass nil for opts to use DefaultConditions.
func (pkg *PackageJSON) ResolveExport(subpath string, opts *ResolveOptions) (string, error) {
	if pkg.Exports == nil {
		if pkg.Main != "" && subpath == "." {
			return trimDotSlash(pkg.Main), nil
		}
		return "", ErrNotExported
	}

	exportsMap, ok := pkg.Exports.(map[string]any)
	if !ok {
		// String or fallback array: sugar for {".": value}
		if subpath != "." {
			return "", ErrNotExported
		}
		return resolveTarget(pkg.Exports, "", opts)
	}

	hasSubpaths, err := classifyKeys(exportsMap)
	if err != nil {
		return "", err
	}
	if !hasSubpaths {
		if subpath != "." {
			return "", ErrNotExported
		}
		return resolveTarget(exportsMap, "", opts)
	}

	return resolveSubpath(exportsMap, subpath, opts)
}

// ResolveImport resolves a "#internal" specifier through the imports field.
// The returned target is either a package-relative path (no leading "./")
// with isPath set, or a bare specifier that must be resolved as a dependency.
func (pkg *PackageJSON) ResolveImport(specifier string, opts *ResolveOptions) (target string, isPath bool, err error) {
	importsMap, ok := pkg.Imports.(map[string]any)
	if !ok || !strings.HasPrefix(specifier, "#") {
		return "", false, ErrNotExported
	}

	value, match, ok := matchSubpath(importsMap, specifier)
	if !ok {
		return "", false, ErrNotExported
	}

	raw, err := pickTarget(value, opts)
	if err != nil {
		return "", false, err
	}
	raw = strings.ReplaceAll(raw, "*", match)
	if !strings.HasPrefix(raw, "./") && !strings.HasPrefix(raw, "../") && !strings.HasPrefix(raw, "/") {
		return raw, false, nil
	}
	if err := validateTarget(raw); err != nil {
		return "", false, err
	}
	return trimDotSlash(raw), true, nil
}

// ExportEntries returns all non-wildcard export entries from the package,
// sorted by subpath. Pass nil for opts to use DefaultConditions.
func (pkg *PackageJSON) ExportEntries(opts *ResolveOptions) []ExportEntry {
	var entries []ExportEntry

	if pkg.Exports == nil {
		if pkg.Main != "" {
			entries = append(entries, ExportEntry{Subpath: ".", Target: trimDotSlash(pkg.Main)})
		}
		return entries
	}

	exportsMap, ok := pkg.Exports.(map[string]any)
	if !ok {
		if target, err := resolveTarget(pkg.Exports, "", opts); err == nil {
			entries = append(entries, ExportEntry{Subpath: ".", Target: target})
		}
		return entries
	}

	hasSubpaths, err := classifyKeys(exportsMap)
	if err != nil {
		return entries
	}
	if !hasSubpaths {
		if target, err := resolveTarget(exportsMap, "", opts); err == nil {
			entries = append(entries, ExportEntry{Subpath: ".", Target: target})
		}
		return entries
	}

	for _, subpath := range sortedKeys(exportsMap) {
		if strings.Contains(subpath, "*") {
			continue
		}
		target, err := resolveTarget(exportsMap[subpath], "", opts)
		if err != nil {
			continue
		}
		entries = append(entries, ExportEntry{Subpath: subpath, Target: target})
	}

	return entries
}

// WildcardExports returns all wildcard export patterns from the package,
// sorted by pattern. Pass nil for opts to use DefaultConditions.
func (pkg *PackageJSON) WildcardExports(opts *ResolveOptions) []WildcardExport {
	var wildcards []WildcardExport

	exportsMap, ok := pkg.Exports.(map[string]any)
	if !ok {
		return wildcards
	}

	for _, pattern := range sortedKeys(exportsMap) {
		if !strings.Contains(pattern, "*") {
			continue
		}
		targetStr, err := pickTarget(exportsMap[pattern], opts)
		if err != nil || !strings.Contains(targetStr, "*") {
			continue
		}
		target := trimDotSlash(targetStr)
		wildcards = append(wildcards, WildcardExport{
			Pattern: pattern,
			Target:  target[:strings.Index(target, "*")],
		})
	}

	return wildcards
}

// HasTrailingSlashExport returns true if the package should have a trailing slash import.
// Pass nil for opts to use DefaultConditions.
func (pkg *PackageJSON) HasTrailingSlashExport(opts *ResolveOptions) bool {
	return pkg.Exports == nil || len(pkg.WildcardExports(opts)) > 0
}

// SideEffects reports the package's sideEffects declaration for a file at
// relPath (relative to the package root). declared is false when the
// manifest says nothing, in which case callers must assume side effects.
//
// The field may be a boolean, a glob, or an array of globs. Globs without
// a slash match at any depth.
func (pkg *PackageJSON) SideEffects(relPath string) (hasSideEffects, declared bool) {
	if pkg.RawSideEffects == nil {
		return true, false
	}
	return matchSideEffects(pkg.RawSideEffects, trimDotSlash(relPath)), true
}

func matchSideEffects(flag any, relPath string) bool {
	switch v := flag.(type) {
	case bool:
		return v
	case string:
		pattern := trimDotSlash(v)
		if !strings.Contains(pattern, "/") {
			pattern = "**/" + pattern
		}
		ok, err := doublestar.Match(pattern, relPath)
		return err == nil && ok
	case []any:
		for _, item := range v {
			if matchSideEffects(item, relPath) {
				return true
			}
		}
		return false
	}
	return true
}

// classifyKeys reports whether m is a subpath map. Maps that mix subpath
// keys and condition keys are rejected.
func classifyKeys(m map[string]any) (hasSubpaths bool, err error) {
	hasConditions := false
	for key := range m {
		if strings.HasPrefix(key, ".") {
			hasSubpaths = true
		} else {
			hasConditions = true
		}
	}
	if hasSubpaths && hasConditions {
		return false, ErrAmbiguousExports
	}
	return hasSubpaths, nil
}

// resolveSubpath looks up subpath in a subpath map, honoring "*" patterns
// and legacy trailing-slash folder mappings.
func resolveSubpath(m map[string]any, subpath string, opts *ResolveOptions) (string, error) {
	value, match, ok := matchSubpath(m, subpath)
	if !ok {
		return "", ErrNotExported
	}
	return resolveTarget(value, match, opts)
}

// matchSubpath finds the entry for key. Exact keys win; otherwise the
// pattern with the longest prefix before "*" wins, then the longest key.
func matchSubpath(m map[string]any, key string) (value any, match string, ok bool) {
	if v, exists := m[key]; exists && !strings.Contains(key, "*") {
		return v, "", true
	}

	bestKey := ""
	for _, pattern := range sortedKeys(m) {
		star := strings.Index(pattern, "*")
		switch {
		case star >= 0:
			prefix, suffix := pattern[:star], pattern[star+1:]
			if len(key) < len(pattern)-1 || !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
				continue
			}
			if bestKey == "" || patternKeyLess(bestKey, pattern) {
				bestKey = pattern
				match = key[len(prefix) : len(key)-len(suffix)]
			}
		case strings.HasSuffix(pattern, "/") && strings.HasPrefix(key, pattern):
			if bestKey == "" || patternKeyLess(bestKey, pattern) {
				bestKey = pattern
				match = strings.TrimPrefix(key, pattern)
			}
		}
	}
	if bestKey == "" {
		return nil, "", false
	}
	if strings.HasSuffix(bestKey, "/") && !strings.Contains(bestKey, "*") {
		// folder mapping: "./features/": "./src/features/" appends the rest
		target, err := pickTarget(m[bestKey], nil)
		if err == nil && strings.HasSuffix(target, "/") {
			return target + match, "", true
		}
	}
	return m[bestKey], match, true
}

// patternKeyLess reports whether b is a more specific pattern than a.
func patternKeyLess(a, b string) bool {
	prefixA := prefixLen(a)
	prefixB := prefixLen(b)
	if prefixA != prefixB {
		return prefixB > prefixA
	}
	return len(b) > len(a)
}

func prefixLen(pattern string) int {
	if i := strings.Index(pattern, "*"); i >= 0 {
		return i + 1
	}
	return len(pattern)
}

// resolveTarget resolves a conditional target and substitutes the pattern
// match, returning a validated package-relative path.
func resolveTarget(value any, match string, opts *ResolveOptions) (string, error) {
	raw, err := pickTarget(value, opts)
	if err != nil {
		return "", err
	}
	if match != "" {
		raw = strings.ReplaceAll(raw, "*", match)
	}
	if err := validateTarget(raw); err != nil {
		return "", err
	}
	return trimDotSlash(raw), nil
}

// pickTarget walks condition maps and fallback arrays down to a string.
func pickTarget(value any, opts *ResolveOptions) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case map[string]any:
		for _, cond := range opts.conditions() {
			next, ok := v[cond]
			if !ok {
				continue
			}
			if result, err := pickTarget(next, opts); err == nil {
				return result, nil
			} else if errors.Is(err, ErrInvalidTarget) {
				return "", err
			}
		}
	case []any:
		var lastErr error = ErrNotExported
		for _, item := range v {
			result, err := pickTarget(item, opts)
			if err != nil {
				lastErr = err
				continue
			}
			if validateTarget(result) != nil && strings.HasPrefix(result, ".") {
				lastErr = ErrInvalidTarget
				continue
			}
			return result, nil
		}
		return "", lastErr
	}
	// null targets explicitly block the subpath
	return "", ErrNotExported
}

// validateTarget requires "./" relative targets that stay in the package.
func validateTarget(target string) error {
	if !strings.HasPrefix(target, "./") {
		return fmt.Errorf("%w: %q must start with \"./\"", ErrInvalidTarget, target)
	}
	for _, segment := range strings.Split(target[2:], "/") {
		if segment == ".." || segment == "node_modules" {
			return fmt.Errorf("%w: %q escapes the package", ErrInvalidTarget, target)
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// trimDotSlash removes a leading "./" from a path.
func trimDotSlash(path string) string {
	return strings.TrimPrefix(path, "./")
}
