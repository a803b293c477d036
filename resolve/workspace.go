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
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"bennypowers.dev/sheaf/fs"
	"bennypowers.dev/sheaf/packagejson"
)

// WorkspacePackage represents a package in a monorepo workspace.
type WorkspacePackage struct {
	Name string // Package name from package.json
	Path string // Absolute path to package directory
}

// FindWorkspaceRoot walks up the directory tree to find the workspace root.
// Returns the directory containing node_modules, workspace configuration, or .git.
func FindWorkspaceRoot(fsys fs.FileSystem, startDir string) string {
	dir := startDir
	for {
		if fs.IsDir(fsys, filepath.Join(dir, "node_modules")) {
			return dir
		}

		pkgPath := filepath.Join(dir, "package.json")
		if pkg, err := packagejson.ParseFile(fsys, pkgPath); err == nil && pkg.HasWorkspaces() {
			return dir
		}

		if fs.IsDir(fsys, filepath.Join(dir, ".git")) {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// DiscoverWorkspacePackages finds all workspace packages based on the
// workspaces field in the root package.json. Patterns are doublestar globs;
// a leading "!" excludes matching directories.
// Returns nil if no workspaces are defined.
func DiscoverWorkspacePackages(fsys fs.FileSystem, rootDir string) ([]WorkspacePackage, error) {
	rootPkgPath := filepath.Join(rootDir, "package.json")
	rootPkg, err := packagejson.ParseFile(fsys, rootPkgPath)
	if err != nil {
		return nil, err
	}

	patterns := rootPkg.WorkspacePatterns()
	if len(patterns) == 0 {
		return nil, nil
	}

	var include, exclude []string
	for _, p := range patterns {
		p = strings.TrimSuffix(strings.TrimPrefix(p, "./"), "/")
		if rest, ok := strings.CutPrefix(p, "!"); ok {
			exclude = append(exclude, strings.TrimPrefix(rest, "./"))
			continue
		}
		include = append(include, p)
	}

	seen := make(map[string]bool)
	var packages []WorkspacePackage
	for _, pattern := range include {
		dirs, err := expandWorkspacePattern(fsys, rootDir, pattern)
		if err != nil {
			continue // skip patterns that can't be expanded
		}

		for _, rel := range dirs {
			if seen[rel] || excluded(exclude, rel) {
				continue
			}
			seen[rel] = true
			pkg, err := parseWorkspacePackage(fsys, filepath.Join(rootDir, rel))
			if err != nil {
				continue // skip directories without valid package.json
			}
			packages = append(packages, pkg)
		}
	}

	slices.SortFunc(packages, func(a, b WorkspacePackage) int {
		return strings.Compare(a.Path, b.Path)
	})
	return packages, nil
}

func excluded(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// expandWorkspacePattern expands a workspace glob pattern to matching
// directories, returned relative to rootDir in slash form.
func expandWorkspacePattern(fsys fs.FileSystem, rootDir, pattern string) ([]string, error) {
	if !strings.ContainsAny(pattern, "*?[{") {
		if fs.IsDir(fsys, filepath.Join(rootDir, pattern)) {
			return []string{pattern}, nil
		}
		return nil, nil
	}

	matches, err := doublestar.Glob(rootedFS{fsys: fsys, root: rootDir}, pattern)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, m := range matches {
		if strings.Contains(m, "node_modules") {
			continue
		}
		if fs.IsDir(fsys, filepath.Join(rootDir, m)) {
			dirs = append(dirs, m)
		}
	}
	slices.Sort(dirs)
	return dirs, nil
}

// parseWorkspacePackage reads a package.json from a directory and returns
// a WorkspacePackage with its name and path.
func parseWorkspacePackage(fsys fs.FileSystem, dir string) (WorkspacePackage, error) {
	pkgPath := filepath.Join(dir, "package.json")
	pkg, err := packagejson.ParseFile(fsys, pkgPath)
	if err != nil {
		return WorkspacePackage{}, err
	}

	if pkg.Name == "" {
		return WorkspacePackage{}, fmt.Errorf("package at %s has no name", dir)
	}

	return WorkspacePackage{
		Name: pkg.Name,
		Path: dir,
	}, nil
}

// rootedFS presents a FileSystem subtree as an io/fs.FS for globbing.
type rootedFS struct {
	fsys fs.FileSystem
	root string
}

func (r rootedFS) Open(name string) (iofs.File, error) {
	return r.fsys.Open(filepath.Join(r.root, filepath.FromSlash(name)))
}

func (r rootedFS) ReadDir(name string) ([]iofs.DirEntry, error) {
	return r.fsys.ReadDir(filepath.Join(r.root, filepath.FromSlash(name)))
}

func (r rootedFS) Stat(name string) (iofs.FileInfo, error) {
	return r.fsys.Stat(filepath.Join(r.root, filepath.FromSlash(name)))
}
