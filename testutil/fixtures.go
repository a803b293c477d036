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

// Package testutil provides fixture helpers for sheaf tests.
package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"bennypowers.dev/sheaf/internal/mapfs"
)

// findFixture locates dir under testdata, looking upward from the package
// under test.
func findFixture(t *testing.T, dir string) string {
	t.Helper()
	for _, up := range []string{".", "..", filepath.Join("..", "..")} {
		p := filepath.Join(up, "testdata", dir)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	t.Fatalf("no fixture testdata/%s", dir)
	return ""
}

// NewFixtureFS loads testdata/fixtureDir into memory under rootPath.
func NewFixtureFS(t *testing.T, fixtureDir string, rootPath string) *mapfs.MapFileSystem {
	t.Helper()
	src := findFixture(t, fixtureDir)
	mfs := mapfs.New()
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		mfs.AddFile(filepath.Join(rootPath, rel), string(content), 0644)
		return nil
	})
	if err != nil {
		t.Fatalf("loading fixture %s: %v", fixtureDir, err)
	}
	return mfs
}

// NewTreeFS builds an in-memory filesystem from a path -> content table.
// Paths are absolute. Content beginning with "->" declares a symlink to
// the path that follows, e.g. "-> /repo/packages/ui".
func NewTreeFS(t *testing.T, files map[string]string) *mapfs.MapFileSystem {
	t.Helper()
	mfs := mapfs.New()
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		content := files[p]
		if target, ok := strings.CutPrefix(content, "->"); ok {
			mfs.AddSymlink(p, strings.TrimSpace(target))
			continue
		}
		mfs.AddFile(p, content, 0644)
	}
	return mfs
}
