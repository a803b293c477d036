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

package codegen

import (
	"errors"
	"fmt"
	"path/filepath"

	"bennypowers.dev/sheaf/fs"
)

// Sentinel errors for emission.
var (
	ErrDuplicateAsset = errors.New("duplicate asset name")
	ErrNoEmission     = errors.New("no emission to patch")
)

// ManifestName is the file the manifest is written to.
const ManifestName = "manifest.json"

// EmitError reports an asset that could not be produced or written.
type EmitError struct {
	Asset string
	Err   error
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("failed to emit %s: %v", e.Asset, e.Err)
}

func (e *EmitError) Unwrap() error {
	return e.Err
}

// Write stores out's assets and manifest under dir. Each file is renamed
// into place once complete, and the manifest is written last.
func Write(fsys fs.FileSystem, dir string, out *Output) error {
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		return &EmitError{Asset: dir, Err: err}
	}
	for _, a := range out.Assets {
		path := filepath.Join(dir, filepath.FromSlash(a.Name))
		if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return &EmitError{Asset: a.Name, Err: err}
		}
		if err := fs.WriteFileAtomic(fsys, path, a.Content, 0644); err != nil {
			return &EmitError{Asset: a.Name, Err: err}
		}
	}
	if out.Manifest == nil {
		return nil
	}
	data, err := out.Manifest.JSON()
	if err != nil {
		return &EmitError{Asset: ManifestName, Err: err}
	}
	if err := fs.WriteFileAtomic(fsys, filepath.Join(dir, ManifestName), data, 0644); err != nil {
		return &EmitError{Asset: ManifestName, Err: err}
	}
	return nil
}

// Prune removes the assets of prev that out no longer emits. Missing
// files are ignored.
func Prune(fsys fs.FileSystem, dir string, prev, out *Output) error {
	if prev == nil {
		return nil
	}
	var errs []error
	for _, a := range prev.Assets {
		if _, ok := out.Asset(a.Name); ok {
			continue
		}
		path := filepath.Join(dir, filepath.FromSlash(a.Name))
		if err := fsys.Remove(path); err != nil && fsys.Exists(path) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
