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

package hmr

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultIgnore lists the directories a Watcher never descends into.
var DefaultIgnore = []string{
	"**/.git",
	"**/.git/**",
	"**/node_modules",
	"**/node_modules/**",
}

// Watcher reports file changes under a set of directory trees.
type Watcher struct {
	w      *fsnotify.Watcher
	ignore []string
	logger Logger
}

// NewWatcher creates a watcher skipping paths that match any of the
// doublestar patterns in ignore. Nil uses DefaultIgnore.
func NewWatcher(ignore []string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if ignore == nil {
		ignore = DefaultIgnore
	}
	return &Watcher{w: w, ignore: ignore}, nil
}

// WithLogger returns the watcher with logging enabled.
func (w *Watcher) WithLogger(logger Logger) *Watcher {
	w.logger = logger
	return w
}

// Add watches root and every directory below it.
func (w *Watcher) Add(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path) {
			return filepath.SkipDir
		}
		return w.w.Add(path)
	})
}

func (w *Watcher) ignored(path string) bool {
	slashed := filepath.ToSlash(path)
	for _, pattern := range w.ignore {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return true
		}
	}
	return false
}

// Run forwards changed paths to notify until ctx ends or the watcher is
// closed. New directories are watched as they appear.
func (w *Watcher) Run(ctx context.Context, notify func(paths ...string)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			if ev.Op == fsnotify.Chmod || w.ignored(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.Add(ev.Name); err != nil && w.logger != nil {
						w.logger.Warning("watching %s: %v", ev.Name, err)
					}
				}
			}
			notify(filepath.Clean(ev.Name))
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			if w.logger != nil {
				w.logger.Warning("watch error: %v", err)
			}
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.w.Close()
}
