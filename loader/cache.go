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

package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"bennypowers.dev/sheaf/sourcemap"
)

const persistentVersion = "v1|"

// PersistentCache stores transform results in a badger database so that
// unchanged modules skip their stages across restarts.
type PersistentCache struct {
	db *badger.DB
}

// OpenPersistentCache opens (creating if needed) a cache in dir. An empty
// dir opens an in-memory database.
func OpenPersistentCache(dir string) (*PersistentCache, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(nil).WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open transform cache: %w", err)
	}
	return &PersistentCache{db: db}, nil
}

type storedResult struct {
	Code        []byte         `json:"code"`
	Map         *sourcemap.Map `json:"map,omitempty"`
	ContentType string         `json:"contentType"`
	SideEffects *bool          `json:"sideEffects,omitempty"`
	Unmapped    bool           `json:"unmapped,omitempty"`
}

// Get returns the stored result for key.
func (c *PersistentCache) Get(key string) (Result, bool) {
	var stored storedResult
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(persistentVersion + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if err != nil {
		return Result{}, false
	}
	return Result{
		Code:        stored.Code,
		Map:         stored.Map,
		ContentType: stored.ContentType,
		SideEffects: stored.SideEffects,
		Unmapped:    stored.Unmapped,
	}, true
}

// Put stores r under key.
func (c *PersistentCache) Put(key string, r Result) error {
	data, err := json.Marshal(storedResult{
		Code:        r.Code,
		Map:         r.Map,
		ContentType: r.ContentType,
		SideEffects: r.SideEffects,
		Unmapped:    r.Unmapped,
	})
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(persistentVersion+key), data)
	})
}

// Len counts stored results.
func (c *PersistentCache) Len() int {
	n := 0
	_ = c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n
}

// Close releases the database.
func (c *PersistentCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}
