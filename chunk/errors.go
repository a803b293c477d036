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

package chunk

import (
	"errors"
	"fmt"
)

// ErrOrphanChunk is returned by Validate when a chunk cannot be reached
// from any entry chunk.
var ErrOrphanChunk = errors.New("chunk not reachable from an entry")

// ErrorKind classifies chunk errors.
type ErrorKind int

const (
	// UnresolvedExternal means the import map has no URL for an external
	// specifier a chunk imports.
	UnresolvedExternal ErrorKind = iota
	// EntryInNonEntryChunk means an entry module was placed in a chunk
	// that is not its own entry chunk.
	EntryInNonEntryChunk
)

func (k ErrorKind) String() string {
	switch k {
	case UnresolvedExternal:
		return "unresolved external"
	case EntryInNonEntryChunk:
		return "entry in non-entry chunk"
	}
	return "unknown"
}

// Error is fatal for the chunk it is attached to.
type Error struct {
	Kind  ErrorKind
	Chunk string
	// Module is the module ID for EntryInNonEntryChunk, the specifier for
	// UnresolvedExternal.
	Module string
}

func (e *Error) Error() string {
	return fmt.Sprintf("chunk %s: %s: %s", e.Chunk, e.Kind, e.Module)
}
