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
	"encoding/json"
	"fmt"
	"strings"

	"bennypowers.dev/sheaf/chunk"
)

// Accepted lists the dependency updates a boundary module handles through
// its own accept callbacks.
type Accepted struct {
	ID   string        `json:"id"`
	Deps []AcceptedDep `json:"deps"`
}

// AcceptedDep pairs the specifier the boundary accepted with the module
// it resolved to.
type AcceptedDep struct {
	Specifier string `json:"specifier"`
	Module    string `json:"module"`
}

// Patch renders a hot update against the last emission: the factories of
// the modules in order, which re-run dependencies first, the current file
// of every async chunk, the registry IDs to drop, and the accept callbacks
// to invoke. A patch that throws falls
// back to a full reload.
func (e *Emitter) Patch(order []int, removed []string, accepted []Accepted) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	x := e.last
	if x == nil {
		return "", ErrNoEmission
	}

	var b strings.Builder
	fmt.Fprintf(&b, "try {\n%s.apply({\nmodules: {\n", Global)
	ids := make([]string, 0, len(order))
	for _, m := range order {
		if m < 0 || m >= len(x.ids) {
			return "", fmt.Errorf("patch: module index %d out of range", m)
		}
		p := x.piece(m)
		fmt.Fprintf(&b, "%s: %s,\n", quote(x.ids[m]), x.names.Replace(p.factory))
		ids = append(ids, x.ids[m])
	}
	if removed == nil {
		removed = []string{}
	}
	if accepted == nil {
		accepted = []Accepted{}
	}
	// Renamed chunk files reach factories that already ran through the
	// runtime's file table.
	chunks := make(map[string][]string)
	for i, r := range x.mg.Records() {
		if c, ok := x.cg.Opened(i); ok && c.Kind == chunk.Async && !x.external(i) {
			chunks[x.ids[r.Index]] = []string{x.files[c.Index]}
		}
	}
	chunksJSON, _ := json.Marshal(chunks)
	orderJSON, _ := json.Marshal(ids)
	removedJSON, _ := json.Marshal(removed)
	acceptedJSON, _ := json.Marshal(accepted)
	fmt.Fprintf(&b, "},\nchunks: %s,\norder: %s,\nremoved: %s,\naccepted: %s,\n});\n", chunksJSON, orderJSON, removedJSON, acceptedJSON)
	b.WriteString("} catch (err) {\nconsole.error(err);\nlocation.reload();\n}\n")
	return b.String(), nil
}

// RuntimeID returns the registry ID of module i in the last emission.
func (e *Emitter) RuntimeID(i int) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil || i < 0 || i >= len(e.last.ids) {
		return "", false
	}
	return e.last.ids[i], true
}
