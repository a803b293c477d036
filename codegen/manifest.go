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

	"bennypowers.dev/sheaf/chunk"
	"bennypowers.dev/sheaf/importmap"
)

// Manifest describes an emission for servers and tooling.
type Manifest struct {
	Runtime string `json:"runtime"`
	// Entries maps each entry module to the assets that run it, in load
	// order.
	Entries map[string][]string `json:"entries"`
	// Chunks is keyed by asset name.
	Chunks map[string]ManifestChunk `json:"chunks"`
	// ImportMap maps federated and external specifiers to URLs.
	ImportMap *importmap.ImportMap `json:"importMap,omitempty"`
	// Pages maps source pages to emitted pages.
	Pages map[string]string `json:"pages,omitempty"`
}

// ManifestChunk describes one chunk asset.
type ManifestChunk struct {
	Name           string   `json:"name"`
	Kind           string   `json:"kind"`
	Modules        []string `json:"modules"`
	Imports        []string `json:"imports,omitempty"`
	DynamicImports []string `json:"dynamicImports,omitempty"`
	Workers        []string `json:"workers,omitempty"`
	Externals      []string `json:"externals,omitempty"`
}

// JSON encodes the manifest for writing to disk.
func (m *Manifest) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func (x *emission) manifest(out *Output) *Manifest {
	m := &Manifest{
		Runtime: out.Runtime,
		Entries: make(map[string][]string),
		Chunks:  make(map[string]ManifestChunk, len(x.cg.Chunks)),
	}
	for _, c := range x.cg.Chunks {
		mc := ManifestChunk{
			Name:      c.Name,
			Kind:      c.Kind.String(),
			Modules:   []string{},
			Externals: c.Externals,
		}
		for _, mod := range c.Modules {
			if x.u.included[mod] {
				mc.Modules = append(mc.Modules, x.ids[mod])
			}
		}
		for _, p := range c.Prerequisites {
			mc.Imports = append(mc.Imports, out.Files[p])
		}
		for _, child := range c.Children {
			if x.cg.Chunks[child].Kind == chunk.Worker {
				mc.Workers = append(mc.Workers, out.Files[child])
			} else {
				mc.DynamicImports = append(mc.DynamicImports, out.Files[child])
			}
		}
		m.Chunks[out.Files[c.Index]] = mc

		if c.Kind == chunk.Entry {
			files := []string{out.Runtime}
			for _, i := range x.cg.LoadOrder(c.Index) {
				files = append(files, out.Files[i])
			}
			m.Entries[x.ids[c.Root]] = files
		}
	}
	if im := x.e.opts.ImportMap; im != nil && !im.Empty() {
		m.ImportMap = im
	}
	return m
}
