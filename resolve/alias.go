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
	"slices"
	"strings"
)

// AliasTable rewrites specifiers before resolution. A key matches a
// specifier exactly, or as a prefix when the specifier continues with "/".
// The longest matching key wins.
type AliasTable struct {
	keys    []string
	targets map[string]string
}

// NewAliasTable builds an alias table from a key -> replacement map.
func NewAliasTable(aliases map[string]string) *AliasTable {
	t := &AliasTable{targets: make(map[string]string, len(aliases))}
	for k, v := range aliases {
		k = strings.TrimSuffix(k, "/")
		if k == "" {
			continue
		}
		t.targets[k] = strings.TrimSuffix(v, "/")
		t.keys = append(t.keys, k)
	}
	// longest first, ties broken lexically for stable output
	slices.SortFunc(t.keys, func(a, b string) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return strings.Compare(a, b)
	})
	return t
}

// Apply returns the aliased specifier and whether an alias matched.
func (t *AliasTable) Apply(specifier string) (string, bool) {
	if t == nil {
		return specifier, false
	}
	for _, key := range t.keys {
		if specifier == key {
			return t.targets[key], true
		}
		if rest, ok := strings.CutPrefix(specifier, key+"/"); ok {
			return t.targets[key] + "/" + rest, true
		}
	}
	return specifier, false
}

// Len returns the number of aliases.
func (t *AliasTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

// matchesExternal reports whether specifier is listed in externals, either
// exactly or below a listed package name.
func matchesExternal(externals []string, specifier string) bool {
	for _, ext := range externals {
		if specifier == ext || strings.HasPrefix(specifier, strings.TrimSuffix(ext, "/")+"/") {
			return true
		}
	}
	return false
}

// ParsePackageName splits a bare specifier into a package name and the
// subpath below it. Handles scoped packages (@scope/name/sub).
func ParsePackageName(spec string) (name, subpath string) {
	if strings.HasPrefix(spec, "@") {
		parts := strings.SplitN(spec, "/", 3)
		if len(parts) < 2 {
			return spec, ""
		}
		name = parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			subpath = parts[2]
		}
		return name, subpath
	}
	if idx := strings.Index(spec, "/"); idx > 0 {
		return spec[:idx], spec[idx+1:]
	}
	return spec, ""
}

func isRelative(spec string) bool {
	return spec == "." || spec == ".." ||
		strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") ||
		strings.HasPrefix(spec, "/")
}
