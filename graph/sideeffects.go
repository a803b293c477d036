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

package graph

import (
	"path/filepath"

	"bennypowers.dev/sheaf/loader"
	"bennypowers.dev/sheaf/parse"
)

// sideEffects decides whether evaluating a module may be observable. An
// in-source pragma wins over the loader's verdict, which wins over the
// nearest package.json. Modules default to having side effects.
func (b *Builder) sideEffects(path string, a *parse.Analysis, res loader.Result) bool {
	if a.SideEffects != nil {
		return *a.SideEffects
	}
	if res.SideEffects != nil {
		return *res.SideEffects
	}
	pkg, dir := b.resolver.NearestPackage(path)
	if pkg == nil {
		return true
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return true
	}
	has, _ := pkg.SideEffects(filepath.ToSlash(rel))
	return has
}
