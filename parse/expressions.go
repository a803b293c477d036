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

package parse

import (
	"fmt"

	ts "github.com/tree-sitter/go-tree-sitter"
)

// Match is an occurrence of a searched expression.
type Match struct {
	Name       string
	Start, End int
}

// Expressions finds identifiers and member expression chains (such as
// process.env.NODE_ENV) whose source text is one of names. Strings,
// comments and property names never match.
func Expressions(content []byte, dialect Dialect, names map[string]bool) ([]Match, error) {
	if len(names) == 0 {
		return nil, nil
	}
	pool := dialect.pool()
	parser := getParser(pool)
	defer putParser(pool, parser)

	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse content")
	}
	defer tree.Close()

	var out []Match
	var visit func(n *ts.Node)
	visit = func(n *ts.Node) {
		switch n.Kind() {
		case "identifier", "member_expression":
			text := n.Utf8Text(content)
			if names[text] {
				out = append(out, Match{Name: text, Start: int(n.StartByte()), End: int(n.EndByte())})
				return
			}
		case "string", "template_string", "comment", "regex":
			return
		}
		for i := uint(0); i < n.NamedChildCount(); i++ {
			visit(n.NamedChild(i))
		}
	}
	visit(tree.RootNode())
	return out, nil
}
