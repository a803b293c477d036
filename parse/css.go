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
	"bytes"
	"regexp"
	"strings"
)

var (
	cssImportRule = regexp.MustCompile(`@import\s+(?:url\(\s*)?(?:"([^"]*)"|'([^']*)'|([^"'\s;)]+))\s*\)?([^;]*);?`)
	cssComment    = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// CSSImport is an @import rule.
type CSSImport struct {
	Import
	// Media holds any media, supports or layer conditions after the URL.
	Media string
}

// CSS finds the @import rules of a stylesheet. Remote URLs are included;
// callers decide whether to bundle them.
func CSS(content []byte) []CSSImport {
	// blank out comments so offsets stay valid
	masked := cssComment.ReplaceAllFunc(content, func(m []byte) []byte {
		return bytes.Map(func(r rune) rune {
			if r == '\n' {
				return r
			}
			return ' '
		}, m)
	})

	var out []CSSImport
	for _, m := range cssImportRule.FindAllSubmatchIndex(masked, -1) {
		spec := ""
		for g := 1; g <= 3; g++ {
			if m[2*g] >= 0 {
				spec = string(content[m[2*g]:m[2*g+1]])
				break
			}
		}
		line := bytes.Count(content[:m[0]], []byte("\n")) + 1
		col := m[0] - (bytes.LastIndexByte(content[:m[0]], '\n') + 1) + 1
		out = append(out, CSSImport{
			Import: Import{
				Specifier: spec,
				Kind:      Static,
				Form:      FormCSSImport,
				Start:     m[0],
				End:       m[1],
				Line:      line,
				Column:    col,
				Statement: -1,
			},
			Media: strings.TrimSpace(string(content[m[8]:m[9]])),
		})
	}
	return out
}

// IsRemoteURL reports whether a specifier points off the local build.
func IsRemoteURL(spec string) bool {
	return strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "https://") ||
		strings.HasPrefix(spec, "//") || strings.HasPrefix(spec, "data:")
}
