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

package importmap_test

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"bennypowers.dev/sheaf/importmap"
)

func TestResolve(t *testing.T) {
	im, err := importmap.Parse([]byte(`{
		"imports": {
			"react": "https://esm.sh/react@18.2.0",
			"react/": "https://esm.sh/react@18.2.0/",
			"lit/": "https://cdn.jsdelivr.net/npm/lit@3.1.0/"
		},
		"scopes": {
			"/legacy/": {"react": "https://esm.sh/react@17.0.2"},
			"/legacy/deep/": {"react": "https://esm.sh/react@16.14.0"}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		specifier string
		referrer  string
		want      string
		ok        bool
	}{
		{"react", "", "https://esm.sh/react@18.2.0", true},
		{"react/jsx-runtime", "", "https://esm.sh/react@18.2.0/jsx-runtime", true},
		{"lit/decorators.js", "/app/main.js", "https://cdn.jsdelivr.net/npm/lit@3.1.0/decorators.js", true},
		{"react", "/legacy/page.js", "https://esm.sh/react@17.0.2", true},
		{"react", "/legacy/deep/page.js", "https://esm.sh/react@16.14.0", true},
		{"react/jsx-runtime", "/legacy/page.js", "https://esm.sh/react@18.2.0/jsx-runtime", true},
		{"vue", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.specifier+"@"+tt.referrer, func(t *testing.T) {
			got, ok := im.Resolve(tt.specifier, tt.referrer)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Resolve(%q, %q) = (%q, %v), want (%q, %v)", tt.specifier, tt.referrer, got, ok, tt.want, tt.ok)
			}
		})
	}

	var nilMap *importmap.ImportMap
	if _, ok := nilMap.Resolve("react", ""); ok {
		t.Error("nil map should resolve nothing")
	}
}

func TestMerge(t *testing.T) {
	base := &importmap.ImportMap{
		Imports: map[string]string{"a": "/a.js", "b": "/b.js"},
		Scopes:  map[string]map[string]string{"/x/": {"a": "/xa.js"}},
	}
	override := &importmap.ImportMap{
		Imports:   map[string]string{"b": "/b2.js", "c": "/c.js"},
		Scopes:    map[string]map[string]string{"/x/": {"b": "/xb.js"}},
		Integrity: map[string]string{"/c.js": "sha384-abc"},
	}
	got := base.Merge(override)

	wantImports := map[string]string{"a": "/a.js", "b": "/b2.js", "c": "/c.js"}
	if !reflect.DeepEqual(got.Imports, wantImports) {
		t.Errorf("Imports = %v, want %v", got.Imports, wantImports)
	}
	wantScopes := map[string]map[string]string{"/x/": {"a": "/xa.js", "b": "/xb.js"}}
	if !reflect.DeepEqual(got.Scopes, wantScopes) {
		t.Errorf("Scopes = %v, want %v", got.Scopes, wantScopes)
	}
	if got.Integrity["/c.js"] != "sha384-abc" {
		t.Errorf("Integrity = %v", got.Integrity)
	}
	if base.Imports["b"] != "/b.js" || len(base.Scopes["/x/"]) != 1 {
		t.Error("Merge modified its receiver")
	}

	var nilMap *importmap.ImportMap
	if m := nilMap.Merge(nil); m == nil || !m.Empty() {
		t.Error("merging two nil maps should give an empty map")
	}
}

func TestToJSON(t *testing.T) {
	im := &importmap.ImportMap{}
	if im.ToJSON() != "" {
		t.Error("empty map should render as empty string")
	}
	var nilMap *importmap.ImportMap
	if nilMap.ToJSON() != "" || nilMap.ScriptTag() != "" {
		t.Error("nil map should render as empty string")
	}

	im.Set("zeta", "/z.js")
	im.Set("alpha", "/a.js")
	out := im.ToJSON()
	if strings.Index(out, "alpha") > strings.Index(out, "zeta") {
		t.Errorf("keys should be sorted:\n%s", out)
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Errorf("ToJSON produced invalid JSON: %v", err)
	}
}

func TestScriptTagEscapesClosingTags(t *testing.T) {
	im := &importmap.ImportMap{}
	im.Set("evil", "/</script><script>alert(1)")
	tag := im.ScriptTag()
	if !strings.HasPrefix(tag, `<script type="importmap">`) {
		t.Errorf("unexpected tag %q", tag)
	}
	if strings.Count(tag, "</script>") != 1 {
		t.Errorf("closing tag leaked into the body: %q", tag)
	}
}
