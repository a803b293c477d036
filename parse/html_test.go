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

package parse_test

import (
	"slices"
	"testing"

	"bennypowers.dev/sheaf/parse"
	"bennypowers.dev/sheaf/testutil"
)

func TestHTML(t *testing.T) {
	mfs := testutil.NewFixtureFS(t, "html/page", "/test")
	content, err := mfs.ReadFile("/test/index.html")
	if err != nil {
		t.Fatal(err)
	}

	page, err := parse.HTML(content)
	if err != nil {
		t.Fatalf("HTML failed: %v", err)
	}

	if len(page.Scripts) != 4 {
		t.Fatalf("expected 4 scripts, got %+v", page.Scripts)
	}
	if s := page.Scripts[0]; !s.IsModuleEntry() || s.Src != "./src/main.ts" {
		t.Errorf("first script: %+v", s)
	}
	if s := page.Scripts[1]; s.IsModuleEntry() || s.Type != "" {
		t.Errorf("classic script should not be an entry: %+v", s)
	}
	if s := page.Scripts[2]; !s.Inline || s.Content != `console.log("inline");` {
		t.Errorf("inline script: %+v", s)
	}
	if s := page.Scripts[3]; s.IsModuleEntry() {
		t.Errorf("remote module should not be an entry: %+v", s)
	}

	want := []string{"./src/main.ts", "./styles/site.css"}
	if got := page.Entries(); !slices.Equal(got, want) {
		t.Errorf("Entries() = %v, want %v", got, want)
	}
}
