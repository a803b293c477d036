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

package cdn

import (
	"errors"
	"testing"
)

func TestRangeSatisfies(t *testing.T) {
	tests := []struct {
		rng string
		in  []string
		out []string
	}{
		{"1.2.3", []string{"1.2.3", "v1.2.3"}, []string{"1.2.4", "1.2.3-beta"}},
		{"^1.2.3", []string{"1.2.3", "1.9.0"}, []string{"1.2.2", "2.0.0", "2.0.0-0", "1.5.0-beta"}},
		{"^0.2.3", []string{"0.2.3", "0.2.9"}, []string{"0.3.0", "0.2.2"}},
		{"^0.0.3", []string{"0.0.3"}, []string{"0.0.4"}},
		{"^1.2.3-beta.2", []string{"1.2.3-beta.2", "1.2.3-beta.10", "1.2.3", "1.3.0"}, []string{"1.2.3-beta.1", "1.3.0-beta"}},
		{"~1.2.3", []string{"1.2.3", "1.2.9"}, []string{"1.3.0"}},
		{"~1", []string{"1.0.0", "1.9.9"}, []string{"2.0.0"}},
		{"1.x", []string{"1.0.0", "1.99.0"}, []string{"2.0.0", "0.9.0"}},
		{"1.2", []string{"1.2.0", "1.2.7"}, []string{"1.3.0"}},
		{"*", []string{"0.0.1", "99.0.0"}, []string{"1.0.0-rc.1"}},
		{"", []string{"3.1.4"}, nil},
		{">=1.2.3 <2", []string{"1.2.3", "1.99.0"}, []string{"2.0.0", "1.2.2"}},
		{">= 1.2.3", []string{"1.2.3"}, []string{"1.2.2"}},
		{">1.2", []string{"1.3.0"}, []string{"1.2.9"}},
		{"<=1.2", []string{"1.2.9"}, []string{"1.3.0"}},
		{"<1.2", []string{"1.1.9"}, []string{"1.2.0"}},
		{"1.2.3 - 2.3", []string{"1.2.3", "2.3.9"}, []string{"2.4.0", "1.2.2"}},
		{"1 - 2.3.4", []string{"1.0.0", "2.3.4"}, []string{"2.3.5"}},
		{"^1.0.0 || ^3.0.0", []string{"1.4.0", "3.0.1"}, []string{"2.0.0"}},
		{"<0", nil, []string{"0.0.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.rng, func(t *testing.T) {
			r, err := ParseRange(tt.rng)
			if err != nil {
				t.Fatalf("ParseRange(%q): %v", tt.rng, err)
			}
			for _, v := range tt.in {
				if !r.Satisfies(v) {
					t.Errorf("%q should satisfy %q", v, tt.rng)
				}
			}
			for _, v := range tt.out {
				if r.Satisfies(v) {
					t.Errorf("%q should not satisfy %q", v, tt.rng)
				}
			}
		})
	}
}

func TestParseRangeInvalid(t *testing.T) {
	for _, s := range []string{"latest", "1.2.3.4", "1.x.3", "^1.2-beta", ">=a"} {
		if _, err := ParseRange(s); !errors.Is(err, ErrInvalidRange) {
			t.Errorf("ParseRange(%q) = %v, want ErrInvalidRange", s, err)
		}
	}
}

func TestRangeHighest(t *testing.T) {
	versions := []string{"1.0.0", "1.10.0", "1.9.0", "2.0.0-rc.1", "2.0.0", "not-a-version"}
	tests := []struct {
		rng  string
		want string
	}{
		{"^1.0.0", "1.10.0"},
		{"*", "2.0.0"},
		{"~1.9", "1.9.0"},
		{">=2.0.0-rc.0 <2.0.0", "2.0.0-rc.1"},
		{"^3", ""},
	}
	for _, tt := range tests {
		t.Run(tt.rng, func(t *testing.T) {
			r, err := ParseRange(tt.rng)
			if err != nil {
				t.Fatal(err)
			}
			if got := r.Highest(versions); got != tt.want {
				t.Errorf("Highest = %q, want %q", got, tt.want)
			}
		})
	}
}
