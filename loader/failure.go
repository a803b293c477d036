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

package loader

import (
	"errors"
	"fmt"
)

// Failure is a stage error. It carries the stage identity and the
// diagnostic the stage reported.
type Failure struct {
	Stage      string
	Path       string
	Line       int
	Column     int
	Diagnostic string
	Err        error
}

func (f *Failure) Error() string {
	loc := f.Path
	if f.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", f.Path, f.Line, f.Column)
	}
	if f.Stage == "" {
		return fmt.Sprintf("%s: %s", loc, f.Diagnostic)
	}
	return fmt.Sprintf("%s: %s stage: %s", loc, f.Stage, f.Diagnostic)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// asFailure attaches stage and path to err.
func asFailure(err error, stage, path string) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		out := *f
		if out.Stage == "" {
			out.Stage = stage
		}
		if out.Path == "" {
			out.Path = path
		}
		return &out
	}
	return &Failure{Stage: stage, Path: path, Diagnostic: err.Error(), Err: err}
}
