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
	"errors"
	"fmt"
)

// Kind classifies a resolution failure.
type Kind int

const (
	// NotFound means no file, package or export matched the specifier.
	NotFound Kind = iota
	// AmbiguousExports means an exports object mixes subpath and condition keys.
	AmbiguousExports
	// InvalidManifest means a package.json could not be parsed or one of its
	// targets is malformed.
	InvalidManifest
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case AmbiguousExports:
		return "ambiguous exports"
	case InvalidManifest:
		return "invalid manifest"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var (
	// ErrNotFound matches any *Error of kind NotFound via errors.Is.
	ErrNotFound = errors.New("module not found")
	// ErrAmbiguousExports matches any *Error of kind AmbiguousExports.
	ErrAmbiguousExports = errors.New("ambiguous package exports")
	// ErrInvalidManifest matches any *Error of kind InvalidManifest.
	ErrInvalidManifest = errors.New("invalid package manifest")
)

// Error describes a failed resolution.
type Error struct {
	Kind      Kind
	Specifier string
	FromDir   string
	// Manifest is the package.json involved, if any.
	Manifest string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("resolve %q from %s: %s", e.Specifier, e.FromDir, e.Kind)
	if e.Manifest != "" {
		msg += " (" + e.Manifest + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == NotFound
	case ErrAmbiguousExports:
		return e.Kind == AmbiguousExports
	case ErrInvalidManifest:
		return e.Kind == InvalidManifest
	}
	return false
}

// IsNotFound returns true if err is a NotFound resolution error.
func IsNotFound(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == NotFound
}
