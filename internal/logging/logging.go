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

// Package logging adapts zerolog to the loggers the build packages accept.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Output formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Logger writes leveled messages through zerolog.
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger writing to w at level ("debug", "info", "warn",
// "error"; empty means info). Console format is colorized and meant for
// terminals, json emits one object per line.
func New(w io.Writer, level, format string) (*Logger, error) {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	out := w
	switch format {
	case "", FormatConsole:
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	case FormatJSON:
	default:
		return nil, fmt.Errorf("invalid log format %q: must be %s or %s", format, FormatConsole, FormatJSON)
	}
	return &Logger{zl: zerolog.New(out).Level(lvl).With().Timestamp().Logger()}, nil
}

// FromViper creates a logger from the log-level, log-format and verbose
// settings. Verbose forces debug output.
func FromViper(v *viper.Viper, w io.Writer) (*Logger, error) {
	level := v.GetString("log-level")
	if v.GetBool("verbose") {
		level = "debug"
	}
	return New(w, level, v.GetString("log-format"))
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a logger tagging every message with the component name.
func (l *Logger) With(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

func (l *Logger) Debug(format string, args ...any) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warning(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.zl.Error().Msgf(format, args...)
}
