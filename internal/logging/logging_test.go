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

package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"bennypowers.dev/sheaf/internal/logging"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decoding %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(&buf, "warn", logging.FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warning("disk %s", "full")
	logger.With("hmr").Error("failed")

	got := lines(t, &buf)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d:\n%s", len(got), buf.String())
	}
	if got[0]["level"] != "warn" || got[0]["message"] != "disk full" {
		t.Errorf("first entry = %v", got[0])
	}
	if got[1]["component"] != "hmr" || got[1]["level"] != "error" {
		t.Errorf("second entry = %v", got[1])
	}
}

func TestInvalidSettings(t *testing.T) {
	if _, err := logging.New(&bytes.Buffer{}, "loud", ""); err == nil {
		t.Error("expected an invalid level to fail")
	}
	if _, err := logging.New(&bytes.Buffer{}, "", "xml"); err == nil {
		t.Error("expected an invalid format to fail")
	}
}

func TestFromViperVerbose(t *testing.T) {
	v := viper.New()
	v.Set("verbose", true)
	v.Set("log-level", "error")
	v.Set("log-format", logging.FormatJSON)
	var buf bytes.Buffer
	logger, err := logging.FromViper(v, &buf)
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug("shown")
	if got := lines(t, &buf); len(got) != 1 || got[0]["level"] != "debug" {
		t.Errorf("verbose did not enable debug output: %s", buf.String())
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(&buf, "", "")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("built %d modules", 3)
	if !strings.Contains(buf.String(), "built 3 modules") {
		t.Errorf("unexpected output %q", buf.String())
	}
}
