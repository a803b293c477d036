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
	"context"
	"errors"
	"testing"
	"time"
)

// flaky fails a fixed number of times before answering.
type flaky struct {
	failures int
	err      error
	calls    int
}

func (f *flaky) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return []byte("ok"), nil
}

func TestWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{"success", 0, nil, 1, false},
		{"server error then success", 2, &FetchError{URL: "u", StatusCode: 503}, 3, false},
		{"network error then success", 1, &FetchError{URL: "u", Message: "connection reset"}, 2, false},
		{"rate limited", 1, &FetchError{URL: "u", StatusCode: 429}, 2, false},
		{"not found is final", 5, &FetchError{URL: "u", StatusCode: 404}, 1, true},
		{"gives up", 5, &FetchError{URL: "u", StatusCode: 500}, 3, true},
		{"other errors are final", 5, errors.New("boom"), 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &flaky{failures: tt.failures, err: tt.err}
			body, err := WithRetry(f, 3, time.Millisecond).Fetch(context.Background(), "u")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && string(body) != "ok" {
				t.Errorf("body = %q", body)
			}
			if f.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", f.calls, tt.wantCalls)
			}
		})
	}
}

func TestWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &flaky{failures: 10, err: &FetchError{URL: "u", StatusCode: 502}}
	done := make(chan error, 1)
	go func() {
		_, err := WithRetry(f, 10, time.Hour).Fetch(ctx, "u")
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected the last failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry ignored cancellation")
	}
}
