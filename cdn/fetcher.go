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
	"fmt"
	"net/http"
	"time"

	"github.com/tinywasm/fetch"
)

// Fetcher retrieves the body at a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches over HTTP with tinywasm/fetch.
type HTTPFetcher struct{}

// NewHTTPFetcher returns an HTTPFetcher.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{}
}

// Fetch returns the body of a 200 response. Other statuses become a
// FetchError carrying the status code.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{URL: url, Message: err.Error()}
	}
	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)

	fetch.Get(url).Send(func(resp *fetch.Response, err error) {
		switch {
		case err != nil:
			done <- result{err: &FetchError{URL: url, Message: err.Error()}}
		case resp.Status != http.StatusOK:
			done <- result{err: &FetchError{URL: url, StatusCode: resp.Status, Message: http.StatusText(resp.Status)}}
		default:
			done <- result{body: resp.Body()}
		}
	})

	select {
	case r := <-done:
		return r.body, r.err
	case <-ctx.Done():
		return nil, &FetchError{URL: url, Message: ctx.Err().Error()}
	}
}

// retrying retries transient failures of another fetcher.
type retrying struct {
	next     Fetcher
	attempts int
	backoff  time.Duration
}

// WithRetry retries fetches that fail with a server error or without a
// response, up to attempts tries in all, doubling the wait after each.
// Client errors such as 404 are returned at once.
func WithRetry(f Fetcher, attempts int, backoff time.Duration) Fetcher {
	return &retrying{next: f, attempts: max(attempts, 1), backoff: backoff}
}

func (r *retrying) Fetch(ctx context.Context, url string) ([]byte, error) {
	wait := r.backoff
	for attempt := 1; ; attempt++ {
		body, err := r.next.Fetch(ctx, url)
		if err == nil || attempt >= r.attempts || !transient(err) || ctx.Err() != nil {
			return body, err
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, err
		}
		wait *= 2
	}
}

func transient(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	return fe.StatusCode == 0 || fe.StatusCode >= http.StatusInternalServerError || fe.StatusCode == http.StatusTooManyRequests
}

// FetchError describes a failed fetch.
type FetchError struct {
	URL        string
	StatusCode int
	Message    string
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %s", e.URL, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Message)
}

// IsNotFound reports a 404 response.
func (e *FetchError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}
