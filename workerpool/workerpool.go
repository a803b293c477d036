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

// Package workerpool runs CPU-heavy tasks (parsing, external transforms)
// on a bounded number of goroutines.
package workerpool

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Task is a unit of work submitted to the pool.
type Task func(ctx context.Context) (any, error)

// Completion is the outcome of a submitted task.
type Completion struct {
	Value any
	Err   error
}

// Pool bounds the number of concurrently running tasks.
type Pool struct {
	size     int
	sem      *semaphore.Weighted
	inFlight atomic.Int64
}

// New creates a pool running at most size tasks at once.
// A size of zero or less uses runtime.NumCPU().
func New(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{
		size: size,
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Size returns the pool's concurrency limit.
func (p *Pool) Size() int {
	return p.size
}

// InFlight returns the number of tasks currently running.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Submit schedules task and returns a channel that receives exactly one
// Completion. If ctx is cancelled before a slot frees up the task never
// runs and the completion carries the context error.
func (p *Pool) Submit(ctx context.Context, task Task) <-chan Completion {
	done := make(chan Completion, 1)
	go func() {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			done <- Completion{Err: err}
			return
		}
		defer p.sem.Release(1)

		p.inFlight.Add(1)
		defer p.inFlight.Add(-1)

		if err := ctx.Err(); err != nil {
			done <- Completion{Err: err}
			return
		}
		v, err := task(ctx)
		done <- Completion{Value: v, Err: err}
	}()
	return done
}

// Do submits task and waits for its completion or for ctx to end.
func (p *Pool) Do(ctx context.Context, task Task) (any, error) {
	select {
	case c := <-p.Submit(ctx, task):
		return c.Value, c.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Each runs fn for every item on the pool and returns the first error.
// The context passed to fn is cancelled once any call fails.
func Each[T any](ctx context.Context, p *Pool, items []T, fn func(ctx context.Context, i int, item T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			c := <-p.Submit(gctx, func(ctx context.Context) (any, error) {
				return nil, fn(ctx, i, item)
			})
			return c.Err
		})
	}
	return g.Wait()
}
