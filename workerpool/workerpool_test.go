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

package workerpool_test

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bennypowers.dev/sheaf/workerpool"
)

func TestNewDefaultsToNumCPU(t *testing.T) {
	if got := workerpool.New(0).Size(); got != runtime.NumCPU() {
		t.Errorf("Size() = %d, want %d", got, runtime.NumCPU())
	}
	if got := workerpool.New(3).Size(); got != 3 {
		t.Errorf("Size() = %d, want 3", got)
	}
}

func TestSubmit(t *testing.T) {
	pool := workerpool.New(2)
	c := <-pool.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return 42, nil
	})
	if c.Err != nil || c.Value.(int) != 42 {
		t.Errorf("got %+v", c)
	}

	boom := errors.New("boom")
	c = <-pool.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, boom
	})
	if !errors.Is(c.Err, boom) {
		t.Errorf("expected boom, got %v", c.Err)
	}
}

func TestSubmitBoundsConcurrency(t *testing.T) {
	pool := workerpool.New(2)
	var running, peak atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for range 6 {
		ch := pool.Submit(context.Background(), func(ctx context.Context) (any, error) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			return nil, nil
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ch
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency %d exceeds pool size 2", got)
	}
	if pool.InFlight() != 0 {
		t.Errorf("InFlight() = %d after completion", pool.InFlight())
	}
}

func TestSubmitCancelledBeforeStart(t *testing.T) {
	pool := workerpool.New(1)
	block := make(chan struct{})
	started := make(chan struct{})
	first := pool.Submit(context.Background(), func(ctx context.Context) (any, error) {
		close(started)
		<-block
		return nil, nil
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	second := pool.Submit(ctx, func(ctx context.Context) (any, error) {
		ran.Store(true)
		return nil, nil
	})
	cancel()

	if c := <-second; !errors.Is(c.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", c.Err)
	}
	close(block)
	<-first
	if ran.Load() {
		t.Error("cancelled task should not run")
	}
}

func TestEach(t *testing.T) {
	pool := workerpool.New(4)
	items := []int{1, 2, 3, 4, 5}
	results := make([]int, len(items))
	err := workerpool.Each(context.Background(), pool, items, func(ctx context.Context, i int, item int) error {
		results[i] = item * item
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []int{1, 4, 9, 16, 25} {
		if results[i] != want {
			t.Errorf("results[%d] = %d, want %d", i, results[i], want)
		}
	}

	boom := errors.New("boom")
	err = workerpool.Each(context.Background(), pool, items, func(ctx context.Context, i int, item int) error {
		if item == 3 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}
