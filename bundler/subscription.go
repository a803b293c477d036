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

package bundler

import (
	"context"

	"bennypowers.dev/sheaf/chunk"
	"bennypowers.dev/sheaf/codegen"
	"bennypowers.dev/sheaf/graph"
	"bennypowers.dev/sheaf/hmr"
)

// Subscription is a running watch session.
type Subscription struct {
	engine *hmr.Engine
	hub    *hmr.Hub
	path   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Output returns the latest emission.
func (s *Subscription) Output() *codegen.Output {
	return s.engine.Output()
}

// Graphs returns the module and chunk graphs behind the latest emission.
func (s *Subscription) Graphs() (*graph.Graph, *chunk.Graph) {
	return s.engine.Graphs()
}

// State returns the build state of a module.
func (s *Subscription) State(id string) (graph.State, bool) {
	return s.engine.State(id)
}

// Hub returns the WebSocket endpoint page runtimes connect to.
func (s *Subscription) Hub() *hmr.Hub {
	return s.hub
}

// HMRPath is the URL path the runtime expects the hub at.
func (s *Subscription) HMRPath() string {
	return s.path
}

// Notify reports changed files, as the file watcher does.
func (s *Subscription) Notify(paths ...string) {
	s.engine.Notify(paths...)
}

// Done is closed once the session has stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close stops the session and waits for it to release its resources.
func (s *Subscription) Close() error {
	s.cancel()
	<-s.done
	return s.err
}
