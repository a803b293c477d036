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

// Package hmr keeps a build current as files change and turns each
// rebuild into the smallest update a running page can apply.
package hmr

import "encoding/json"

// UpdateType distinguishes update envelopes.
type UpdateType string

const (
	// TypeUpdate carries a patch the runtime applies in place.
	TypeUpdate UpdateType = "update"
	// TypeFullReload asks clients to reload the page.
	TypeFullReload UpdateType = "full-reload"
	// TypeError reports a failed rebuild. The last good build stays live.
	TypeError UpdateType = "error"
	// TypeConnected greets a new client with its ID.
	TypeConnected UpdateType = "connected"
)

// Update is the envelope sent to clients and watch subscribers. Module
// IDs are the runtime registry IDs.
type Update struct {
	Type UpdateType `json:"type"`
	// UpdatedModules lists the modules re-executed by the patch,
	// dependencies first.
	UpdatedModules []string `json:"updatedModules"`
	RemovedModules []string `json:"removedModules"`
	// Boundaries are the modules whose accept handlers absorb the update.
	Boundaries []string `json:"boundaries,omitempty"`
	Patch      string   `json:"patch,omitempty"`
	Message    string   `json:"message,omitempty"`
	ClientID   string   `json:"id,omitempty"`
}

// JSON encodes the envelope with empty lists as [].
func (u Update) JSON() ([]byte, error) {
	if u.UpdatedModules == nil {
		u.UpdatedModules = []string{}
	}
	if u.RemovedModules == nil {
		u.RemovedModules = []string{}
	}
	return json.Marshal(u)
}
