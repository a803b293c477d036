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

import "strings"

var nodeBuiltins = map[string]bool{
	"assert": true, "assert/strict": true, "async_hooks": true,
	"buffer": true, "child_process": true, "cluster": true,
	"console": true, "constants": true, "crypto": true,
	"dgram": true, "diagnostics_channel": true, "dns": true,
	"dns/promises": true, "domain": true, "events": true,
	"fs": true, "fs/promises": true, "http": true,
	"http2": true, "https": true, "inspector": true,
	"inspector/promises": true, "module": true, "net": true,
	"os": true, "path": true, "path/posix": true,
	"path/win32": true, "perf_hooks": true, "process": true,
	"punycode": true, "querystring": true, "readline": true,
	"readline/promises": true, "repl": true, "stream": true,
	"stream/consumers": true, "stream/promises": true, "stream/web": true,
	"string_decoder": true, "sys": true, "timers": true,
	"timers/promises": true, "tls": true, "trace_events": true,
	"tty": true, "url": true, "util": true,
	"util/types": true, "v8": true, "vm": true,
	"wasi": true, "worker_threads": true, "zlib": true,
}

// IsNodeBuiltin reports whether specifier names a Node.js core module,
// with or without the "node:" scheme.
func IsNodeBuiltin(specifier string) bool {
	if rest, ok := strings.CutPrefix(specifier, "node:"); ok {
		return rest != ""
	}
	return nodeBuiltins[specifier]
}
