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

package codegen

import (
	"encoding/json"
	"strings"
)

// Global is the name the runtime installs itself under.
const Global = "__sheaf"

// DefaultHMRPath is where the runtime connects for hot updates.
const DefaultHMRPath = "/__sheaf/hmr"

// The runtime is an ES module that installs a module registry on
// globalThis. Chunks import it first; the first evaluation wins, so it is
// safe to load from several chunks and realms.
//
// Factories receive (module, exports, require, hot). require has helpers:
//
//	d(exports, getters)  define live export getters
//	s(exports, from)     copy star exports
//	c(id)                require with CommonJS interop
//	l(id, files)         load chunk files, then require
//	m(specifier)         throw for an unresolved import
const runtimeHead = `var g = globalThis;
if (!g.__sheaf) {
  var defs = new Map();
  var cache = new Map();
  var loads = new Map();
  var base = import.meta.url;
  var own = Object.prototype.hasOwnProperty;
  var r = function (id) {
    var m = cache.get(id);
    if (m) return m.exports;
    var f = defs.get(id);
    if (!f) throw new Error("sheaf: module " + JSON.stringify(id) + " is not loaded");
    m = { id: id, exports: r.reuse(id) };
    cache.set(id, m);
    try {
      f.call(m.exports, m, m.exports, r, r.hot(id));
    } catch (err) {
      cache.delete(id);
      throw err;
    }
    return m.exports;
  };
  r.reuse = function () { return {}; };
  r.hot = function () { return undefined; };
  r.d = function (x, getters) {
    Object.defineProperty(x, "__esModule", { value: true, configurable: true });
    for (var k in getters) Object.defineProperty(x, k, { enumerable: true, configurable: true, get: getters[k] });
  };
  r.s = function (x, from) {
    Object.keys(from).forEach(function (k) {
      if (k === "default" || k === "__esModule" || own.call(x, k)) return;
      Object.defineProperty(x, k, { enumerable: true, configurable: true, get: function () { return from[k]; } });
    });
  };
  r.c = function (id) {
    var e = r(id);
    if (e && e.__esModule) return e;
    var ns = { default: e };
    if (e && typeof e === "object") Object.keys(e).forEach(function (k) {
      if (k !== "default") Object.defineProperty(ns, k, { enumerable: true, get: function () { return e[k]; } });
    });
    return ns;
  };
  r.files = {};
  r.l = function (id, files) {
    if (own.call(r.files, id)) files = r.files[id];
    return Promise.all(files.map(function (f) {
      var p = loads.get(f);
      if (!p) {
        p = import(new URL(f, base).href);
        loads.set(f, p);
      }
      return p;
    })).then(function () { return r(id); });
  };
  r.m = function (spec) {
    throw new Error("sheaf: cannot find module " + JSON.stringify(spec));
  };
  var s = g.__sheaf = {
    define: function (id, f) { if (!defs.has(id)) defs.set(id, f); },
    external: function (id, ns) { if (!defs.has(id)) defs.set(id, function (m) { m.exports = ns; }); },
    require: r,
  };
`

const runtimeHot = `  var records = new Map();
  var reused = new Map();
  var record = function (id) {
    var h = records.get(id);
    if (!h) {
      h = { selfCb: null, self: false, deps: new Map(), dispose: [], data: undefined, declined: false };
      records.set(id, h);
    }
    return h;
  };
  r.hot = function (id) {
    var h = record(id);
    return {
      get data() { return h.data; },
      accept: function (deps, cb) {
        if (deps === undefined || typeof deps === "function") {
          h.self = true;
          h.selfCb = deps || null;
          return;
        }
        [].concat(deps).forEach(function (d) { h.deps.set(d, cb); });
      },
      dispose: function (cb) { h.dispose.push(cb); },
      decline: function () { h.declined = true; },
      invalidate: function () { location.reload(); },
    };
  };
  r.reuse = function (id) {
    var x = reused.get(id);
    if (!x) return {};
    reused.delete(id);
    Object.keys(x).forEach(function (k) { delete x[k]; });
    return x;
  };
  var dispose = function (id) {
    var h = records.get(id);
    var data = {};
    records.delete(id);
    if (h) h.dispose.forEach(function (cb) { cb(data); });
    record(id).data = data;
    return h;
  };
  s.apply = function (u) {
    var old = new Map();
    u.order.concat(u.removed).forEach(function (id) {
      old.set(id, dispose(id));
      var m = cache.get(id);
      if (m && u.modules[id]) reused.set(id, m.exports);
      cache.delete(id);
    });
    u.removed.forEach(function (id) {
      defs.delete(id);
      records.delete(id);
    });
    Object.keys(u.modules).forEach(function (id) { defs.set(id, u.modules[id]); });
    Object.keys(u.chunks).forEach(function (id) { r.files[id] = u.chunks[id]; });
    u.order.forEach(function (id) {
      var x = r(id);
      var h = old.get(id);
      if (h && h.selfCb) h.selfCb(x);
    });
    u.accepted.forEach(function (a) {
      var h = records.get(a.id);
      if (!h) return;
      a.deps.forEach(function (d) {
        var cb = h.deps.get(d.specifier);
        if (cb) cb(r(d.module));
      });
    });
  };
  if (typeof document !== "undefined" && typeof WebSocket !== "undefined") {
    var ws = new WebSocket(new URL(__SHEAF_HMR_PATH__, location.href).href.replace(/^http/, "ws"));
    ws.addEventListener("message", function (ev) {
      var msg = JSON.parse(ev.data);
      if (msg.type === "full-reload") {
        location.reload();
      } else if (msg.type === "error") {
        console.error("[sheaf] " + msg.message);
      } else if (msg.type === "update" && msg.patch) {
        var url = URL.createObjectURL(new Blob([msg.patch], { type: "text/javascript" }));
        import(url).then(function () { URL.revokeObjectURL(url); }, function (err) {
          console.error(err);
          location.reload();
        });
      }
    });
  }
`

const runtimeTail = `}
`

// Runtime returns the runtime module source. With hmrPath set the runtime
// also tracks hot state and connects to the update socket at that path.
func Runtime(hmrPath string) string {
	var b strings.Builder
	b.WriteString(runtimeHead)
	if hmrPath != "" {
		q, _ := json.Marshal(hmrPath)
		b.WriteString(strings.Replace(runtimeHot, "__SHEAF_HMR_PATH__", string(q), 1))
	}
	b.WriteString(runtimeTail)
	return b.String()
}
