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
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"bennypowers.dev/sheaf/codegen"
)

// NewServer returns a router serving a watch session: the latest assets
// from memory under publicPath, the manifest, and the hot update hub.
// A path ending in "/" serves its index.html.
func NewServer(sub *Subscription, publicPath string) *gin.Engine {
	prefix := strings.TrimSuffix(publicPath, "/") + "/"

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET(sub.HMRPath(), gin.WrapH(sub.Hub()))
	router.GET(prefix+codegen.ManifestName, func(c *gin.Context) {
		out := sub.Output()
		if out == nil || out.Manifest == nil {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		data, err := out.Manifest.JSON()
		if err != nil {
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Data(http.StatusOK, "application/json", data)
	})
	router.NoRoute(func(c *gin.Context) {
		serveAsset(c, sub.Output(), prefix)
	})
	return router
}

func serveAsset(c *gin.Context, out *codegen.Output, prefix string) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Status(http.StatusMethodNotAllowed)
		return
	}
	if out == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	name, ok := strings.CutPrefix(c.Request.URL.Path, prefix)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	if name == "" || strings.HasSuffix(name, "/") {
		name += "index.html"
	}
	asset, found := out.Asset(name)
	if !found {
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, contentType(asset), asset.Content)
}

func contentType(a *codegen.Asset) string {
	if a.Kind == codegen.SourceMapAsset {
		return "application/json"
	}
	if t := mime.TypeByExtension(path.Ext(a.Name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
