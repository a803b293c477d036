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

package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"bennypowers.dev/sheaf/bundler"
)

// buildFlags maps build flag names to config keys.
var buildFlags = map[string]string{
	"entry":       "entries",
	"out-dir":     "out-dir",
	"workers":     "workers",
	"cache-dir":   "cache-dir",
	"define":      "define",
	"alias":       "resolve.aliases",
	"external":    "resolve.externals",
	"conditions":  "resolve.conditions",
	"platform":    "resolve.platform",
	"workspaces":  "resolve.workspaces",
	"template":    "output.template",
	"public-path": "output.public-path",
	"source-maps": "output.source-maps",
	"tree-shake":  "output.tree-shake",
	"split":       "split.strategy",
	"min-chunks":  "split.min-chunks",
	"provider":    "federation.provider",
}

// AddBuildFlags registers the flags shared by commands that build.
func AddBuildFlags(flags *pflag.FlagSet) {
	d := bundler.DefaultConfig()
	flags.StringArrayP("entry", "e", nil, "Entry script, stylesheet or HTML page (can be repeated)")
	flags.String("out-dir", d.OutDir, "Output directory")
	flags.Int("workers", 0, "Worker pool size (default: one per CPU)")
	flags.String("cache-dir", "", "Persistent transform cache directory")
	flags.StringArray("define", nil, "NAME=VALUE replacement (can be repeated)")
	flags.StringArray("alias", nil, "FROM=TO specifier alias (can be repeated)")
	flags.StringArray("external", nil, "Specifier left to the runtime (can be repeated)")
	flags.StringSlice("conditions", d.Resolve.Conditions, "Export condition priority")
	flags.String("platform", d.Resolve.Platform, "Target platform (browser, node, neutral)")
	flags.Bool("workspaces", false, "Resolve npm workspace packages by name")
	flags.String("template", d.Output.Template, "Chunk file name template")
	flags.String("public-path", d.Output.PublicPath, "URL prefix of emitted files")
	flags.Bool("source-maps", d.Output.SourceMaps, "Emit source maps")
	flags.Bool("tree-shake", d.Output.TreeShake, "Drop unused exports")
	flags.String("split", d.Split.Strategy, "Shared chunk strategy (threshold, duplicate)")
	flags.Int("min-chunks", d.Split.MinChunks, "Chunks that must share a module before it is extracted")
	flags.String("provider", d.Federation.Provider, "CDN serving shared packages")
}

// BindBuildFlags binds the build flags of one command to v. Commands
// share config keys, so binding happens when a command runs rather than
// at init, where the last registered command would win.
func BindBuildFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range buildFlags {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}
