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

// Package config loads build configuration from a sheaf.config file,
// SHEAF_ environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"bennypowers.dev/sheaf/bundler"
)

const (
	// FileName is the config file searched for, with any extension viper
	// reads (yaml, json, toml).
	FileName = "sheaf.config"
	// EnvPrefix prefixes environment overrides: out-dir is SHEAF_OUT_DIR,
	// hmr.window is SHEAF_HMR_WINDOW.
	EnvPrefix = "SHEAF"
)

// SetDefaults registers the default configuration and environment
// lookups on v.
func SetDefaults(v *viper.Viper) {
	d := bundler.DefaultConfig()
	for key, value := range map[string]any{
		"root":                d.Root,
		"out-dir":             d.OutDir,
		"workers":             d.Workers,
		"cache-dir":           d.CacheDir,
		"entries":             []string{},
		"define":              []string{},
		"resolve.extensions":  d.Resolve.Extensions,
		"resolve.conditions":  d.Resolve.Conditions,
		"resolve.main-fields": d.Resolve.MainFields,
		"resolve.aliases":     []string{},
		"resolve.externals":   []string{},
		"resolve.platform":    d.Resolve.Platform,
		"resolve.workspaces":  d.Resolve.Workspaces,
		"output.template":     d.Output.Template,
		"output.public-path":  d.Output.PublicPath,
		"output.source-maps":  d.Output.SourceMaps,
		"output.tree-shake":   d.Output.TreeShake,
		"split.strategy":      d.Split.Strategy,
		"split.min-chunks":    d.Split.MinChunks,
		"split.min-size":      d.Split.MinSize,
		"federation.provider": d.Federation.Provider,
		"federation.registry": d.Federation.Registry,
		"federation.imports":  []string{},
		"hmr.path":            d.HMR.Path,
		"hmr.window":          d.HMR.Window,
		"hmr.ignore":          d.HMR.Ignore,
	} {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration. file names a config file explicitly;
// otherwise dir is searched for sheaf.config.*, and a missing file is not
// an error. A relative root is taken from the config file's directory, or
// dir when there is none.
func Load(v *viper.Viper, dir, file string) (bundler.Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return bundler.Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg bundler.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return bundler.Config{}, fmt.Errorf("decoding config %s: %w", v.ConfigFileUsed(), err)
	}
	base := dir
	if used := v.ConfigFileUsed(); used != "" {
		base = filepath.Dir(used)
	}
	if !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(base, cfg.Root)
	}
	return cfg, nil
}
