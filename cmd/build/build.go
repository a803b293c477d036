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

// Package build provides the build command for sheaf.
package build

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bennypowers.dev/sheaf/bundler"
	"bennypowers.dev/sheaf/fs"
	"bennypowers.dev/sheaf/graph"
	"bennypowers.dev/sheaf/internal/config"
	"bennypowers.dev/sheaf/internal/logging"
	"bennypowers.dev/sheaf/internal/output"
)

// ErrDiagnostics is returned when a build finished with errors.
var ErrDiagnostics = errors.New("build finished with errors")

// Cmd is the build command.
var Cmd = &cobra.Command{
	Use:   "build [entries...]",
	Short: "Bundle entries into hashed chunks",
	Long: `Bundle scripts, stylesheets and HTML pages into content-hashed chunks,
a runtime and a manifest.

Entries given as arguments replace the configured ones. Settings are read
from sheaf.config.{yaml,json,toml} in the project directory, SHEAF_*
environment variables and flags, flags taking precedence.`,
	Example: `  # Build the entries listed in sheaf.config.yaml
  sheaf build

  # Build a page without a config file
  sheaf build index.html --out-dir public

  # Production defines and a shared package served from a CDN
  sheaf build src/main.js --define 'process.env.NODE_ENV="production"'`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return config.BindBuildFlags(viper.GetViper(), cmd.Flags())
	},
	RunE: run,
}

func init() {
	config.AddBuildFlags(Cmd.Flags())
}

// Load reads the configuration of a command, with args replacing the
// configured entries.
func Load(args []string) (bundler.Config, error) {
	cfg, err := config.Load(viper.GetViper(), viper.GetString("dir"), viper.GetString("config"))
	if err != nil {
		return cfg, err
	}
	if len(args) > 0 {
		cfg.Entries = args
	}
	return cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := logging.FromViper(viper.GetViper(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	cfg, err := Load(args)
	if err != nil {
		return err
	}
	osfs := fs.NewOSFileSystem()
	b, err := bundler.New(cfg, osfs)
	if err != nil {
		return err
	}
	b.WithLogger(logger.With("build"))

	res, err := b.Build(cmd.Context())
	if err != nil {
		if unresolved := graph.AsUnresolved(err); len(unresolved) > 0 {
			for _, u := range unresolved {
				fmt.Fprintln(cmd.ErrOrStderr(), output.Relative(b.Config().Root, u.Error()))
			}
			return ErrDiagnostics
		}
		return err
	}
	output.Diagnostics(cmd.ErrOrStderr(), b.Config().Root, res.Diagnostics)

	if path := viper.GetString(output.FileKey); path != "" {
		if err := output.JSON(osfs, cmd.OutOrStdout(), res.Manifest); err != nil {
			return err
		}
	} else if err := output.Assets(cmd.OutOrStdout(), res.Assets, res.Manifest); err != nil {
		return err
	}
	if graph.HasErrors(res.Diagnostics) {
		return ErrDiagnostics
	}
	return nil
}
