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

// Command sheaf bundles JavaScript, TypeScript and CSS for the browser.
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bennypowers.dev/sheaf/cmd/build"
	"bennypowers.dev/sheaf/cmd/graph"
	"bennypowers.dev/sheaf/cmd/resolve"
	"bennypowers.dev/sheaf/cmd/version"
	"bennypowers.dev/sheaf/cmd/watch"
	"bennypowers.dev/sheaf/internal/config"
	"bennypowers.dev/sheaf/internal/output"
	buildversion "bennypowers.dev/sheaf/internal/version"
)

var (
	cpuprofile     string
	cpuprofileFile *os.File
	rootCmd        = &cobra.Command{
		Use:   "sheaf",
		Short: "Bundle JavaScript, TypeScript and CSS for the browser",
		Long: `sheaf resolves, transforms and splits a module graph into
content-hashed chunks, and keeps it current with hot module replacement
during development.`,
		Version:      buildversion.GetVersion(),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cpuprofile != "" {
				f, err := os.Create(cpuprofile)
				if err != nil {
					return fmt.Errorf("could not create CPU profile: %w", err)
				}
				cpuprofileFile = f
				if err := pprof.StartCPUProfile(f); err != nil {
					closeErr := f.Close()
					return errors.Join(
						fmt.Errorf("could not start CPU profile: %w", err),
						closeErr,
					)
				}
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cpuprofileFile != nil {
				pprof.StopCPUProfile()
				if err := cpuprofileFile.Close(); err != nil {
					return fmt.Errorf("closing CPU profile: %w", err)
				}
			}
			return nil
		},
	}
)

func init() {
	config.SetDefaults(viper.GetViper())

	// Root flags (persistent across all commands)
	flags := rootCmd.PersistentFlags()
	flags.StringP("dir", "C", ".", "Project directory searched for sheaf.config.*")
	flags.StringP("config", "c", "", "Config file (default: <dir>/sheaf.config.{yaml,json,toml})")
	flags.StringP("output", "o", "", "Write JSON output to a file instead of stdout")
	flags.BoolP("verbose", "v", false, "Log debug messages")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (console, json)")
	flags.StringVar(&cpuprofile, "cpuprofile", "", "Write CPU profile to file")

	for _, name := range []string{"dir", "config", "verbose", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
	// "output" is taken by the output section of the config file.
	_ = viper.BindPFlag(output.FileKey, flags.Lookup("output"))

	rootCmd.AddCommand(build.Cmd)
	rootCmd.AddCommand(watch.Cmd)
	rootCmd.AddCommand(resolve.Cmd)
	rootCmd.AddCommand(graph.Cmd)
	rootCmd.AddCommand(version.Cmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
