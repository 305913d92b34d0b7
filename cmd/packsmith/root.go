// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for packsmith.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"packsmith/internal/config"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables debug logging.
	verbose bool
	// cfgFile allows specifying a custom config file.
	cfgFile string

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "packsmith",
		Short: "A build orchestrator for TypeScript package families",
		Long: TitleStyle.Render("packsmith") + SubtitleStyle.Render(" - A build orchestrator for TypeScript package families") + `

packsmith compiles a family of packages in one shared compiler pass,
bundles each package's module, CommonJS, and declaration artifacts,
and annotates top-level calls for tree shaking.

Packages are directories with a package.json and a src/index.ts entry,
listed in a 'packsmith.toml' workspace file.

` + SubtitleStyle.Render("Examples:") + `
  packsmith build           Build every configured package once
  packsmith build --map     Build with source maps (skips pure annotation)
  packsmith watch           Rebuild affected packages on source changes`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "workspace config file (default is ./packsmith.toml)")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(watchCmd)
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

// loadWorkspace resolves the workspace config and a logger honoring the
// global flags.
func loadWorkspace() (*config.Config, *log.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: config.AppName})
	if verbose || cfg.Verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return cfg, logger, nil
}
