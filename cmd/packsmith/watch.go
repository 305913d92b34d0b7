// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/spf13/cobra"

	"packsmith/internal/build"
	"packsmith/internal/compiler"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rebuild affected packages whenever sources change",
	Long: `Watch keeps a continuous compiler session alive over all configured
packages. Each coalesced batch of changes re-bundles only the affected
packages; compiled test files are copied out in place. The session runs
until interrupted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadWorkspace()
		if err != nil {
			return err
		}

		opts, err := buildOptions(cfg, logger)
		if err != nil {
			return err
		}

		svc, err := compiler.NewExecService(cfg.Compiler)
		if err != nil {
			return err
		}
		driver, err := compiler.NewWatchDriver(compiler.WatchConfig{
			Service:    svc,
			Dirs:       cfg.Packages,
			ExtraFiles: cfg.ExtraFiles,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		opts.Watcher = driver

		logger.Info("watching", "packages", len(cfg.Packages))
		return build.Watch(cmd.Context(), opts)
	},
}
