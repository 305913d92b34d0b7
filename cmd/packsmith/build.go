// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"packsmith/internal/build"
	"packsmith/internal/bundle"
	"packsmith/internal/compiler"
	"packsmith/internal/config"
)

var (
	buildSourceMap  bool
	buildBundleName string

	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Compile and bundle every configured package once",
		Long: `Build runs one shared compiler pass over all configured packages, then
bundles each package into dist/<name>.js, dist/<name>.cjs and the
declaration pair. Test sources are compiled in place.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadWorkspace()
			if err != nil {
				return err
			}

			opts, err := buildOptions(cfg, logger)
			if err != nil {
				return err
			}
			opts.Compiler, err = compiler.NewExecService(cfg.Compiler)
			if err != nil {
				return err
			}

			err = build.Batch(cmd.Context(), opts)
			if errors.Is(err, build.ErrCompileFailed) {
				// Diagnostics were already logged; keep the exit terse.
				fmt.Fprintln(os.Stderr, ErrorStyle.Render("build failed"))
				return err
			}
			if err != nil {
				return err
			}

			fmt.Println(SuccessStyle.Render("✓") + fmt.Sprintf(" built %d package(s)", len(cfg.Packages)))
			return nil
		},
	}
)

func init() {
	buildCmd.Flags().BoolVar(&buildSourceMap, "map", false, "emit source maps (disables pure annotation)")
	buildCmd.Flags().StringVar(&buildBundleName, "bundle-name", "", "artifact base name (overrides config)")
}

// buildOptions translates the workspace config and flags into build options
// with the default bundler wired in. The compiler collaborator is attached
// by the subcommands, since batch and watch drive it differently.
func buildOptions(cfg *config.Config, logger *log.Logger) (build.Options, error) {
	if len(cfg.Packages) == 0 {
		return build.Options{}, fmt.Errorf("no packages configured; list them under the packages key in %s", config.ConfigFileName)
	}

	name := cfg.BundleName
	if buildBundleName != "" {
		name = buildBundleName
	}

	return build.Options{
		Dirs:              cfg.Packages,
		ExtraFiles:        cfg.ExtraFiles,
		SourceMap:         cfg.SourceMap || buildSourceMap,
		CompilerOverrides: cfg.CompilerOverrides,
		BundleName:        name,
		PureTopCalls:      cfg.PureTopCalls,
		Bundler:           bundle.ESBuild{},
		Logger:            logger,
	}, nil
}
