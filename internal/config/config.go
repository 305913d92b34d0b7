// SPDX-License-Identifier: MPL-2.0

// Package config loads the workspace configuration: which package
// directories to build together and how to drive the compiler and bundler.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"packsmith/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "packsmith"
	// ConfigFileName is the workspace config file searched in the working
	// directory.
	ConfigFileName = "packsmith.toml"
)

// Config is the workspace configuration.
type Config struct {
	// Packages are the package directories built together in one pass.
	Packages []string `mapstructure:"packages"`

	// ExtraFiles are loose sources outside any package, compiled and
	// copied out in place.
	ExtraFiles []string `mapstructure:"extra_files"`

	// BundleName is the artifact base name under each dist directory.
	BundleName string `mapstructure:"bundle_name"`

	// SourceMap requests source maps (and disables pure annotation).
	SourceMap bool `mapstructure:"source_map"`

	// PureTopCalls enables the tree-shaking annotation pass.
	PureTopCalls bool `mapstructure:"pure_top_calls"`

	// Compiler is the compiler command line; the literal "{config}" is
	// replaced with the generated project config path.
	Compiler []string `mapstructure:"compiler"`

	// CompilerOverrides merge over the baseline compiler option set.
	CompilerOverrides map[string]any `mapstructure:"compiler_overrides"`

	// Verbose enables debug logging.
	Verbose bool `mapstructure:"verbose"`
}

// DefaultConfig returns the built-in defaults applied under any file or
// environment values.
func DefaultConfig() *Config {
	return &Config{
		BundleName:   "index",
		PureTopCalls: true,
		Compiler:     []string{"tsc", "--pretty", "false", "-p", "{config}"},
	}
}

// Load resolves the workspace configuration. An explicit path is used
// exclusively and must exist; otherwise the working directory is searched
// for the conventional file, and its absence falls back to defaults.
// PACKSMITH_* environment variables override either source.
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("bundle_name", defaults.BundleName)
	v.SetDefault("pure_top_calls", defaults.PureTopCalls)
	v.SetDefault("compiler", defaults.Compiler)

	v.SetEnvPrefix("PACKSMITH")
	v.AutomaticEnv()

	switch {
	case path != "":
		if !fileExists(path) {
			return nil, issue.NewContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file exists and is readable").
				Wrap(fmt.Errorf("config file not found: %s", path)).
				BuildError()
		}
		if err := loadTOMLIntoViper(v, path); err != nil {
			return nil, issue.NewContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid TOML syntax").
				WithSuggestion("Verify the values match the documented configuration keys").
				Wrap(err).
				BuildError()
		}
	case fileExists(ConfigFileName):
		if err := loadTOMLIntoViper(v, ConfigFileName); err != nil {
			return nil, issue.NewContext().
				WithOperation("load configuration").
				WithResource(ConfigFileName).
				WithSuggestion("Check that the file contains valid TOML syntax").
				WithSuggestion("Verify the values match the documented configuration keys").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	if err := validatePackages(cfg.Packages); err != nil {
		return nil, issue.NewContext().
			WithOperation("validate configuration").
			WithSuggestion("List every package directory under the packages key").
			WithSuggestion("Each package needs a package.json and a src/index.ts").
			Wrap(err).
			BuildError()
	}
	return &cfg, nil
}

// loadTOMLIntoViper parses a TOML file and merges its contents into Viper,
// preserving the defaults/env layering.
func loadTOMLIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var configMap map[string]any
	if err := toml.Unmarshal(data, &configMap); err != nil {
		return fmt.Errorf("parse TOML: %w", err)
	}
	return v.MergeConfigMap(configMap)
}

// validatePackages rejects duplicate and missing package directories up
// front, before a build pass can trip over them.
func validatePackages(dirs []string) error {
	seen := make(map[string]struct{}, len(dirs))
	for _, dir := range dirs {
		if _, dup := seen[dir]; dup {
			return fmt.Errorf("package directory listed twice: %s", dir)
		}
		seen[dir] = struct{}{}

		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("package directory %s: %w", dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("package path is not a directory: %s", dir)
		}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
