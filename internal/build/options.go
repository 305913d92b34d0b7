// SPDX-License-Identifier: MPL-2.0

// Package build glues the compile session, router, and bundle producer into
// the two top-level operations: a one-shot batch build and a continuous
// watch loop.
package build

import (
	"errors"
	"os"

	"github.com/charmbracelet/log"

	"packsmith/internal/bundle"
	"packsmith/internal/compiler"
	"packsmith/internal/pkgdesc"
	"packsmith/internal/session"
	"packsmith/internal/vout"
)

// ErrCompileFailed is returned by Batch when the compiler reported blocking
// diagnostics. No artifacts are written in that case.
var ErrCompileFailed = errors.New("build: compilation failed")

// Options is the full configuration surface of a build.
type Options struct {
	// Dirs are the package directories to build together in one pass.
	Dirs []string

	// ExtraFiles are loose sources outside any package, compiled along
	// with the packages and copied out in place.
	ExtraFiles []string

	// SourceMap requests source maps; it also disables pure annotation of
	// the module bundle.
	SourceMap bool

	// CompilerOverrides merge over the baseline compiler option set.
	CompilerOverrides map[string]any

	// BundleName is the artifact base name; empty means "index".
	BundleName string

	// ExpandLink resolves documentation anchors to URLs in emitted
	// comments. nil leaves them untouched.
	ExpandLink func(anchor string) string

	// PureTopCalls enables the tree-shaking annotation pass on the module
	// bundle.
	PureTopCalls bool

	// OutputPlugin and CJSOutputPlugin post-process the module and
	// CommonJS bundler runs. Either may be nil.
	OutputPlugin    func(pkgRoot string) bundle.Plugin
	CJSOutputPlugin func(pkgRoot string) bundle.Plugin

	// OnRebuildStart and OnRebuildEnd bracket each watch re-bundle batch
	// with the affected package roots. nil falls back to a log line.
	OnRebuildStart func(roots []string)
	OnRebuildEnd   func(roots []string)

	// Collaborators. Compiler is required for Batch, Watcher for Watch;
	// Bundler defaults to the esbuild adapter, Registry to a fresh one.
	Compiler     compiler.Service
	Watcher      session.WatchRunner
	Bundler      bundle.Bundler
	Declarations bundle.DeclarationBundler
	Registry     *pkgdesc.Registry

	Logger *log.Logger
}

func (o *Options) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.NewWithOptions(os.Stderr, log.Options{Prefix: "build"})
}

func (o *Options) registry() *pkgdesc.Registry {
	if o.Registry == nil {
		o.Registry = pkgdesc.NewRegistry()
	}
	return o.Registry
}

func (o *Options) bundler() bundle.Bundler {
	if o.Bundler != nil {
		return o.Bundler
	}
	return bundle.ESBuild{}
}

func (o *Options) sessionOptions() session.Options {
	return session.Options{
		SourceMap:  o.SourceMap,
		Overrides:  o.CompilerOverrides,
		ExpandLink: o.ExpandLink,
		ExtraFiles: o.ExtraFiles,
		Logger:     o.Logger,
	}
}

func (o *Options) producer(store *vout.Store) *bundle.Producer {
	return &bundle.Producer{
		Store:           store,
		Bundler:         o.bundler(),
		Declarations:    o.Declarations,
		BundleName:      o.BundleName,
		SourceMap:       o.SourceMap,
		PureTopCalls:    o.PureTopCalls,
		OutputPlugin:    o.OutputPlugin,
		CJSOutputPlugin: o.CJSOutputPlugin,
		Logger:          o.Logger,
	}
}
