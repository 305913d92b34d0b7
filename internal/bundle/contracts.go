// SPDX-License-Identifier: MPL-2.0

// Package bundle turns one package's compiled outputs into its published
// artifacts: an ES-module bundle, a CommonJS bundle, and flattened
// declaration files. The bundler itself is a collaborator behind an
// interface; the default adapter is esbuild-backed.
package bundle

import "context"

// Format selects the module convention of a bundler run.
type Format int

const (
	FormatESM Format = iota
	FormatCJS
)

// Module is source content a plugin serves to the bundler, with an optional
// companion source map.
type Module struct {
	Code string
	Map  string
}

// Chunk is one generated output of a bundler run.
type Chunk struct {
	Path string
	Code string
	Map  string
}

// Plugin intercepts module resolution and loading for a bundler run.
// Resolve maps an import specifier to a loadable id; Load serves the id's
// content. Either may decline (comma-ok) to defer to the next plugin or the
// bundler's own resolution.
type Plugin interface {
	Name() string
	Resolve(source, importer string) (string, bool)
	Load(resolved string) (Module, bool)
}

// Request describes one bundler run. External classifies import specifiers
// the bundler must leave unresolved rather than inline.
type Request struct {
	Entry     string
	Format    Format
	SourceMap bool
	External  func(id string) bool
	Plugins   []Plugin
}

// Bundler resolves the module graph from Entry and generates chunks.
type Bundler interface {
	Bundle(ctx context.Context, req Request) ([]Chunk, error)
}

// Warning codes a declaration flattener may emit. Both are expected noise
// for bundled declarations and are suppressed by the producer; everything
// else is surfaced.
const (
	WarnCircularDependency   = "CIRCULAR_DEPENDENCY"
	WarnUnusedExternalImport = "UNUSED_EXTERNAL_IMPORT"
)

// DeclarationBundler flattens a declaration entry and its imports into one
// declaration text. onWarn receives every diagnostic the flattener raises.
type DeclarationBundler interface {
	Flatten(ctx context.Context, entry string, plugins []Plugin, onWarn func(code, message string)) (string, error)
}
