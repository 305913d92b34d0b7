// SPDX-License-Identifier: MPL-2.0

package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"packsmith/internal/pkgdesc"
	"packsmith/internal/pure"
	"packsmith/internal/vout"
)

// tslibModule is the one runtime helper the compiler may inject; it is the
// only bare specifier that gets inlined instead of staying external.
const tslibModule = "tslib"

// DefaultBundleName is the artifact base name when the caller sets none.
const DefaultBundleName = "index"

// Producer generates a package's published artifacts from the compile
// session's output store: the ES-module bundle (optionally source-mapped,
// otherwise pure-annotated), the CommonJS bundle, and the flattened
// declaration pair.
type Producer struct {
	Store        *vout.Store
	Bundler      Bundler
	Declarations DeclarationBundler

	BundleName   string
	SourceMap    bool
	PureTopCalls bool

	// OutputPlugin and CJSOutputPlugin let the caller post-process the
	// module and CommonJS runs respectively. Either may be nil.
	OutputPlugin    func(pkgRoot string) Plugin
	CJSOutputPlugin func(pkgRoot string) Plugin

	Logger *log.Logger
}

// Produce writes every artifact for pkg under its dist directory. Map files
// land before the content referencing them so the reference comment is never
// dangling.
func (p *Producer) Produce(ctx context.Context, pkg *pkgdesc.Descriptor) error {
	name := p.BundleName
	if name == "" {
		name = DefaultBundleName
	}
	dist := pkg.DistDir()
	if err := os.MkdirAll(dist, 0o750); err != nil {
		return fmt.Errorf("bundle: create %s: %w", dist, err)
	}

	store := &storePlugin{store: p.Store}

	if err := p.produceModule(ctx, pkg, store, dist, name); err != nil {
		return err
	}
	if err := p.produceCommonJS(ctx, pkg, store, dist, name); err != nil {
		return err
	}
	return p.produceDeclarations(ctx, pkg, store, dist, name)
}

func (p *Producer) produceModule(ctx context.Context, pkg *pkgdesc.Descriptor, store Plugin, dist, name string) error {
	plugins := []Plugin{store}
	if p.OutputPlugin != nil {
		plugins = append(plugins, p.OutputPlugin(pkg.Root))
	}

	chunk, err := p.run(ctx, Request{
		Entry:     vout.Normalize(pkg.EntryScript()),
		Format:    FormatESM,
		SourceMap: p.SourceMap,
		External:  isExternal,
		Plugins:   plugins,
	})
	if err != nil {
		return fmt.Errorf("bundle: module run for %s: %w", pkg.Name, err)
	}

	code := chunk.Code
	switch {
	case p.SourceMap:
		if chunk.Map != "" {
			mapName := name + pkgdesc.ScriptSuffix + ".map"
			if err := writeArtifact(filepath.Join(dist, mapName), chunk.Map); err != nil {
				return err
			}
			if !strings.HasSuffix(code, "\n") {
				code += "\n"
			}
			code += "//# sourceMappingURL=" + mapName + "\n"
		}
	case p.PureTopCalls:
		// Annotating a mapped bundle would desynchronize the map, so this
		// branch is only reachable without one.
		code, err = pure.Annotate(code, pure.Options{
			AnnotateCalls:       true,
			RewriteEnumWrappers: true,
		})
		if err != nil {
			return fmt.Errorf("bundle: annotate %s: %w", pkg.Name, err)
		}
	}

	return writeArtifact(filepath.Join(dist, name+pkgdesc.ScriptSuffix), code)
}

func (p *Producer) produceCommonJS(ctx context.Context, pkg *pkgdesc.Descriptor, store Plugin, dist, name string) error {
	plugins := []Plugin{store}
	if p.CJSOutputPlugin != nil {
		plugins = append(plugins, p.CJSOutputPlugin(pkg.Root))
	}

	chunk, err := p.run(ctx, Request{
		Entry:    vout.Normalize(pkg.EntryScript()),
		Format:   FormatCJS,
		External: isExternal,
		Plugins:  plugins,
	})
	if err != nil {
		return fmt.Errorf("bundle: commonjs run for %s: %w", pkg.Name, err)
	}
	return writeArtifact(filepath.Join(dist, name+".cjs"), chunk.Code)
}

func (p *Producer) produceDeclarations(ctx context.Context, pkg *pkgdesc.Descriptor, store Plugin, dist, name string) error {
	if p.Declarations == nil {
		p.logger().Debug("no declaration bundler configured, skipping", "package", pkg.Name)
		return nil
	}

	flat, err := p.Declarations.Flatten(ctx, vout.Normalize(pkg.EntryDeclaration()), []Plugin{store},
		func(code, message string) {
			if code == WarnCircularDependency || code == WarnUnusedExternalImport {
				return
			}
			p.logger().Warn(message, "package", pkg.Name, "code", code)
		})
	if err != nil {
		return fmt.Errorf("bundle: declaration run for %s: %w", pkg.Name, err)
	}

	if err := writeArtifact(filepath.Join(dist, name+pkgdesc.DeclarationSuffix), flat); err != nil {
		return err
	}
	return writeArtifact(filepath.Join(dist, name+pkgdesc.DualDeclSuffix), flat)
}

// run executes one bundler request and returns its single chunk.
func (p *Producer) run(ctx context.Context, req Request) (Chunk, error) {
	chunks, err := p.Bundler.Bundle(ctx, req)
	if err != nil {
		return Chunk{}, err
	}
	if len(chunks) == 0 {
		return Chunk{}, fmt.Errorf("bundler produced no output for %s", req.Entry)
	}
	return chunks[0], nil
}

func (p *Producer) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}

// isExternal classifies import specifiers: every bare identifier except the
// runtime helper stays external; relative and absolute specifiers are part
// of the package graph.
func isExternal(id string) bool {
	if id == tslibModule {
		return false
	}
	return !strings.HasPrefix(id, ".") && !strings.HasPrefix(id, "/")
}

func writeArtifact(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("bundle: write %s: %w", path, err)
	}
	return nil
}

// storePlugin serves modules from the compile session's output store instead
// of the filesystem. Extensionless specifiers from compiled output are tried
// against the store's script, declaration, and index forms.
type storePlugin struct {
	store *vout.Store
}

func (s *storePlugin) Name() string { return "virtual-output" }

func (s *storePlugin) Resolve(source, importer string) (string, bool) {
	var base string
	switch {
	case strings.HasPrefix(source, "/"):
		base = source
	case strings.HasPrefix(source, "."):
		if importer == "" {
			return "", false
		}
		base = filepath.Join(filepath.Dir(importer), source)
	default:
		// Bare specifier, not ours.
		return "", false
	}

	base = vout.Normalize(base)
	for _, candidate := range []string{
		base,
		base + pkgdesc.ScriptSuffix,
		base + pkgdesc.DeclarationSuffix,
		base + "/index" + pkgdesc.ScriptSuffix,
		base + "/index" + pkgdesc.DeclarationSuffix,
	} {
		if s.store.Has(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func (s *storePlugin) Load(resolved string) (Module, bool) {
	code, ok := s.store.Read(resolved)
	if !ok {
		return Module{}, false
	}
	mod := Module{Code: code}
	if m, ok := s.store.Read(resolved + ".map"); ok {
		mod.Map = m
	}
	return mod, true
}
