// SPDX-License-Identifier: MPL-2.0

package bundle

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// pluginNamespace tags modules resolved by our plugins so their loads are
// routed back through us instead of the filesystem.
const pluginNamespace = "packsmith"

// ESBuild is the default Bundler, backed by esbuild's build API. The zero
// value is ready to use.
type ESBuild struct{}

// Bundle runs esbuild over the request's graph in memory and returns the
// generated chunks without touching the filesystem.
func (ESBuild) Bundle(ctx context.Context, req Request) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format := api.FormatESModule
	outName := "bundle.js"
	if req.Format == FormatCJS {
		format = api.FormatCommonJS
		outName = "bundle.cjs"
	}
	sourcemap := api.SourceMapNone
	if req.SourceMap {
		sourcemap = api.SourceMapExternal
	}

	result := api.Build(api.BuildOptions{
		EntryPoints: []string{req.Entry},
		Bundle:      true,
		Write:       false,
		Outfile:     outName,
		Format:      format,
		Platform:    api.PlatformNeutral,
		Target:      api.ESNext,
		Sourcemap:   sourcemap,
		LogLevel:    api.LogLevelSilent,
		Plugins:     []api.Plugin{bridgePlugin(req)},
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return nil, fmt.Errorf("bundle: esbuild %s: %s", req.Entry, strings.Join(msgs, "; "))
	}

	chunk := Chunk{Path: outName}
	for _, out := range result.OutputFiles {
		if strings.HasSuffix(out.Path, ".map") {
			chunk.Map = string(out.Contents)
			continue
		}
		chunk.Code = string(out.Contents)
	}
	return []Chunk{chunk}, nil
}

// bridgePlugin adapts the request's plugin list and external predicate to
// esbuild's resolve/load hooks. Resolution asks each plugin in order; a
// specifier no plugin claims is either marked external by the predicate or
// left to esbuild's own resolver.
func bridgePlugin(req Request) api.Plugin {
	return api.Plugin{
		Name: pluginNamespace,
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `.*`},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					for _, p := range req.Plugins {
						if resolved, ok := p.Resolve(args.Path, args.Importer); ok {
							return api.OnResolveResult{
								Path:      resolved,
								Namespace: pluginNamespace,
							}, nil
						}
					}
					if req.External != nil && req.External(args.Path) {
						return api.OnResolveResult{Path: args.Path, External: true}, nil
					}
					return api.OnResolveResult{}, nil
				})

			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: pluginNamespace},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					for _, p := range req.Plugins {
						if mod, ok := p.Load(args.Path); ok {
							contents := mod.Code
							// Resolving relative to the real location keeps
							// node_modules lookups working for specifiers
							// the plugins decline.
							return api.OnLoadResult{
								Contents:   &contents,
								Loader:     api.LoaderJS,
								ResolveDir: filepath.Dir(args.Path),
							}, nil
						}
					}
					return api.OnLoadResult{}, fmt.Errorf("bundle: no plugin loads %q", args.Path)
				})
		},
	}
}
