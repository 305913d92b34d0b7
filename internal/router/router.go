// SPDX-License-Identifier: MPL-2.0

// Package router maps a coalesced batch of changed compiler outputs to the
// work a watch cycle must do: packages to re-bundle and loose files to copy
// out verbatim.
package router

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"packsmith/internal/pkgdesc"
)

// UnroutedPathError reports a changed path no known package owns. It aborts
// the current batch, not the watch session.
type UnroutedPathError struct {
	Path string
}

func (e *UnroutedPathError) Error() string {
	return fmt.Sprintf("router: no package owns changed path %q", e.Path)
}

// Plan is the routed outcome of one change batch. Copies are store paths to
// write to disk as-is; Packages need a full re-bundle, each at most once,
// in root order.
type Plan struct {
	Copies   []string
	Packages []*pkgdesc.Descriptor
}

// Router resolves changed output paths against a descriptor registry and a
// set of extra watched files that live outside any package.
type Router struct {
	registry *pkgdesc.Registry
	extras   map[string]struct{}
}

// New builds a router. extraFiles are source paths watched on behalf of the
// caller; their compiled outputs are always pass-through copies. Entries are
// resolved to absolute paths so relative configuration matches the absolute
// paths the compile session emits.
func New(registry *pkgdesc.Registry, extraFiles []string) *Router {
	extras := make(map[string]struct{}, len(extraFiles))
	for _, f := range extraFiles {
		abs, err := filepath.Abs(f)
		if err != nil {
			abs = f
		}
		extras[normalize(abs)] = struct{}{}
	}
	return &Router{registry: registry, extras: extras}
}

// Route classifies every changed path in the batch. Test outputs and extra
// files become copies, package sources mark their owner for re-bundling. A
// path with no owning package fails the whole batch.
func (r *Router) Route(changed []string) (*Plan, error) {
	plan := &Plan{}
	marked := make(map[string]*pkgdesc.Descriptor)

	for _, path := range changed {
		source := deriveSource(path)

		if _, ok := r.extras[normalize(source)]; ok {
			plan.recordCopy(path)
			continue
		}

		owner := r.owner(path)
		if owner == nil {
			return nil, &UnroutedPathError{Path: path}
		}

		if owner.IsTestFile(source) {
			plan.recordCopy(path)
			continue
		}
		marked[owner.Root] = owner
	}

	for _, d := range marked {
		plan.Packages = append(plan.Packages, d)
	}
	sort.Slice(plan.Packages, func(i, j int) bool {
		return plan.Packages[i].Root < plan.Packages[j].Root
	})
	return plan, nil
}

// recordCopy keeps only artifacts that are written verbatim: scripts and
// their maps. Declaration outputs of test files change too but are never
// copied out.
func (p *Plan) recordCopy(path string) {
	if strings.HasSuffix(path, pkgdesc.ScriptSuffix) || strings.HasSuffix(path, pkgdesc.MapSuffix) {
		p.Copies = append(p.Copies, path)
	}
}

// deriveSource recovers the probable originating source path from a changed
// output path by swapping the output suffix for the source suffix. Order
// matters: the map and declaration suffixes embed the script suffix.
func deriveSource(path string) string {
	switch {
	case strings.HasSuffix(path, pkgdesc.MapSuffix):
		return strings.TrimSuffix(path, pkgdesc.MapSuffix) + pkgdesc.SourceSuffix
	case strings.HasSuffix(path, pkgdesc.DeclarationSuffix):
		return strings.TrimSuffix(path, pkgdesc.DeclarationSuffix) + pkgdesc.SourceSuffix
	case strings.HasSuffix(path, pkgdesc.ScriptSuffix):
		return strings.TrimSuffix(path, pkgdesc.ScriptSuffix) + pkgdesc.SourceSuffix
	}
	return path
}

// owner finds the package whose root is an ancestor of path. The first
// candidate is the grandparent directory (package files live one level below
// the root's src or test dir); the walk then climbs until the filesystem
// root.
func (r *Router) owner(path string) *pkgdesc.Descriptor {
	dir := filepath.Dir(filepath.Dir(path))
	for {
		if d := r.registry.ByRoot(dir); d != nil {
			return d
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

func normalize(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}
