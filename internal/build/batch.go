// SPDX-License-Identifier: MPL-2.0

package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"packsmith/internal/pkgdesc"
	"packsmith/internal/session"
	"packsmith/internal/vout"
)

// Batch compiles every package in one shared pass and produces all
// artifacts. It returns ErrCompileFailed when the compiler blocked; any
// single package's bundling failure propagates and aborts the build.
func Batch(ctx context.Context, opts Options) error {
	if opts.Compiler == nil {
		return fmt.Errorf("build: no compiler service configured")
	}
	reg := opts.registry()

	store, err := session.CompileOnce(ctx, opts.Compiler, reg, opts.Dirs, opts.sessionOptions())
	if errors.Is(err, session.ErrBlockingDiagnostics) {
		return ErrCompileFailed
	}
	if err != nil {
		return err
	}

	producer := opts.producer(store)
	for _, desc := range reg.All() {
		if err := producer.Produce(ctx, desc); err != nil {
			return err
		}
		if err := writeTestArtifacts(store, desc); err != nil {
			return err
		}
	}
	return writeExtraArtifacts(store, opts.ExtraFiles)
}

// writeTestArtifacts copies the package's compiled test outputs from the
// store to disk in place. Tests are never bundled; their scripts and maps
// land next to the originals.
func writeTestArtifacts(store *vout.Store, desc *pkgdesc.Descriptor) error {
	prefix := vout.Normalize(filepath.Join(desc.Root, "test")) + "/"
	for _, path := range store.Paths() {
		if !strings.HasPrefix(path, prefix) || !copyable(path) {
			continue
		}
		if err := copyOut(store, path); err != nil {
			return err
		}
	}
	return nil
}

// writeExtraArtifacts copies compiled outputs of the loose extra files in
// place. Extras are resolved to absolute paths first; the session compiles
// them under their absolute names, so a relative entry would never match.
func writeExtraArtifacts(store *vout.Store, extras []string) error {
	for _, extra := range extras {
		abs, err := filepath.Abs(extra)
		if err != nil {
			return fmt.Errorf("build: resolve extra file %q: %w", extra, err)
		}
		base := vout.Normalize(strings.TrimSuffix(abs, pkgdesc.SourceSuffix))
		for _, path := range []string{base + pkgdesc.ScriptSuffix, base + pkgdesc.MapSuffix} {
			if !store.Has(path) {
				continue
			}
			if err := copyOut(store, path); err != nil {
				return err
			}
		}
	}
	return nil
}

// copyable reports whether path is a pass-through artifact: a script or its
// map. Declaration outputs are only ever bundled, never copied.
func copyable(path string) bool {
	return strings.HasSuffix(path, pkgdesc.ScriptSuffix) || strings.HasSuffix(path, pkgdesc.MapSuffix)
}

// copyOut writes one store entry to disk at its own path.
func copyOut(store *vout.Store, path string) error {
	content, ok := store.Read(path)
	if !ok {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("build: create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("build: write %s: %w", path, err)
	}
	return nil
}
