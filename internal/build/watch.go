// SPDX-License-Identifier: MPL-2.0

package build

import (
	"context"
	"fmt"

	"packsmith/internal/bundle"
	"packsmith/internal/pkgdesc"
	"packsmith/internal/router"
	"packsmith/internal/session"
	"packsmith/internal/vout"
)

// Watch starts a continuous compile session and re-bundles affected
// packages on every coalesced change batch. It blocks until ctx is
// cancelled. Unlike Batch, a single package's failure is logged and
// isolated so the session outlives it.
func Watch(ctx context.Context, opts Options) error {
	if opts.Watcher == nil {
		return fmt.Errorf("build: no watch runner configured")
	}
	reg := opts.registry()

	ws, err := session.NewWatchSession(reg, opts.Dirs, opts.sessionOptions())
	if err != nil {
		return err
	}
	store := ws.Store()

	rtr := router.New(reg, opts.ExtraFiles)
	producer := opts.producer(store)

	// Subscribe before the runner starts so the first coalesced batch
	// cannot flush into an empty listener set.
	store.Subscribe(func(changed []string) {
		opts.handleBatch(ctx, rtr, producer, store, changed)
	})
	ws.Start(ctx, opts.Watcher)

	<-ctx.Done()
	return nil
}

// handleBatch services one coalesced notification: route, copy out the
// pass-through files, re-bundle the marked packages in order. A routing
// failure aborts this batch only; the watch loop stays alive.
func (o *Options) handleBatch(ctx context.Context, rtr *router.Router, producer *bundle.Producer, store *vout.Store, changed []string) {
	logger := o.logger()

	plan, err := rtr.Route(changed)
	if err != nil {
		logger.Error("routing failed, batch skipped", "err", err)
		return
	}

	for _, path := range plan.Copies {
		if err := copyOut(store, path); err != nil {
			logger.Error("copy failed", "path", path, "err", err)
		}
	}

	if len(plan.Packages) == 0 {
		return
	}
	roots := packageRoots(plan.Packages)

	if o.OnRebuildStart != nil {
		o.OnRebuildStart(roots)
	} else {
		logger.Info("rebuilding", "packages", len(roots))
	}

	for _, desc := range plan.Packages {
		if err := producer.Produce(ctx, desc); err != nil {
			logger.Error("bundling failed", "package", desc.Name, "err", err)
		}
	}

	if o.OnRebuildEnd != nil {
		o.OnRebuildEnd(roots)
	} else {
		logger.Info("rebuild complete", "packages", len(roots))
	}
}

func packageRoots(descs []*pkgdesc.Descriptor) []string {
	roots := make([]string, len(descs))
	for i, d := range descs {
		roots[i] = d.Root
	}
	return roots
}
