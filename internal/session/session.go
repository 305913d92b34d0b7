// SPDX-License-Identifier: MPL-2.0

// Package session drives the compiler service over a family of packages in
// one shared pass, so no file is ever compiled twice. Reads are routed
// through the comment-mangling filter and writes land in a virtual output
// store instead of on disk.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"packsmith/internal/compiler"
	"packsmith/internal/pkgdesc"
	"packsmith/internal/vout"
)

// ErrBlockingDiagnostics signals that the compiler reported errors and no
// artifacts were produced. Batch builds surface it as overall failure.
var ErrBlockingDiagnostics = errors.New("session: compilation reported blocking diagnostics")

type (
	// Options configures one compile session.
	Options struct {
		// SourceMap requests .map emission alongside compiled scripts.
		SourceMap bool

		// Overrides are caller compiler options merged over the baseline.
		Overrides map[string]any

		// ExpandLink resolves documentation anchor references to URLs.
		// nil leaves references untouched.
		ExpandLink func(anchor string) string

		// ExtraFiles are loose watched sources outside any package,
		// compiled along with the packages.
		ExtraFiles []string

		// Logger receives diagnostics. nil defaults to a stderr logger.
		Logger *log.Logger
	}

	// WatchRunner is a compiler service lifted to continuous operation; the
	// compiler package's WatchDriver implements it.
	WatchRunner interface {
		Run(ctx context.Context, req compiler.Request, io compiler.FileIO) error
	}

	// Session carries the resolved state shared by both modes.
	session struct {
		descs []*pkgdesc.Descriptor
		req   compiler.Request
		opts  Options
		log   *log.Logger
	}
)

// baselineOptions is the fixed strict-mode/target option set callers merge
// their overrides over.
func baselineOptions(sourceMap bool) map[string]any {
	return map[string]any{
		"target":           "ES2017",
		"module":           "ESNext",
		"moduleResolution": "node",
		"strict":           true,
		"declaration":      true,
		"importHelpers":    true,
		"esModuleInterop":  false,
		"skipLibCheck":     true,
		"sourceMap":        sourceMap,
	}
}

// CompileOnce runs the compiler service exactly once over all package
// directories. It returns the populated store, or a nil store with
// ErrBlockingDiagnostics when emission reported any blocking diagnostic.
func CompileOnce(ctx context.Context, svc compiler.Service, reg *pkgdesc.Registry, dirs []string, opts Options) (*vout.Store, error) {
	s, err := derive(reg, dirs, opts)
	if err != nil {
		return nil, err
	}

	store := vout.New()
	io := compiler.FileIO{
		ReadFile:  s.reader("", ""),
		WriteFile: store.Write,
	}

	diags, err := svc.Emit(ctx, s.req, io)
	s.logDiagnostics(diags)
	if err != nil {
		return nil, fmt.Errorf("session: emission failed: %w", err)
	}
	if compiler.HasBlocking(diags) {
		return nil, ErrBlockingDiagnostics
	}
	return store, nil
}

// WatchSession is a continuous session split into construction and start,
// so callers can subscribe to the store before the first emission can
// possibly flush. The synthetic configuration path exists only to satisfy
// watch-style compiler APIs: it is never persisted, and the read shim
// serves its JSON when that exact path is requested.
type WatchSession struct {
	s     *session
	store *vout.Store
	io    compiler.FileIO
}

// NewWatchSession derives the shared request and prepares the store without
// starting compilation.
func NewWatchSession(reg *pkgdesc.Registry, dirs []string, opts Options) (*WatchSession, error) {
	s, err := derive(reg, dirs, opts)
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(os.TempDir(), fmt.Sprintf("packsmith.%d.tsconfig.json", os.Getpid()))
	configJSON, err := json.Marshal(map[string]any{
		"compilerOptions": s.req.Options,
		"files":           s.req.Include,
	})
	if err != nil {
		return nil, fmt.Errorf("session: encode synthetic config: %w", err)
	}
	s.req.ConfigPath = configPath

	store := vout.New()
	return &WatchSession{
		s:     s,
		store: store,
		io: compiler.FileIO{
			ReadFile:  s.reader(configPath, string(configJSON)),
			WriteFile: store.Write,
		},
	}, nil
}

// Store returns the session's output store. Subscribe before Start to
// guarantee the first coalesced batch is delivered.
func (w *WatchSession) Store() *vout.Store {
	return w.store
}

// Start launches the runner in the background; compilation proceeds until
// ctx is cancelled. Diagnostics are logged by the runner, never returned.
func (w *WatchSession) Start(ctx context.Context, runner WatchRunner) {
	go func() {
		if err := runner.Run(ctx, w.s.req, w.io); err != nil {
			w.s.log.Error("watch session ended", "err", err)
		}
	}()
}

// CompileWatch starts a continuous session and returns its store
// immediately. Callers that need to observe the very first batch should use
// NewWatchSession and subscribe before Start instead.
func CompileWatch(ctx context.Context, runner WatchRunner, reg *pkgdesc.Registry, dirs []string, opts Options) (*vout.Store, error) {
	ws, err := NewWatchSession(reg, dirs, opts)
	if err != nil {
		return nil, err
	}
	ws.Start(ctx, runner)
	return ws.store, nil
}

// derive resolves every package and builds the shared compiler request:
// path aliases from each package name to its entry point, the full include
// list, and the merged option set.
func derive(reg *pkgdesc.Registry, dirs []string, opts Options) (*session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "compile"})
	}

	if len(dirs) == 0 {
		return nil, fmt.Errorf("session: no package directories")
	}

	descs := make([]*pkgdesc.Descriptor, 0, len(dirs))
	aliases := make(map[string]string, len(dirs))
	var include []string
	roots := make([]string, 0, len(dirs))

	for _, dir := range dirs {
		entry := filepath.Join(dir, "src", "index"+pkgdesc.SourceSuffix)
		desc, err := reg.Resolve(entry)
		if err != nil {
			return nil, err
		}
		descs = append(descs, desc)
		aliases[desc.Name] = desc.EntryPoint
		include = append(include, desc.SourceFiles...)
		include = append(include, desc.TestFiles...)
		roots = append(roots, desc.Root)
	}
	for _, extra := range opts.ExtraFiles {
		abs, err := filepath.Abs(extra)
		if err != nil {
			return nil, fmt.Errorf("session: resolve extra file %q: %w", extra, err)
		}
		include = append(include, abs)
		roots = append(roots, filepath.Dir(abs))
	}

	options := baselineOptions(opts.SourceMap)
	for k, v := range opts.Overrides {
		options[k] = v
	}

	return &session{
		descs: descs,
		opts:  opts,
		log:   logger,
		req: compiler.Request{
			Options:     options,
			PathAliases: aliases,
			Include:     include,
			RootDir:     commonDir(roots),
		},
	}, nil
}

// reader builds the shim read function: the synthetic config is served from
// memory, files under a known source or test directory pass through the
// comment-mangling filter, and everything else stays with the service's own
// filesystem access.
func (s *session) reader(configPath, configJSON string) func(path string) (string, bool) {
	return func(path string) (string, bool) {
		if configPath != "" && filepath.Clean(path) == filepath.Clean(configPath) {
			return configJSON, true
		}
		if !s.filtered(path) {
			return "", false
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", false
		}
		return MangleComments(string(data), s.opts.ExpandLink), true
	}
}

// filtered reports whether path lives under a known source or test
// directory.
func (s *session) filtered(path string) bool {
	norm := vout.Normalize(path)
	for _, d := range s.descs {
		srcDir := vout.Normalize(d.SourceDir) + "/"
		testDir := vout.Normalize(filepath.Join(d.Root, "test")) + "/"
		if strings.HasPrefix(norm, srcDir) || strings.HasPrefix(norm, testDir) {
			return true
		}
	}
	return false
}

func (s *session) logDiagnostics(diags []compiler.Diagnostic) {
	for _, d := range diags {
		switch d.Severity {
		case compiler.SeverityError:
			s.log.Error(d.String())
		case compiler.SeverityWarning:
			s.log.Warn(d.String())
		default:
			s.log.Info(d.String())
		}
	}
}

// commonDir returns the deepest directory containing every given directory.
func commonDir(dirs []string) string {
	if len(dirs) == 0 {
		return ""
	}
	common := filepath.Clean(dirs[0])
	for _, dir := range dirs[1:] {
		dir = filepath.Clean(dir)
		for !strings.HasPrefix(dir+string(filepath.Separator), common+string(filepath.Separator)) {
			parent := filepath.Dir(common)
			if parent == common {
				break
			}
			common = parent
		}
	}
	return common
}
