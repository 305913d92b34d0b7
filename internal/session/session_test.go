// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"packsmith/internal/compiler"
	"packsmith/internal/pkgdesc"
	"packsmith/internal/vout"
)

// scaffold creates a package directory and returns it.
func scaffold(t *testing.T, base, name string) string {
	t.Helper()
	dir := filepath.Join(base, name)
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0o750); err != nil {
		t.Fatal(err)
	}
	write(t, filepath.Join(dir, "package.json"), `{"name": "`+name+`"}`)
	write(t, filepath.Join(dir, "src", "index.ts"), "/// Entry point.\nexport const x = 1;\n")
	return dir
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

// recordingService captures the request and emits one output per include.
type recordingService struct {
	req   compiler.Request
	reads map[string]string
	diags []compiler.Diagnostic
}

func (s *recordingService) Emit(_ context.Context, req compiler.Request, io compiler.FileIO) ([]compiler.Diagnostic, error) {
	s.req = req
	s.reads = make(map[string]string)
	for _, path := range req.Include {
		content, ok := io.ReadFile(path)
		if ok {
			s.reads[path] = content
		}
		out := strings.TrimSuffix(path, pkgdesc.SourceSuffix) + pkgdesc.ScriptSuffix
		io.WriteFile(out, "// compiled\n"+content)
	}
	return s.diags, nil
}

func quietOpts() Options {
	return Options{Logger: log.New(io.Discard)}
}

func TestCompileOnceSharedPass(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	dirA := scaffold(t, base, "alpha")
	dirB := scaffold(t, base, "beta")

	svc := &recordingService{}
	reg := pkgdesc.NewRegistry()
	store, err := CompileOnce(context.Background(), svc, reg, []string{dirA, dirB}, quietOpts())
	if err != nil {
		t.Fatal(err)
	}

	// One pass compiled both packages, with aliases for cross-package imports.
	if len(svc.req.PathAliases) != 2 {
		t.Fatalf("aliases = %v", svc.req.PathAliases)
	}
	if want := filepath.Join(dirA, "src", "index.ts"); svc.req.PathAliases["alpha"] != want {
		t.Fatalf("alias[alpha] = %q, want %q", svc.req.PathAliases["alpha"], want)
	}

	// Reads passed through the comment filter.
	read := svc.reads[filepath.Join(dirA, "src", "index.ts")]
	if !strings.Contains(read, "/**") || strings.Contains(read, "///") {
		t.Fatalf("read was not comment-filtered:\n%s", read)
	}

	// Writes landed in the store, not on disk.
	if _, ok := store.Read(filepath.Join(dirA, "src", "index.js")); !ok {
		t.Fatal("compiled output missing from store")
	}
	if _, err := os.Stat(filepath.Join(dirA, "src", "index.js")); !os.IsNotExist(err) {
		t.Fatal("compiled output must not be written to disk")
	}
}

func TestCompileOnceBlockingDiagnostics(t *testing.T) {
	t.Parallel()

	dir := scaffold(t, t.TempDir(), "broken")
	svc := &recordingService{diags: []compiler.Diagnostic{{
		Severity: compiler.SeverityError, Code: "TS2322", Message: "type error",
	}}}

	store, err := CompileOnce(context.Background(), svc, pkgdesc.NewRegistry(), []string{dir}, quietOpts())
	if !errors.Is(err, ErrBlockingDiagnostics) {
		t.Fatalf("err = %v, want ErrBlockingDiagnostics", err)
	}
	if store != nil {
		t.Fatal("no store on blocked emission")
	}
}

func TestCompileOnceMergesOverrides(t *testing.T) {
	t.Parallel()

	dir := scaffold(t, t.TempDir(), "opts")
	svc := &recordingService{}
	opts := quietOpts()
	opts.Overrides = map[string]any{"target": "ES2020", "jsx": "react"}

	if _, err := CompileOnce(context.Background(), svc, pkgdesc.NewRegistry(), []string{dir}, opts); err != nil {
		t.Fatal(err)
	}
	if svc.req.Options["target"] != "ES2020" {
		t.Fatalf("override lost: target = %v", svc.req.Options["target"])
	}
	if svc.req.Options["jsx"] != "react" {
		t.Fatalf("override lost: jsx = %v", svc.req.Options["jsx"])
	}
	if svc.req.Options["strict"] != true {
		t.Fatalf("baseline lost: strict = %v", svc.req.Options["strict"])
	}
}

// blockingRunner runs the service once and then waits for cancellation.
type blockingRunner struct {
	svc compiler.Service
}

func (r *blockingRunner) Run(ctx context.Context, req compiler.Request, io compiler.FileIO) error {
	if _, err := r.svc.Emit(ctx, req, io); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func TestCompileWatchReturnsImmediately(t *testing.T) {
	t.Parallel()

	dir := scaffold(t, t.TempDir(), "watched")
	svc := &recordingService{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := CompileWatch(ctx, &blockingRunner{svc: svc}, pkgdesc.NewRegistry(), []string{dir}, quietOpts())
	if err != nil {
		t.Fatal(err)
	}
	if store == nil {
		t.Fatal("watch must return a store immediately")
	}

	// Background emission populates the store shortly after.
	deadline := time.After(3 * time.Second)
	target := vout.Normalize(filepath.Join(dir, "src", "index.js"))
	for {
		if _, ok := store.Read(target); ok {
			return
		}
		select {
		case <-deadline:
			t.Fatal("background emission never populated the store")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWatchSessionDeliversFirstBatchToEarlySubscriber(t *testing.T) {
	t.Parallel()

	dir := scaffold(t, t.TempDir(), "eager")
	svc := &recordingService{}

	ws, err := NewWatchSession(pkgdesc.NewRegistry(), []string{dir}, quietOpts())
	if err != nil {
		t.Fatal(err)
	}

	// Subscribing before Start guarantees even a runner that emits on its
	// very first instruction reaches the listener.
	batches := make(chan []string, 1)
	ws.Store().Subscribe(func(changed []string) { batches <- changed })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ws.Start(ctx, &blockingRunner{svc: svc})

	select {
	case changed := <-batches:
		target := vout.Normalize(filepath.Join(dir, "src", "index.js"))
		if !slices.Contains(changed, target) {
			t.Fatalf("batch = %v, want it to contain %q", changed, target)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("first batch never delivered")
	}
}

func TestCompileWatchServesSyntheticConfig(t *testing.T) {
	t.Parallel()

	dir := scaffold(t, t.TempDir(), "synth")

	gotConfig := make(chan string, 1)
	runner := runnerFunc(func(ctx context.Context, req compiler.Request, io compiler.FileIO) error {
		content, ok := io.ReadFile(req.ConfigPath)
		if !ok {
			gotConfig <- ""
			return nil
		}
		gotConfig <- content
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := CompileWatch(ctx, runner, pkgdesc.NewRegistry(), []string{dir}, quietOpts()); err != nil {
		t.Fatal(err)
	}

	select {
	case content := <-gotConfig:
		if !strings.Contains(content, "compilerOptions") {
			t.Fatalf("synthetic config not served: %q", content)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("runner never started")
	}
}

type runnerFunc func(ctx context.Context, req compiler.Request, io compiler.FileIO) error

func (f runnerFunc) Run(ctx context.Context, req compiler.Request, io compiler.FileIO) error {
	return f(ctx, req, io)
}
