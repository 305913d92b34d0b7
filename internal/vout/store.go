// SPDX-License-Identifier: MPL-2.0

// Package vout provides an in-memory output store that stands in for the
// filesystem during a compilation pass.
//
// Compiled artifacts are buffered as path → content entries. Writing content
// identical to what a path already holds is a no-op: no change is recorded
// and no notification fires. Distinct writes accumulate into a pending batch
// that is delivered to subscribers once, after a quiet interval with no
// further writes, so one compiler pass touching many files produces a single
// coalesced notification.
package vout

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultQuiet is the debounce window between the last write and the
// coalesced change notification. The timer is re-armed on every write, so
// subscribers only hear from a store that has gone quiet.
const DefaultQuiet = 100 * time.Millisecond

type (
	// Timer is the re-armable handle returned by a Scheduler. *time.Timer
	// satisfies it.
	Timer interface {
		Reset(d time.Duration) bool
		Stop() bool
	}

	// Scheduler abstracts deferred execution so tests can drive the debounce
	// window manually instead of sleeping through real timers.
	Scheduler interface {
		AfterFunc(d time.Duration, fn func()) Timer
	}

	// Listener receives the coalesced batch of changed paths. Paths appear in
	// first-write order, each at most once per batch.
	Listener func(changed []string)

	// Store is the in-memory path → content mapping. Paths are normalized to
	// forward slashes on every operation. One Store serves one compile
	// session: batch builds discard it when the call returns, watch sessions
	// keep it alive for the life of the process.
	Store struct {
		mu         sync.Mutex
		files      map[string]string
		pending    []string
		pendingSet map[string]struct{}
		listeners  []Listener
		quiet      time.Duration
		sched      Scheduler
		timer      Timer
	}
)

// realScheduler defers to time.AfterFunc.
type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// New creates a Store with the default quiet interval and a real timer.
func New() *Store {
	return NewWithScheduler(DefaultQuiet, realScheduler{})
}

// NewWithScheduler creates a Store with a custom quiet interval and
// scheduler. Tests use this to make debounce behavior deterministic.
func NewWithScheduler(quiet time.Duration, sched Scheduler) *Store {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	return &Store{
		files:      make(map[string]string),
		pendingSet: make(map[string]struct{}),
		quiet:      quiet,
		sched:      sched,
	}
}

// Normalize converts a path to the store's canonical forward-slash form.
func Normalize(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}

// Write stores content under the normalized path. If the path already holds
// identical content the call returns without side effects. Otherwise the
// path joins the pending batch (once per batch, regardless of how many times
// it is rewritten) and the debounce timer is re-armed.
func (s *Store) Write(path, content string) {
	norm := Normalize(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.files[norm]; ok && prev == content {
		return
	}
	s.files[norm] = content

	if _, queued := s.pendingSet[norm]; !queued {
		s.pendingSet[norm] = struct{}{}
		s.pending = append(s.pending, norm)
	}

	if s.timer == nil {
		s.timer = s.sched.AfterFunc(s.quiet, s.flush)
	} else {
		s.timer.Reset(s.quiet)
	}
}

// Read returns the content stored under path. Absence is a valid, expected
// state (e.g. a .map file that was never produced), reported via the second
// return value rather than an error.
func (s *Store) Read(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[Normalize(path)]
	return content, ok
}

// Has reports whether the store holds an entry for path.
func (s *Store) Has(path string) bool {
	_, ok := s.Read(path)
	return ok
}

// Paths returns a sorted snapshot of every stored path.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Subscribe registers a listener for coalesced change batches. Registration
// is append-only; a listener stays registered for the life of the store.
func (s *Store) Subscribe(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// flush delivers the pending batch to every listener and clears it. Runs on
// the scheduler's goroutine after the quiet interval elapses.
func (s *Store) flush() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.pending
	s.pending = nil
	s.pendingSet = make(map[string]struct{})
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(batch)
	}
}
