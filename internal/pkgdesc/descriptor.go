// SPDX-License-Identifier: MPL-2.0

// Package pkgdesc resolves package descriptors from entry-point paths.
//
// A package follows a fixed layout: `<root>/src` holds the sources with the
// entry point at `<root>/src/index.ts`, an optional `<root>/test` directory
// holds loose test files, and `<root>/package.json` names the package.
// Descriptors are immutable once constructed and memoized per entry point in
// a Registry, so repeated lookups during a watch session are free and every
// component observes the same identity.
package pkgdesc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"packsmith/internal/issue"
)

// Suffix conventions shared by the router and the bundle producer. Output
// suffixes are stripped from changed paths to recover the originating source.
const (
	SourceSuffix      = ".ts"
	ScriptSuffix      = ".js"
	DeclarationSuffix = ".d.ts"
	DualDeclSuffix    = ".d.cts"
	MapSuffix         = ".js.map"
)

// ManifestName is the package metadata file expected at the package root.
const ManifestName = "package.json"

type (
	// Descriptor describes one package. Identity is the absolute entry-point
	// path; all other fields derive from it at construction time.
	Descriptor struct {
		// EntryPoint is the absolute path to the source entry, e.g.
		// /repo/widgets/src/index.ts.
		EntryPoint string

		// Root is the package root: the parent of the entry point's parent.
		Root string

		// SourceDir is the directory containing the entry point.
		SourceDir string

		// Name is the package name from the manifest.
		Name string

		// SourceFiles are the discovered sources under SourceDir, sorted.
		// Declaration files are excluded so compiler outputs written next to
		// their sources are never mistaken for inputs.
		SourceFiles []string

		// TestFiles are the sources under the optional test directory,
		// sorted. Empty when the package has no test directory.
		TestFiles []string

		testSet map[string]struct{}
	}

	// Registry memoizes descriptors by entry point. Construct one per
	// orchestrator; there is deliberately no package-level instance, so tests
	// and concurrent builds stay isolated. Entries are never evicted.
	Registry struct {
		mu      sync.Mutex
		byEntry map[string]*Descriptor
	}

	// manifest is the subset of package.json the orchestrator reads.
	manifest struct {
		Name string `json:"name"`
	}
)

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byEntry: make(map[string]*Descriptor)}
}

// Resolve returns the memoized descriptor for entryPoint, constructing it on
// first reference. Construction fails if the manifest is missing or
// unparsable, or if the source directory cannot be listed.
func (r *Registry) Resolve(entryPoint string) (*Descriptor, error) {
	abs, err := filepath.Abs(entryPoint)
	if err != nil {
		return nil, fmt.Errorf("pkgdesc: resolve entry point %q: %w", entryPoint, err)
	}

	r.mu.Lock()
	cached, ok := r.byEntry[abs]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	desc, err := describe(abs)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// A concurrent Resolve may have won; keep the first stored descriptor so
	// the one-descriptor-per-entry-point invariant holds.
	if prior, ok := r.byEntry[abs]; ok {
		return prior, nil
	}
	r.byEntry[abs] = desc
	return desc, nil
}

// ByRoot returns the resolved descriptor whose normalized root owns dir, or
// nil when no resolved package matches.
func (r *Registry) ByRoot(dir string) *Descriptor {
	norm := normalize(dir)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.byEntry {
		if normalize(d.Root) == norm {
			return d
		}
	}
	return nil
}

// All returns the resolved descriptors sorted by root, giving watch batches
// a deterministic re-bundle order.
func (r *Registry) All() []*Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	descs := make([]*Descriptor, 0, len(r.byEntry))
	for _, d := range r.byEntry {
		descs = append(descs, d)
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Root < descs[j].Root })
	return descs
}

// describe constructs a descriptor for the absolute entry point abs.
func describe(abs string) (*Descriptor, error) {
	sourceDir := filepath.Dir(abs)
	root := filepath.Dir(sourceDir)

	name, err := readManifest(filepath.Join(root, ManifestName))
	if err != nil {
		return nil, err
	}

	sources, err := listSources(sourceDir)
	if err != nil {
		return nil, issue.NewContext().
			WithOperation("list package sources").
			WithResource(sourceDir).
			WithSuggestion("The entry point's directory must be a readable src directory").
			Wrap(err).
			BuildError()
	}

	tests, err := listTests(filepath.Join(root, "test"))
	if err != nil {
		return nil, err
	}

	testSet := make(map[string]struct{}, len(tests))
	for _, t := range tests {
		testSet[normalize(t)] = struct{}{}
	}

	return &Descriptor{
		EntryPoint:  abs,
		Root:        root,
		SourceDir:   sourceDir,
		Name:        name,
		SourceFiles: sources,
		TestFiles:   tests,
		testSet:     testSet,
	}, nil
}

// readManifest extracts the package name from a package.json file.
func readManifest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", issue.NewContext().
			WithOperation("read package manifest").
			WithResource(path).
			WithSuggestion("Every package needs a package.json next to its src directory").
			Wrap(err).
			BuildError()
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", issue.NewContext().
			WithOperation("parse package manifest").
			WithResource(path).
			WithSuggestion("Check that package.json contains valid JSON").
			Wrap(err).
			BuildError()
	}
	if m.Name == "" {
		return "", issue.NewContext().
			WithOperation("parse package manifest").
			WithResource(path).
			WithSuggestion(`Add a "name" field to package.json`).
			Wrap(fmt.Errorf("manifest has no name")).
			BuildError()
	}
	return m.Name, nil
}

// listSources discovers compilable sources under dir, excluding declaration
// files.
func listSources(dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, err
	}
	pattern := filepath.Join(dir, "**", "*"+SourceSuffix)
	matches, err := doublestar.FilepathGlob(filepath.ToSlash(pattern))
	if err != nil {
		return nil, err
	}
	sources := make([]string, 0, len(matches))
	for _, m := range matches {
		if isDeclaration(m) {
			continue
		}
		sources = append(sources, m)
	}
	sort.Strings(sources)
	return sources, nil
}

// listTests discovers sources under the optional test directory. A missing
// directory yields an empty list, not an error.
func listTests(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pkgdesc: stat test directory %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, nil
	}
	return listSources(dir)
}

// isDeclaration reports whether path is a compiler-emitted declaration file.
func isDeclaration(path string) bool {
	return strings.HasSuffix(path, DeclarationSuffix) || strings.HasSuffix(path, DualDeclSuffix)
}

// IsTestFile reports whether the (source-suffixed) path belongs to the
// package's test set. Paths are compared in normalized form.
func (d *Descriptor) IsTestFile(path string) bool {
	_, ok := d.testSet[normalize(path)]
	return ok
}

// EntryScript is the compiled entry point: the entry with its source suffix
// replaced by the script suffix.
func (d *Descriptor) EntryScript() string {
	return strings.TrimSuffix(d.EntryPoint, SourceSuffix) + ScriptSuffix
}

// EntryDeclaration is the compiled declaration entry.
func (d *Descriptor) EntryDeclaration() string {
	return strings.TrimSuffix(d.EntryPoint, SourceSuffix) + DeclarationSuffix
}

// DistDir is the package's artifact directory.
func (d *Descriptor) DistDir() string {
	return filepath.Join(d.Root, "dist")
}

func normalize(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}
