// SPDX-License-Identifier: MPL-2.0

package pkgdesc

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

// scaffold creates a package layout under dir and returns the entry point.
func scaffold(t *testing.T, dir, name string, withTest bool) string {
	t.Helper()

	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0o750); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "package.json"), `{"name": "`+name+`"}`)
	writeFile(t, filepath.Join(srcDir, "index.ts"), "export const x = 1;\n")
	writeFile(t, filepath.Join(srcDir, "util.ts"), "export const y = 2;\n")
	// Declaration files next to sources must never count as inputs.
	writeFile(t, filepath.Join(srcDir, "index.d.ts"), "export declare const x: number;\n")

	if withTest {
		testDir := filepath.Join(dir, "test")
		if err := os.MkdirAll(testDir, 0o750); err != nil {
			t.Fatal(err)
		}
		writeFile(t, filepath.Join(testDir, "index.test.ts"), "import {} from '../src/index';\n")
	}
	return filepath.Join(srcDir, "index.ts")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestResolveBuildsDescriptor(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	entry := scaffold(t, root, "@acme/widgets", true)

	reg := NewRegistry()
	desc, err := reg.Resolve(entry)
	if err != nil {
		t.Fatal(err)
	}

	if desc.Name != "@acme/widgets" {
		t.Fatalf("Name = %q", desc.Name)
	}
	if desc.Root != root {
		t.Fatalf("Root = %q, want %q", desc.Root, root)
	}
	if desc.SourceDir != filepath.Join(root, "src") {
		t.Fatalf("SourceDir = %q", desc.SourceDir)
	}

	wantSources := []string{
		filepath.Join(root, "src", "index.ts"),
		filepath.Join(root, "src", "util.ts"),
	}
	if !slices.Equal(desc.SourceFiles, wantSources) {
		t.Fatalf("SourceFiles = %v, want %v (declarations excluded)", desc.SourceFiles, wantSources)
	}

	if len(desc.TestFiles) != 1 || filepath.Base(desc.TestFiles[0]) != "index.test.ts" {
		t.Fatalf("TestFiles = %v", desc.TestFiles)
	}
	if !desc.IsTestFile(desc.TestFiles[0]) {
		t.Fatal("IsTestFile should recognize a discovered test file")
	}
	if desc.IsTestFile(entry) {
		t.Fatal("IsTestFile should not match a source file")
	}
}

func TestResolveMemoizes(t *testing.T) {
	t.Parallel()

	entry := scaffold(t, t.TempDir(), "memo", false)

	reg := NewRegistry()
	first, err := reg.Resolve(entry)
	if err != nil {
		t.Fatal(err)
	}
	second, err := reg.Resolve(entry)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("expected the same descriptor instance for one entry point")
	}
}

func TestResolveMissingManifest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0o750); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(srcDir, "index.ts"), "export {};\n")

	reg := NewRegistry()
	if _, err := reg.Resolve(filepath.Join(srcDir, "index.ts")); err == nil {
		t.Fatal("expected an error for a missing package.json")
	}
}

func TestResolveUnparsableManifest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	entry := scaffold(t, dir, "broken", false)
	writeFile(t, filepath.Join(dir, "package.json"), "{not json")

	reg := NewRegistry()
	if _, err := reg.Resolve(entry); err == nil {
		t.Fatal("expected an error for an unparsable package.json")
	}
}

func TestNoTestDirectoryYieldsEmptyTests(t *testing.T) {
	t.Parallel()

	entry := scaffold(t, t.TempDir(), "solo", false)

	reg := NewRegistry()
	desc, err := reg.Resolve(entry)
	if err != nil {
		t.Fatal(err)
	}
	if len(desc.TestFiles) != 0 {
		t.Fatalf("TestFiles = %v, want empty", desc.TestFiles)
	}
}

func TestByRootAndAll(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	dirA := filepath.Join(base, "alpha")
	dirB := filepath.Join(base, "beta")
	entryA := scaffold(t, dirA, "alpha", false)
	entryB := scaffold(t, dirB, "beta", false)

	reg := NewRegistry()
	// Resolve in reverse name order; All must still sort by root.
	if _, err := reg.Resolve(entryB); err != nil {
		t.Fatal(err)
	}
	descA, err := reg.Resolve(entryA)
	if err != nil {
		t.Fatal(err)
	}

	if got := reg.ByRoot(dirA); got != descA {
		t.Fatalf("ByRoot(%q) = %v", dirA, got)
	}
	if got := reg.ByRoot(filepath.Join(base, "gamma")); got != nil {
		t.Fatalf("ByRoot for unknown dir = %v, want nil", got)
	}

	all := reg.All()
	if len(all) != 2 || all[0].Root != dirA || all[1].Root != dirB {
		t.Fatalf("All() order = %v", all)
	}
}

func TestDerivedPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	entry := scaffold(t, dir, "derived", false)

	reg := NewRegistry()
	desc, err := reg.Resolve(entry)
	if err != nil {
		t.Fatal(err)
	}

	if want := filepath.Join(dir, "src", "index.js"); desc.EntryScript() != want {
		t.Fatalf("EntryScript = %q, want %q", desc.EntryScript(), want)
	}
	if want := filepath.Join(dir, "src", "index.d.ts"); desc.EntryDeclaration() != want {
		t.Fatalf("EntryDeclaration = %q, want %q", desc.EntryDeclaration(), want)
	}
	if want := filepath.Join(dir, "dist"); desc.DistDir() != want {
		t.Fatalf("DistDir = %q, want %q", desc.DistDir(), want)
	}
}
