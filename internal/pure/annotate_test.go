// SPDX-License-Identifier: MPL-2.0

package pure

import (
	"strings"
	"testing"
)

func annotateAll(t *testing.T, src string) string {
	t.Helper()
	out, err := Annotate(src, Options{AnnotateCalls: true, RewriteEnumWrappers: true})
	if err != nil {
		t.Fatalf("Annotate(%q): %v", src, err)
	}
	return out
}

func TestTopLevelCallAnnotated(t *testing.T) {
	t.Parallel()

	src := "const s = signal(0);\n"
	want := "const s = /*@__PURE__*/signal(0);\n"
	if got := annotateAll(t, src); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCallInsideFunctionBodyNotAnnotated(t *testing.T) {
	t.Parallel()

	src := "" +
		"function setup() { register(); }\n" +
		"register();\n"
	want := "" +
		"function setup() { register(); }\n" +
		"/*@__PURE__*/register();\n"
	if got := annotateAll(t, src); got != want {
		t.Fatalf("annotation scope violated:\n%s", got)
	}
}

func TestDeeplyNestedBodyCallsNeverVisited(t *testing.T) {
	t.Parallel()

	// The walk must not descend into function bodies at any depth, so the
	// call nested two bodies down stays untouched.
	src := "const f = () => { const g = () => { make(); }; };\nmake();\n"
	got := annotateAll(t, src)
	if strings.Count(got, pureMarker) != 1 {
		t.Fatalf("expected exactly one marker:\n%s", got)
	}
	if !strings.Contains(got, pureMarker+"make();\n") {
		t.Fatalf("top-level call not annotated:\n%s", got)
	}
}

func TestNestedCallsGetIndependentMarkers(t *testing.T) {
	t.Parallel()

	src := "const v = f(g());\n"
	want := "const v = /*@__PURE__*/f(/*@__PURE__*/g());\n"
	if got := annotateAll(t, src); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSameOffsetMarkerDeduplicated(t *testing.T) {
	t.Parallel()

	// The outer call's callee is itself a call at the identical offset; the
	// marker must not double.
	src := "const v = f()();\n"
	got := annotateAll(t, src)
	if strings.Count(got, pureMarker) != 1 {
		t.Fatalf("expected a single deduplicated marker, got:\n%s", got)
	}
}

func TestConstructorAnnotated(t *testing.T) {
	t.Parallel()

	src := "const m = new Map();\n"
	want := "const m = /*@__PURE__*/new Map();\n"
	if got := annotateAll(t, src); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestControlFlowCallsAnnotated(t *testing.T) {
	t.Parallel()

	// Loops, switch, try and with run at module top level, so calls in
	// their headers and bodies qualify just like bare statements do.
	tests := []struct {
		name    string
		src     string
		markers int
		want    string
	}{
		{
			name:    "for header and body",
			src:     "for (let i = init(); cond(i); i = step(i)) { track(i); }\n",
			markers: 4,
			want:    pureMarker + "track(i)",
		},
		{
			name:    "for-of source and body",
			src:     "for (const v of items()) { use(v); }\n",
			markers: 2,
			want:    pureMarker + "items()",
		},
		{
			name:    "for-in source and body",
			src:     "for (const k in keys()) { visit(k); }\n",
			markers: 2,
			want:    pureMarker + "visit(k)",
		},
		{
			name:    "while",
			src:     "while (ready()) { poll(); }\n",
			markers: 2,
			want:    pureMarker + "poll()",
		},
		{
			name:    "do-while",
			src:     "do { poll(); } while (ready());\n",
			markers: 2,
			want:    pureMarker + "ready()",
		},
		{
			name:    "switch discriminant and cases",
			src:     "switch (kind()) { case tag(): handle(); }\n",
			markers: 3,
			want:    pureMarker + "handle()",
		},
		{
			name:    "try catch finally",
			src:     "try { open(); } catch (e) { report(e); } finally { close(); }\n",
			markers: 3,
			want:    pureMarker + "close()",
		},
		{
			name:    "with",
			src:     "with (scope()) { touch(); }\n",
			markers: 2,
			want:    pureMarker + "touch()",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := annotateAll(t, tc.src)
			if n := strings.Count(got, pureMarker); n != tc.markers {
				t.Fatalf("marker count = %d, want %d:\n%s", n, tc.markers, got)
			}
			if !strings.Contains(got, tc.want) {
				t.Fatalf("missing %q:\n%s", tc.want, got)
			}
		})
	}
}

func TestLoopBodyFunctionStaysOpaque(t *testing.T) {
	t.Parallel()

	src := "while (ready()) { const f = () => { hidden(); }; }\n"
	got := annotateAll(t, src)
	if strings.Count(got, pureMarker) != 1 {
		t.Fatalf("expected only the loop test marked:\n%s", got)
	}
	if strings.Contains(got, pureMarker+"hidden") {
		t.Fatalf("deferred body call annotated:\n%s", got)
	}
}

func TestTemplateAndSpreadCallsAnnotated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		src     string
		markers int
		want    string
	}{
		{
			name:    "template substitution",
			src:     "const s = `v=${fmt(1)}`;\n",
			markers: 1,
			want:    pureMarker + "fmt(1)",
		},
		{
			name:    "tagged template",
			src:     "const s = mk`${v()}`;\n",
			markers: 1,
			want:    pureMarker + "v()",
		},
		{
			name:    "tag expression is itself a call",
			src:     "const s = tag()`${v()}`;\n",
			markers: 2,
			want:    pureMarker + "tag()",
		},
		{
			name:    "call spread argument",
			src:     "f(...make());\n",
			markers: 2,
			want:    pureMarker + "make()",
		},
		{
			name:    "array spread",
			src:     "const a = [...gen()];\n",
			markers: 1,
			want:    pureMarker + "gen()",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := annotateAll(t, tc.src)
			if n := strings.Count(got, pureMarker); n != tc.markers {
				t.Fatalf("marker count = %d, want %d:\n%s", n, tc.markers, got)
			}
			if !strings.Contains(got, tc.want) {
				t.Fatalf("missing %q:\n%s", tc.want, got)
			}
		})
	}
}

func TestModuleSyntaxSurvives(t *testing.T) {
	t.Parallel()

	src := "" +
		"import { h } from \"preact\";\n" +
		"export const el = h(\"div\");\n" +
		"export { el as element };\n"
	got := annotateAll(t, src)

	if !strings.Contains(got, "import { h } from \"preact\";") {
		t.Fatalf("import statement damaged:\n%s", got)
	}
	if !strings.Contains(got, "export const el = "+pureMarker+"h(\"div\");") {
		t.Fatalf("exported initializer not annotated:\n%s", got)
	}
	if !strings.Contains(got, "export { el as element };") {
		t.Fatalf("export list damaged:\n%s", got)
	}
}

func TestEnumWrapperRewrite(t *testing.T) {
	t.Parallel()

	src := "" +
		"var Color;\n" +
		"(function (Color) {\n" +
		"    Color[\"Red\"] = \"red\";\n" +
		"})(Color || (Color = {}));\n"

	want := strings.Replace(src, "var Color;", "var Color = ", 1)
	want = strings.Replace(want, "})(Color", "return Color;})(Color", 1)

	if got := annotateAll(t, src); got != want {
		t.Fatalf("enum rewrite:\ngot  %q\nwant %q", got, want)
	}
}

func TestEnumWrapperOutsideLookbackNotRewritten(t *testing.T) {
	t.Parallel()

	// Push the declaration beyond the lookback window; the heuristic keeps
	// its bound, so the pattern is only marked, not rewritten.
	filler := "/* " + strings.Repeat("x", enumLookback) + " */\n"
	src := "" +
		"var Color;\n" +
		filler +
		"(function (Color) {\n" +
		"    Color[\"Red\"] = \"red\";\n" +
		"})(Color || (Color = {}));\n"

	got := annotateAll(t, src)
	if strings.Contains(got, "var Color = ") {
		t.Fatalf("rewrite applied beyond lookback window:\n%s", got)
	}
	if !strings.Contains(got, pureMarker) {
		t.Fatalf("call should still be marked pure:\n%s", got)
	}
}

func TestAnnotateDisabled(t *testing.T) {
	t.Parallel()

	src := "const s = signal(0);\n"
	out, err := Annotate(src, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out != src {
		t.Fatalf("no options, no edits: %q", out)
	}
}

func TestParseErrorSurfaces(t *testing.T) {
	t.Parallel()

	if _, err := Annotate("const = ;!", Options{AnnotateCalls: true}); err == nil {
		t.Fatal("expected a parse error")
	}
}
