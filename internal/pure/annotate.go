// SPDX-License-Identifier: MPL-2.0

// Package pure inserts tree-shaking annotations into generated bundle code.
//
// Calls and constructor invocations that execute at module top level are
// marked side-effect-free so downstream bundlers can drop them when their
// results are unused. Calls inside any function or class body are never
// marked: their invocation timing is not statically known, so the walk stops
// at every deferred-execution body instead of merely skipping the calls it
// finds there.
package pure

import (
	"fmt"
	"regexp"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
)

// pureMarker is the annotation understood by rollup, esbuild, terser et al.
const pureMarker = "/*@__PURE__*/"

// enumLookback is how many characters before a wrapper call are searched for
// the variable declaration of the enumerated-constant pattern. The bound is
// inherited from the heuristic's original form; it is deliberately not
// generalized.
const enumLookback = 100

// Options controls which transformations run.
type Options struct {
	// AnnotateCalls marks top-level calls and constructor invocations with
	// the pure marker.
	AnnotateCalls bool

	// RewriteEnumWrappers collapses the enumerated-constant wrapper pattern
	// (a self-invoking function emulating a named constant set) into a
	// self-contained initializer instead of merely marking it.
	RewriteEnumWrappers bool
}

// Annotate parses src, walks its top level, and returns src with the
// computed insertions applied. The input must be a complete script or
// module; module syntax is masked offset-neutrally before parsing.
func Annotate(src string, opts Options) (string, error) {
	prog, err := parser.ParseFile(nil, "bundle.js", maskModuleSyntax(src), 0)
	if err != nil {
		return "", fmt.Errorf("pure: parse bundle: %w", err)
	}

	w := &walker{src: src, opts: opts}
	for _, st := range prog.Body {
		w.statement(st)
	}
	return applyPatches(src, w.patches), nil
}

// walker visits statements and expressions outside deferred-execution
// bodies. There is no "inside a function" flag because the walk simply never
// enters one: function, arrow, and class literals are stop nodes.
type walker struct {
	src     string
	opts    Options
	patches []Patch
}

// off converts a 1-based parser index to a byte offset.
func off(idx file.Idx) int {
	return int(idx) - 1
}

func (w *walker) statement(st ast.Statement) {
	switch s := st.(type) {
	case *ast.ExpressionStatement:
		w.expression(s.Expression)
	case *ast.VariableStatement:
		for _, b := range s.List {
			w.binding(b)
		}
	case *ast.LexicalDeclaration:
		for _, b := range s.List {
			w.binding(b)
		}
	case *ast.BlockStatement:
		for _, inner := range s.List {
			w.statement(inner)
		}
	case *ast.IfStatement:
		w.expression(s.Test)
		w.statement(s.Consequent)
		if s.Alternate != nil {
			w.statement(s.Alternate)
		}
	case *ast.ReturnStatement:
		if s.Argument != nil {
			w.expression(s.Argument)
		}
	case *ast.ThrowStatement:
		w.expression(s.Argument)
	case *ast.LabelledStatement:
		w.statement(s.Statement)
	case *ast.ForStatement:
		w.forInit(s.Initializer)
		if s.Test != nil {
			w.expression(s.Test)
		}
		if s.Update != nil {
			w.expression(s.Update)
		}
		w.statement(s.Body)
	case *ast.ForInStatement:
		w.forInto(s.Into)
		w.expression(s.Source)
		w.statement(s.Body)
	case *ast.ForOfStatement:
		w.forInto(s.Into)
		w.expression(s.Source)
		w.statement(s.Body)
	case *ast.WhileStatement:
		w.expression(s.Test)
		w.statement(s.Body)
	case *ast.DoWhileStatement:
		w.statement(s.Body)
		w.expression(s.Test)
	case *ast.SwitchStatement:
		w.expression(s.Discriminant)
		for _, c := range s.Body {
			if c.Test != nil {
				w.expression(c.Test)
			}
			for _, inner := range c.Consequent {
				w.statement(inner)
			}
		}
	case *ast.TryStatement:
		w.statement(s.Body)
		if s.Catch != nil {
			w.statement(s.Catch.Body)
		}
		if s.Finally != nil {
			w.statement(s.Finally)
		}
	case *ast.WithStatement:
		w.expression(s.Object)
		w.statement(s.Body)
	case *ast.FunctionDeclaration, *ast.ClassDeclaration:
		// Stop rule: nothing inside a deferred body is visited.
	}
}

func (w *walker) forInit(init ast.ForLoopInitializer) {
	switch i := init.(type) {
	case *ast.ForLoopInitializerExpression:
		w.expression(i.Expression)
	case *ast.ForLoopInitializerVarDeclList:
		for _, b := range i.List {
			w.binding(b)
		}
	case *ast.ForLoopInitializerLexicalDecl:
		for _, b := range i.LexicalDeclaration.List {
			w.binding(b)
		}
	}
}

// forInto visits the loop target. A ForDeclaration carries bindings without
// initializers, so only the expression and var forms can contain calls.
func (w *walker) forInto(into ast.ForInto) {
	switch i := into.(type) {
	case *ast.ForIntoExpression:
		w.expression(i.Expression)
	case *ast.ForIntoVar:
		w.binding(i.Binding)
	}
}

func (w *walker) binding(b *ast.Binding) {
	if b.Initializer != nil {
		w.expression(b.Initializer)
	}
}

func (w *walker) expression(e ast.Expression) {
	switch x := e.(type) {
	case *ast.AssignExpression:
		w.expression(x.Left)
		w.expression(x.Right)
	case *ast.BinaryExpression:
		w.expression(x.Left)
		w.expression(x.Right)
	case *ast.ConditionalExpression:
		w.expression(x.Test)
		w.expression(x.Consequent)
		w.expression(x.Alternate)
	case *ast.SequenceExpression:
		for _, inner := range x.Sequence {
			w.expression(inner)
		}
	case *ast.UnaryExpression:
		w.expression(x.Operand)
	case *ast.DotExpression:
		w.expression(x.Left)
	case *ast.BracketExpression:
		w.expression(x.Left)
		w.expression(x.Member)
	case *ast.ArrayLiteral:
		for _, el := range x.Value {
			if el != nil {
				w.expression(el)
			}
		}
	case *ast.ObjectLiteral:
		for _, p := range x.Value {
			w.property(p)
		}
	case *ast.TemplateLiteral:
		if x.Tag != nil {
			w.expression(x.Tag)
		}
		for _, inner := range x.Expressions {
			w.expression(inner)
		}
	case *ast.SpreadElement:
		w.expression(x.Expression)
	case *ast.CallExpression:
		w.call(x.Callee, x.ArgumentList, off(x.Idx0()), true)
	case *ast.NewExpression:
		w.call(x.Callee, x.ArgumentList, off(x.Idx0()), false)
	case *ast.FunctionLiteral, *ast.ArrowFunctionLiteral, *ast.ClassLiteral:
		// Stop rule: deferred bodies are opaque to the walk.
	}
}

func (w *walker) property(p ast.Property) {
	switch v := p.(type) {
	case *ast.PropertyKeyed:
		w.expression(v.Value)
	case *ast.SpreadElement:
		w.expression(v.Expression)
	}
}

// call handles both call and constructor expressions. Callee and arguments
// are visited first so nested qualifying calls schedule their insertions
// before the outer call's own insertion point.
func (w *walker) call(callee ast.Expression, args []ast.Expression, start int, isCall bool) {
	w.expression(callee)
	for _, a := range args {
		w.expression(a)
	}

	if isCall && w.opts.RewriteEnumWrappers {
		if fn, ok := callee.(*ast.FunctionLiteral); ok && w.rewriteEnumWrapper(fn, start) {
			return
		}
	}
	if w.opts.AnnotateCalls {
		w.schedule(start, pureMarker)
	}
}

// schedule records an insertion unless the immediately preceding one targets
// the identical offset with identical text. That happens when a constructor
// call's callee is itself a qualifying call starting at the same offset;
// without the check the marker would double.
func (w *walker) schedule(pos int, text string) {
	if n := len(w.patches); n > 0 {
		if last := w.patches[n-1]; last.Pos == pos && last.Text == text {
			return
		}
	}
	w.patches = append(w.patches, Patch{Pos: pos, Text: text})
}

// rewriteEnumWrapper detects the enumerated-constant emulation
//
//	var Color;
//	(function (Color) { ... })(Color || (Color = {}));
//
// a self-invoking wrapper taking exactly one parameter whose declaration
// appears within the lookback window before the call. The declaration's
// terminating semicolon is patched into a direct assignment from the
// invocation and a return of the variable is inserted before the wrapper
// body's closing brace, collapsing the pattern into
//
//	var Color = (function (Color) { ... return Color;})(Color || (Color = {}));
//
// Reports whether the rewrite was applied.
func (w *walker) rewriteEnumWrapper(fn *ast.FunctionLiteral, callStart int) bool {
	name, ok := singleParamName(fn)
	if !ok {
		return false
	}

	winStart := callStart - enumLookback
	if winStart < 0 {
		winStart = 0
	}
	window := w.src[winStart:callStart]

	re := regexp.MustCompile(`(?s)var\s+` + regexp.QuoteMeta(name) + `(\s*;)[\s(]*$`)
	m := re.FindStringSubmatchIndex(window)
	if m == nil {
		return false
	}

	// Turn the declaration's semicolon into an assignment; the wrapper call
	// that follows becomes the initializer.
	w.patches = append(w.patches, Patch{
		Pos:  winStart + m[2],
		End:  winStart + m[3],
		Text: " = ",
	})
	// Return the accumulated variable just before the body's closing brace.
	bodyClose := off(fn.Idx1()) - 1
	w.patches = append(w.patches, Patch{
		Pos:  bodyClose,
		Text: "return " + name + ";",
	})
	return true
}

// singleParamName extracts the name of the wrapper's sole simple parameter.
func singleParamName(fn *ast.FunctionLiteral) (string, bool) {
	if fn.ParameterList == nil || len(fn.ParameterList.List) != 1 {
		return "", false
	}
	b := fn.ParameterList.List[0]
	if b.Initializer != nil {
		return "", false
	}
	id, ok := b.Target.(*ast.Identifier)
	if !ok {
		return "", false
	}
	return id.Name.String(), true
}
