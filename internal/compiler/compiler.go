// SPDX-License-Identifier: MPL-2.0

// Package compiler defines the boundary to the external compiler service:
// the request shape, the file-system shim it emits through, and its
// diagnostic surface. The orchestrator never touches the real filesystem for
// compiler I/O; everything flows through the shim so reads can be filtered
// and writes captured in the virtual output store.
package compiler

import (
	"context"
	"fmt"
)

// Severity classifies a diagnostic.
type Severity int

const (
	// SeverityHint is informational output.
	SeverityHint Severity = iota
	// SeverityWarning does not block emission.
	SeverityWarning
	// SeverityError blocks emission.
	SeverityError
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityHint:
		return "hint"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

type (
	// Diagnostic is one message reported by the compiler service.
	Diagnostic struct {
		Path     string
		Line     int
		Col      int
		Code     string
		Message  string
		Severity Severity
	}

	// FileIO is the shim the service reads sources through and emits
	// artifacts into. ReadFile reports absence via the second return; the
	// service falls back to its own filesystem access when a path is not
	// served by the shim.
	FileIO struct {
		ReadFile  func(path string) (string, bool)
		WriteFile func(path, content string)
	}

	// Request is the derived configuration for one emission: merged compiler
	// options, the path-alias map from package names to their entry points,
	// and the concrete files to compile.
	Request struct {
		Options     map[string]any
		PathAliases map[string]string
		Include     []string
		// RootDir is the common ancestor the include paths are rebased
		// against when the service mirrors them.
		RootDir string
		// ConfigPath is the synthetic configuration path used by watch-style
		// services. It never exists on disk; ReadFile serves its JSON.
		ConfigPath string
	}

	// Service is a compiler that can run one emission pass. Implementations
	// must route every read and write through io.
	Service interface {
		Emit(ctx context.Context, req Request, io FileIO) ([]Diagnostic, error)
	}
)

// String formats the diagnostic in the conventional
// path(line,col): severity CODE: message form.
func (d Diagnostic) String() string {
	if d.Path == "" {
		return fmt.Sprintf("%s %s: %s", d.Severity, d.Code, d.Message)
	}
	return fmt.Sprintf("%s(%d,%d): %s %s: %s", d.Path, d.Line, d.Col, d.Severity, d.Code, d.Message)
}

// HasBlocking reports whether any diagnostic blocks emission.
func HasBlocking(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
