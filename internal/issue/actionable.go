// SPDX-License-Identifier: MPL-2.0

// Package issue provides user-facing errors that carry enough context to be
// actionable: which operation failed, which file or package was involved,
// and what the user can do about it.
package issue

import (
	"errors"
	"fmt"
	"strings"
)

type (
	// ActionableError is an error enriched with operation, resource, and
	// fix suggestions. Construct it through the Context builder:
	//
	//	return issue.NewContext().
	//		WithOperation("read package manifest").
	//		WithResource(manifestPath).
	//		WithSuggestion("Every package needs a package.json next to its src directory").
	//		Wrap(err).
	//		BuildError()
	ActionableError struct {
		// Operation is the verb phrase that failed, e.g. "resolve package".
		Operation string

		// Resource is the file, directory, or package involved (optional).
		Resource string

		// Suggestions are hints on how to fix the problem (optional).
		Suggestions []string

		// Cause is the underlying error (optional).
		Cause error
	}

	// Context is a fluent builder for ActionableError.
	Context struct {
		operation   string
		resource    string
		suggestions []string
		cause       error
	}
)

// NewContext creates an empty builder.
func NewContext() *Context {
	return &Context{}
}

// Wrap is shorthand for wrapping an error with just an operation and
// resource. Returns nil when err is nil so call sites can pass results
// through unconditionally.
func Wrap(err error, operation, resource string) error {
	if err == nil {
		return nil
	}
	return &ActionableError{Operation: operation, Resource: resource, Cause: err}
}

// Error implements the error interface with the concise one-line form.
func (e *ActionableError) Error() string {
	var msg strings.Builder
	msg.WriteString("failed to ")
	msg.WriteString(e.Operation)
	if e.Resource != "" {
		msg.WriteString(": ")
		msg.WriteString(e.Resource)
	}
	if e.Cause != nil {
		msg.WriteString(": ")
		msg.WriteString(e.Cause.Error())
	}
	return msg.String()
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *ActionableError) Unwrap() error {
	return e.Cause
}

// Format renders the error for terminal output: the one-line message,
// bulleted suggestions, and (verbose only) the unwrapped cause chain.
func (e *ActionableError) Format(verbose bool) string {
	var msg strings.Builder
	msg.WriteString(e.Error())

	for _, s := range e.Suggestions {
		msg.WriteString("\n  • ")
		msg.WriteString(s)
	}

	if verbose && e.Cause != nil {
		msg.WriteString("\n\nError chain:")
		depth := 1
		for err := e.Cause; err != nil; err = errors.Unwrap(err) {
			fmt.Fprintf(&msg, "\n  %d. %s", depth, err.Error())
			depth++
		}
	}

	return msg.String()
}

// WithOperation sets the failed operation, a verb phrase like
// "bundle package" or "route changed path".
func (c *Context) WithOperation(op string) *Context {
	c.operation = op
	return c
}

// WithResource sets the file, directory, or package involved.
func (c *Context) WithResource(res string) *Context {
	c.resource = res
	return c
}

// WithSuggestion appends one fix suggestion. May be called repeatedly.
func (c *Context) WithSuggestion(s string) *Context {
	c.suggestions = append(c.suggestions, s)
	return c
}

// Wrap records the underlying cause.
func (c *Context) Wrap(err error) *Context {
	c.cause = err
	return c
}

// Build constructs the ActionableError. The operation is required; Build
// returns nil without one.
func (c *Context) Build() *ActionableError {
	if c.operation == "" {
		return nil
	}
	return &ActionableError{
		Operation:   c.operation,
		Resource:    c.resource,
		Suggestions: c.suggestions,
		Cause:       c.cause,
	}
}

// BuildError is Build typed as error for direct use in returns.
func (c *Context) BuildError() error {
	if ae := c.Build(); ae != nil {
		return ae
	}
	return nil
}
