// SPDX-License-Identifier: MPL-2.0

package session

import (
	"regexp"
	"strings"
)

// anchorRef matches a markdown-style anchor reference `[Anchor]` that has no
// trailing link target of its own.
var anchorRef = regexp.MustCompile(`\[([A-Za-z0-9_.$/-]+)\](?:[^(]|$)`)

// MangleComments rewrites contiguous runs of triple-slash documentation
// lines into a single block comment, preserving each run's original
// indentation. When expand is non-nil, markdown-style anchor references in
// the comment text are resolved to links before the block is emitted.
//
// This filter is the only place documentation text is touched; it is applied
// uniformly to batch and watch reads of files under known source and test
// directories.
func MangleComments(src string, expand func(anchor string) string) string {
	lines := strings.Split(src, "\n")
	var out []string

	for i := 0; i < len(lines); {
		indent, text, ok := tripleSlash(lines[i])
		if !ok {
			out = append(out, lines[i])
			i++
			continue
		}

		run := []string{text}
		j := i + 1
		for j < len(lines) {
			_, next, ok := tripleSlash(lines[j])
			if !ok {
				break
			}
			run = append(run, next)
			j++
		}

		out = append(out, indent+"/**")
		for _, line := range run {
			line = expandAnchors(line, expand)
			if line == "" {
				out = append(out, indent+" *")
			} else {
				out = append(out, indent+" * "+line)
			}
		}
		out = append(out, indent+" */")
		i = j
	}

	return strings.Join(out, "\n")
}

// tripleSlash splits a line into indentation and documentation text when it
// is a `///` comment line. Quadruple slashes and `//` lines do not count.
func tripleSlash(line string) (indent, text string, ok bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if !strings.HasPrefix(trimmed, "///") || strings.HasPrefix(trimmed, "////") {
		return "", "", false
	}
	indent = line[:len(line)-len(trimmed)]
	text = strings.TrimPrefix(trimmed[3:], " ")
	return indent, text, true
}

// expandAnchors resolves `[Anchor]` references through the hook. A nil hook
// or an empty result leaves the reference untouched.
func expandAnchors(line string, expand func(string) string) string {
	if expand == nil {
		return line
	}
	return anchorRef.ReplaceAllStringFunc(line, func(m string) string {
		sub := anchorRef.FindStringSubmatch(m)
		if sub == nil {
			return m
		}
		url := expand(sub[1])
		if url == "" {
			return m
		}
		rest := m[len(sub[1])+2:]
		return "[" + sub[1] + "](" + url + ")" + rest
	})
}
