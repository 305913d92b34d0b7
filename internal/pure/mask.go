// SPDX-License-Identifier: MPL-2.0

package pure

// maskModuleSyntax blanks ES-module syntax out of bundle code so the script
// grammar parser accepts it. The replacement is strictly length-preserving
// (spaces for everything but newlines), so every syntax-tree offset computed
// on the masked text is valid in the original.
//
// Top-level forms handled:
//
//	import ...;                      masked entirely
//	export {...} [from "..."];       masked entirely
//	export * from "...";             masked entirely
//	export default <expr>;           only the keywords masked
//	export <declaration>;            only the export keyword masked
//
// Dynamic import() and import.meta are expressions and stay untouched.
func maskModuleSyntax(src string) string {
	buf := []byte(src)
	n := len(buf)

	var (
		depth    int  // (), [], {} nesting
		quote    byte // active string quote, 0 when outside
		template int  // template-literal nesting
	)

	for i := 0; i < n; {
		c := buf[i]

		switch {
		case quote != 0:
			if c == '\\' {
				i += 2
				continue
			}
			if c == quote {
				quote = 0
			}
			i++
			continue
		case template > 0 && c == '`':
			template--
			i++
			continue
		case c == '"' || c == '\'':
			quote = c
			i++
			continue
		case c == '`':
			template++
			i++
			continue
		case c == '/' && i+1 < n && buf[i+1] == '/':
			for i < n && buf[i] != '\n' {
				i++
			}
			continue
		case c == '/' && i+1 < n && buf[i+1] == '*':
			i += 2
			for i+1 < n && !(buf[i] == '*' && buf[i+1] == '/') {
				i++
			}
			i += 2
			continue
		case c == '(' || c == '[' || c == '{':
			depth++
			i++
			continue
		case c == ')' || c == ']' || c == '}':
			depth--
			i++
			continue
		}

		if depth == 0 && template == 0 {
			if hasKeywordAt(buf, i, "import") && !isImportExpression(buf, i+len("import")) {
				i = blankStatement(buf, i)
				continue
			}
			if hasKeywordAt(buf, i, "export") {
				i = blankExport(buf, i)
				continue
			}
		}
		i++
	}

	return string(buf)
}

// hasKeywordAt reports whether buf holds the keyword at offset i with proper
// word boundaries on both sides.
func hasKeywordAt(buf []byte, i int, kw string) bool {
	if i+len(kw) > len(buf) || string(buf[i:i+len(kw)]) != kw {
		return false
	}
	if i > 0 && isIdentChar(buf[i-1]) {
		return false
	}
	if i+len(kw) < len(buf) && isIdentChar(buf[i+len(kw)]) {
		return false
	}
	return true
}

// isImportExpression reports whether the import keyword at hand is dynamic
// import() or import.meta rather than a declaration.
func isImportExpression(buf []byte, after int) bool {
	j := after
	for j < len(buf) && (buf[j] == ' ' || buf[j] == '\t') {
		j++
	}
	return j < len(buf) && (buf[j] == '(' || buf[j] == '.')
}

// blankExport masks an export form starting at i and returns the resume
// offset.
func blankExport(buf []byte, i int) int {
	j := i + len("export")
	for j < len(buf) && (buf[j] == ' ' || buf[j] == '\t') {
		j++
	}
	switch {
	case j < len(buf) && (buf[j] == '{' || buf[j] == '*'):
		return blankStatement(buf, i)
	case hasKeywordAt(buf, j, "default"):
		blankRange(buf, i, j+len("default"))
		return j + len("default")
	default:
		blankRange(buf, i, i+len("export"))
		return i + len("export")
	}
}

// blankStatement masks from i through the statement-terminating semicolon,
// honoring string literals, and returns the resume offset. A newline outside
// braces also terminates the statement so a semicolon-less form never blanks
// the line that follows it.
func blankStatement(buf []byte, i int) int {
	var quote byte
	var braces int
	j := i
	for ; j < len(buf); j++ {
		c := buf[j]
		if quote != 0 {
			if c == '\\' {
				j++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			braces++
		case '}':
			braces--
		case ';':
			if braces == 0 {
				blankRange(buf, i, j+1)
				return j + 1
			}
		case '\n':
			if braces == 0 {
				blankRange(buf, i, j)
				return j
			}
		}
	}
	blankRange(buf, i, j)
	return j
}

// blankRange overwrites [from, to) with spaces, preserving newlines.
func blankRange(buf []byte, from, to int) {
	for k := from; k < to && k < len(buf); k++ {
		if buf[k] != '\n' && buf[k] != '\r' {
			buf[k] = ' '
		}
	}
}

func isIdentChar(b byte) bool {
	return b == '_' || b == '$' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
