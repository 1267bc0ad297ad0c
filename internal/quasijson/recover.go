// Package quasijson turns the near-JSON text returned by language models into
// strictly parseable JSON and decodes it into a tagged Value tree.
package quasijson

import (
	"regexp"
	"strings"

	pdferrors "github.com/a3tai/mcp-pdf-formfill/internal/pdf/errors"
)

var (
	// bareKeyPattern matches an unquoted identifier key at the start of a line.
	bareKeyPattern = regexp.MustCompile(`(?m)^\s*([A-Za-z0-9_]+)\s*:`)
	// trailingCommaPattern matches a comma directly before a closing bracket.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// Recover extracts the outermost {...} span of text and repairs the two
// mistakes models make most often: unquoted keys and trailing commas.
// The returned string is not guaranteed to parse; Decode reports that case.
func Recover(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return "", pdferrors.NewMalformedResponse("no JSON object found")
	}

	raw := text[start : end+1]
	raw = bareKeyPattern.ReplaceAllString(raw, `"$1":`)
	raw = quoteInlineKeys(raw)
	raw = dropTrailingCommas(raw)
	return raw, nil
}

// quoteInlineKeys quotes identifier keys that follow '{' or ',' on the same
// line, e.g. `{foo: 1, bar: 2}`. String literals are copied untouched, so
// strict JSON passes through unchanged.
func quoteInlineKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	inString := false
	escaped := false
	expectKey := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
			expectKey = false
			b.WriteByte(c)
		case c == '{' || c == ',':
			expectKey = true
			b.WriteByte(c)
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			b.WriteByte(c)
		case expectKey && isIdentByte(c):
			j := i
			for j < len(s) && isIdentByte(s[j]) {
				j++
			}
			k := j
			for k < len(s) && (s[k] == ' ' || s[k] == '\t') {
				k++
			}
			if k < len(s) && s[k] == ':' {
				b.WriteByte('"')
				b.WriteString(s[i:j])
				b.WriteByte('"')
			} else {
				b.WriteString(s[i:j])
			}
			i = j - 1
			expectKey = false
		default:
			expectKey = false
			b.WriteByte(c)
		}
	}
	return b.String()
}

// dropTrailingCommas applies trailingCommaPattern outside string literals.
func dropTrailingCommas(s string) string {
	if !strings.Contains(s, `"`) {
		return trailingCommaPattern.ReplaceAllString(s, "$1")
	}

	var b strings.Builder
	b.Grow(len(s))
	segStart := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				b.WriteString(s[segStart : i+1])
				segStart = i + 1
			}
			continue
		}
		if c == '"' {
			b.WriteString(trailingCommaPattern.ReplaceAllString(s[segStart:i], "$1"))
			segStart = i
			inString = true
		}
	}
	if inString {
		b.WriteString(s[segStart:])
	} else {
		b.WriteString(trailingCommaPattern.ReplaceAllString(s[segStart:], "$1"))
	}
	return b.String()
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
