// JSON byte scanner.
//
// These functions walk raw UTF-8 JSON bytes without building a parse tree.
// They exist so the partial-access pipeline never has to decode an entire
// document just to locate or replace one top-level value.
package ddb

import (
	"bytes"
	"fmt"
	"strings"
)

// seekPastValue starts at i, the first byte of a JSON value (never
// preceded by whitespace — callers skip that first), and returns the
// offset one past the value's last byte.
//
// Unlike the scanner this was ported from, the backslash flag here is set
// by an unescaped backslash and cleared by the very next byte, so a run
// of doubled backslashes (`\\"`) is tracked correctly: it takes a live
// state flag, not a lookbehind at the previous byte, to tell an escaped
// quote from a quote that terminates a string after an escaped backslash.
func seekPastValue(buf []byte, i int) (int, error) {
	inString := false
	escaped := false
	depthBrace := 0
	depthBracket := 0
	started := false

	n := len(buf)
	for ; i < n; i++ {
		c := buf[i]

		if inString {
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

		switch c {
		case '"':
			inString = true
			started = true
		case '{':
			depthBrace++
			started = true
		case '[':
			depthBracket++
			started = true
		case '}':
			// A "}" seen while both depths are already zero is not ours to
			// consume — it closes the enclosing object, so the value ends
			// right before it (the last key of a compact object hits this).
			if depthBrace == 0 && depthBracket == 0 && started {
				return i, nil
			}
			depthBrace--
			started = true
			if depthBrace == 0 && depthBracket == 0 {
				return i + 1, nil
			}
		case ']':
			if depthBrace == 0 && depthBracket == 0 && started {
				return i, nil
			}
			depthBracket--
			started = true
			if depthBrace == 0 && depthBracket == 0 {
				return i + 1, nil
			}
		case ',', '\n':
			if depthBrace == 0 && depthBracket == 0 && started {
				return i, nil
			}
		default:
			if depthBrace == 0 && depthBracket == 0 {
				started = true
			}
		}
	}

	if depthBrace == 0 && depthBracket == 0 && started {
		return n, nil
	}
	return 0, fmt.Errorf("%w: unterminated value starting at offset %d", ErrMalformedJSON, i)
}

// countNesting counts unescaped, non-string "{" minus "}" in buf[a:b). It
// tells findOutermostKey how deep a later key occurrence sits relative to
// an earlier one.
func countNesting(buf []byte, a, b int) int {
	inString := false
	escaped := false
	depth := 0

	for i := a; i < b; i++ {
		c := buf[i]
		if inString {
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
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
		}
	}
	return depth
}

// findOutermostKey locates the depth-1 occurrence of `"<key>":` in buf and
// returns the byte range of the matched pattern (the quoted key through
// the colon). Returns (-1, -1) if the key is absent or ambiguous (more
// than one occurrence at depth 1).
func findOutermostKey(buf []byte, key string) (int, int) {
	pattern := []byte(`"` + key + `":`)

	var offsets []int
	from := 0
	for {
		idx := bytes.Index(buf[from:], pattern)
		if idx < 0 {
			break
		}
		offsets = append(offsets, from+idx)
		from = from + idx + len(pattern)
	}
	if len(offsets) == 0 {
		return -1, -1
	}

	depth := 1
	depthAt := make([]int, len(offsets))
	depthAt[0] = 1
	for k := 1; k < len(offsets); k++ {
		prevEnd := offsets[k-1] + len(pattern)
		depth += countNesting(buf, prevEnd, offsets[k])
		depthAt[k] = depth
	}

	match := -1
	for k, d := range depthAt {
		if d == 1 {
			if match != -1 {
				return -1, -1
			}
			match = k
		}
	}
	if match == -1 {
		return -1, -1
	}
	return offsets[match], offsets[match] + len(pattern)
}

// findOutermostKeyPath resolves a possibly dot-separated key path by
// repeatedly narrowing the search window: the first segment is located in
// the whole buffer, then each subsequent segment is located only within
// the byte range of the previous segment's value. A key with no dot
// behaves exactly like findOutermostKey.
func findOutermostKeyPath(buf []byte, path string) (keyStart, keyEnd, valueStart, valueEnd int, err error) {
	segments := splitDotted(path)

	window := buf
	base := 0

	for i, seg := range segments {
		ks, ke := findOutermostKey(window, seg)
		if ks < 0 {
			return -1, -1, -1, -1, fmt.Errorf("%w: key %q", ErrKeyNotFound, path)
		}
		vs := skipOneSpace(window, ke)
		ve, serr := seekPastValue(window, vs)
		if serr != nil {
			return -1, -1, -1, -1, serr
		}

		keyStart, keyEnd = base+ks, base+ke
		valueStart, valueEnd = base+vs, base+ve

		if i == len(segments)-1 {
			return keyStart, keyEnd, valueStart, valueEnd, nil
		}

		window = buf[valueStart:valueEnd]
		base = valueStart
	}
	return -1, -1, -1, -1, fmt.Errorf("%w: key %q", ErrKeyNotFound, path)
}

// skipOneSpace advances past a single optional space after a key's colon,
// per the "one optional space after colon" convention.
func skipOneSpace(buf []byte, i int) int {
	if i < len(buf) && buf[i] == ' ' {
		return i + 1
	}
	return i
}

// firstSegment returns the portion of a dotted key path before the first
// dot, or the whole string if it contains none. Used to test bloom-filter
// membership, since a full scan fills the filter with root-level keys only.
func firstSegment(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

// splitDotted splits a dotted key path into segments, treating a path
// with no dot as a single segment (so plain keys are unaffected even if
// they happen to be empty strings, which never match anything anyway).
func splitDotted(path string) []string {
	var segments []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segments = append(segments, path[start:i])
			start = i + 1
		}
	}
	segments = append(segments, path[start:])
	return segments
}

// detectIndentation walks backward from i-1 over spaces and tabs to
// determine the indentation preceding offset i, per the configured indent
// convention.
func detectIndentation(buf []byte, i int, indentCfg any) (level int, unit string) {
	j := i - 1
	whitespace := 0
	sawTab := false
	for j >= 0 && (buf[j] == ' ' || buf[j] == '\t') {
		if buf[j] == '\t' {
			sawTab = true
		}
		whitespace++
		j--
	}

	if sawTab {
		return whitespace, "\t"
	}

	switch v := indentCfg.(type) {
	case int:
		if v <= 0 {
			return 0, ""
		}
		if whitespace == 0 {
			return 0, spaces(v)
		}
		return whitespace / v, spaces(v)
	case float64: // Config loaded from JSON via LoadConfig decodes numbers this way
		return detectIndentation(buf, i, int(v))
	case string:
		if v == "" {
			return 0, ""
		}
		return whitespace / len(v), v
	default:
		if whitespace > 0 {
			return whitespace / 2, "  "
		}
		return 0, ""
	}
}

// topLevelKeys enumerates every key directly under the root object of
// buf, in file order, without building a parse tree. Used to populate a
// database's bloom filter completely whenever a full scan already has
// the bytes in hand.
func topLevelKeys(buf []byte) []string {
	i := skipWhitespace(buf, 0)
	if i >= len(buf) || buf[i] != '{' {
		return nil
	}
	i++

	var keys []string
	for {
		i = skipWhitespaceAndCommas(buf, i)
		if i >= len(buf) || buf[i] == '}' {
			return keys
		}
		if buf[i] != '"' {
			return keys
		}

		keyStart := i + 1
		keyEnd, ok := scanStringEnd(buf, i)
		if !ok {
			return keys
		}
		keys = append(keys, string(buf[keyStart:keyEnd]))

		i = keyEnd + 1 // past closing quote
		i = skipWhitespace(buf, i)
		if i >= len(buf) || buf[i] != ':' {
			return keys
		}
		i++
		i = skipOneSpace(buf, i)

		end, err := seekPastValue(buf, i)
		if err != nil {
			return keys
		}
		i = end
	}
}

// scanStringEnd returns the offset of the closing quote of the string
// starting at buf[start] (which must be '"'), honoring backslash escapes.
func scanStringEnd(buf []byte, start int) (int, bool) {
	escaped := false
	for i := start + 1; i < len(buf); i++ {
		c := buf[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			return i, true
		}
	}
	return 0, false
}

func skipWhitespace(buf []byte, i int) int {
	for i < len(buf) {
		switch buf[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

func skipWhitespaceAndCommas(buf []byte, i int) int {
	for i < len(buf) {
		switch buf[i] {
		case ' ', '\t', '\n', '\r', ',':
			i++
		default:
			return i
		}
	}
	return i
}

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}
