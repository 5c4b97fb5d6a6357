package dkit

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

var namedEscapes = map[byte]string{
	'a':  "\a",
	'b':  "\b",
	'f':  "\f",
	'n':  "\n",
	'r':  "\r",
	't':  "\t",
	'v':  "\v",
	'\\': "\\",
	'\'': "'",
	'"':  "\"",
	'?':  "?",
}

// DecodeEscapes resolves C-style backslash escapes: named escapes, octal
// (\o, \oo, \ooo), \xHH, \uXXXX and \UXXXXXXXX. Each numeric escape is
// decoded from its own digits. Unknown, truncated or out-of-range escapes
// are kept verbatim and do not affect the rest of s.
func DecodeEscapes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			sb.WriteByte(c)
			continue
		}

		next := s[i+1]
		if named, ok := namedEscapes[next]; ok {
			sb.WriteString(named)
			i++
			continue
		}

		switch {
		case next >= '0' && next <= '7':
			end := i + 1
			for end < len(s) && end < i+4 && s[end] >= '0' && s[end] <= '7' {
				end++
			}
			v, err := strconv.ParseUint(s[i+1:end], 8, 8)
			if err != nil {
				sb.WriteString(s[i:end])
			} else {
				sb.WriteByte(byte(v))
			}
			i = end - 1
		case next == 'x':
			i = decodeHex(&sb, s, i, 2, false)
		case next == 'u':
			i = decodeHex(&sb, s, i, 4, true)
		case next == 'U':
			i = decodeHex(&sb, s, i, 8, true)
		default:
			sb.WriteByte(c)
		}
	}

	return sb.String()
}

// decodeHex writes the escape starting at s[i] (the backslash) with the
// given number of hex digits and returns the index of its last byte. An
// escape that cannot be decoded is written unchanged.
func decodeHex(sb *strings.Builder, s string, i, digits int, asRune bool) int {
	start := i + 2
	end := start + digits
	if end > len(s) {
		end = len(s)
	}

	v, err := strconv.ParseUint(s[start:end], 16, 32)
	if err != nil || end-start < digits || (asRune && !utf8.ValidRune(rune(v))) {
		sb.WriteString(s[i:end])
		return end - 1
	}

	if asRune {
		sb.WriteRune(rune(v))
	} else {
		sb.WriteByte(byte(v))
	}
	return end - 1
}
