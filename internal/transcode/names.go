package transcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// escapedRune matches the _xHHHH_ form used for runes that are not legal in XML names.
var escapedRune = regexp.MustCompile(`_x([0-9A-Fa-f]{4})_`)

// IsName reports whether s is a legal XML element name without a namespace prefix.
func IsName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == ':' || !isNameRune(r, i == 0) {
			return false
		}
	}
	return true
}

func isNameRune(r rune, first bool) bool {
	if unicode.IsLetter(r) || r == '_' {
		return true
	}
	if first {
		return false
	}
	return unicode.IsDigit(r) || r == '-' || r == '.' || r == ':'
}

// encodeName makes s usable as an XML name, escaping offending runes as _xHHHH_.
// Runes outside the Basic Multilingual Plane are written as a UTF-16 surrogate
// pair, two escapes.
func encodeName(s string) string {
	var b strings.Builder
	for i, r := range s {
		if isNameRune(r, i == 0) {
			b.WriteRune(r)
			continue
		}
		if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			fmt.Fprintf(&b, "_x%04X__x%04X_", r1, r2)
			continue
		}
		fmt.Fprintf(&b, "_x%04X_", r)
	}
	return b.String()
}

// decodeName reverses encodeName. Adjacent escapes forming a surrogate pair
// decode to one rune; a lone surrogate decodes to U+FFFD.
func decodeName(s string) string {
	if !strings.Contains(s, "_x") {
		return s
	}
	locs := escapedRune.FindAllStringSubmatchIndex(s, -1)
	if locs == nil {
		return s
	}

	var b strings.Builder
	last := 0
	for i := 0; i < len(locs); i++ {
		loc := locs[i]
		b.WriteString(s[last:loc[0]])
		r := hexRune(s[loc[2]:loc[3]])
		last = loc[1]
		if utf16.IsSurrogate(r) && i+1 < len(locs) && locs[i+1][0] == loc[1] {
			next := locs[i+1]
			if pair := utf16.DecodeRune(r, hexRune(s[next[2]:next[3]])); pair != utf8.RuneError {
				b.WriteRune(pair)
				last = next[1]
				i++
				continue
			}
		}
		b.WriteRune(r)
	}
	b.WriteString(s[last:])
	return b.String()
}

// hexRune parses the four hex digits captured by escapedRune.
func hexRune(h string) rune {
	n, _ := strconv.ParseUint(h, 16, 32)
	return rune(n)
}
