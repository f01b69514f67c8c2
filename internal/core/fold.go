package core

// fold.go normalizes names into the character set usernames allow.

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes to NFD, drops every combining mark, and
// recomposes. "é" becomes "e", "å" becomes "a".
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var umlautReplacer = strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue")

// Fold converts a name fragment into username-safe form:
//
//  1. lower-case
//  2. optionally ä→ae, ö→oe, ü→ue (a convention used outside Finnish)
//  3. ß→ss, always
//  4. canonical decomposition with all combining marks stripped
//  5. every character outside [a-z0-9.-] removed (spaces included)
//
// Folding is idempotent: a string already inside [a-z0-9.-] comes back
// unchanged.
func Fold(s string, alternateUmlauts bool) string {
	s = strings.ToLower(s)
	if alternateUmlauts {
		s = umlautReplacer.Replace(s)
	}
	s = strings.ReplaceAll(s, "ß", "ss")

	folded, _, err := transform.String(stripMarks, s)
	if err == nil {
		s = folded
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
