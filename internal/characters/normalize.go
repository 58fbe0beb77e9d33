package characters

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizer strips accents after NFD decomposition, then recomposes.
// Built once; transform.Chain values are safe for concurrent use via
// transform.String.
var normalizer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeName canonicalizes a character name for matching: NFKC fold,
// accent strip, lowercase, collapsed whitespace. "Chae Ha-In" and
// "chae ha-in" match; "Ji-Hoo" and "Jihoo" do not (that is fuzzy's job).
func normalizeName(name string) string {
	name = norm.NFKC.String(name)
	if stripped, _, err := transform.String(normalizer, name); err == nil {
		name = stripped
	}
	name = strings.ToLower(name)
	return strings.Join(strings.Fields(name), " ")
}

// normalizeFact canonicalizes fact text for dedupe: same fold as names plus
// trailing punctuation removal, so "He awakened." and "he awakened" collide.
func normalizeFact(text string) string {
	s := normalizeName(text)
	return strings.TrimRight(s, ".!?,;: ")
}
