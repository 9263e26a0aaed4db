// Package paperid normalizes and validates scholarly paper identifiers.
package paperid

import "strings"

// trimCutset holds the characters stripped from both ends of a raw ID:
// whitespace plus stray quote marks the upstream API occasionally emits.
const trimCutset = " \t\r\n\"'"

// Normalize trims surrounding whitespace and quote characters from a raw
// paper ID. Identity is byte-equality on the normalized form.
func Normalize(raw string) string {
	return strings.Trim(raw, trimCutset)
}

// Valid reports whether a normalized ID is usable: non-empty.
func Valid(id string) bool {
	return id != ""
}

// NormalizeAll normalizes every ID in ids and drops any that become empty.
func NormalizeAll(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := Normalize(raw)
		if Valid(id) {
			out = append(out, id)
		}
	}
	return out
}
