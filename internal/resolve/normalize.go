// Package resolve decides whether two observations describe the same
// real-world facility: by installation ID when present, by normalized-name
// containment otherwise.
package resolve

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// namePrefixes lists honorific and organizational prefixes stripped during
// name normalization. They are matching noise only ("G. Les Petits Coeurs"
// and "Les Petits Coeurs" are the same facility); stored names keep them.
var namePrefixes = []string{
	"G.", "G ", "GARDERIE", "CPE", "BC", "MME", "MME.", "M.",
}

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// accentFold strips combining marks after NFD decomposition, so "Académie"
// and "Academie" normalize identically.
var accentFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName standardizes a facility name for matching by:
//  1. Trimming whitespace
//  2. Folding accents (NFD + strip combining marks)
//  3. Converting to uppercase
//  4. Removing honorific/organizational prefixes (G., CPE, Garderie, ...)
//  5. Stripping punctuation and collapsing whitespace
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	if folded, _, err := transform.String(accentFold, name); err == nil {
		name = folded
	}
	name = strings.ToUpper(name)

	// Strip leading prefixes. Loop because they stack ("BC CPE AU PALAIS").
	for {
		stripped := false
		for _, prefix := range namePrefixes {
			rest, ok := strings.CutPrefix(name, prefix)
			if !ok {
				continue
			}
			// "GARDERIE" must not eat the head of "GARDERIES DU PARC".
			if rest != "" && rest[0] != ' ' && !strings.HasSuffix(prefix, ".") {
				continue
			}
			name = strings.TrimSpace(rest)
			stripped = true
			break
		}
		if !stripped || name == "" {
			break
		}
	}

	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", " ",
		"’", " ",
		"\"", "",
		"&", "ET",
		"-", " ",
	).Replace(name)

	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// NamesOverlap reports whether one normalized name contains the other.
// Both must be non-empty.
func NamesOverlap(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
