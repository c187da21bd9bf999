// Package instruments resolves free-form part labels from scanned scores to
// canonical catalog instruments.
//
// Labels arrive messy ("Trumpet in Bb (opt)", "1st Bb CLARINET", "picc").
// Normalize strips the noise, then Match tries exact, alias, and fuzzy
// resolution in that order. Labels that cannot be resolved confidently come
// back as a typed unresolved error so review can surface them.
package instruments

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

	parentheticalRE = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	keySignatureRE  = regexp.MustCompile(`\bin [a-g][b#]?\b`)
	pitchTokenRE    = regexp.MustCompile(`\b[a-g][b#]\b`)
	partNumberRE    = regexp.MustCompile(`\b([0-9]+(st|nd|rd|th)?|i{1,3}|iv)\b`)
	punctuationRE   = regexp.MustCompile(`[^a-z0-9 ]+`)
)

// Normalize reduces a part label to its comparable core: lowercase, accents
// folded, parentheticals, key signatures, part numbers, and punctuation
// removed, whitespace collapsed.
func Normalize(label string) string {
	s := strings.ReplaceAll(label, "♭", "b")
	s = strings.ReplaceAll(s, "♯", "#")
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)
	s = parentheticalRE.ReplaceAllString(s, " ")
	s = keySignatureRE.ReplaceAllString(s, " ")
	s = pitchTokenRE.ReplaceAllString(s, " ")
	s = partNumberRE.ReplaceAllString(s, " ")
	s = punctuationRE.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}
