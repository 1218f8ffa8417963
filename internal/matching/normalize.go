package matching

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	bracketed   = regexp.MustCompile(`\s*[\(\[\{][^\)\]\}]*[\)\]\}]`)
	featClause  = regexp.MustCompile(`(?:^|\s)(?:feat\.?|featuring|ft\.?)\s.*$`)
	ampersand   = regexp.MustCompile(`\s*&\s*`)
	leadingThe  = regexp.MustCompile(`^the\s+`)
	apostrophes = strings.NewReplacer("'", "", "’", "", "`", "")
)

// Normalize reduces an artist or album name to its comparison form.
//
// Diacritics are removed and case folded; bracketed suffixes ("(Remastered)", "[Deluxe]") and
// featuring clauses are dropped; "&" becomes "and"; a leading "the" is stripped unless it is the
// whole name; punctuation becomes whitespace and runs of whitespace collapse to one space.
func Normalize(s string) string {
	s = foldName(s)

	s = bracketed.ReplaceAllString(s, "")
	s = featClause.ReplaceAllString(s, "")
	s = ampersand.ReplaceAllString(s, " and ")
	s = apostrophes.Replace(s)

	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	s = strings.Join(strings.Fields(s), " ")

	if stripped := leadingThe.ReplaceAllString(s, ""); stripped != "" {
		s = stripped
	}
	return s
}

// foldName decomposes, removes combining marks and case-folds s.
// Casers are stateful, so one is built per call.
func foldName(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

// Similarity returns 1 - editDistance/maxLen of the normalized forms of a and b, in [0, 1].
func Similarity(a, b string) float64 {
	return SimilarityNormalized(Normalize(a), Normalize(b))
}

// SimilarityNormalized is [Similarity] for inputs already passed through [Normalize].
func SimilarityNormalized(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}
