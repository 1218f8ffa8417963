package matching

import (
	"strings"
)

// PrimaryType restricts searches to album release groups.
const PrimaryType = "album"

// minFuzzyLen is the shortest token that gets an edit-distance operator.
const minFuzzyLen = 3

// ExactQuery builds a release-group query matching artist and title as quoted phrases.
func ExactQuery(artist, title string) string {
	return "artist:" + phrase(artist) +
		" AND releasegroup:" + phrase(title) +
		" AND primarytype:" + PrimaryType
}

// FuzzyQuery builds a release-group query where every token tolerates small edit distances.
func FuzzyQuery(artist, title string) string {
	return "artist:" + fuzzyGroup(artist) +
		" AND releasegroup:" + fuzzyGroup(title) +
		" AND primarytype:" + PrimaryType
}

func phrase(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// fuzzyGroup renders "(tok1~ AND tok2~ ...)".
func fuzzyGroup(s string) string {
	fields := strings.Fields(s)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		term := escapeTerm(f)
		if len([]rune(f)) >= minFuzzyLen {
			term += "~"
		}
		terms = append(terms, term)
	}
	return "(" + strings.Join(terms, " AND ") + ")"
}

// escapeTerm backslash-escapes Lucene query syntax.
func escapeTerm(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`+-&|!(){}[]^"~*?:\/`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
