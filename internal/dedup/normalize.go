package dedup

import (
	"strings"
	"unicode"
)

// informal spellings and shorthand rewritten before comparison
var canonicalTokens = map[string]string{
	"nite":    "night",
	"nites":   "nights",
	"tonite":  "tonight",
	"thru":    "through",
	"n":       "and",
	"w":       "with",
	"feat":    "featuring",
	"ft":      "featuring",
	"vs":      "versus",
	"mt":      "mount",
	"ctr":     "center",
	"centre":  "center",
	"theatre": "theater",
}

var leadingArticles = map[string]bool{"the": true, "a": true, "an": true}

// Normalize lower-cases s, strips punctuation, collapses whitespace, rewrites
// informal spellings and drops a leading article.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("&", " and ", "+", " and ", "w/", " with ").Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\'' || r == '’':
			// contractions collapse: "joe's" -> "joes"
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	tokens := strings.Fields(b.String())
	for i, t := range tokens {
		if c, ok := canonicalTokens[t]; ok {
			tokens[i] = c
		}
	}
	if len(tokens) > 1 && leadingArticles[tokens[0]] {
		tokens = tokens[1:]
	}
	return strings.Join(tokens, " ")
}
