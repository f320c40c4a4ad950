package detect

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s and strips diacritics, so "Conséquent" and "consequent"
// compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// collapse folds s and squeezes every whitespace run to one space.
func collapse(s string) string {
	return strings.Join(strings.Fields(Fold(s)), " ")
}

// words folds s and reduces it to space-separated letter/digit runs, padded
// with a space on each side so phrase lookups match whole words only.
func words(s string) string {
	f := strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(f, " ") + " "
}

// phraseSet is a list of folded phrases matched on word boundaries.
type phraseSet []string

func newPhraseSet(phrases []string) phraseSet {
	out := make(phraseSet, 0, len(phrases))
	for _, p := range phrases {
		if w := words(p); strings.TrimSpace(w) != "" {
			out = append(out, w)
		}
	}
	return out
}

// matches returns the phrases found in text, which must come from words.
func (ps phraseSet) matches(text string) []string {
	var out []string
	for _, p := range ps {
		if strings.Contains(text, p) {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}

// count returns the number of occurrences of all phrases in text.
func (ps phraseSet) count(text string) int {
	n := 0
	for _, p := range ps {
		n += strings.Count(text, p)
	}
	return n
}
