// Package trigger decides whether a card's trigger phrases are mentioned in a turn.
//
// Matching is heuristic: tokens are case- and vowel-folded, homoglyph-folded
// when a token mixes Latin and Cyrillic letters, and reduced to a handful of
// candidate stems by stripping common Russian inflectional endings. Two
// tokens match when their stems are equal or one is a prefix of the other.
package trigger

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/azyu/talemind/internal/token"
)

var alnumRun = regexp.MustCompile(`[\p{L}\p{N}]+`)

// latinToCyrillic maps lowercase Latin letters to the Cyrillic letters they are
// visually confused with. Uppercase lookalikes (B, H, K, M, T) are covered
// because tokens are lowercased before folding.
var latinToCyrillic = map[rune]rune{
	'a': 'а',
	'b': 'в',
	'c': 'с',
	'e': 'е',
	'h': 'н',
	'k': 'к',
	'm': 'м',
	'o': 'о',
	'p': 'р',
	't': 'т',
	'x': 'х',
	'y': 'у',
}

var cyrillicToLatin = func() map[rune]rune {
	m := make(map[rune]rune, len(latinToCyrillic))
	for lat, cyr := range latinToCyrillic {
		m[cyr] = lat
	}
	return m
}()

// NormalizeToken lowercases and folds a single token. When the token mixes
// Latin and Cyrillic letters, confusable characters are folded onto one script.
func NormalizeToken(tok string) string {
	tok = token.Fold(tok)

	var hasLatin, hasCyrillic, latinOnly, cyrillicOnly bool
	for _, r := range tok {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			hasCyrillic = true
			if _, ok := cyrillicToLatin[r]; !ok {
				cyrillicOnly = true
			}
		case unicode.Is(unicode.Latin, r):
			hasLatin = true
			if _, ok := latinToCyrillic[r]; !ok {
				latinOnly = true
			}
		}
	}
	if !hasLatin || !hasCyrillic {
		return tok
	}

	table := latinToCyrillic
	if latinOnly && !cyrillicOnly {
		table = cyrillicToLatin
	}
	return strings.Map(func(r rune) rune {
		if mapped, ok := table[r]; ok {
			return mapped
		}
		return r
	}, tok)
}

// SplitPhrases splits a trigger string into candidate phrases on commas,
// semicolons and newlines. Blank candidates are dropped.
func SplitPhrases(trigger string) []string {
	parts := strings.FieldsFunc(trigger, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\r'
	})

	phrases := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			phrases = append(phrases, p)
		}
	}
	return phrases
}

// words returns the raw alphanumeric runs of text.
func words(text string) []string {
	return alnumRun.FindAllString(text, -1)
}

func isCyrillicWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.Is(unicode.Cyrillic, r) {
			return false
		}
	}
	return true
}
