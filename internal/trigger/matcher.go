package trigger

import (
	"strings"
	"unicode/utf8"
)

// Prefix tolerance thresholds. They trade recall for false positives on short,
// common stems and may be tuned.
var (
	// PrefixMinToken is the minimum length of both tokens for stem-prefix matching.
	PrefixMinToken = 4
	// RelaxedPrefixMinStem is the minimum length of the shorter stem for the relaxed prefix rule.
	RelaxedPrefixMinStem = 5
)

// multiTokenMinLen drops very short tokens (prepositions, initials) from multi-word phrases.
const multiTokenMinLen = 2

// Token is a normalized word with its candidate stems.
type Token struct {
	Text  string
	Runes int
	Stems []string
}

// NewToken normalizes raw and derives its stems.
func NewToken(raw string) Token {
	text := NormalizeToken(raw)
	return Token{
		Text:  text,
		Runes: utf8.RuneCountInString(text),
		Stems: Stems(text),
	}
}

// Tokens are the distinct normalized tokens of a turn.
type Tokens []Token

// Tokenize splits text into distinct normalized tokens.
func Tokenize(text string) Tokens {
	raw := words(text)
	if len(raw) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(raw))
	toks := make(Tokens, 0, len(raw))
	for _, w := range raw {
		tok := NewToken(w)
		if tok.Text == "" || seen[tok.Text] {
			continue
		}
		seen[tok.Text] = true
		toks = append(toks, tok)
	}
	return toks
}

// Trigger is a compiled trigger string: a list of alternative phrases, each a
// list of tokens that must all be present.
type Trigger struct {
	phrases [][]Token
}

// Compile parses a trigger string. Phrases without usable tokens are dropped.
func Compile(trigger string) Trigger {
	var t Trigger
	for _, phrase := range SplitPhrases(trigger) {
		raw := words(phrase)
		multi := len(raw) > 1

		var toks []Token
		for _, w := range raw {
			if multi && utf8.RuneCountInString(w) < multiTokenMinLen {
				continue
			}
			if tok := NewToken(w); tok.Text != "" {
				toks = append(toks, tok)
			}
		}
		if len(toks) > 0 {
			t.phrases = append(t.phrases, toks)
		}
	}
	return t
}

// Empty reports whether the trigger has no matchable phrase.
func (t Trigger) Empty() bool {
	return len(t.phrases) == 0
}

// Matches reports whether any phrase of the trigger is mentioned in turn.
func (t Trigger) Matches(turn Tokens) bool {
	if len(turn) == 0 {
		return false
	}
	for _, phrase := range t.phrases {
		if phraseMatches(phrase, turn) {
			return true
		}
	}
	return false
}

// Match reports whether trigger is mentioned in the turn tokens.
func Match(trigger string, turn Tokens) bool {
	return Compile(trigger).Matches(turn)
}

// MatchText reports whether trigger is mentioned in text.
func MatchText(trigger, text string) bool {
	return Match(trigger, Tokenize(text))
}

// phraseMatches requires every phrase token to match some turn token, in any order.
func phraseMatches(phrase []Token, turn Tokens) bool {
	for _, want := range phrase {
		found := false
		for _, have := range turn {
			if tokensMatch(want, have) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func tokensMatch(a, b Token) bool {
	bothLong := a.Runes >= PrefixMinToken && b.Runes >= PrefixMinToken
	for _, sa := range a.Stems {
		for _, sb := range b.Stems {
			if sa == sb {
				return true
			}

			shorter, longer := sa, sb
			if utf8.RuneCountInString(shorter) > utf8.RuneCountInString(longer) {
				shorter, longer = longer, shorter
			}
			if !strings.HasPrefix(longer, shorter) {
				continue
			}
			if bothLong || utf8.RuneCountInString(shorter) >= RelaxedPrefixMinStem {
				return true
			}
		}
	}
	return false
}
