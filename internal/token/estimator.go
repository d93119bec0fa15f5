// Package token provides token estimation and budget utilities for context assembly.
package token

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// wordOrSymbol matches one alphanumeric run or any single non-space symbol.
var wordOrSymbol = regexp.MustCompile(`[\p{L}\p{N}]+|[^\s\p{L}\p{N}]`)

// sentenceEnd matches a sentence terminator followed by whitespace, or a line break.
var sentenceEnd = regexp.MustCompile(`[.!?…]+["»”')\]]*\s+|\n+`)

// Fold lowercases text and folds the ё vowel variant onto е.
// Input is NFC-normalized first so decomposed ё (е + U+0308) folds too.
func Fold(text string) string {
	text = norm.NFC.String(text)
	text = strings.ToLower(text)
	return strings.NewReplacer("ё", "е").Replace(text)
}

// Estimate approximates how many model tokens text costs.
// It never fails: empty or whitespace-only text costs 0 and any other text costs at least 1.
func Estimate(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	n := len(wordOrSymbol.FindAllStringIndex(Fold(text), -1))
	if n > 0 {
		return n
	}

	// Nothing matched the pattern; fall back to ~4 characters per token.
	return (utf8.RuneCountInString(text) + 3) / 4
}

// TrimTail returns the longest suffix of text, trimmed of surrounding whitespace,
// whose estimate fits within maxTokens. The cut always lands on a token boundary.
// Text that already fits is returned trimmed but otherwise unchanged.
func TrimTail(text string, maxTokens int) string {
	text = strings.TrimSpace(text)
	if maxTokens <= 0 || text == "" {
		return ""
	}
	if Estimate(text) <= maxTokens {
		return text
	}

	spans := wordOrSymbol.FindAllStringIndex(text, -1)
	if len(spans) == 0 {
		// Only reachable through the rune fallback; cut by characters.
		runes := []rune(text)
		keep := maxTokens * 4
		if keep > len(runes) {
			keep = len(runes)
		}
		return strings.TrimSpace(string(runes[len(runes)-keep:]))
	}

	// Folding can shift the count slightly (e.g. NFC composition), so walk
	// forward until the tail fits.
	for i := max(len(spans)-maxTokens, 0); i < len(spans); i++ {
		tail := strings.TrimSpace(text[spans[i][0]:])
		if Estimate(tail) <= maxTokens {
			return tail
		}
	}
	return ""
}

// TrimTailSentences behaves like TrimTail but prefers to start the tail at a
// sentence boundary. If the token-trimmed tail contains no boundary, the
// mid-sentence tail is returned as is.
func TrimTailSentences(text string, maxTokens int) string {
	tail := TrimTail(text, maxTokens)
	if tail == "" || tail == strings.TrimSpace(text) {
		return tail
	}
	if startsSentence(text, tail) {
		return tail
	}

	loc := sentenceEnd.FindStringIndex(tail)
	if loc == nil || loc[1] >= len(tail) {
		return tail
	}
	if rest := strings.TrimSpace(tail[loc[1]:]); rest != "" {
		return rest
	}
	return tail
}

// startsSentence reports whether tail, a suffix of text, begins a sentence in text.
func startsSentence(text, tail string) bool {
	before := strings.TrimSuffix(strings.TrimSpace(text), tail)
	before = strings.TrimRight(before, " \t")
	if before == "" || strings.HasSuffix(before, "\n") {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(strings.TrimRightFunc(before, unicode.IsSpace))
	return strings.ContainsRune(".!?…", last)
}
