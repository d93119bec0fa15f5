package trigger

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// stemMinToken is the shortest token that gets stem variants.
	stemMinToken = 4
	// stemMinKeep is the shortest stem a suffix strip may leave behind.
	stemMinKeep = 3
	// maxSuffixStrips bounds iterative suffix stripping.
	maxSuffixStrips = 2
)

// suffixes are Russian inflectional endings, ordered longest first at init.
var suffixes = []string{
	"иями", "ями", "ами", "его", "ого", "ему", "ому", "ыми", "ими",
	"ешь", "ишь", "ете", "ите", "ует", "уют", "ают", "яют",
	"ая", "яя", "ое", "ее", "ые", "ие", "ый", "ий", "ой", "ом", "ем",
	"ам", "ям", "ах", "ях", "ов", "ев", "ей", "ью", "ию", "ия", "ии",
	"ых", "их", "ую", "юю", "ат", "ят", "ет", "ит", "ут", "ют", "ть",
	"а", "я", "о", "е", "ы", "и", "у", "ю", "ь", "й",
}

func init() {
	sort.SliceStable(suffixes, func(i, j int) bool {
		return utf8.RuneCountInString(suffixes[i]) > utf8.RuneCountInString(suffixes[j])
	})
}

// Stems returns the candidate stems of a normalized token. The token itself is
// always the first stem. Cyrillic tokens of four or more letters also yield up
// to two successively suffix-stripped variants and soft-sign-stripped variants.
func Stems(tok string) []string {
	stems := []string{tok}
	if utf8.RuneCountInString(tok) < stemMinToken || !isCyrillicWord(tok) {
		return stems
	}

	seen := map[string]bool{tok: true}
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			stems = append(stems, s)
		}
	}

	cur := tok
	for i := 0; i < maxSuffixStrips; i++ {
		next, ok := stripSuffix(cur)
		if !ok {
			break
		}
		add(next)
		cur = next
	}

	for _, s := range append([]string(nil), stems...) {
		if soft, ok := stripSoft(s); ok {
			add(soft)
		}
	}
	return stems
}

// stripSuffix removes the longest known ending that leaves at least stemMinKeep runes.
func stripSuffix(s string) (string, bool) {
	n := utf8.RuneCountInString(s)
	for _, suf := range suffixes {
		if !strings.HasSuffix(s, suf) {
			continue
		}
		if n-utf8.RuneCountInString(suf) >= stemMinKeep {
			return strings.TrimSuffix(s, suf), true
		}
	}
	return "", false
}

// stripSoft removes a trailing soft sign or short i.
func stripSoft(s string) (string, bool) {
	for _, marker := range []string{"ь", "й"} {
		if strings.HasSuffix(s, marker) && utf8.RuneCountInString(s)-1 >= stemMinKeep {
			return strings.TrimSuffix(s, marker), true
		}
	}
	return "", false
}
