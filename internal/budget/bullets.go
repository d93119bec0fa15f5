package budget

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New()

// bulletList is a body made of a single unordered markdown list.
type bulletList struct {
	marker string
	items  []string
}

// parseBullets reports whether src is entirely one bullet list and returns its
// items as source text without markers.
func parseBullets(src string) (bulletList, bool) {
	source := []byte(src)
	doc := md.Parser().Parse(text.NewReader(source))
	if doc.ChildCount() != 1 {
		return bulletList{}, false
	}
	list, ok := doc.FirstChild().(*ast.List)
	if !ok || list.IsOrdered() {
		return bulletList{}, false
	}

	out := bulletList{marker: string(list.Marker)}
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		start, stop, ok := blockSpan(item)
		if !ok {
			continue
		}
		if s := strings.TrimSpace(src[start:stop]); s != "" {
			out.items = append(out.items, s)
		}
	}
	if len(out.items) == 0 {
		return bulletList{}, false
	}
	return out, true
}

// blockSpan returns the byte range covered by the lines of n and its block descendants.
func blockSpan(n ast.Node) (start, stop int, ok bool) {
	if n.Type() == ast.TypeBlock {
		if lines := n.Lines(); lines != nil && lines.Len() > 0 {
			start, stop = lines.At(0).Start, lines.At(lines.Len()-1).Stop
			ok = true
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if c.Type() != ast.TypeBlock {
			continue
		}
		s, e, cok := blockSpan(c)
		if !cok {
			continue
		}
		if !ok || s < start {
			start = s
		}
		if !ok || e > stop {
			stop = e
		}
		ok = true
	}
	return start, stop, ok
}

func (l bulletList) render(items []string) string {
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = l.marker + " " + item
	}
	return strings.Join(lines, "\n")
}
