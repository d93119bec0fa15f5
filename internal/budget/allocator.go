// Package budget composes the context payload sent to the model on each turn.
//
// Instructions and active world cards are always included whole. Whatever
// budget is left is filled with memory, either plot cards or raw history,
// walking from the most recent item backwards.
package budget

import (
	"fmt"
	"strings"

	"github.com/azyu/talemind/internal/llm"
	"github.com/azyu/talemind/internal/token"
	"github.com/azyu/talemind/pkg/types"
)

// MemoryMode tells which source filled the memory section.
type MemoryMode string

const (
	MemoryNone    MemoryMode = ""
	MemoryHistory MemoryMode = "history"
	MemoryPlot    MemoryMode = "plot"
)

// Request holds everything the allocator needs for one turn.
type Request struct {
	// Limit is the input token ceiling.
	Limit        int
	Instructions []types.InstructionCard
	// World holds the cards active this turn.
	World      []types.WorldCard
	Plots      []types.PlotCard
	PlotMemory bool
	// History is the transcript, oldest first.
	History []types.Message
	// Counter defaults to the heuristic estimator.
	Counter token.Counter
}

// MinTailTokens is the smallest tail of an older memory item worth keeping
// when it only partly fits the remaining budget.
var MinTailTokens = 8

// Item is one memory entry included in the payload.
type Item struct {
	MessageID int64
	CardID    int64
	Role      string
	Title     string
	Content   string
	Tokens    int
	Truncated bool
}

// Usage is the context budget breakdown for one payload. Overflow counts
// how far instructions and world cards alone exceed the limit; memory never
// does.
type Usage struct {
	Limit        int `json:"limit_tokens"`
	Instructions int `json:"instructions_used"`
	Memory       int `json:"memory_used"`
	World        int `json:"world_used"`
	Free         int `json:"free"`
	Overflow     int `json:"overflow"`
}

// Total is the sum of all used tokens.
func (u Usage) Total() int {
	return u.Instructions + u.Memory + u.World
}

// Overflowing reports whether the required content exceeds the limit.
func (u Usage) Overflowing() bool {
	return u.Overflow > 0
}

// Payload is the composed context for one turn.
type Payload struct {
	Instructions string
	World        string
	Mode         MemoryMode
	// Memory is oldest first.
	Memory []Item
	Usage  Usage
}

// Allocate composes the payload for req.
func Allocate(req Request) Payload {
	counter := req.Counter
	if counter == nil {
		counter = token.Heuristic{}
	}

	p := Payload{
		Instructions: FormatInstructions(req.Instructions),
		World:        FormatWorld(req.World),
	}
	p.Usage.Limit = max(req.Limit, 0)
	p.Usage.Instructions = counter.Count(p.Instructions)
	p.Usage.World = counter.Count(p.World)

	remaining := max(p.Usage.Limit-p.Usage.Instructions-p.Usage.World, 0)

	var candidates []Item
	switch {
	case req.PlotMemory && len(req.Plots) > 0:
		p.Mode = MemoryPlot
		candidates = plotItems(req.Plots)
	case len(req.History) > 0:
		p.Mode = MemoryHistory
		candidates = historyItems(req.History)
	}

	p.Memory = fill(candidates, remaining, counter)
	for _, item := range p.Memory {
		p.Usage.Memory += item.Tokens
	}

	p.Usage.Free = max(p.Usage.Limit-p.Usage.Total(), 0)
	p.Usage.Overflow = max(p.Usage.Instructions+p.Usage.World-p.Usage.Limit, 0)
	return p
}

// fill walks candidates from newest to oldest, keeping whole items while
// they fit remaining. The first item that does not fit is replaced by a
// tail sized to what is left, and nothing older is taken. The newest item
// is always trimmed in; an older one only when at least MinTailTokens are
// left for it.
func fill(candidates []Item, remaining int, counter token.Counter) []Item {
	if remaining <= 0 || len(candidates) == 0 {
		return nil
	}

	var kept []Item
	used := 0
	for i := len(candidates) - 1; i >= 0 && used < remaining; i-- {
		item := candidates[i]
		item.Tokens = counter.Count(item.text())
		if item.Tokens == 0 {
			continue
		}

		if used+item.Tokens > remaining {
			room := remaining - used
			if len(kept) == 0 || room >= MinTailTokens {
				if cut, ok := truncateItem(item, room, counter); ok {
					kept = append(kept, cut)
				}
			}
			break
		}

		kept = append(kept, item)
		used += item.Tokens
	}

	// Restore chronological order.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}

func (it Item) text() string {
	if it.Title == "" {
		return it.Content
	}
	return it.Title + "\n" + it.Content
}

// truncateItem keeps the tail of the item's content so the item costs at most budget.
func truncateItem(item Item, budget int, counter token.Counter) (Item, bool) {
	room := budget
	if item.Title != "" {
		room -= counter.Count(item.Title)
	}
	if room <= 0 {
		return Item{}, false
	}

	tail := TruncateTail(item.Content, room, counter)
	if tail == "" {
		return Item{}, false
	}
	item.Content = tail
	item.Tokens = counter.Count(item.text())
	item.Truncated = true
	if item.Tokens > budget {
		return Item{}, false
	}
	return item, true
}

// TruncateTail returns the end of body costing at most budget tokens.
// Bullet lists lose whole items from the top, and the oldest kept item may be
// cut mid-text but keeps its marker. Other text is cut at a sentence start
// when possible.
func TruncateTail(body string, budget int, counter token.Counter) string {
	if counter == nil {
		counter = token.Heuristic{}
	}
	body = strings.TrimSpace(body)
	if budget <= 0 || body == "" {
		return ""
	}
	if counter.Count(body) <= budget {
		return body
	}

	if list, ok := parseBullets(body); ok {
		return truncateBullets(list, budget, counter)
	}
	return fitTail(budget, counter, func(n int) string {
		return token.TrimTailSentences(body, n)
	})
}

func truncateBullets(list bulletList, budget int, counter token.Counter) string {
	var kept []string
	for i := len(list.items) - 1; i >= 0; i-- {
		grown := append([]string{list.items[i]}, kept...)
		if counter.Count(list.render(grown)) <= budget {
			kept = grown
			continue
		}

		used := 0
		if len(kept) > 0 {
			used = counter.Count(list.render(kept))
		}
		room := budget - used - counter.Count(list.marker)
		if room > 0 {
			item := list.items[i]
			part := fitTail(room, counter, func(n int) string {
				return token.TrimTailSentences(item, n)
			})
			if part != "" {
				grown = append([]string{part}, kept...)
				if counter.Count(list.render(grown)) <= budget {
					kept = grown
				}
			}
		}
		break
	}
	return list.render(kept)
}

// fitTail shrinks the heuristic budget passed to trim until the result fits
// budget under counter, which may disagree with the heuristic estimate.
func fitTail(budget int, counter token.Counter, trim func(int) string) string {
	n := budget
	for n > 0 {
		tail := trim(n)
		got := counter.Count(tail)
		if got <= budget {
			return tail
		}
		n = min(n-1, n*budget/got)
	}
	return ""
}

func historyItems(history []types.Message) []Item {
	ordered := types.SortMessages(history)
	items := make([]Item, 0, len(ordered))
	for _, m := range ordered {
		items = append(items, Item{MessageID: m.ID, Role: m.Role, Content: strings.TrimSpace(m.Content)})
	}
	return items
}

func plotItems(plots []types.PlotCard) []Item {
	items := make([]Item, 0, len(plots))
	for _, c := range plots {
		items = append(items, Item{
			CardID:  c.ID,
			Title:   strings.TrimSpace(c.Title),
			Content: strings.TrimSpace(c.Content),
		})
	}
	return items
}

// FormatInstructions renders instruction cards as a numbered list.
func FormatInstructions(cards []types.InstructionCard) string {
	blocks := make([]string, 0, len(cards))
	for _, c := range cards {
		title, content := strings.TrimSpace(c.Title), strings.TrimSpace(c.Content)
		if title == "" && content == "" {
			continue
		}
		block := fmt.Sprintf("%d. %s", len(blocks)+1, title)
		if content != "" {
			block += "\n" + content
		}
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n")
}

// FormatWorld renders world cards as "Title: content" blocks with their triggers.
func FormatWorld(cards []types.WorldCard) string {
	blocks := make([]string, 0, len(cards))
	for _, c := range cards {
		title, content := strings.TrimSpace(c.Title), strings.TrimSpace(c.Content)
		if title == "" && content == "" {
			continue
		}
		block := title + ": " + content
		if triggers := nonBlank(c.Triggers); len(triggers) > 0 {
			block += "\nTriggers: " + strings.Join(triggers, ", ")
		}
		blocks = append(blocks, block)
	}
	return strings.Join(blocks, "\n\n")
}

func nonBlank(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SystemPrompt renders the role, instructions, world and plot memory.
func (p Payload) SystemPrompt() string {
	b := llm.NewSystemPromptBuilder().
		AddRole(llm.DefaultNarratorPrompt()).
		AddInstructions(p.Instructions).
		AddWorld(p.World)
	if p.Mode == MemoryPlot {
		b.AddMemory(p.plotMemory())
	}
	return b.Build()
}

func (p Payload) plotMemory() string {
	blocks := make([]string, 0, len(p.Memory))
	for _, item := range p.Memory {
		blocks = append(blocks, item.text())
	}
	return strings.Join(blocks, "\n\n")
}

// ChatMessages renders the payload as provider messages: the system prompt,
// then the kept history in history mode.
func (p Payload) ChatMessages() []llm.ChatMessage {
	msgs := []llm.ChatMessage{llm.NewSystemMessage(p.SystemPrompt())}
	if p.Mode != MemoryHistory {
		return msgs
	}
	for _, item := range p.Memory {
		switch item.Role {
		case types.RoleUser:
			msgs = append(msgs, llm.NewUserMessage(item.Content))
		case types.RoleAssistant:
			msgs = append(msgs, llm.NewAssistantMessage(item.Content))
		}
	}
	return msgs
}
