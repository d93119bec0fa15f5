// Package activation replays turn history through the trigger matcher to
// decide which world cards are currently in scene.
//
// Everything here is a pure function of (messages, cards). Nothing is cached
// between calls, so the result cannot drift from the stored transcript.
package activation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/azyu/talemind/internal/trigger"
	"github.com/azyu/talemind/pkg/types"
)

// Turn is one user or assistant message reduced to its turn index and tokens.
type Turn struct {
	Index  int
	Tokens trigger.Tokens
}

// Status is the activation state of one world card at the current turn.
type Status struct {
	CardID            int64
	Active            bool
	AlwaysActive      bool
	LastMatchTurn     int // 0 when never matched
	TurnsRemaining    int
	TriggeredThisTurn bool
}

// Label renders the status for display.
func (s Status) Label() string {
	switch {
	case s.AlwaysActive:
		return "always active"
	case s.TriggeredThisTurn:
		return "triggered this turn"
	case s.Active:
		if s.TurnsRemaining == 1 {
			return "active · 1 turn left"
		}
		return fmt.Sprintf("active · %d turns left", s.TurnsRemaining)
	default:
		return "inactive"
	}
}

// Result is the evaluation of every world card against the transcript.
type Result struct {
	CurrentTurn int
	Statuses    map[int64]Status
}

// Status returns the status of the card with the given id.
func (r Result) Status(cardID int64) (Status, bool) {
	s, ok := r.Statuses[cardID]
	return s, ok
}

// BuildTurns turns messages into per-message turn entries. Messages are
// ordered by ID and get derived turn indices; text before the first user
// message (turn 0) is skipped.
func BuildTurns(messages []types.Message) []Turn {
	ordered := types.AssignTurns(types.SortMessages(messages))

	turns := make([]Turn, 0, len(ordered))
	for _, msg := range ordered {
		if msg.Turn == 0 {
			continue
		}
		if msg.Role != types.RoleUser && msg.Role != types.RoleAssistant {
			continue
		}
		turns = append(turns, Turn{Index: msg.Turn, Tokens: trigger.Tokenize(msg.Content)})
	}
	return turns
}

// CurrentTurn is the highest turn index in turns, or 0.
func CurrentTurn(turns []Turn) int {
	current := 0
	for _, t := range turns {
		if t.Index > current {
			current = t.Index
		}
	}
	return current
}

// EffectiveTriggers returns the card's explicit triggers followed by its title,
// de-duplicated case-insensitively. Blank entries are dropped.
func EffectiveTriggers(card types.WorldCard) []string {
	seen := make(map[string]bool, len(card.Triggers)+1)
	out := make([]string, 0, len(card.Triggers)+1)
	for _, t := range append(append([]string(nil), card.Triggers...), card.Title) {
		key := types.NormalizeTitle(t)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(t))
	}
	return out
}

// AlwaysActive reports whether the card is exempt from decay.
func AlwaysActive(card types.WorldCard) bool {
	return card.Kind == types.KindMainHero || card.MemoryTurns == nil
}

// LastMatch returns the latest turn index at which any effective trigger of
// card matched, or 0 when none did.
func LastMatch(card types.WorldCard, turns []Turn) int {
	compiled := make([]trigger.Trigger, 0, len(card.Triggers)+1)
	for _, t := range EffectiveTriggers(card) {
		if c := trigger.Compile(t); !c.Empty() {
			compiled = append(compiled, c)
		}
	}
	if len(compiled) == 0 {
		return 0
	}

	last := 0
	for _, turn := range turns {
		if turn.Index <= last {
			continue
		}
		for _, c := range compiled {
			if c.Matches(turn.Tokens) {
				last = turn.Index
				break
			}
		}
	}
	return last
}

// StatusAt applies the decay rule to a card whose last match was at lastMatch
// (0 for never) when the story is at currentTurn.
func StatusAt(card types.WorldCard, lastMatch, currentTurn int) Status {
	s := Status{CardID: card.ID, LastMatchTurn: lastMatch}
	if AlwaysActive(card) {
		s.Active = true
		s.AlwaysActive = true
		return s
	}
	if lastMatch <= 0 {
		return s
	}

	memory := *card.MemoryTurns
	elapsed := currentTurn - lastMatch
	s.Active = elapsed >= 0 && elapsed <= memory
	s.TurnsRemaining = max(memory-elapsed, 0)
	s.TriggeredThisTurn = elapsed == 0
	return s
}

// Evaluate computes the status of every card at the latest turn of messages.
func Evaluate(messages []types.Message, cards []types.WorldCard) Result {
	turns := BuildTurns(messages)
	return evaluate(turns, CurrentTurn(turns), cards)
}

// EvaluateAt computes statuses considering only turns up to and including
// turn, with turn as the current turn.
func EvaluateAt(messages []types.Message, cards []types.WorldCard, turn int) Result {
	all := BuildTurns(messages)
	turns := all[:0:0]
	for _, t := range all {
		if t.Index <= turn {
			turns = append(turns, t)
		}
	}
	return evaluate(turns, turn, cards)
}

func evaluate(turns []Turn, current int, cards []types.WorldCard) Result {
	res := Result{CurrentTurn: current, Statuses: make(map[int64]Status, len(cards))}
	for _, card := range cards {
		last := 0
		if !AlwaysActive(card) {
			last = LastMatch(card, turns)
		}
		res.Statuses[card.ID] = StatusAt(card, last, current)
	}
	return res
}

// Active returns the cards marked active in res, in id order.
func Active(res Result, cards []types.WorldCard) []types.WorldCard {
	var out []types.WorldCard
	for _, card := range cards {
		if s, ok := res.Statuses[card.ID]; ok && s.Active {
			out = append(out, card)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveCards returns the cards active at turn.
func ActiveCards(messages []types.Message, cards []types.WorldCard, turn int) []types.WorldCard {
	return Active(EvaluateAt(messages, cards, turn), cards)
}
