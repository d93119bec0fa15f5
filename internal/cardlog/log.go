// Package cardlog records automatic card mutations per assistant turn and
// replays them backwards (undo) or forwards (redo).
//
// Card lists are treated as values: every operation returns a new slice and
// never modifies its input.
package cardlog

import (
	"sort"
)

// Action is the kind of mutation an event records.
type Action string

const (
	Added   Action = "added"
	Updated Action = "updated"
	Deleted Action = "deleted"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case Added, Updated, Deleted:
		return true
	}
	return false
}

// Card is anything with a stable id.
type Card interface {
	CardID() int64
}

// Event is one card mutation caused by an assistant message. Added events
// carry no Before snapshot and deleted events no After snapshot.
type Event[C Card] struct {
	ID                 int64  `json:"id"`
	AssistantMessageID int64  `json:"assistant_message_id"`
	CardID             int64  `json:"card_id"`
	Action             Action `json:"action"`
	Before             *C     `json:"before_snapshot,omitempty"`
	After              *C     `json:"after_snapshot,omitempty"`
}

// Report lists events that could not be applied because a required snapshot was missing.
type Report struct {
	Skipped []int64
}

// Rollback undoes events on cards. Events are processed in descending id
// order: added cards are removed, updated and deleted cards get their Before
// snapshot back.
func Rollback[C Card](cards []C, events []Event[C]) []C {
	out, _ := RollbackReport(cards, events)
	return out
}

// RollbackReport is Rollback that also reports skipped events.
func RollbackReport[C Card](cards []C, events []Event[C]) ([]C, Report) {
	out := append([]C(nil), cards...)
	var rep Report
	for _, ev := range sorted(events, true) {
		switch ev.Action {
		case Added:
			out = remove(out, ev.CardID)
		case Updated, Deleted:
			if ev.Before == nil {
				rep.Skipped = append(rep.Skipped, ev.ID)
				continue
			}
			out = upsert(out, *ev.Before)
		default:
			rep.Skipped = append(rep.Skipped, ev.ID)
		}
	}
	return out, rep
}

// Reapply replays events on cards in ascending id order: deleted cards are
// removed, added and updated cards are set to their After snapshot.
func Reapply[C Card](cards []C, events []Event[C]) []C {
	out, _ := ReapplyReport(cards, events)
	return out
}

// ReapplyReport is Reapply that also reports skipped events.
func ReapplyReport[C Card](cards []C, events []Event[C]) ([]C, Report) {
	out := append([]C(nil), cards...)
	var rep Report
	for _, ev := range sorted(events, false) {
		switch ev.Action {
		case Deleted:
			out = remove(out, ev.CardID)
		case Added, Updated:
			if ev.After == nil {
				rep.Skipped = append(rep.Skipped, ev.ID)
				continue
			}
			out = upsert(out, *ev.After)
		default:
			rep.Skipped = append(rep.Skipped, ev.ID)
		}
	}
	return out, rep
}

// Merge unions two event lists by id. On conflict the event from b wins. The
// result is sorted by ascending id.
func Merge[C Card](a, b []Event[C]) []Event[C] {
	byID := make(map[int64]Event[C], len(a)+len(b))
	for _, ev := range a {
		byID[ev.ID] = ev
	}
	for _, ev := range b {
		byID[ev.ID] = ev
	}

	out := make([]Event[C], 0, len(byID))
	for _, ev := range byID {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForMessage returns the events caused by one assistant message, ascending.
func ForMessage[C Card](events []Event[C], assistantMessageID int64) []Event[C] {
	var out []Event[C]
	for _, ev := range events {
		if ev.AssistantMessageID == assistantMessageID {
			out = append(out, ev)
		}
	}
	return sorted(out, false)
}

// History returns the events touching one card, ascending.
func History[C Card](events []Event[C], cardID int64) []Event[C] {
	var out []Event[C]
	for _, ev := range events {
		if ev.CardID == cardID {
			out = append(out, ev)
		}
	}
	return sorted(out, false)
}

// Visible drops events the user has dismissed. Dismissal only hides events.
func Visible[C Card](events []Event[C], dismissed map[int64]bool) []Event[C] {
	if len(dismissed) == 0 {
		return events
	}
	out := make([]Event[C], 0, len(events))
	for _, ev := range events {
		if !dismissed[ev.ID] {
			out = append(out, ev)
		}
	}
	return out
}

func sorted[C Card](events []Event[C], desc bool) []Event[C] {
	out := append([]Event[C](nil), events...)
	sort.SliceStable(out, func(i, j int) bool {
		if desc {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func remove[C Card](cards []C, id int64) []C {
	out := cards[:0:0]
	for _, c := range cards {
		if c.CardID() != id {
			out = append(out, c)
		}
	}
	return out
}

// upsert replaces the card with the same id in place, or inserts it before
// the first card with a higher id.
func upsert[C Card](cards []C, card C) []C {
	id := card.CardID()
	for i, c := range cards {
		if c.CardID() == id {
			out := append([]C(nil), cards...)
			out[i] = card
			return out
		}
	}

	pos := len(cards)
	for i, c := range cards {
		if c.CardID() > id {
			pos = i
			break
		}
	}
	out := make([]C, 0, len(cards)+1)
	out = append(out, cards[:pos]...)
	out = append(out, card)
	return append(out, cards[pos:]...)
}
