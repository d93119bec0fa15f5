// Package session holds the client-side view of one game: the transcript,
// cards and card events, updated optimistically and reconciled with the store.
package session

import (
	"maps"
	"slices"

	"github.com/azyu/talemind/internal/cardlog"
	"github.com/azyu/talemind/internal/narrator"
	"github.com/azyu/talemind/pkg/types"
)

// Pending tracks the tentative ids of an unconfirmed turn. A zero id means
// that side has no tentative entry.
type Pending struct {
	UserID      int64
	AssistantID int64
}

// State is an immutable snapshot of a game. Every update returns a new State;
// slices and maps of a State are never written after it is built.
type State struct {
	Game         types.Game
	Messages     []types.Message
	Instructions []types.InstructionCard
	Plots        []types.PlotCard
	World        []types.WorldCard
	PlotEvents   []cardlog.Event[types.PlotCard]
	WorldEvents  []cardlog.Event[types.WorldCard]
	// Undone holds ids of events rolled back by an undo.
	Undone map[int64]bool
	// Dismissed holds ids of events the user hid.
	Dismissed map[int64]bool
	// Illustrations maps assistant message ids to image URLs.
	Illustrations map[int64]string
	Pending       Pending

	lastTentative int64
}

// Message returns the message with id.
func (s State) Message(id int64) (types.Message, bool) {
	i := s.messageIndex(id)
	if i < 0 {
		return types.Message{}, false
	}
	return s.Messages[i], true
}

func (s State) messageIndex(id int64) int {
	return slices.IndexFunc(s.Messages, func(m types.Message) bool { return m.ID == id })
}

func (s State) nextTentative() (State, int64) {
	s.lastTentative--
	return s, s.lastTentative
}

// WithTentativeTurn appends a tentative user message and an empty tentative
// assistant reply.
func (s State) WithTentativeTurn(content string) State {
	s, userID := s.nextTentative()
	s, assistantID := s.nextTentative()
	s.Messages = append(slices.Clone(s.Messages),
		types.Message{ID: userID, Role: types.RoleUser, Content: content},
		types.Message{ID: assistantID, Role: types.RoleAssistant},
	)
	s.Messages = types.AssignTurns(s.Messages)
	s.Pending = Pending{UserID: userID, AssistantID: assistantID}
	return s
}

// WithTentativeReroll mirrors a reroll: the reply's events are rolled back,
// the reply is removed and a tentative placeholder takes its place.
func (s State) WithTentativeReroll(assistantID int64) State {
	s = s.rollbackMessage(assistantID)
	s = s.WithoutMessages(assistantID)
	s, placeholder := s.nextTentative()
	s.Messages = types.AssignTurns(append(slices.Clone(s.Messages),
		types.Message{ID: placeholder, Role: types.RoleAssistant}))
	s.Pending = Pending{AssistantID: placeholder}
	return s
}

// WithoutMessages drops messages by id.
func (s State) WithoutMessages(ids ...int64) State {
	s.Messages = types.AssignTurns(slices.DeleteFunc(slices.Clone(s.Messages), func(m types.Message) bool {
		return slices.Contains(ids, m.ID)
	}))
	return s
}

// WithoutTentative drops every unconfirmed message and clears Pending.
func (s State) WithoutTentative() State {
	s.Messages = types.AssignTurns(slices.DeleteFunc(slices.Clone(s.Messages), types.Message.Tentative))
	s.Pending = Pending{}
	return s
}

// ApplyEvent folds one stream event into the state. Events are located by
// message id, never by list position; events for unknown ids are ignored.
func (s State) ApplyEvent(ev narrator.Event) State {
	switch ev.Kind {
	case narrator.EventStart:
		if ev.Start == nil {
			return s
		}
		s.Messages = slices.Clone(s.Messages)
		if ev.Start.UserMessageID != nil && s.Pending.UserID != 0 {
			s.confirm(s.Pending.UserID, *ev.Start.UserMessageID)
		}
		if s.Pending.AssistantID != 0 {
			s.confirm(s.Pending.AssistantID, ev.Start.AssistantMessageID)
		}
		s.Messages = types.AssignTurns(s.Messages)
		s.Pending = Pending{}

	case narrator.EventChunk:
		if ev.Chunk == nil {
			return s
		}
		i := s.messageIndex(ev.Chunk.AssistantMessageID)
		if i < 0 {
			return s
		}
		s.Messages = slices.Clone(s.Messages)
		s.Messages[i].Content += ev.Chunk.Delta

	case narrator.EventDone:
		if ev.Done == nil {
			return s
		}
		final := ev.Done.FinalMessage
		s.Messages = slices.Clone(s.Messages)
		if i := s.messageIndex(final.ID); i >= 0 {
			final.Turn = s.Messages[i].Turn
			s.Messages[i] = final
		} else {
			s.Messages = types.AssignTurns(append(s.Messages, final))
		}
		s = s.withPlotEvents(ev.Done.PlotEvents)
		s = s.withWorldEvents(ev.Done.WorldEvents)
	}
	return s
}

// confirm replaces the tentative id with the confirmed one. s.Messages must
// already be a private copy.
func (s State) confirm(tentative, confirmed int64) {
	if i := s.messageIndex(tentative); i >= 0 {
		s.Messages[i].ID = confirmed
	}
}

// withPlotEvents merges new events into the log and applies them to cards.
func (s State) withPlotEvents(events []cardlog.Event[types.PlotCard]) State {
	if len(events) == 0 {
		return s
	}
	s.PlotEvents = cardlog.Merge(s.PlotEvents, events)
	s.Plots = cardlog.Reapply(s.Plots, events)
	return s
}

func (s State) withWorldEvents(events []cardlog.Event[types.WorldCard]) State {
	if len(events) == 0 {
		return s
	}
	s.WorldEvents = cardlog.Merge(s.WorldEvents, events)
	s.World = cardlog.Reapply(s.World, events)
	return s
}

// TurnEvents returns the events of an assistant message that are not undone.
func (s State) TurnEvents(assistantID int64) ([]cardlog.Event[types.PlotCard], []cardlog.Event[types.WorldCard]) {
	return live(s.PlotEvents, s.Undone, assistantID), live(s.WorldEvents, s.Undone, assistantID)
}

// UndoneEvents returns the undone events of an assistant message.
func (s State) UndoneEvents(assistantID int64) ([]cardlog.Event[types.PlotCard], []cardlog.Event[types.WorldCard]) {
	return undone(s.PlotEvents, s.Undone, assistantID), undone(s.WorldEvents, s.Undone, assistantID)
}

func live[C cardlog.Card](events []cardlog.Event[C], undoneIDs map[int64]bool, assistantID int64) []cardlog.Event[C] {
	return cardlog.Visible(cardlog.ForMessage(events, assistantID), undoneIDs)
}

func undone[C cardlog.Card](events []cardlog.Event[C], undoneIDs map[int64]bool, assistantID int64) []cardlog.Event[C] {
	var out []cardlog.Event[C]
	for _, ev := range cardlog.ForMessage(events, assistantID) {
		if undoneIDs[ev.ID] {
			out = append(out, ev)
		}
	}
	return out
}

// rollbackMessage undoes an assistant message's live events locally.
func (s State) rollbackMessage(assistantID int64) State {
	s, _ = s.rollback(s.TurnEvents(assistantID))
	return s
}

// rollback undoes events locally and reports events skipped for a missing
// snapshot.
func (s State) rollback(plots []cardlog.Event[types.PlotCard], world []cardlog.Event[types.WorldCard]) (State, []int64) {
	if len(plots)+len(world) == 0 {
		return s, nil
	}
	var plotRep, worldRep cardlog.Report
	s.Plots, plotRep = cardlog.RollbackReport(s.Plots, plots)
	s.World, worldRep = cardlog.RollbackReport(s.World, world)
	s.Undone = withIDs(s.Undone, true, eventIDs(plots), eventIDs(world))
	return s, append(plotRep.Skipped, worldRep.Skipped...)
}

// reapply redoes events locally and reports events skipped for a missing
// snapshot.
func (s State) reapply(plots []cardlog.Event[types.PlotCard], world []cardlog.Event[types.WorldCard]) (State, []int64) {
	if len(plots)+len(world) == 0 {
		return s, nil
	}
	var plotRep, worldRep cardlog.Report
	s.Plots, plotRep = cardlog.ReapplyReport(s.Plots, plots)
	s.World, worldRep = cardlog.ReapplyReport(s.World, world)
	s.Undone = withIDs(s.Undone, false, eventIDs(plots), eventIDs(world))
	return s, append(plotRep.Skipped, worldRep.Skipped...)
}

// Dismiss hides events from VisiblePlotEvents and VisibleWorldEvents.
func (s State) Dismiss(ids ...int64) State {
	s.Dismissed = withIDs(s.Dismissed, true, ids)
	return s
}

// VisiblePlotEvents returns the plot events the user has not dismissed.
func (s State) VisiblePlotEvents() []cardlog.Event[types.PlotCard] {
	return cardlog.Visible(s.PlotEvents, s.Dismissed)
}

// VisibleWorldEvents returns the world events the user has not dismissed.
func (s State) VisibleWorldEvents() []cardlog.Event[types.WorldCard] {
	return cardlog.Visible(s.WorldEvents, s.Dismissed)
}

// WithIllustration records an illustration URL for a message.
func (s State) WithIllustration(assistantID int64, url string) State {
	s.Illustrations = maps.Clone(s.Illustrations)
	if s.Illustrations == nil {
		s.Illustrations = make(map[int64]string)
	}
	s.Illustrations[assistantID] = url
	return s
}

// withIDs returns a copy of set with ids added, or removed when on is false.
func withIDs(set map[int64]bool, on bool, groups ...[]int64) map[int64]bool {
	out := maps.Clone(set)
	if out == nil {
		out = make(map[int64]bool)
	}
	for _, ids := range groups {
		for _, id := range ids {
			if on {
				out[id] = true
			} else {
				delete(out, id)
			}
		}
	}
	return out
}

func eventIDs[C cardlog.Card](events []cardlog.Event[C]) []int64 {
	ids := make([]int64, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	return ids
}
