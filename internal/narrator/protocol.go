// Package narrator drives narrative generation and defines the event stream
// a generation produces.
package narrator

import (
	"context"

	"github.com/azyu/talemind/internal/cardlog"
	"github.com/azyu/talemind/pkg/types"
)

// EventKind tags a stream event.
type EventKind string

const (
	EventStart EventKind = "start"
	EventChunk EventKind = "chunk"
	EventDone  EventKind = "done"
	EventError EventKind = "error"
)

// StartEvent confirms the ids the store assigned. UserMessageID is nil on a
// reroll, which reuses the existing user message.
type StartEvent struct {
	AssistantMessageID int64  `json:"assistant_message_id"`
	UserMessageID      *int64 `json:"user_message_id"`
}

// ChunkEvent appends text to an assistant message.
type ChunkEvent struct {
	AssistantMessageID int64  `json:"assistant_message_id"`
	Delta              string `json:"delta_text"`
}

// DoneEvent carries the committed reply and the card events it caused.
type DoneEvent struct {
	FinalMessage       types.Message                    `json:"final_message"`
	AmbientProfile     *string                          `json:"ambient_profile,omitempty"`
	PostprocessPending bool                             `json:"postprocess_pending,omitempty"`
	UserBalance        *int64                           `json:"updated_user_balance,omitempty"`
	PlotEvents         []cardlog.Event[types.PlotCard]  `json:"plot_events,omitempty"`
	WorldEvents        []cardlog.Event[types.WorldCard] `json:"world_events,omitempty"`
}

// Event is one element of a generation stream. Exactly one payload matching
// Kind is set. An error event is always the last one.
type Event struct {
	Kind  EventKind
	Start *StartEvent
	Chunk *ChunkEvent
	Done  *DoneEvent
	Err   *GenerationError
}

// Request asks for the next assistant reply in a game.
type Request struct {
	GameID  int64
	Content string
	// RerollMessageID replaces that assistant message instead of answering a
	// new user message. Content is ignored.
	RerollMessageID int64
}

// Reroll reports whether the request regenerates an existing reply.
func (r Request) Reroll() bool {
	return r.RerollMessageID > 0
}

// Generator produces a stream of events for one request. The channel is
// closed after a done or error event. Cancelling ctx ends the stream with an
// ErrCancelled error event.
type Generator interface {
	Generate(ctx context.Context, req Request) (<-chan Event, error)
}

func startEvent(assistantID int64, userID *int64) Event {
	return Event{Kind: EventStart, Start: &StartEvent{AssistantMessageID: assistantID, UserMessageID: userID}}
}

func chunkEvent(assistantID int64, delta string) Event {
	return Event{Kind: EventChunk, Chunk: &ChunkEvent{AssistantMessageID: assistantID, Delta: delta}}
}

func errorEvent(err error) Event {
	return Event{Kind: EventError, Err: Classify(err)}
}
