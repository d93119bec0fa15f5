package narrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/azyu/talemind/internal/cardlog"
	"github.com/azyu/talemind/internal/llm"
	"github.com/azyu/talemind/internal/logging"
	"github.com/azyu/talemind/internal/metrics"
	"github.com/azyu/talemind/pkg/types"
)

// ErrEmptyInput is returned for a new turn without text.
var ErrEmptyInput = errors.New("empty input")

// ErrNotAssistantMessage is returned when a reroll targets anything but an
// assistant message of the game.
var ErrNotAssistantMessage = errors.New("not an assistant message")

// Store is the persistence a ProviderGenerator writes through.
type Store interface {
	GetGame(ctx context.Context, gameID int64) (types.Game, error)
	ListMessages(ctx context.Context, gameID int64) ([]types.Message, error)
	ListInstructionCards(ctx context.Context, gameID int64) ([]types.InstructionCard, error)
	ListPlotCards(ctx context.Context, gameID int64) ([]types.PlotCard, error)
	ListWorldCards(ctx context.Context, gameID int64) ([]types.WorldCard, error)
	ListPlotEvents(ctx context.Context, gameID int64) ([]cardlog.Event[types.PlotCard], error)
	ListWorldEvents(ctx context.Context, gameID int64) ([]cardlog.Event[types.WorldCard], error)
	UndoneEventIDs(ctx context.Context, gameID int64) (map[int64]bool, error)

	AddMessage(ctx context.Context, gameID int64, role, content string) (types.Message, error)
	UpdateMessageContent(ctx context.Context, messageID int64, content string) error
	DeleteMessage(ctx context.Context, messageID int64) error

	ApplyAIPlotChange(ctx context.Context, gameID, assistantMessageID int64, m llm.CardMutation) (cardlog.Event[types.PlotCard], error)
	ApplyAIWorldChange(ctx context.Context, gameID, assistantMessageID int64, m llm.CardMutation) (cardlog.Event[types.WorldCard], error)
	UndoPlotEvent(ctx context.Context, eventID int64) ([]types.PlotCard, error)
	UndoWorldEvent(ctx context.Context, eventID int64) ([]types.WorldCard, error)
	RedoPlotEvent(ctx context.Context, eventID int64) ([]types.PlotCard, error)
	RedoWorldEvent(ctx context.Context, eventID int64) ([]types.WorldCard, error)
}

// ProviderGenerator generates replies with an LLM provider and keeps cards
// current through the card tools.
type ProviderGenerator struct {
	provider llm.Provider
	store    Store
	cfg      Config
}

// NewProviderGenerator creates a generator.
func NewProviderGenerator(provider llm.Provider, store Store, cfg Config) *ProviderGenerator {
	return &ProviderGenerator{provider: provider, store: store, cfg: cfg}
}

// turn is the work of one generation.
type turn struct {
	req  Request
	snap Snapshot
	// latest is the user input being answered.
	latest string
	// replaced is the assistant message a reroll replaces.
	replaced *types.Message

	userID      *int64
	assistantID int64
	partial     string

	// undone holds the replaced reply's events rolled back for the reroll.
	undonePlot  []cardlog.Event[types.PlotCard]
	undoneWorld []cardlog.Event[types.WorldCard]
}

// Generate validates the request and starts streaming. Callers must drain the
// returned channel.
func (g *ProviderGenerator) Generate(ctx context.Context, req Request) (<-chan Event, error) {
	ctx = logging.WithContext(ctx, logging.GameIDKey, req.GameID)

	t, err := g.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 32)
	go g.run(ctx, t, out)
	return out, nil
}

func (g *ProviderGenerator) prepare(ctx context.Context, req Request) (*turn, error) {
	game, err := g.store.GetGame(ctx, req.GameID)
	if err != nil {
		return nil, fmt.Errorf("load game: %w", err)
	}
	messages, err := g.store.ListMessages(ctx, req.GameID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	t := &turn{req: req, snap: Snapshot{Game: game}}
	if !req.Reroll() {
		if strings.TrimSpace(req.Content) == "" {
			return nil, ErrEmptyInput
		}
		t.snap.Messages = messages
		t.latest = req.Content
		return t, nil
	}

	idx := -1
	for i, msg := range messages {
		if msg.ID == req.RerollMessageID {
			idx = i
			break
		}
	}
	if idx < 0 || messages[idx].Role != types.RoleAssistant {
		return nil, fmt.Errorf("message %d: %w", req.RerollMessageID, ErrNotAssistantMessage)
	}
	replaced := messages[idx]
	t.replaced = &replaced
	t.snap.Messages = messages[:idx]
	for i := idx - 1; i >= 0; i-- {
		if messages[i].Role == types.RoleUser {
			t.latest = messages[i].Content
			break
		}
	}
	return t, nil
}

func (g *ProviderGenerator) run(ctx context.Context, t *turn, out chan<- Event) {
	defer close(out)
	started := time.Now()

	err := g.generate(ctx, t, out)
	if err == nil {
		metrics.GenerationTotal.WithLabelValues("completed").Inc()
		metrics.GenerationDuration.Observe(time.Since(started).Seconds())
		return
	}

	ge := Classify(err)
	if ctx.Err() != nil && ge.Kind == KindFailed {
		ge = Cancelled(err)
	}
	bg := context.WithoutCancel(ctx)
	if ge.Kind == KindCancelled {
		g.keepPartial(bg, t)
	} else {
		g.discard(bg, t)
		logging.Error(ctx, "generation failed", err, "kind", string(ge.Kind))
	}
	metrics.GenerationTotal.WithLabelValues(string(ge.Kind)).Inc()
	out <- errorEvent(ge)
}

func (g *ProviderGenerator) generate(ctx context.Context, t *turn, out chan<- Event) error {
	if !t.req.Reroll() {
		user, err := g.store.AddMessage(ctx, t.req.GameID, types.RoleUser, t.req.Content)
		if err != nil {
			return fmt.Errorf("save user message: %w", err)
		}
		t.userID = &user.ID
		t.snap.Messages = append(t.snap.Messages, user)
	} else if err := g.rollBackReplaced(ctx, t); err != nil {
		return err
	}

	if err := g.loadCards(ctx, t); err != nil {
		return err
	}
	asm := Assemble(t.snap, g.cfg)
	usage := asm.Payload.Usage
	metrics.RecordUsage(usage.Instructions, usage.World, usage.Memory, usage.Overflow)
	if usage.Overflowing() {
		logging.Warn(ctx, "context exceeds limit", "limit", usage.Limit, "overflow", usage.Overflow)
	}

	placeholder, err := g.store.AddMessage(ctx, t.req.GameID, types.RoleAssistant, "")
	if err != nil {
		return fmt.Errorf("save assistant message: %w", err)
	}
	t.assistantID = placeholder.ID
	out <- startEvent(t.assistantID, t.userID)

	req := llm.ChatRequest{
		Messages:    asm.ChatMessages(t.snap.Plots, t.latest),
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	}
	if g.provider.Capabilities().SupportsTools {
		req.Tools, req.ToolChoice = llm.CardTools(), "auto"
	}
	stream, err := g.provider.Stream(ctx, req)
	if err != nil {
		return err
	}

	var (
		content strings.Builder
		calls   llm.ToolCallAccumulator
	)
	for chunk := range stream {
		if chunk.Error != nil {
			err = chunk.Error
			break
		}
		if chunk.Delta != "" {
			content.WriteString(chunk.Delta)
			out <- chunkEvent(t.assistantID, chunk.Delta)
		}
		calls.Add(chunk.ToolCall)
	}
	go drain(stream)

	t.partial = content.String()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Cancelled(ctxErr)
	}
	if err != nil {
		return err
	}

	text := strings.TrimSpace(content.String())
	toolCalls := calls.Calls()
	if text == "" && len(toolCalls) == 0 {
		return Failed(fmt.Errorf("%w: empty response", llm.ErrAPIError))
	}

	// The reply is complete; commit it even if the caller cancels now.
	commit := context.WithoutCancel(ctx)
	done, err := g.commit(commit, t, text, toolCalls)
	if err != nil {
		return err
	}
	out <- Event{Kind: EventDone, Done: done}
	return nil
}

// rollBackReplaced undoes the card events of the reply being rerolled.
func (g *ProviderGenerator) rollBackReplaced(ctx context.Context, t *turn) error {
	undone, err := g.store.UndoneEventIDs(ctx, t.req.GameID)
	if err != nil {
		return fmt.Errorf("load undone events: %w", err)
	}
	plotEvents, err := g.store.ListPlotEvents(ctx, t.req.GameID)
	if err != nil {
		return fmt.Errorf("load plot events: %w", err)
	}
	worldEvents, err := g.store.ListWorldEvents(ctx, t.req.GameID)
	if err != nil {
		return fmt.Errorf("load world events: %w", err)
	}

	plotTurn := cardlog.ForMessage(cardlog.Visible(plotEvents, undone), t.replaced.ID)
	for i := len(plotTurn) - 1; i >= 0; i-- {
		if _, err := g.store.UndoPlotEvent(ctx, plotTurn[i].ID); err != nil {
			return fmt.Errorf("undo plot event %d: %w", plotTurn[i].ID, err)
		}
		t.undonePlot = append(t.undonePlot, plotTurn[i])
	}
	worldTurn := cardlog.ForMessage(cardlog.Visible(worldEvents, undone), t.replaced.ID)
	for i := len(worldTurn) - 1; i >= 0; i-- {
		if _, err := g.store.UndoWorldEvent(ctx, worldTurn[i].ID); err != nil {
			return fmt.Errorf("undo world event %d: %w", worldTurn[i].ID, err)
		}
		t.undoneWorld = append(t.undoneWorld, worldTurn[i])
	}
	return nil
}

func (g *ProviderGenerator) loadCards(ctx context.Context, t *turn) error {
	var err error
	if t.snap.Instructions, err = g.store.ListInstructionCards(ctx, t.req.GameID); err != nil {
		return fmt.Errorf("load instruction cards: %w", err)
	}
	if t.snap.Plots, err = g.store.ListPlotCards(ctx, t.req.GameID); err != nil {
		return fmt.Errorf("load plot cards: %w", err)
	}
	if t.snap.World, err = g.store.ListWorldCards(ctx, t.req.GameID); err != nil {
		return fmt.Errorf("load world cards: %w", err)
	}
	return nil
}

// commit saves the reply, applies requested card changes and builds the done
// event. A refused card change is logged and skipped; it never fails the turn.
func (g *ProviderGenerator) commit(ctx context.Context, t *turn, text string, calls []llm.ToolCall) (*DoneEvent, error) {
	if err := g.store.UpdateMessageContent(ctx, t.assistantID, text); err != nil {
		return nil, fmt.Errorf("save reply: %w", err)
	}

	done := &DoneEvent{
		FinalMessage: types.Message{ID: t.assistantID, Role: types.RoleAssistant, Content: text},
	}

	mutations, parseErrs := llm.ParseCardMutations(calls)
	for _, err := range parseErrs {
		logging.Warn(ctx, "ignoring card tool call", "error", err)
	}
	for _, m := range mutations {
		switch m.Family {
		case llm.FamilyPlot:
			ev, err := g.store.ApplyAIPlotChange(ctx, t.req.GameID, t.assistantID, m)
			if err != nil {
				logging.Warn(ctx, "card change refused", "family", string(m.Family), "op", string(m.Op), "error", err)
				continue
			}
			done.PlotEvents = append(done.PlotEvents, ev)
			metrics.CardEventsTotal.WithLabelValues(string(m.Family), string(ev.Action)).Inc()
		case llm.FamilyWorld:
			ev, err := g.store.ApplyAIWorldChange(ctx, t.req.GameID, t.assistantID, m)
			if err != nil {
				logging.Warn(ctx, "card change refused", "family", string(m.Family), "op", string(m.Op), "error", err)
				continue
			}
			done.WorldEvents = append(done.WorldEvents, ev)
			metrics.CardEventsTotal.WithLabelValues(string(m.Family), string(ev.Action)).Inc()
		}
	}

	if t.replaced != nil {
		if err := g.store.DeleteMessage(ctx, t.replaced.ID); err != nil {
			logging.Warn(ctx, "failed to delete replaced reply", "message_id", t.replaced.ID, "error", err)
		}
	}
	return done, nil
}

// keepPartial stores whatever text arrived before a cancel. A cancel before
// any text arrived leaves nothing behind, like a failure.
func (g *ProviderGenerator) keepPartial(ctx context.Context, t *turn) {
	text := strings.TrimSpace(t.partial)
	if t.assistantID == 0 || text == "" {
		g.discard(ctx, t)
		return
	}
	if err := g.store.UpdateMessageContent(ctx, t.assistantID, text); err != nil {
		logging.Warn(ctx, "failed to save partial reply", "message_id", t.assistantID, "error", err)
	}
	if t.replaced != nil {
		if err := g.store.DeleteMessage(ctx, t.replaced.ID); err != nil {
			logging.Warn(ctx, "failed to delete replaced reply", "message_id", t.replaced.ID, "error", err)
		}
	}
}

// discard removes what a failed turn wrote, and reapplies the replaced
// reply's events after a failed reroll.
func (g *ProviderGenerator) discard(ctx context.Context, t *turn) {
	if t.assistantID != 0 {
		if err := g.store.DeleteMessage(ctx, t.assistantID); err != nil {
			logging.Warn(ctx, "failed to delete reply", "message_id", t.assistantID, "error", err)
		}
	}
	if t.userID != nil {
		if err := g.store.DeleteMessage(ctx, *t.userID); err != nil {
			logging.Warn(ctx, "failed to delete user message", "message_id", *t.userID, "error", err)
		}
	}
	for i := len(t.undonePlot) - 1; i >= 0; i-- {
		if _, err := g.store.RedoPlotEvent(ctx, t.undonePlot[i].ID); err != nil {
			logging.Warn(ctx, "failed to reapply plot event", "event_id", t.undonePlot[i].ID, "error", err)
		}
	}
	for i := len(t.undoneWorld) - 1; i >= 0; i-- {
		if _, err := g.store.RedoWorldEvent(ctx, t.undoneWorld[i].ID); err != nil {
			logging.Warn(ctx, "failed to reapply world event", "event_id", t.undoneWorld[i].ID, "error", err)
		}
	}
}

// drain discards what is left of a provider stream so its goroutine can exit.
func drain(stream <-chan llm.StreamChunk) {
	for range stream {
	}
}

var _ Generator = (*ProviderGenerator)(nil)
