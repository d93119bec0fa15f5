package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/azyu/talemind/internal/activation"
	"github.com/azyu/talemind/internal/budget"
	"github.com/azyu/talemind/internal/cardlog"
	"github.com/azyu/talemind/internal/logging"
	"github.com/azyu/talemind/internal/metrics"
	"github.com/azyu/talemind/internal/narrator"
	"github.com/azyu/talemind/internal/task"
	"github.com/azyu/talemind/pkg/types"
)

// narrativeKey is the task key of the single narrative generation a session
// may run.
const narrativeKey = "narrative"

// DefaultGracePeriod is how long a session waits after a cancelled generation
// before trusting persisted state.
const DefaultGracePeriod = 1500 * time.Millisecond

var (
	// ErrBusy is returned when undo or redo is requested while a reply streams.
	ErrBusy = errors.New("generation in progress")
	// ErrNoGenerator is returned by Send and Reroll on a read-only session.
	ErrNoGenerator = errors.New("session has no generator")
)

// CardStore is the card storage a session reads and reconciles with.
type CardStore interface {
	GetGame(ctx context.Context, gameID int64) (types.Game, error)
	ListMessages(ctx context.Context, gameID int64) ([]types.Message, error)
	ListInstructionCards(ctx context.Context, gameID int64) ([]types.InstructionCard, error)
	ListPlotCards(ctx context.Context, gameID int64) ([]types.PlotCard, error)
	ListWorldCards(ctx context.Context, gameID int64) ([]types.WorldCard, error)
	ListPlotEvents(ctx context.Context, gameID int64) ([]cardlog.Event[types.PlotCard], error)
	ListWorldEvents(ctx context.Context, gameID int64) ([]cardlog.Event[types.WorldCard], error)
	UndoneEventIDs(ctx context.Context, gameID int64) (map[int64]bool, error)

	AddInstructionCard(ctx context.Context, gameID int64, card types.InstructionCard) (types.InstructionCard, error)
	UpdateInstructionCard(ctx context.Context, gameID int64, card types.InstructionCard) error
	DeleteInstructionCard(ctx context.Context, gameID, cardID int64) error
	AddPlotCard(ctx context.Context, gameID int64, card types.PlotCard) (types.PlotCard, error)
	UpdatePlotCard(ctx context.Context, gameID int64, card types.PlotCard) error
	DeletePlotCard(ctx context.Context, gameID, cardID int64) error
	AddWorldCard(ctx context.Context, gameID int64, card types.WorldCard) (types.WorldCard, error)
	UpdateWorldCard(ctx context.Context, gameID int64, card types.WorldCard) error
	DeleteWorldCard(ctx context.Context, gameID, cardID int64) error

	UndoPlotEvent(ctx context.Context, eventID int64) ([]types.PlotCard, error)
	UndoWorldEvent(ctx context.Context, eventID int64) ([]types.WorldCard, error)
	RedoPlotEvent(ctx context.Context, eventID int64) ([]types.PlotCard, error)
	RedoWorldEvent(ctx context.Context, eventID int64) ([]types.WorldCard, error)
}

// Config tunes a session.
type Config struct {
	GracePeriod time.Duration
	// Narrator configures context assembly for Usage.
	Narrator narrator.Config
	// IllustrationModel is passed to the illustrator.
	IllustrationModel string
}

// Session is one open game. Its state is replaced wholesale on every update,
// so readers always see a consistent snapshot.
type Session struct {
	gameID int64
	store  CardStore
	gen    narrator.Generator
	illus  *task.Illustrations
	tasks  *task.Registry
	cfg    Config

	mu    sync.Mutex
	state State
	// stale is set when a cancelled generation may still be writing.
	stale bool
}

// Open loads a game into a new session. illus may be nil when illustrations
// are not configured, and gen may be nil for a session that only reads and
// edits cards.
func Open(ctx context.Context, gameID int64, store CardStore, gen narrator.Generator, illus *task.Illustrations, cfg Config) (*Session, error) {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	s := &Session{
		gameID: gameID,
		store:  store,
		gen:    gen,
		illus:  illus,
		tasks:  task.NewRegistry(narrativeKey),
		cfg:    cfg,
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// GameID returns the id of the session's game.
func (s *Session) GameID() int64 {
	return s.gameID
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) swap(fn func(State) State) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = fn(s.state)
	return s.state
}

// Reload replaces the state with what the store holds. Dismissals and
// illustrations are presentation state and survive.
func (s *Session) Reload(ctx context.Context) error {
	loaded, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.swap(func(cur State) State {
		loaded.Dismissed = cur.Dismissed
		loaded.Illustrations = cur.Illustrations
		loaded.lastTentative = cur.lastTentative
		return loaded
	})
	s.mu.Lock()
	s.stale = false
	s.mu.Unlock()
	return nil
}

func (s *Session) load(ctx context.Context) (State, error) {
	var (
		st  State
		err error
	)
	if st.Game, err = s.store.GetGame(ctx, s.gameID); err != nil {
		return st, fmt.Errorf("load game: %w", err)
	}
	if st.Messages, err = s.store.ListMessages(ctx, s.gameID); err != nil {
		return st, fmt.Errorf("load messages: %w", err)
	}
	if st.Instructions, err = s.store.ListInstructionCards(ctx, s.gameID); err != nil {
		return st, fmt.Errorf("load instruction cards: %w", err)
	}
	if st.Plots, err = s.store.ListPlotCards(ctx, s.gameID); err != nil {
		return st, fmt.Errorf("load plot cards: %w", err)
	}
	if st.World, err = s.store.ListWorldCards(ctx, s.gameID); err != nil {
		return st, fmt.Errorf("load world cards: %w", err)
	}
	if st.PlotEvents, err = s.store.ListPlotEvents(ctx, s.gameID); err != nil {
		return st, fmt.Errorf("load plot events: %w", err)
	}
	if st.WorldEvents, err = s.store.ListWorldEvents(ctx, s.gameID); err != nil {
		return st, fmt.Errorf("load world events: %w", err)
	}
	if st.Undone, err = s.store.UndoneEventIDs(ctx, s.gameID); err != nil {
		return st, fmt.Errorf("load undone events: %w", err)
	}
	st.Messages = types.AssignTurns(types.SortMessages(st.Messages))
	return st, nil
}

// Observer receives every stream event after it was applied to the state.
type Observer func(narrator.Event, State)

// Send answers content with a new assistant reply and blocks until the
// generation ends. Any generation already running is cancelled first. The
// returned error is a *narrator.GenerationError for stream failures.
func (s *Session) Send(ctx context.Context, content string, observe Observer) error {
	return s.generate(ctx, narrator.Request{GameID: s.gameID, Content: content}, observe)
}

// Reroll replaces an assistant reply with a new one. The reply's card events
// are rolled back first.
func (s *Session) Reroll(ctx context.Context, assistantMessageID int64, observe Observer) error {
	return s.generate(ctx, narrator.Request{GameID: s.gameID, RerollMessageID: assistantMessageID}, observe)
}

// Cancel stops the running generation. Text streamed so far stays.
func (s *Session) Cancel() bool {
	return s.tasks.Cancel(narrativeKey)
}

// Generating reports whether a reply is streaming.
func (s *Session) Generating() bool {
	_, ok := s.tasks.Active(narrativeKey)
	return ok
}

func (s *Session) generate(ctx context.Context, req narrator.Request, observe Observer) error {
	if s.gen == nil {
		return ErrNoGenerator
	}
	ctx = logging.WithContext(ctx, logging.GameIDKey, s.gameID)
	ctx = logging.WithContext(ctx, logging.TaskKey, narrativeKey)

	if err := s.settle(ctx); err != nil {
		return err
	}
	tok := s.tasks.Start(ctx, narrativeKey, 0)
	defer s.tasks.Finish(tok)

	pre := s.State()
	if req.Reroll() {
		if _, ok := pre.Message(req.RerollMessageID); !ok {
			return fmt.Errorf("message %d: %w", req.RerollMessageID, narrator.ErrNotAssistantMessage)
		}
		s.swap(func(st State) State { return st.WithTentativeReroll(req.RerollMessageID) })
	} else {
		s.swap(func(st State) State { return st.WithTentativeTurn(req.Content) })
	}

	events, err := s.gen.Generate(tok.Context(), req)
	if err != nil {
		s.restore(pre)
		return err
	}

	// A newer generation owns the state once it registered. A plain Cancel
	// leaves no live token and the stream is still applied.
	superseded := func() bool {
		cur, ok := s.tasks.Active(narrativeKey)
		return ok && cur != tok
	}

	var genErr *narrator.GenerationError
	for ev := range events {
		if superseded() {
			continue
		}
		if ev.Kind == narrator.EventError {
			genErr = ev.Err
			continue
		}
		st := s.swap(func(st State) State { return st.ApplyEvent(ev) })
		if observe != nil {
			observe(ev, st)
		}
	}

	if superseded() {
		return narrator.Cancelled(context.Canceled)
	}
	if genErr == nil {
		return nil
	}

	if genErr.Kind == narrator.KindCancelled {
		s.swap(State.WithoutTentative)
		s.mu.Lock()
		s.stale = true
		s.mu.Unlock()
	} else {
		s.restore(pre)
	}
	if observe != nil {
		observe(narrator.Event{Kind: narrator.EventError, Err: genErr}, s.State())
	}
	return genErr
}

// settle waits out the grace period after a cancelled generation and
// reloads, so state written by the cancelled run is picked up.
func (s *Session) settle(ctx context.Context) error {
	running := s.Cancel()
	s.mu.Lock()
	stale := s.stale || running
	s.mu.Unlock()
	if !stale {
		return nil
	}

	timer := time.NewTimer(s.cfg.GracePeriod)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return s.Reload(ctx)
}

// restore puts back the state from before an optimistic update. Events the
// store reported since are kept.
func (s *Session) restore(pre State) {
	s.swap(func(cur State) State {
		pre.PlotEvents = cardlog.Merge(pre.PlotEvents, cur.PlotEvents)
		pre.WorldEvents = cardlog.Merge(pre.WorldEvents, cur.WorldEvents)
		pre.Dismissed = cur.Dismissed
		pre.Illustrations = cur.Illustrations
		pre.lastTentative = cur.lastTentative
		pre.Pending = Pending{}
		return pre
	})
}

// UndoTurn rolls back the card events of an assistant reply. The rollback is
// mirrored locally, then the store's card lists replace the local ones.
func (s *Session) UndoTurn(ctx context.Context, assistantMessageID int64) error {
	return s.replayTurn(ctx, assistantMessageID, true)
}

// RedoTurn reapplies the undone card events of an assistant reply.
func (s *Session) RedoTurn(ctx context.Context, assistantMessageID int64) error {
	return s.replayTurn(ctx, assistantMessageID, false)
}

func (s *Session) replayTurn(ctx context.Context, assistantMessageID int64, undo bool) error {
	ctx = logging.WithContext(ctx, logging.GameIDKey, s.gameID)
	ctx = logging.WithContext(ctx, logging.MessageIDKey, assistantMessageID)
	op := "redo"
	if undo {
		op = "undo"
	}
	if s.Generating() {
		return ErrBusy
	}

	pre := s.State()
	var (
		plots   []cardlog.Event[types.PlotCard]
		world   []cardlog.Event[types.WorldCard]
		skipped []int64
	)
	if undo {
		plots, world = pre.TurnEvents(assistantMessageID)
		s.swap(func(st State) State {
			st, skipped = st.rollback(plots, world)
			return st
		})
	} else {
		plots, world = pre.UndoneEvents(assistantMessageID)
		s.swap(func(st State) State {
			st, skipped = st.reapply(plots, world)
			return st
		})
	}
	if len(plots)+len(world) == 0 {
		return nil
	}
	if len(skipped) > 0 {
		logging.Warn(ctx, "card events without snapshot skipped", "op", op, "event_ids", skipped)
	}

	plotCards, worldCards, err := s.replayRemote(ctx, plots, world, undo)
	if err != nil {
		s.restore(pre)
		metrics.CardUndoTotal.WithLabelValues(op, "failed").Inc()
		return err
	}
	s.swap(func(st State) State {
		if plotCards != nil {
			st.Plots = *plotCards
		}
		if worldCards != nil {
			st.World = *worldCards
		}
		return st
	})
	metrics.CardUndoTotal.WithLabelValues(op, "completed").Inc()
	return nil
}

// replayRemote runs the events through the store, newest first for undo and
// oldest first for redo. It returns the last authoritative list per family.
func (s *Session) replayRemote(ctx context.Context, plots []cardlog.Event[types.PlotCard], world []cardlog.Event[types.WorldCard], undo bool) (*[]types.PlotCard, *[]types.WorldCard, error) {
	var (
		plotCards  *[]types.PlotCard
		worldCards *[]types.WorldCard
	)
	plotIDs, worldIDs := eventIDs(plots), eventIDs(world)
	replayPlot, replayWorld := s.store.RedoPlotEvent, s.store.RedoWorldEvent
	if undo {
		slices.Reverse(plotIDs)
		slices.Reverse(worldIDs)
		replayPlot, replayWorld = s.store.UndoPlotEvent, s.store.UndoWorldEvent
	}

	for _, id := range plotIDs {
		cards, err := replayPlot(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("plot event %d: %w", id, err)
		}
		plotCards = &cards
	}
	for _, id := range worldIDs {
		cards, err := replayWorld(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("world event %d: %w", id, err)
		}
		worldCards = &cards
	}
	return plotCards, worldCards, nil
}

// Dismiss hides card events. It never changes cards.
func (s *Session) Dismiss(eventIDs ...int64) {
	s.swap(func(st State) State { return st.Dismiss(eventIDs...) })
}

// Statuses returns the activation label of every world card.
func (s *Session) Statuses() map[int64]string {
	st := s.State()
	res := activation.Evaluate(st.Messages, st.World)
	out := make(map[int64]string, len(res.Statuses))
	for id, status := range res.Statuses {
		out[id] = status.Label()
	}
	return out
}

// Usage returns the context budget breakdown the next turn would use.
func (s *Session) Usage() budget.Usage {
	return s.Assembly().Payload.Usage
}

// Assembly returns the context the next turn would send.
func (s *Session) Assembly() narrator.Assembly {
	st := s.State()
	return narrator.Assemble(narrator.Snapshot{
		Game:         st.Game,
		Messages:     st.Messages,
		Instructions: st.Instructions,
		Plots:        st.Plots,
		World:        st.World,
	}, s.cfg.Narrator)
}

// ActiveWorld returns the world cards active at turn.
func (s *Session) ActiveWorld(turn int) []types.WorldCard {
	st := s.State()
	return activation.ActiveCards(st.Messages, st.World, turn)
}

// ErrNoIllustrator is returned when the session has no illustrator.
var ErrNoIllustrator = errors.New("illustrations are not configured")

// Illustrate requests an illustration for an assistant reply. A newer request
// for the same reply supersedes this one. done, when set, receives the result.
func (s *Session) Illustrate(ctx context.Context, assistantMessageID int64, prompt string, done func(task.IllustrationResult)) error {
	if s.illus == nil {
		return ErrNoIllustrator
	}
	if msg, ok := s.State().Message(assistantMessageID); !ok || msg.Role != types.RoleAssistant {
		return fmt.Errorf("message %d: %w", assistantMessageID, narrator.ErrNotAssistantMessage)
	}
	s.illus.Request(ctx, task.IllustrationRequest{
		AssistantMessageID: assistantMessageID,
		Model:              s.cfg.IllustrationModel,
		Prompt:             prompt,
	}, func(res task.IllustrationResult) {
		if res.Err == nil {
			s.swap(func(st State) State { return st.WithIllustration(res.AssistantMessageID, res.URL) })
		}
		if done != nil {
			done(res)
		}
	})
	return nil
}

// Close cancels running work. The session must not be used afterwards.
func (s *Session) Close() error {
	s.tasks.CancelAll()
	return nil
}
