package session

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azyu/talemind/internal/cardlog"
	"github.com/azyu/talemind/internal/narrator"
	"github.com/azyu/talemind/pkg/types"
)

func ptr[T any](v T) *T { return &v }

func baseState() State {
	return State{
		Game: types.Game{ID: 1, Name: "Harbor"},
		Messages: types.AssignTurns([]types.Message{
			{ID: 1, Role: types.RoleUser, Content: "Look around."},
			{ID: 2, Role: types.RoleAssistant, Content: "A gull screams."},
		}),
		Plots: []types.PlotCard{{ID: 5, Title: "Gull", Content: "A gull screamed.", Source: types.SourceAI}},
		PlotEvents: []cardlog.Event[types.PlotCard]{
			{ID: 11, AssistantMessageID: 2, CardID: 5, Action: cardlog.Added,
				After: &types.PlotCard{ID: 5, Title: "Gull", Content: "A gull screamed.", Source: types.SourceAI}},
		},
	}
}

func TestState_TentativeTurnConfirmedByID(t *testing.T) {
	st := baseState().WithTentativeTurn("Wave at the gull.")
	require.Len(t, st.Messages, 4)
	assert.Equal(t, Pending{UserID: -1, AssistantID: -2}, st.Pending)
	assert.True(t, st.Messages[2].Tentative())
	assert.Equal(t, 2, st.Messages[3].Turn)

	started := st.ApplyEvent(narrator.Event{Kind: narrator.EventStart, Start: &narrator.StartEvent{
		AssistantMessageID: 4, UserMessageID: ptr(int64(3)),
	}})
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(started.Messages))
	assert.Equal(t, Pending{}, started.Pending)
	assert.Equal(t, []int64{1, 2, -1, -2}, ids(st.Messages), "earlier snapshot is unchanged")

	// A second optimistic turn is appended before the first one's chunks land.
	next := started.WithTentativeTurn("And again.")
	chunked := next.ApplyEvent(narrator.Event{Kind: narrator.EventChunk, Chunk: &narrator.ChunkEvent{AssistantMessageID: 4, Delta: "It "}})
	chunked = chunked.ApplyEvent(narrator.Event{Kind: narrator.EventChunk, Chunk: &narrator.ChunkEvent{AssistantMessageID: 4, Delta: "flies."}})
	msg, ok := chunked.Message(4)
	require.True(t, ok)
	assert.Equal(t, "It flies.", msg.Content)
	last := chunked.Messages[len(chunked.Messages)-1]
	assert.Empty(t, last.Content, "the tail placeholder is untouched")

	ignored := chunked.ApplyEvent(narrator.Event{Kind: narrator.EventChunk, Chunk: &narrator.ChunkEvent{AssistantMessageID: 99, Delta: "lost"}})
	assert.Equal(t, chunked.Messages, ignored.Messages)
}

func TestState_DoneReplacesMessageAndMergesEvents(t *testing.T) {
	st := baseState().WithTentativeTurn("Follow it.")
	st = st.ApplyEvent(narrator.Event{Kind: narrator.EventStart, Start: &narrator.StartEvent{AssistantMessageID: 4, UserMessageID: ptr(int64(3))}})
	st = st.ApplyEvent(narrator.Event{Kind: narrator.EventChunk, Chunk: &narrator.ChunkEvent{AssistantMessageID: 4, Delta: "draft"}})

	cliff := types.PlotCard{ID: 6, Title: "Cliff", Content: "The gull led to a cliff.", Source: types.SourceAI}
	done := st.ApplyEvent(narrator.Event{Kind: narrator.EventDone, Done: &narrator.DoneEvent{
		FinalMessage: types.Message{ID: 4, Role: types.RoleAssistant, Content: "The gull leads you to a cliff."},
		PlotEvents: []cardlog.Event[types.PlotCard]{
			{ID: 12, AssistantMessageID: 4, CardID: 6, Action: cardlog.Added, After: &cliff},
		},
	}})

	msg, _ := done.Message(4)
	assert.Equal(t, "The gull leads you to a cliff.", msg.Content)
	assert.Equal(t, 2, msg.Turn)
	assert.Equal(t, []int64{11, 12}, eventIDs(done.PlotEvents))
	assert.Equal(t, []types.PlotCard{baseState().Plots[0], cliff}, done.Plots)

	again := done.ApplyEvent(narrator.Event{Kind: narrator.EventDone, Done: &narrator.DoneEvent{
		FinalMessage: msg,
		PlotEvents:   done.PlotEvents[1:],
	}})
	assert.Equal(t, done.PlotEvents, again.PlotEvents, "merging the same events twice is idempotent")
	assert.Equal(t, done.Plots, again.Plots)
}

func TestState_TentativeRerollRollsBackReply(t *testing.T) {
	st := baseState().WithTentativeReroll(2)

	assert.Equal(t, []int64{1, -1}, ids(st.Messages))
	assert.Equal(t, Pending{AssistantID: -1}, st.Pending)
	assert.Empty(t, st.Plots)
	assert.True(t, st.Undone[11])
	assert.Nil(t, baseState().Undone)

	cancelled := st.WithoutTentative()
	assert.Equal(t, []int64{1}, ids(cancelled.Messages))
	assert.Equal(t, Pending{}, cancelled.Pending)
}

func TestState_RollbackAndReapply(t *testing.T) {
	st := baseState()
	plots, world := st.TurnEvents(2)
	require.Len(t, plots, 1)
	assert.Empty(t, world)

	rolled, skipped := st.rollback(plots, world)
	assert.Empty(t, skipped)
	assert.Empty(t, rolled.Plots)
	live, _ := rolled.TurnEvents(2)
	assert.Empty(t, live)
	undonePlots, _ := rolled.UndoneEvents(2)
	assert.Len(t, undonePlots, 1)

	restored, _ := rolled.reapply(rolled.UndoneEvents(2))
	assert.Equal(t, st.Plots, restored.Plots)
	assert.Empty(t, restored.Undone)
}

func TestState_RollbackSkipsMissingSnapshot(t *testing.T) {
	st := baseState()
	st.PlotEvents = append(st.PlotEvents, cardlog.Event[types.PlotCard]{ID: 12, AssistantMessageID: 2, CardID: 5, Action: cardlog.Updated})

	rolled, skipped := st.rollback(st.TurnEvents(2))
	assert.Equal(t, []int64{12}, skipped)
	assert.Empty(t, rolled.Plots, "the remaining events are still applied")
}

func TestState_DismissIsPresentationOnly(t *testing.T) {
	st := baseState().Dismiss(11)
	assert.Empty(t, st.VisiblePlotEvents())
	assert.Len(t, st.PlotEvents, 1)
	assert.Equal(t, baseState().Plots, st.Plots)
	assert.Empty(t, st.VisibleWorldEvents())
}

func TestState_WithIllustration(t *testing.T) {
	first := baseState().WithIllustration(2, "https://img/1.png")
	second := first.WithIllustration(2, "https://img/2.png")
	assert.Equal(t, "https://img/1.png", first.Illustrations[2])
	assert.Equal(t, "https://img/2.png", second.Illustrations[2])
}

// =============================================================================
// Cache
// =============================================================================

type closer struct {
	closed int
	err    error
}

func (c *closer) Close() error {
	c.closed++
	return c.err
}

func TestCache(t *testing.T) {
	cache := NewCache[int64, *closer]()

	loads := 0
	load := func() (*closer, error) {
		loads++
		return &closer{}, nil
	}
	a, err := cache.GetOrLoad(1, load)
	require.NoError(t, err)
	again, err := cache.GetOrLoad(1, load)
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.Equal(t, 1, loads)

	_, err = cache.GetOrLoad(2, func() (*closer, error) { return nil, errors.New("no such game") })
	assert.Error(t, err)
	_, ok := cache.Get(2)
	assert.False(t, ok, "failed loads are not cached")

	require.NoError(t, cache.Evict(1))
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 0, cache.Len())
	require.NoError(t, cache.Evict(1), "evicting a missing key is a no-op")

	b, c := &closer{}, &closer{err: errors.New("busy")}
	require.NoError(t, cache.Put(1, b))
	require.NoError(t, cache.Put(2, c))
	replaced := &closer{}
	require.NoError(t, cache.Put(1, replaced))
	assert.Equal(t, 1, b.closed)

	err = cache.Close()
	assert.EqualError(t, err, "busy")
	assert.Equal(t, 1, replaced.closed)
	assert.Equal(t, 0, cache.Len())
}

func TestCache_GetOrLoadConcurrent(t *testing.T) {
	cache := NewCache[int64, *closer]()

	slowStarted, slowRelease := make(chan struct{}), make(chan struct{})
	slowDone := make(chan *closer)
	go func() {
		v, _ := cache.GetOrLoad(1, func() (*closer, error) {
			close(slowStarted)
			<-slowRelease
			return &closer{}, nil
		})
		slowDone <- v
	}()
	<-slowStarted

	fast, err := cache.GetOrLoad(2, func() (*closer, error) { return &closer{}, nil })
	require.NoError(t, err, "a slow load does not block other keys")
	assert.NotNil(t, fast)

	var loads atomic.Int32
	waiting := make(chan *closer, 4)
	for range 4 {
		go func() {
			v, _ := cache.GetOrLoad(1, func() (*closer, error) {
				loads.Add(1)
				return &closer{}, nil
			})
			waiting <- v
		}()
	}
	close(slowRelease)

	first := <-slowDone
	require.NotNil(t, first)
	for range 4 {
		assert.Same(t, first, <-waiting)
	}
	assert.Zero(t, loads.Load(), "callers of a key being loaded share that load")
	assert.Equal(t, 2, cache.Len())
}

func ids(messages []types.Message) []int64 {
	out := make([]int64, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}
