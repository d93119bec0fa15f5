package cardlog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/azyu/talemind/pkg/types"
)

func plot(id int64, content string) types.PlotCard {
	return types.PlotCard{ID: id, Title: "Plot", Content: content, Source: types.SourceAI}
}

func ptr[C any](c C) *C { return &c }

func TestRollbackThenReapply(t *testing.T) {
	tests := []struct {
		name    string
		initial []types.PlotCard
		event   Event[types.PlotCard]
		undone  []types.PlotCard
	}{
		{
			name:    "added",
			initial: []types.PlotCard{plot(1, "a"), plot(2, "b"), plot(3, "c")},
			event:   Event[types.PlotCard]{ID: 10, AssistantMessageID: 5, CardID: 2, Action: Added, After: ptr(plot(2, "b"))},
			undone:  []types.PlotCard{plot(1, "a"), plot(3, "c")},
		},
		{
			name:    "updated",
			initial: []types.PlotCard{plot(1, "a"), plot(2, "new")},
			event:   Event[types.PlotCard]{ID: 11, AssistantMessageID: 5, CardID: 2, Action: Updated, Before: ptr(plot(2, "old")), After: ptr(plot(2, "new"))},
			undone:  []types.PlotCard{plot(1, "a"), plot(2, "old")},
		},
		{
			name:    "deleted",
			initial: []types.PlotCard{plot(1, "a"), plot(3, "c")},
			event:   Event[types.PlotCard]{ID: 12, AssistantMessageID: 5, CardID: 2, Action: Deleted, Before: ptr(plot(2, "b"))},
			undone:  []types.PlotCard{plot(1, "a"), plot(2, "b"), plot(3, "c")},
		},
		{
			name:    "added to empty list",
			initial: []types.PlotCard{plot(4, "d")},
			event:   Event[types.PlotCard]{ID: 13, CardID: 4, Action: Added, After: ptr(plot(4, "d"))},
			undone:  []types.PlotCard{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := []Event[types.PlotCard]{tt.event}
			initial := append([]types.PlotCard(nil), tt.initial...)

			undone := Rollback(tt.initial, events)
			assert.ElementsMatch(t, tt.undone, undone)

			redone := Reapply(undone, events)
			assert.Equal(t, initial, redone)
			assert.Equal(t, initial, tt.initial, "input is not modified")
		})
	}
}

func TestRollback_MultipleEventsOneCard(t *testing.T) {
	// One turn added a card and then edited it.
	events := []Event[types.PlotCard]{
		{ID: 2, CardID: 7, Action: Updated, Before: ptr(plot(7, "v1")), After: ptr(plot(7, "v2"))},
		{ID: 1, CardID: 7, Action: Added, After: ptr(plot(7, "v1"))},
	}
	initial := []types.PlotCard{plot(1, "x"), plot(7, "v2")}

	undone := Rollback(initial, events)
	assert.Equal(t, []types.PlotCard{plot(1, "x")}, undone)
	assert.Equal(t, initial, Reapply(undone, events))
}

func TestMissingSnapshotsAreSkipped(t *testing.T) {
	events := []Event[types.PlotCard]{
		{ID: 1, CardID: 1, Action: Updated, After: ptr(plot(1, "new"))},
		{ID: 2, CardID: 2, Action: Added},
		{ID: 3, CardID: 3, Action: Deleted, Before: ptr(plot(3, "c"))},
		{ID: 4, CardID: 4, Action: "renamed"},
	}
	cards := []types.PlotCard{plot(1, "new")}

	undone, rep := RollbackReport(cards, events)
	assert.Equal(t, []int64{4, 1}, rep.Skipped)
	assert.Equal(t, []types.PlotCard{plot(1, "new"), plot(3, "c")}, undone)

	redone, rep := ReapplyReport(undone, events)
	assert.Equal(t, []int64{2, 4}, rep.Skipped)
	assert.Equal(t, []types.PlotCard{plot(1, "new")}, redone)
}

func TestMerge(t *testing.T) {
	a := []Event[types.PlotCard]{
		{ID: 3, CardID: 1, Action: Added},
		{ID: 1, CardID: 1, Action: Added},
	}
	b := []Event[types.PlotCard]{
		{ID: 2, CardID: 2, Action: Deleted},
		{ID: 3, CardID: 1, Action: Updated},
	}

	ids := func(evs []Event[types.PlotCard]) []int64 {
		out := make([]int64, len(evs))
		for i, ev := range evs {
			out[i] = ev.ID
		}
		return out
	}

	ab := Merge(a, b)
	assert.Equal(t, []int64{1, 2, 3}, ids(ab))
	assert.Equal(t, Updated, ab[2].Action, "later list wins")

	assert.Equal(t, ids(ab), ids(Merge(b, a)), "commutative on ids")
	assert.Equal(t, ab, Merge(ab, b), "idempotent")
	assert.Equal(t, ab, Merge(ab, ab))
	assert.Empty(t, Merge[types.PlotCard](nil, nil))
}

func TestForMessageAndHistory(t *testing.T) {
	events := []Event[types.WorldCard]{
		{ID: 5, AssistantMessageID: 20, CardID: 2, Action: Updated},
		{ID: 1, AssistantMessageID: 10, CardID: 1, Action: Added},
		{ID: 3, AssistantMessageID: 20, CardID: 1, Action: Updated},
	}

	turn := ForMessage(events, 20)
	assert.Len(t, turn, 2)
	assert.Equal(t, int64(3), turn[0].ID)
	assert.Equal(t, int64(5), turn[1].ID)

	hist := History(events, 1)
	assert.Len(t, hist, 2)
	assert.Equal(t, int64(1), hist[0].ID)
	assert.Equal(t, int64(3), hist[1].ID)

	assert.Empty(t, ForMessage(events, 99))
}

func TestVisible(t *testing.T) {
	events := []Event[types.WorldCard]{{ID: 1}, {ID: 2}, {ID: 3}}

	assert.Len(t, Visible(events, nil), 3)
	got := Visible(events, map[int64]bool{2: true})
	assert.Equal(t, []Event[types.WorldCard]{{ID: 1}, {ID: 3}}, got)
	assert.Len(t, events, 3, "dismissal never deletes")
}

func TestActionValid(t *testing.T) {
	assert.True(t, Added.Valid())
	assert.True(t, Deleted.Valid())
	assert.False(t, Action("moved").Valid())
}
