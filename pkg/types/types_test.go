package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultGlobalConfig(t *testing.T) {
	cfg := DefaultGlobalConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "openai", cfg.Defaults.Provider)
	assert.NotNil(t, cfg.Providers)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 1500*time.Millisecond, cfg.Engine.GracePeriod)
	assert.Equal(t, "heuristic", cfg.Engine.Tokenizer)
	assert.Less(t, cfg.Engine.IllustrationTimeout, cfg.Engine.IllustrationTimeoutHigh)
	assert.Zero(t, cfg.Engine.ContextLimit, "the model's window applies by default")
}

func TestNewWorldCard(t *testing.T) {
	tests := []struct {
		name     string
		kind     WorldKind
		wantKind WorldKind
		wantMem  *int
	}{
		{name: "main hero never decays", kind: KindMainHero, wantKind: KindMainHero, wantMem: nil},
		{name: "npc", kind: KindNPC, wantKind: KindNPC, wantMem: IntPtr(DefaultNPCMemoryTurns)},
		{name: "world", kind: KindWorld, wantKind: KindWorld, wantMem: IntPtr(DefaultWorldMemoryTurns)},
		{name: "empty kind defaults to world", kind: "", wantKind: KindWorld, wantMem: IntPtr(DefaultWorldMemoryTurns)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := NewWorldCard("Mira", "The lighthouse keeper.", tt.kind, "Mira", "keeper")
			assert.Equal(t, tt.wantKind, card.Kind)
			assert.Equal(t, tt.wantMem, card.MemoryTurns)
			assert.Equal(t, []string{"Mira", "keeper"}, card.Triggers)
			assert.True(t, card.AIEditEnabled)
			assert.Equal(t, SourceUser, card.Source)
		})
	}
}

func TestValidKind(t *testing.T) {
	assert.True(t, ValidKind(KindMainHero))
	assert.True(t, ValidKind(KindNPC))
	assert.True(t, ValidKind(KindWorld))
	assert.False(t, ValidKind("monster"))
	assert.False(t, ValidKind(""))
}

func TestSortMessages(t *testing.T) {
	in := []Message{{ID: -2}, {ID: 3}, {ID: -1}, {ID: 1}}
	out := SortMessages(in)

	ids := make([]int64, len(out))
	for i, m := range out {
		ids[i] = m.ID
	}
	assert.Equal(t, []int64{1, 3, -1, -2}, ids)
	assert.Equal(t, int64(-2), in[0].ID, "input is not modified")
}

func TestAssignTurns(t *testing.T) {
	out := AssignTurns([]Message{
		{ID: 1, Role: RoleAssistant},
		{ID: 2, Role: RoleUser},
		{ID: 3, Role: RoleAssistant},
		{ID: 4, Role: RoleUser},
		{ID: 5, Role: RoleAssistant},
	})
	require.Len(t, out, 5)

	turns := make([]int, len(out))
	for i, m := range out {
		turns[i] = m.Turn
	}
	assert.Equal(t, []int{0, 1, 1, 2, 2}, turns)
}

func TestMessageTentative(t *testing.T) {
	assert.True(t, Message{ID: -1}.Tentative())
	assert.False(t, Message{ID: 1}.Tentative())
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "old lighthouse", NormalizeTitle("  Old Lighthouse "))
}
