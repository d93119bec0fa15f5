package budget

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azyu/talemind/internal/llm"
	"github.com/azyu/talemind/internal/token"
	"github.com/azyu/talemind/pkg/types"
)

// words returns n distinct single-token words.
func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

// scenario returns instructions costing 20 and a world card costing 30.
func scenario() ([]types.InstructionCard, []types.WorldCard) {
	instr := []types.InstructionCard{{ID: 1, Title: "Rules", Content: words("r", 17)}}
	world := []types.WorldCard{{ID: 2, Title: "Town", Content: words("t", 28), Kind: types.KindWorld}}
	return instr, world
}

func history(costs ...int) []types.Message {
	msgs := make([]types.Message, len(costs))
	for i, c := range costs {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		msgs[i] = types.Message{ID: int64(i + 1), Role: role, Content: words(fmt.Sprintf("m%dx", i+1), c)}
	}
	return msgs
}

func memoryIDs(items []Item) []int64 {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.MessageID
	}
	return ids
}

func TestFormatCosts(t *testing.T) {
	instr, world := scenario()
	assert.Equal(t, 20, token.Estimate(FormatInstructions(instr)))
	assert.Equal(t, 30, token.Estimate(FormatWorld(world)))
}

func TestAllocate_RecentHistoryWins(t *testing.T) {
	instr, world := scenario()

	p := Allocate(Request{
		Limit:        100,
		Instructions: instr,
		World:        world,
		History:      history(30, 30, 30, 30, 30),
	})

	assert.Equal(t, MemoryHistory, p.Mode)
	assert.Equal(t, []int64{4, 5}, memoryIDs(p.Memory), "two newest, chronological")
	assert.True(t, p.Memory[0].Truncated, "the message crossing the budget is trimmed")
	assert.False(t, p.Memory[1].Truncated)
	assert.True(t, strings.HasSuffix(history(30, 30, 30, 30, 30)[3].Content, p.Memory[0].Content))

	assert.LessOrEqual(t, p.Memory[0].Tokens, 20)
	assert.Equal(t, 30, p.Memory[1].Tokens)

	assert.LessOrEqual(t, p.Usage.Memory, 50)
	assert.LessOrEqual(t, p.Usage.Total(), 100)
	assert.Equal(t, 100-p.Usage.Total(), p.Usage.Free)
	assert.Zero(t, p.Usage.Overflow)
	assert.False(t, p.Usage.Overflowing())
}

func TestAllocate_LargeOlderMessageIsNotTakenWhole(t *testing.T) {
	instr, world := scenario()

	tests := []struct {
		name      string
		history   []types.Message
		wantIDs   []int64
		wantTrunc bool
	}{
		{"remainder too small for a tail", history(1000, 49), []int64{2}, false},
		{"older message trimmed to the remainder", history(1000, 30), []int64{1, 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Allocate(Request{Limit: 100, Instructions: instr, World: world, History: tt.history})

			require.Equal(t, tt.wantIDs, memoryIDs(p.Memory))
			assert.Equal(t, tt.wantTrunc, p.Memory[0].Truncated)
			assert.LessOrEqual(t, p.Usage.Memory, 50)
			assert.LessOrEqual(t, p.Usage.Total(), 100)
			assert.Zero(t, p.Usage.Overflow)
		})
	}
}

func TestAllocate_FitsEverything(t *testing.T) {
	instr, world := scenario()

	p := Allocate(Request{Limit: 200, Instructions: instr, World: world, History: history(10, 10, 10)})

	assert.Equal(t, []int64{1, 2, 3}, memoryIDs(p.Memory))
	assert.Equal(t, 30, p.Usage.Memory)
	assert.Equal(t, 120, p.Usage.Free)
	assert.Zero(t, p.Usage.Overflow)
}

func TestAllocate_NewestTooLargeIsTruncated(t *testing.T) {
	instr, world := scenario()

	p := Allocate(Request{Limit: 100, Instructions: instr, World: world, History: history(10, 80)})

	require.Len(t, p.Memory, 1)
	item := p.Memory[0]
	assert.Equal(t, int64(2), item.MessageID)
	assert.True(t, item.Truncated)
	assert.LessOrEqual(t, item.Tokens, 50)
	assert.True(t, strings.HasSuffix(history(10, 80)[1].Content, item.Content))
	assert.LessOrEqual(t, p.Usage.Total(), 100)
}

func TestAllocate_NoRoomForMemory(t *testing.T) {
	instr, world := scenario()

	p := Allocate(Request{Limit: 40, Instructions: instr, World: world, History: history(5)})

	assert.Empty(t, p.Memory)
	assert.Equal(t, 10, p.Usage.Overflow, "instructions and world are never trimmed")
	assert.Zero(t, p.Usage.Free)
}

func TestAllocate_PlotMemory(t *testing.T) {
	instr, world := scenario()
	plots := []types.PlotCard{
		{ID: 10, Title: "Chapter one", Content: "The hero left home."},
		{ID: 11, Title: "Chapter two", Content: "The hero met a dragon."},
	}

	t.Run("plots replace history", func(t *testing.T) {
		p := Allocate(Request{
			Limit:        500,
			Instructions: instr,
			World:        world,
			Plots:        plots,
			PlotMemory:   true,
			History:      history(10, 10),
		})

		assert.Equal(t, MemoryPlot, p.Mode)
		require.Len(t, p.Memory, 2)
		assert.Equal(t, int64(10), p.Memory[0].CardID)
		assert.Equal(t, int64(11), p.Memory[1].CardID)

		prompt := p.SystemPrompt()
		assert.Contains(t, prompt, "## Story so far")
		assert.Contains(t, prompt, "Chapter two\nThe hero met a dragon.")
		assert.Len(t, p.ChatMessages(), 1)
	})

	t.Run("falls back to history without plots", func(t *testing.T) {
		p := Allocate(Request{Limit: 500, PlotMemory: true, History: history(10, 10)})
		assert.Equal(t, MemoryHistory, p.Mode)
		assert.Len(t, p.Memory, 2)
	})

	t.Run("disabled mode ignores plots", func(t *testing.T) {
		p := Allocate(Request{Limit: 500, Plots: plots, History: history(10)})
		assert.Equal(t, MemoryHistory, p.Mode)
	})
}

func TestAllocate_Empty(t *testing.T) {
	p := Allocate(Request{Limit: 100})
	assert.Equal(t, MemoryNone, p.Mode)
	assert.Empty(t, p.Memory)
	assert.Equal(t, 100, p.Usage.Free)
}

func TestChatMessages_History(t *testing.T) {
	p := Allocate(Request{Limit: 100, History: []types.Message{
		{ID: 1, Role: types.RoleUser, Content: "Hello"},
		{ID: 2, Role: types.RoleAssistant, Content: "Welcome, traveller."},
	}})

	msgs := p.ChatMessages()
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, llm.NewUserMessage("Hello"), msgs[1])
	assert.Equal(t, llm.NewAssistantMessage("Welcome, traveller."), msgs[2])
}

func TestFormatInstructions(t *testing.T) {
	got := FormatInstructions([]types.InstructionCard{
		{Title: "Tone", Content: "Dark fantasy."},
		{},
		{Title: "Length"},
	})
	assert.Equal(t, "1. Tone\nDark fantasy.\n\n2. Length", got)
	assert.Equal(t, "", FormatInstructions(nil))
}

func TestFormatWorld(t *testing.T) {
	got := FormatWorld([]types.WorldCard{
		{Title: "Алекс", Content: "Следопыт.", Triggers: []string{"следопыт", " ", "рыжий"}},
		{Title: "Башня", Content: "Древняя."},
	})
	assert.Equal(t, "Алекс: Следопыт.\nTriggers: следопыт, рыжий\n\nБашня: Древняя.", got)
}

func TestTruncateTail(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		budget int
		want   string
	}{
		{name: "fits unchanged", body: "  short text ", budget: 5, want: "short text"},
		{name: "zero budget", body: "anything", budget: 0, want: ""},
		{name: "prefers sentence start", body: "First sentence here. Second sentence is longer still. Third one.", budget: 7, want: "Third one."},
		{name: "drops whole bullets", body: "- alpha beta\n- gamma delta\n- epsilon zeta", budget: 6, want: "- gamma delta\n- epsilon zeta"},
		{name: "cuts oldest kept bullet and keeps its marker", body: "- alpha beta\n- gamma delta\n- epsilon zeta", budget: 5, want: "- delta\n- epsilon zeta"},
		{name: "star markers survive", body: "* one two\n* three four", budget: 3, want: "* three four"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateTail(tt.body, tt.budget, nil)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, token.Estimate(got), max(tt.budget, 0))
		})
	}
}

func TestParseBullets(t *testing.T) {
	list, ok := parseBullets("- first item\n- second item")
	require.True(t, ok)
	assert.Equal(t, "-", list.marker)
	assert.Equal(t, []string{"first item", "second item"}, list.items)

	_, ok = parseBullets("Just a paragraph.")
	assert.False(t, ok)

	_, ok = parseBullets("1. ordered\n2. list")
	assert.False(t, ok)

	_, ok = parseBullets("Intro line\n\n- then a list")
	assert.False(t, ok)
}

type doubleCounter struct{}

func (doubleCounter) Count(s string) int { return 2 * token.Estimate(s) }

func TestTruncateTail_CustomCounter(t *testing.T) {
	body := words("w", 40)
	got := TruncateTail(body, 10, doubleCounter{})
	assert.LessOrEqual(t, doubleCounter{}.Count(got), 10)
	assert.NotEmpty(t, got)
	assert.True(t, strings.HasSuffix(body, got))
}
