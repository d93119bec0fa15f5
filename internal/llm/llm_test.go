package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// ChatMessage Helper Tests
// ============================================================================

func TestMessageConstructors(t *testing.T) {
	tests := []struct {
		name     string
		msg      ChatMessage
		wantRole string
	}{
		{name: "system", msg: NewSystemMessage("You narrate."), wantRole: RoleSystem},
		{name: "user", msg: NewUserMessage("I open the door."), wantRole: RoleUser},
		{name: "assistant", msg: NewAssistantMessage("The door creaks."), wantRole: RoleAssistant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantRole, tt.msg.Role)
			assert.NotEmpty(t, tt.msg.Content)
		})
	}
}

// ============================================================================
// Card Tool Tests
// ============================================================================

func TestCardTools(t *testing.T) {
	tools := CardTools()
	require.Len(t, tools, 6)

	names := make(map[string]ToolDefinition, len(tools))
	for _, tool := range tools {
		assert.Equal(t, "function", tool.Type)
		assert.NotEmpty(t, tool.Function.Description)
		names[tool.Function.Name] = tool
	}

	for _, name := range []string{
		ToolAddPlotCard, ToolUpdatePlotCard, ToolDeletePlotCard,
		ToolAddWorldCard, ToolUpdateWorldCard, ToolDeleteWorldCard,
	} {
		tool, ok := names[name]
		require.True(t, ok, name)
		assert.Equal(t, "object", tool.Function.Parameters["type"])
	}

	required := names[ToolUpdateWorldCard].Function.Parameters["required"]
	assert.Equal(t, []string{"id"}, required)
	required = names[ToolAddWorldCard].Function.Parameters["required"]
	assert.Equal(t, []string{"title", "content"}, required)
}

// ============================================================================
// Card Mutation Parser Tests
// ============================================================================

func call(name, args string) ToolCall {
	return ToolCall{ID: "call_" + name, Type: "function", Function: FunctionCall{Name: name, Arguments: args}}
}

func TestParseCardMutation(t *testing.T) {
	tests := []struct {
		name    string
		call    ToolCall
		want    CardMutation
		wantErr error
	}{
		{
			name: "add plot card",
			call: call(ToolAddPlotCard, `{"title":" Ambush ","content":"Bandits attacked the caravan."}`),
			want: CardMutation{
				Family: FamilyPlot, Op: OpAdd,
				Title: strPtr("Ambush"), Content: strPtr("Bandits attacked the caravan."),
				ToolCallID: "call_" + ToolAddPlotCard,
			},
		},
		{
			name: "add world card with triggers",
			call: call(ToolAddWorldCard, `{"title":"Mira","content":"A smuggler.","triggers":["mira"," ","the smuggler"],"kind":"npc"}`),
			want: CardMutation{
				Family: FamilyWorld, Op: OpAdd,
				Title: strPtr("Mira"), Content: strPtr("A smuggler."),
				Triggers: []string{"mira", "the smuggler"}, Kind: "npc",
				ToolCallID: "call_" + ToolAddWorldCard,
			},
		},
		{
			name: "update keeps omitted fields nil",
			call: call(ToolUpdateWorldCard, `{"id":4,"content":"Now wounded."}`),
			want: CardMutation{
				Family: FamilyWorld, Op: OpUpdate, CardID: 4,
				Content:    strPtr("Now wounded."),
				ToolCallID: "call_" + ToolUpdateWorldCard,
			},
		},
		{
			name: "delete plot card",
			call: call(ToolDeletePlotCard, `{"id":9}`),
			want: CardMutation{Family: FamilyPlot, Op: OpDelete, CardID: 9, ToolCallID: "call_" + ToolDeletePlotCard},
		},
		{
			name:    "unknown tool",
			call:    call("search_context", `{}`),
			wantErr: ErrUnknownTool,
		},
		{
			name:    "malformed json",
			call:    call(ToolAddPlotCard, `{"title":`),
			wantErr: ErrInvalidArguments,
		},
		{
			name:    "add without title",
			call:    call(ToolAddPlotCard, `{"content":"x"}`),
			wantErr: ErrMissingRequiredField,
		},
		{
			name:    "add with blank title",
			call:    call(ToolAddWorldCard, `{"title":"  ","content":"x"}`),
			wantErr: ErrMissingRequiredField,
		},
		{
			name:    "update without id",
			call:    call(ToolUpdatePlotCard, ``),
			wantErr: ErrMissingRequiredField,
		},
		{
			name:    "unknown kind",
			call:    call(ToolAddWorldCard, `{"title":"Keep","content":"x","kind":"main_hero"}`),
			wantErr: ErrInvalidArguments,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCardMutation(tt.call)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCardMutations_CollectsErrors(t *testing.T) {
	muts, errs := ParseCardMutations([]ToolCall{
		call(ToolAddPlotCard, `{"title":"A","content":"B"}`),
		call(ToolDeleteWorldCard, `{}`),
		call(ToolDeleteWorldCard, `{"id":2}`),
	})

	require.Len(t, muts, 2)
	assert.Equal(t, OpAdd, muts[0].Op)
	assert.Equal(t, int64(2), muts[1].CardID)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrMissingRequiredField)
}

func TestToolCallAccumulator(t *testing.T) {
	var acc ToolCallAccumulator
	acc.Add(&ToolCallDelta{Index: 1, ID: "b", Function: &FunctionCallDelta{Name: ToolDeletePlotCard, Arguments: `{"id":`}})
	acc.Add(&ToolCallDelta{Index: 0, ID: "a", Type: "function", Function: &FunctionCallDelta{Name: ToolAddPlotCard, Arguments: `{"title":"T",`}})
	acc.Add(&ToolCallDelta{Index: 1, Function: &FunctionCallDelta{Arguments: `3}`}})
	acc.Add(&ToolCallDelta{Index: 0, Function: &FunctionCallDelta{Arguments: `"content":"C"}`}})
	acc.Add(nil)

	calls := acc.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "a", calls[0].ID)
	assert.Equal(t, `{"title":"T","content":"C"}`, calls[0].Function.Arguments)
	assert.Equal(t, "b", calls[1].ID)
	assert.Equal(t, "function", calls[1].Type)
	assert.Equal(t, `{"id":3}`, calls[1].Function.Arguments)

	m, err := ParseCardMutation(calls[1])
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.CardID)

	var empty ToolCallAccumulator
	assert.Empty(t, empty.Calls())
}

// ============================================================================
// Provider Error Tests
// ============================================================================

func TestProviderError(t *testing.T) {
	err := error(&ProviderError{
		Provider:   "openai",
		StatusCode: 402,
		ErrCode:    "insufficient_quota",
		Message:    "You exceeded your current quota",
		Kind:       ErrInsufficientBalance,
	})

	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, "openai: insufficient balance: HTTP 402 - You exceeded your current quota", err.Error())

	var coder interface{ Code() string }
	require.True(t, errors.As(err, &coder))
	assert.Equal(t, "insufficient_quota", coder.Code())

	noStatus := &ProviderError{Provider: "gemini", Message: "boom", Kind: ErrAPIError}
	assert.Equal(t, "gemini: API error: boom", noStatus.Error())
}

// ============================================================================
// System Prompt Tests
// ============================================================================

func TestSystemPromptBuilder(t *testing.T) {
	t.Run("builds prompt with all parts", func(t *testing.T) {
		result := NewSystemPromptBuilder().
			AddRole("You narrate.").
			AddInstructions("1. Tone\nKeep it grim.").
			AddWorld("Mira: A smuggler.").
			AddMemory("Ambush\nBandits attacked.").
			Build()

		assert.Equal(t, "You narrate.\n\n"+
			"## Instructions\n\n1. Tone\nKeep it grim.\n\n"+
			"## World\n\nMira: A smuggler.\n\n"+
			"## Story so far\n\nAmbush\nBandits attacked.", result)
	})

	t.Run("skips empty sections", func(t *testing.T) {
		result := NewSystemPromptBuilder().
			AddRole("  ").
			AddWorld("").
			AddInstructions("Do something.").
			Build()

		assert.Equal(t, "## Instructions\n\nDo something.", result)
	})

	t.Run("untitled section", func(t *testing.T) {
		result := NewSystemPromptBuilder().AddSection("", "raw").Build()
		assert.Equal(t, "raw", result)
	})
}

func TestDefaultNarratorPrompt(t *testing.T) {
	prompt := DefaultNarratorPrompt()
	assert.Contains(t, prompt, "narrator")
	assert.Contains(t, prompt, "plot card tools")
}

func strPtr(s string) *string { return &s }
