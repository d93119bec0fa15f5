package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/azyu/talemind/pkg/types"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"inactive", MutedText.Render("x")},
		{"triggered this turn", SuccessText.Render("x")},
		{"always active", Key.Render("x")},
		{"active · 2 turns left", InfoText.Render("x")},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, Status(tt.label).Render("x"))
		})
	}
}

func TestRole(t *testing.T) {
	assert.Equal(t, UserMessage.Render("hi"), Role(types.RoleUser).Render("hi"))
	assert.Equal(t, AssistantMessage.Render("hi"), Role(types.RoleAssistant).Render("hi"))
}

func TestKV(t *testing.T) {
	out := KV("limit", 4000)
	assert.Contains(t, out, "limit:")
	assert.Contains(t, out, "4000")
}
