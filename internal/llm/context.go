package llm

import (
	"strings"
)

// TokenCounter interface for counting tokens.
type TokenCounter interface {
	Count(text string) int
}

// SystemPromptBuilder helps build the system prompt.
type SystemPromptBuilder struct {
	parts []string
}

// NewSystemPromptBuilder creates a new system prompt builder.
func NewSystemPromptBuilder() *SystemPromptBuilder {
	return &SystemPromptBuilder{
		parts: []string{},
	}
}

// AddRole adds the AI's role description.
func (b *SystemPromptBuilder) AddRole(role string) *SystemPromptBuilder {
	if role = strings.TrimSpace(role); role != "" {
		b.parts = append(b.parts, role)
	}
	return b
}

// AddSection adds a titled block. Empty bodies are skipped.
func (b *SystemPromptBuilder) AddSection(title, body string) *SystemPromptBuilder {
	body = strings.TrimSpace(body)
	if body == "" {
		return b
	}
	if title == "" {
		b.parts = append(b.parts, body)
		return b
	}
	b.parts = append(b.parts, "## "+title+"\n\n"+body)
	return b
}

// AddInstructions adds the user's standing instructions.
func (b *SystemPromptBuilder) AddInstructions(instructions string) *SystemPromptBuilder {
	return b.AddSection("Instructions", instructions)
}

// AddWorld adds the world and character entries currently in scene.
func (b *SystemPromptBuilder) AddWorld(world string) *SystemPromptBuilder {
	return b.AddSection("World", world)
}

// AddMemory adds plot summaries standing in for older history.
func (b *SystemPromptBuilder) AddMemory(memory string) *SystemPromptBuilder {
	return b.AddSection("Story so far", memory)
}

// Build assembles the final system prompt.
func (b *SystemPromptBuilder) Build() string {
	return strings.Join(b.parts, "\n\n")
}

// DefaultNarratorPrompt returns the default system prompt for interactive fiction.
func DefaultNarratorPrompt() string {
	return `You are the narrator of an interactive story. The user plays the main hero; you describe the world and voice everyone else.

When narrating:
- Continue from the user's latest action and keep the scene moving
- Stay consistent with the instructions, world entries and story summary below
- Never speak or decide for the main hero
- Keep replies to a few paragraphs

When the story changes durably:
- Record lasting plot developments with the plot card tools
- Add or update world cards for new characters, places and facts
- Do not modify cards that are locked`
}
