// Package styles provides Lip Gloss styling for command output.
package styles

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/azyu/talemind/pkg/types"
)

var (
	// Colors
	Primary     = lipgloss.Color("#7C3AED") // Purple
	Secondary   = lipgloss.Color("#10B981") // Green
	Accent      = lipgloss.Color("#F59E0B") // Amber
	Error       = lipgloss.Color("#EF4444") // Red
	Surface     = lipgloss.Color("#374151")
	TextPrimary = lipgloss.Color("#F9FAFB")
	TextMuted   = lipgloss.Color("#9CA3AF")

	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(TextPrimary)

	UserMessage = lipgloss.NewStyle().
			Foreground(Secondary)

	AssistantMessage = lipgloss.NewStyle().
				Foreground(TextPrimary)

	Prompt = lipgloss.NewStyle().
		Foreground(Primary).
		Bold(true)

	Key = lipgloss.NewStyle().
		Foreground(Primary).
		Bold(true)

	Value = lipgloss.NewStyle().
		Foreground(TextPrimary)

	ErrorText = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	InfoText = lipgloss.NewStyle().
			Foreground(Accent)

	SuccessText = lipgloss.NewStyle().
			Foreground(Secondary)

	MutedText = lipgloss.NewStyle().
			Foreground(TextMuted)

	// Card event notices printed after a reply.
	Notice = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true).
		Border(lipgloss.ThickBorder(), false, false, false, true).
		BorderForeground(Surface).
		PaddingLeft(1)
)

// Role returns the style for a message role.
func Role(role string) lipgloss.Style {
	if role == types.RoleUser {
		return UserMessage
	}
	return AssistantMessage
}

// Status returns the style for a world card activation label.
func Status(label string) lipgloss.Style {
	switch {
	case label == "inactive":
		return MutedText
	case strings.HasPrefix(label, "triggered"):
		return SuccessText
	case strings.HasPrefix(label, "always"):
		return Key
	default:
		return InfoText
	}
}

// KV renders a key and value pair.
func KV(key string, value any) string {
	return Key.Render(key+":") + " " + Value.Render(fmt.Sprint(value))
}
