// Package types provides shared data models for talemind.
package types

import (
	"sort"
	"strings"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Card sources.
const (
	SourceUser = "user"
	SourceAI   = "ai"
)

// WorldKind classifies a world card.
type WorldKind string

const (
	KindMainHero WorldKind = "main_hero"
	KindNPC      WorldKind = "npc"
	KindWorld    WorldKind = "world"
)

// Default decay windows, in turns.
const (
	DefaultWorldMemoryTurns = 5
	DefaultNPCMemoryTurns   = 10
)

// Message is a single transcript entry. Negative IDs mark tentative entries
// that have not been confirmed by the store yet.
type Message struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Turn      int       `json:"turn_index"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Tentative reports whether the message is an unconfirmed optimistic entry.
func (m Message) Tentative() bool {
	return m.ID < 0
}

// InstructionCard is always included in context, whole or not at all.
type InstructionCard struct {
	ID      int64  `json:"id" yaml:"-"`
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"-"`
}

// CardID implements cardlog.Card.
func (c InstructionCard) CardID() int64 { return c.ID }

// PlotCard is a durable narrative summary, used as compressed memory.
type PlotCard struct {
	ID      int64  `json:"id" yaml:"-"`
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"-"`
	Source  string `json:"source" yaml:"source"`
}

// CardID implements cardlog.Card.
func (c PlotCard) CardID() int64 { return c.ID }

// WorldCard is a character or lore entry activated by trigger phrases.
type WorldCard struct {
	ID            int64     `json:"id" yaml:"-"`
	Title         string    `json:"title" yaml:"title"`
	Content       string    `json:"content" yaml:"-"`
	Triggers      []string  `json:"triggers" yaml:"triggers"`
	Kind          WorldKind `json:"kind" yaml:"kind"`
	MemoryTurns   *int      `json:"memory_turns" yaml:"memory_turns"`
	IsLocked      bool      `json:"is_locked" yaml:"is_locked"`
	AIEditEnabled bool      `json:"ai_edit_enabled" yaml:"ai_edit_enabled"`
	Source        string    `json:"source" yaml:"source"`
}

// CardID implements cardlog.Card.
func (c WorldCard) CardID() int64 { return c.ID }

// DefaultMemoryTurns returns the decay window a new card of the given kind gets.
// Main hero cards never decay and get nil.
func DefaultMemoryTurns(kind WorldKind) *int {
	switch kind {
	case KindMainHero:
		return nil
	case KindNPC:
		return IntPtr(DefaultNPCMemoryTurns)
	default:
		return IntPtr(DefaultWorldMemoryTurns)
	}
}

// NewWorldCard creates a user-authored world card with the default decay window for its kind.
func NewWorldCard(title, content string, kind WorldKind, triggers ...string) WorldCard {
	if kind == "" {
		kind = KindWorld
	}
	return WorldCard{
		Title:         title,
		Content:       content,
		Triggers:      triggers,
		Kind:          kind,
		MemoryTurns:   DefaultMemoryTurns(kind),
		AIEditEnabled: true,
		Source:        SourceUser,
	}
}

// ValidKind reports whether kind is one of the known world card kinds.
func ValidKind(kind WorldKind) bool {
	switch kind {
	case KindMainHero, KindNPC, KindWorld:
		return true
	}
	return false
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// SortMessages returns a copy of messages ordered by ID. Tentative entries
// (negative IDs) sort after confirmed ones, in creation order.
func SortMessages(messages []Message) []Message {
	sorted := append([]Message(nil), messages...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].ID, sorted[j].ID
		if (a < 0) != (b < 0) {
			return a >= 0
		}
		if a < 0 {
			// -1 was created before -2.
			return a > b
		}
		return a < b
	})
	return sorted
}

// AssignTurns returns a copy of messages with Turn derived from position.
// The turn increments on each user message; assistant replies share the turn
// of the user message they answer. Messages before the first user message get 0.
func AssignTurns(messages []Message) []Message {
	out := make([]Message, len(messages))
	turn := 0
	for i, msg := range messages {
		if msg.Role == RoleUser {
			turn++
		}
		msg.Turn = turn
		out[i] = msg
	}
	return out
}

// NormalizeTitle is the case-insensitive key used for title and trigger de-duplication.
func NormalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Game identifies one interactive fiction session.
type Game struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	PlotMemory bool      `json:"plot_memory"`
	CreatedAt  time.Time `json:"created_at"`
}

// GlobalConfig is the user-wide configuration at ~/.config/talemind/config.yaml.
type GlobalConfig struct {
	Version   int                        `yaml:"version"`
	DataDir   string                     `yaml:"data_dir"`
	Providers map[string]*ProviderConfig `yaml:"providers"`
	Defaults  DefaultsConfig             `yaml:"defaults"`
	Engine    EngineConfig               `yaml:"engine"`
	Logging   LoggingConfig              `yaml:"logging"`
}

// ProviderConfig holds API configuration for an LLM provider.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url,omitempty"`
}

// DefaultsConfig specifies default settings.
type DefaultsConfig struct {
	Provider string `yaml:"provider"`
}

// EngineConfig controls context assembly and background task behavior.
type EngineConfig struct {
	// ContextLimit overrides the model's context window when positive.
	ContextLimit int `yaml:"context_limit"`
	// ResponseReserve is held back from the context window for the reply.
	ResponseReserve int `yaml:"response_reserve"`
	// PlotMemory substitutes plot cards for raw history when any exist.
	PlotMemory bool `yaml:"plot_memory"`
	// Tokenizer is "heuristic" or a tiktoken encoding name.
	Tokenizer string `yaml:"tokenizer"`
	// GracePeriod is waited after cancelling a generation before trusting stored state.
	GracePeriod time.Duration `yaml:"grace_period"`
	// IllustrationTimeout applies to ordinary models.
	IllustrationTimeout time.Duration `yaml:"illustration_timeout"`
	// IllustrationTimeoutHigh applies to higher-capability models.
	IllustrationTimeoutHigh time.Duration `yaml:"illustration_timeout_high"`
	// IllustrationModel is the image model used for illustrations.
	IllustrationModel string `yaml:"illustration_model,omitempty"`
	// DBPath is the SQLite database; empty means talemind.db under DataDir.
	DBPath string `yaml:"db_path,omitempty"`
}

// LoggingConfig specifies logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultGlobalConfig returns a new GlobalConfig with sensible defaults.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Version:   1,
		DataDir:   "~/.local/share/talemind",
		Providers: make(map[string]*ProviderConfig),
		Defaults: DefaultsConfig{
			Provider: "openai",
		},
		Engine: DefaultEngineConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultEngineConfig returns the engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ResponseReserve:         1024,
		Tokenizer:               "heuristic",
		GracePeriod:             1500 * time.Millisecond,
		IllustrationTimeout:     60 * time.Second,
		IllustrationTimeoutHigh: 180 * time.Second,
	}
}
