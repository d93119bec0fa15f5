package narrator

import (
	"fmt"
	"strings"

	"github.com/azyu/talemind/internal/activation"
	"github.com/azyu/talemind/internal/budget"
	"github.com/azyu/talemind/internal/llm"
	"github.com/azyu/talemind/internal/token"
	"github.com/azyu/talemind/pkg/types"
)

// Config tunes context assembly and the provider request.
type Config struct {
	// Model selects the context window when ContextLimit is not set.
	Model           string
	ContextLimit    int
	ResponseReserve int
	// PlotMemory enables plot-memory mode for every game. A game can also
	// enable it on its own.
	PlotMemory  bool
	Counter     token.Counter
	MaxTokens   int
	Temperature float64
}

// Limit returns the token ceiling for assembled context.
func (c Config) Limit() int {
	return token.InputLimit(c.Model, c.ContextLimit, c.ResponseReserve)
}

// Snapshot is the stored state a context is assembled from.
type Snapshot struct {
	Game         types.Game
	Messages     []types.Message
	Instructions []types.InstructionCard
	Plots        []types.PlotCard
	World        []types.WorldCard
}

// Assembly is an allocated context and the activation it was built from.
type Assembly struct {
	Payload    budget.Payload
	Activation activation.Result
	// Active lists the world cards in scene, id-ordered.
	Active []types.WorldCard
}

// Assemble evaluates world card activation over the snapshot's transcript and
// allocates the context budget.
func Assemble(snap Snapshot, cfg Config) Assembly {
	messages := types.AssignTurns(types.SortMessages(snap.Messages))
	res := activation.Evaluate(messages, snap.World)
	active := activation.Active(res, snap.World)

	payload := budget.Allocate(budget.Request{
		Limit:        cfg.Limit(),
		Instructions: snap.Instructions,
		World:        active,
		Plots:        snap.Plots,
		PlotMemory:   cfg.PlotMemory || snap.Game.PlotMemory,
		History:      conversation(messages),
		Counter:      cfg.Counter,
	})
	return Assembly{Payload: payload, Activation: res, Active: active}
}

// conversation keeps confirmed user and assistant messages with content.
func conversation(messages []types.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Tentative() || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		if msg.Role == types.RoleUser || msg.Role == types.RoleAssistant {
			out = append(out, msg)
		}
	}
	return out
}

// ChatMessages renders the assembly for the provider. Outside history mode
// the latest user input is appended, since only history mode carries the
// transcript.
func (a Assembly) ChatMessages(plots []types.PlotCard, latest string) []llm.ChatMessage {
	msgs := a.Payload.ChatMessages()
	if index := a.cardIndex(plots); index != "" {
		msgs[0].Content += "\n\n## Card ids\n\n" + index
	}
	if a.Payload.Mode != budget.MemoryHistory && strings.TrimSpace(latest) != "" {
		msgs = append(msgs, llm.NewUserMessage(latest))
	}
	return msgs
}

// cardIndex lists the ids the card tools need to address cards.
func (a Assembly) cardIndex(plots []types.PlotCard) string {
	var lines []string
	for _, c := range a.Active {
		lines = append(lines, fmt.Sprintf("world %d: %s", c.ID, c.Title))
	}
	for _, c := range plots {
		lines = append(lines, fmt.Sprintf("plot %d: %s", c.ID, c.Title))
	}
	return strings.Join(lines, "\n")
}
