package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Parser errors.
var (
	// ErrUnknownTool is returned when the AI called a tool that does not exist.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidArguments is returned when tool call arguments are invalid.
	ErrInvalidArguments = errors.New("invalid tool call arguments")

	// ErrMissingRequiredField is returned when a required field is missing.
	ErrMissingRequiredField = errors.New("missing required field")
)

// CardFamily names a card table the narrator can mutate.
type CardFamily string

const (
	FamilyPlot  CardFamily = "plot"
	FamilyWorld CardFamily = "world"
)

// CardOp is the requested mutation.
type CardOp string

const (
	OpAdd    CardOp = "add"
	OpUpdate CardOp = "update"
	OpDelete CardOp = "delete"
)

// CardMutation is a card change requested through a card tool. Nil fields
// mean "leave unchanged" for updates.
type CardMutation struct {
	Family   CardFamily
	Op       CardOp
	CardID   int64
	Title    *string
	Content  *string
	Triggers []string
	Kind     string
	// ToolCallID links the mutation back to the call that requested it.
	ToolCallID string
}

var toolOps = map[string]struct {
	family CardFamily
	op     CardOp
}{
	ToolAddPlotCard:     {FamilyPlot, OpAdd},
	ToolUpdatePlotCard:  {FamilyPlot, OpUpdate},
	ToolDeletePlotCard:  {FamilyPlot, OpDelete},
	ToolAddWorldCard:    {FamilyWorld, OpAdd},
	ToolUpdateWorldCard: {FamilyWorld, OpUpdate},
	ToolDeleteWorldCard: {FamilyWorld, OpDelete},
}

// rawCardArgs matches the JSON arguments of every card tool.
type rawCardArgs struct {
	ID       *int64    `json:"id"`
	Title    *string   `json:"title"`
	Content  *string   `json:"content"`
	Triggers *[]string `json:"triggers"`
	Kind     string    `json:"kind"`
}

// ParseCardMutation parses a card tool call.
func ParseCardMutation(call ToolCall) (CardMutation, error) {
	spec, ok := toolOps[call.Function.Name]
	if !ok {
		return CardMutation{}, fmt.Errorf("%w: %s", ErrUnknownTool, call.Function.Name)
	}

	args := strings.TrimSpace(call.Function.Arguments)
	if args == "" {
		args = "{}"
	}
	var raw rawCardArgs
	if err := json.Unmarshal([]byte(args), &raw); err != nil {
		return CardMutation{}, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	m := CardMutation{
		Family:     spec.family,
		Op:         spec.op,
		Title:      trimmed(raw.Title),
		Content:    trimmed(raw.Content),
		Kind:       strings.TrimSpace(raw.Kind),
		ToolCallID: call.ID,
	}
	if raw.Triggers != nil {
		m.Triggers = cleanTriggers(*raw.Triggers)
	}
	if raw.ID != nil {
		m.CardID = *raw.ID
	}

	if err := validateMutation(m); err != nil {
		return CardMutation{}, err
	}
	return m, nil
}

// ParseCardMutations parses every card tool call, collecting errors for the
// calls that could not be parsed.
func ParseCardMutations(calls []ToolCall) ([]CardMutation, []error) {
	var (
		out  []CardMutation
		errs []error
	)
	for _, call := range calls {
		m, err := ParseCardMutation(call)
		if err != nil {
			errs = append(errs, fmt.Errorf("tool call %s: %w", call.ID, err))
			continue
		}
		out = append(out, m)
	}
	return out, errs
}

// validateMutation checks that required fields are present.
func validateMutation(m CardMutation) error {
	switch m.Op {
	case OpAdd:
		if m.Title == nil || *m.Title == "" {
			return fmt.Errorf("%w: title", ErrMissingRequiredField)
		}
		if m.Content == nil {
			return fmt.Errorf("%w: content", ErrMissingRequiredField)
		}
	case OpUpdate, OpDelete:
		if m.CardID <= 0 {
			return fmt.Errorf("%w: id", ErrMissingRequiredField)
		}
	}
	if m.Kind != "" && m.Kind != "npc" && m.Kind != "world" {
		return fmt.Errorf("%w: kind %q", ErrInvalidArguments, m.Kind)
	}
	return nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func cleanTriggers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ToolCallAccumulator assembles streamed tool call deltas into complete calls.
type ToolCallAccumulator struct {
	calls map[int]*ToolCall
}

// Add merges one delta.
func (a *ToolCallAccumulator) Add(d *ToolCallDelta) {
	if d == nil {
		return
	}
	if a.calls == nil {
		a.calls = make(map[int]*ToolCall)
	}
	call, ok := a.calls[d.Index]
	if !ok {
		call = &ToolCall{Type: "function"}
		a.calls[d.Index] = call
	}
	if d.ID != "" {
		call.ID = d.ID
	}
	if d.Type != "" {
		call.Type = d.Type
	}
	if d.Function != nil {
		if d.Function.Name != "" {
			call.Function.Name = d.Function.Name
		}
		call.Function.Arguments += d.Function.Arguments
	}
}

// Calls returns the assembled calls ordered by index.
func (a *ToolCallAccumulator) Calls() []ToolCall {
	idx := make([]int, 0, len(a.calls))
	for i := range a.calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]ToolCall, 0, len(idx))
	for _, i := range idx {
		out = append(out, *a.calls[i])
	}
	return out
}
