// Package llm defines the streaming chat contract the narrator talks to and
// the card tools a model can call while it narrates.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Errors a provider call unwraps to.
var (
	ErrContextTooLong = errors.New("context length exceeds model maximum")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrAPIError       = errors.New("API error")
	ErrInvalidAPIKey  = errors.New("invalid or missing API key")
	ErrModelNotFound  = errors.New("model not found")

	// ErrInsufficientBalance is returned when the account has no balance or quota left.
	// Adapters map HTTP 402 and insufficient_quota responses to it.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// ProviderError is a failed API call with the provider's status and code.
// It unwraps to one of the sentinel errors above.
type ProviderError struct {
	Provider   string
	StatusCode int
	ErrCode    string
	Message    string
	Kind       error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("HTTP %d - %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %v: %s", e.Provider, e.Kind, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Kind
}

// Code returns the provider's machine-readable error code, if any.
func (e *ProviderError) Code() string {
	return e.ErrCode
}

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Finish reasons reported on the last chunk.
const (
	FinishReasonStop          = "stop"
	FinishReasonLength        = "length"
	FinishReasonToolCalls     = "tool_calls"
	FinishReasonContentFilter = "content_filter"
)

// Provider streams chat completions. Implementations are safe for
// concurrent use.
type Provider interface {
	// Stream starts a completion. The channel is closed after a chunk with
	// Done set; a failure mid-stream arrives as a chunk with Error set.
	Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)

	Capabilities() Capabilities
	Close() error
}

// ChatRequest is one completion request.
type ChatRequest struct {
	Messages []ChatMessage
	// MaxTokens of 0 leaves the provider default.
	MaxTokens   int
	Temperature float64
	Tools       []ToolDefinition
	// ToolChoice is "auto", "none", "required" or a tool name.
	ToolChoice string
	Stop       []string
}

// ChatMessage is one message of the prompt.
type ChatMessage struct {
	Role    string
	Content string
}

// StreamChunk is one increment of a streamed completion.
type StreamChunk struct {
	Delta        string
	ToolCall     *ToolCallDelta
	Done         bool
	FinishReason string
	Usage        *TokenUsage
	Error        error
}

// ToolDefinition describes a function the model may call.
type ToolDefinition struct {
	Type     string
	Function FunctionDefinition
}

// FunctionDefinition is a callable function. Parameters is a JSON Schema
// object.
type FunctionDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a complete function call assembled from stream deltas.
type ToolCall struct {
	ID       string
	Type     string
	Function FunctionCall
}

// FunctionCall holds the function name and its JSON arguments.
type FunctionCall struct {
	Name      string
	Arguments string
}

// ToolCallDelta is a fragment of a tool call. Index tells parallel calls
// apart; ID, Type and the name are only set on the first fragment.
type ToolCallDelta struct {
	Index    int
	ID       string
	Type     string
	Function *FunctionCallDelta
}

// FunctionCallDelta carries a name and a slice of the JSON arguments.
type FunctionCallDelta struct {
	Name      string
	Arguments string
}

// TokenUsage is the token accounting of one request.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Capabilities describes the model behind a provider.
type Capabilities struct {
	// SupportsTools is false for models that cannot call card tools.
	SupportsTools    bool
	MaxContextTokens int
	MaxOutputTokens  int
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}
