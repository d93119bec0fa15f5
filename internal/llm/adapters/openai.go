// Package adapters connects the narrator's streaming contract to hosted and
// local model APIs.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/azyu/talemind/internal/llm"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o"

// openAIModels lists context windows of hosted models. Anything else,
// including models behind an OpenAI-compatible local server, gets
// fallbackCapabilities.
var openAIModels = map[string]llm.Capabilities{
	"gpt-4o":        {SupportsTools: true, MaxContextTokens: 128000, MaxOutputTokens: 16384},
	"gpt-4o-mini":   {SupportsTools: true, MaxContextTokens: 128000, MaxOutputTokens: 16384},
	"gpt-4.1":       {SupportsTools: true, MaxContextTokens: 1047576, MaxOutputTokens: 32768},
	"gpt-4.1-mini":  {SupportsTools: true, MaxContextTokens: 1047576, MaxOutputTokens: 32768},
	"gpt-3.5-turbo": {SupportsTools: true, MaxContextTokens: 16385, MaxOutputTokens: 4096},
}

var fallbackCapabilities = llm.Capabilities{SupportsTools: true, MaxContextTokens: 8192, MaxOutputTokens: 2048}

// OpenAIAdapter streams completions from the OpenAI API or a compatible
// server, and draws illustrations with its image endpoint.
type OpenAIAdapter struct {
	client *openai.Client
	model  string
	config OpenAIConfig
}

// OpenAIConfig holds the adapter's connection settings.
type OpenAIConfig struct {
	BaseURL string
	Timeout time.Duration

	// MaxRetries bounds how often opening a stream is retried after a rate
	// limit or a server error. Each retry waits RetryDelay times the attempt.
	MaxRetries int
	RetryDelay time.Duration
}

// OpenAIOption configures an OpenAIAdapter.
type OpenAIOption func(*OpenAIConfig)

// WithOpenAIBaseURL points the adapter at a compatible server.
func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(c *OpenAIConfig) { c.BaseURL = baseURL }
}

// WithOpenAITimeout sets the HTTP timeout.
func WithOpenAITimeout(timeout time.Duration) OpenAIOption {
	return func(c *OpenAIConfig) { c.Timeout = timeout }
}

// WithOpenAIRetry sets the retry policy for opening a stream.
func WithOpenAIRetry(maxRetries int, retryDelay time.Duration) OpenAIOption {
	return func(c *OpenAIConfig) {
		c.MaxRetries = maxRetries
		c.RetryDelay = retryDelay
	}
}

// NewOpenAIAdapter creates an adapter for model. A custom base URL allows an
// empty API key.
func NewOpenAIAdapter(apiKey, model string, opts ...OpenAIOption) (*OpenAIAdapter, error) {
	config := OpenAIConfig{
		Timeout:    120 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(&config)
	}

	if apiKey == "" && config.BaseURL == "" {
		return nil, fmt.Errorf("%w: API key is required", llm.ErrInvalidAPIKey)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}

	return &OpenAIAdapter{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
		config: config,
	}, nil
}

// Stream opens a streamed completion, retrying rate limits and server
// errors before the first byte arrives.
func (a *OpenAIAdapter) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	openAIReq := a.buildRequest(req)

	var lastErr error
	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.config.RetryDelay * time.Duration(attempt)):
			}
		}

		stream, err := a.client.CreateChatCompletionStream(ctx, openAIReq)
		if err != nil {
			lastErr = handleOpenAIError(err)
			if !isRetryable(lastErr) {
				return nil, lastErr
			}
			continue
		}

		chunks := make(chan llm.StreamChunk, 64)
		go readOpenAIStream(ctx, stream, chunks)
		return chunks, nil
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func readOpenAIStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- llm.StreamChunk) {
	defer close(chunks)
	defer stream.Close()

	for {
		if err := ctx.Err(); err != nil {
			chunks <- llm.StreamChunk{Error: err, Done: true}
			return
		}

		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			chunks <- llm.StreamChunk{Done: true}
			return
		}
		if err != nil {
			chunks <- llm.StreamChunk{Error: handleOpenAIError(err), Done: true}
			return
		}

		var usage *llm.TokenUsage
		if resp.Usage != nil {
			usage = &llm.TokenUsage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			if usage != nil {
				chunks <- llm.StreamChunk{Usage: usage}
			}
			continue
		}

		choice := resp.Choices[0]
		for _, tc := range choice.Delta.ToolCalls {
			chunks <- llm.StreamChunk{ToolCall: toolCallDelta(tc)}
		}
		chunk := llm.StreamChunk{
			Delta:        choice.Delta.Content,
			FinishReason: string(choice.FinishReason),
			Usage:        usage,
		}
		if chunk.Delta != "" || chunk.FinishReason != "" || chunk.Usage != nil {
			chunks <- chunk
		}
	}
}

func toolCallDelta(tc openai.ToolCall) *llm.ToolCallDelta {
	delta := &llm.ToolCallDelta{ID: tc.ID, Type: string(tc.Type)}
	if tc.Index != nil {
		delta.Index = *tc.Index
	}
	if tc.Function.Name != "" || tc.Function.Arguments != "" {
		delta.Function = &llm.FunctionCallDelta{
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}
	}
	return delta
}

// Capabilities reports the model's context window and tool support.
func (a *OpenAIAdapter) Capabilities() llm.Capabilities {
	if caps, ok := openAIModels[a.model]; ok {
		return caps
	}
	return fallbackCapabilities
}

// Close is a no-op; the HTTP client holds no resources of its own.
func (a *OpenAIAdapter) Close() error {
	return nil
}

// GenerateImage creates one image for prompt and returns its URL.
func (a *OpenAIAdapter) GenerateImage(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	resp, err := a.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", handleOpenAIError(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("%w: empty image response", llm.ErrAPIError)
	}
	return resp.Data[0].URL, nil
}

func (a *OpenAIAdapter) buildRequest(req llm.ChatRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}

	out := openai.ChatCompletionRequest{
		Model:         a.model,
		Messages:      messages,
		Stop:          req.Stop,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		MaxTokens:     req.MaxTokens,
		Temperature:   float32(req.Temperature),
	}
	if len(req.Tools) == 0 {
		return out
	}

	out.Tools = make([]openai.Tool, len(req.Tools))
	for i, tool := range req.Tools {
		out.Tools[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			},
		}
	}
	switch req.ToolChoice {
	case "":
	case "auto", "none", "required":
		out.ToolChoice = req.ToolChoice
	default:
		out.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: req.ToolChoice},
		}
	}
	return out
}

func handleOpenAIError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("request canceled: %w", err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("request timed out: %w", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		return &llm.ProviderError{
			Provider:   "openai",
			StatusCode: apiErr.HTTPStatusCode,
			ErrCode:    code,
			Message:    apiErr.Message,
			Kind:       openAIErrorKind(apiErr.HTTPStatusCode, code),
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &llm.ProviderError{
			Provider:   "openai",
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
			Kind:       openAIErrorKind(reqErr.HTTPStatusCode, ""),
		}
	}
	return fmt.Errorf("%w: %s", llm.ErrAPIError, err)
}

func openAIErrorKind(status int, code string) error {
	switch {
	case status == http.StatusPaymentRequired, strings.EqualFold(code, "insufficient_quota"):
		return llm.ErrInsufficientBalance
	case status == http.StatusUnauthorized:
		return llm.ErrInvalidAPIKey
	case status == http.StatusNotFound:
		return llm.ErrModelNotFound
	case status == http.StatusTooManyRequests:
		return llm.ErrRateLimited
	case code == "context_length_exceeded":
		return llm.ErrContextTooLong
	default:
		return llm.ErrAPIError
	}
}

func isRetryable(err error) bool {
	if errors.Is(err, llm.ErrRateLimited) {
		return true
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode >= http.StatusInternalServerError
	}
	return false
}

var _ llm.Provider = (*OpenAIAdapter)(nil)
