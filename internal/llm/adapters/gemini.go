package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/azyu/talemind/internal/llm"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// geminiModels is keyed by base model; preview and dated variants match by
// prefix.
var geminiModels = map[string]llm.Capabilities{
	"gemini-2.0-flash": {SupportsTools: true, MaxContextTokens: 1048576, MaxOutputTokens: 8192},
	"gemini-2.5-pro":   {SupportsTools: true, MaxContextTokens: 1048576, MaxOutputTokens: 65536},
	"gemini-2.5-flash": {SupportsTools: true, MaxContextTokens: 1048576, MaxOutputTokens: 65536},
}

var geminiFallback = llm.Capabilities{SupportsTools: true, MaxContextTokens: 128000, MaxOutputTokens: 8192}

// Narration is fiction; the narrator prompt carries the content policy.
var geminiSafety = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
}

// GeminiAdapter streams completions from Google's Gemini API.
type GeminiAdapter struct {
	client *genai.Client
	model  string
}

// GeminiAdapterOption configures a GeminiAdapter.
type GeminiAdapterOption func(*genai.ClientConfig)

// WithGeminiBaseURL points the client at a proxy or regional endpoint.
func WithGeminiBaseURL(baseURL string) GeminiAdapterOption {
	return func(c *genai.ClientConfig) {
		c.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
}

// NewGeminiAdapter creates an adapter for model.
func NewGeminiAdapter(ctx context.Context, apiKey, model string, opts ...GeminiAdapterOption) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", llm.ErrInvalidAPIKey)
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	for _, opt := range opts {
		opt(cfg)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiAdapter{client: client, model: model}, nil
}

// Stream starts a streamed completion. Errors, including ones from opening
// the request, arrive on the channel.
func (a *GeminiAdapter) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	contents, config := geminiRequest(req)
	chunks := make(chan llm.StreamChunk, 64)
	go a.readStream(ctx, contents, config, chunks)
	return chunks, nil
}

func (a *GeminiAdapter) readStream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig, chunks chan<- llm.StreamChunk) {
	defer close(chunks)

	calls := 0
	for result, err := range a.client.Models.GenerateContentStream(ctx, a.model, contents, config) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			chunks <- llm.StreamChunk{Error: ctxErr, Done: true}
			return
		}
		if err != nil {
			chunks <- llm.StreamChunk{Error: wrapGeminiError(err), Done: true}
			return
		}

		out := geminiChunks(result, &calls)
		for _, chunk := range out {
			chunks <- chunk
		}
		if len(out) > 0 && out[len(out)-1].Done {
			return
		}
	}
	chunks <- llm.StreamChunk{Done: true}
}

// Capabilities reports the model's context window and tool support.
func (a *GeminiAdapter) Capabilities() llm.Capabilities {
	if caps, ok := geminiModels[a.model]; ok {
		return caps
	}
	for base, caps := range geminiModels {
		if strings.HasPrefix(a.model, base) {
			return caps
		}
	}
	return geminiFallback
}

// Close is a no-op; the genai client holds no resources of its own.
func (a *GeminiAdapter) Close() error {
	return nil
}

// geminiRequest maps a request onto Gemini contents. The system message
// becomes the system instruction and assistant turns use the "model" role.
func geminiRequest(req llm.ChatRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{
		StopSequences:  req.Stop,
		SafetySettings: geminiSafety,
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}

	var contents []*genai.Content
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			config.SystemInstruction = genai.NewContentFromText(msg.Content, genai.RoleUser)
		case llm.RoleUser:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		}
	}

	for _, tool := range req.Tools {
		config.Tools = append(config.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:                 tool.Function.Name,
				Description:          tool.Function.Description,
				ParametersJsonSchema: tool.Function.Parameters,
			}},
		})
	}
	if req.ToolChoice == "none" {
		config.Tools = nil
	}
	return contents, config
}

// geminiChunks converts one streamed response. Gemini sends each function
// call whole, so every call becomes one delta with a running index shared
// across the stream.
func geminiChunks(result *genai.GenerateContentResponse, calls *int) []llm.StreamChunk {
	if len(result.Candidates) == 0 {
		return nil
	}
	candidate := result.Candidates[0]

	var out []llm.StreamChunk
	var text llm.StreamChunk
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			text.Delta += part.Text
			if part.FunctionCall == nil {
				continue
			}
			args, _ := json.Marshal(part.FunctionCall.Args)
			id := part.FunctionCall.ID
			if id == "" {
				id = fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, *calls)
			}
			out = append(out, llm.StreamChunk{ToolCall: &llm.ToolCallDelta{
				Index:    *calls,
				ID:       id,
				Type:     "function",
				Function: &llm.FunctionCallDelta{Name: part.FunctionCall.Name, Arguments: string(args)},
			}})
			*calls++
		}
	}

	if candidate.FinishReason != "" {
		text.FinishReason = geminiFinishReason(candidate.FinishReason, *calls > 0)
		text.Done = true
	}
	if u := result.UsageMetadata; u != nil {
		text.Usage = &llm.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	if text.Delta != "" || text.Done || text.Usage != nil {
		out = append(out, text)
	}
	return out
}

func geminiFinishReason(reason genai.FinishReason, calledTools bool) string {
	switch reason {
	case genai.FinishReasonStop:
		if calledTools {
			return llm.FinishReasonToolCalls
		}
		return llm.FinishReasonStop
	case genai.FinishReasonMaxTokens:
		return llm.FinishReasonLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonBlocklist:
		return llm.FinishReasonContentFilter
	default:
		return string(reason)
	}
}

// wrapGeminiError converts a Gemini error to a ProviderError. Errors that
// carry no HTTP status fall back to message matching.
func wrapGeminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	pe := &llm.ProviderError{Provider: "gemini", Message: err.Error()}
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		pe.StatusCode, pe.ErrCode, pe.Message = apiErr.Code, apiErr.Status, apiErr.Message
	case errors.As(err, &apiErrPtr):
		pe.StatusCode, pe.ErrCode, pe.Message = apiErrPtr.Code, apiErrPtr.Status, apiErrPtr.Message
	}
	pe.Kind = geminiErrorKind(pe.StatusCode, pe.ErrCode, err.Error())
	return pe
}

func geminiErrorKind(status int, code, msg string) error {
	switch {
	case status == http.StatusPaymentRequired, code == "RESOURCE_EXHAUSTED" && strings.Contains(msg, "billing"):
		return llm.ErrInsufficientBalance
	case status == http.StatusUnauthorized, status == http.StatusForbidden, strings.Contains(msg, "API key"):
		return llm.ErrInvalidAPIKey
	case status == http.StatusNotFound:
		return llm.ErrModelNotFound
	case status == http.StatusTooManyRequests, strings.Contains(msg, "rate limit"):
		return llm.ErrRateLimited
	case strings.Contains(msg, "context") && strings.Contains(msg, "token"):
		return llm.ErrContextTooLong
	default:
		return llm.ErrAPIError
	}
}

var _ llm.Provider = (*GeminiAdapter)(nil)
