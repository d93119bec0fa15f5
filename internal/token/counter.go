package token

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens in a string. Implementations never fail; bad input counts as 0.
type Counter interface {
	Count(text string) int
}

// Heuristic is the default Counter, backed by Estimate.
type Heuristic struct{}

// Count implements Counter.
func (Heuristic) Count(text string) int {
	return Estimate(text)
}

// HeuristicName selects the Heuristic counter in configuration.
const HeuristicName = "heuristic"

// NewCounter returns the counter configured by name: "heuristic" (or empty)
// selects the Heuristic estimator, anything else is treated as a tiktoken
// encoding. An encoding that can't be loaded falls back to the heuristic.
func NewCounter(name string) Counter {
	name = strings.TrimSpace(name)
	if name == "" || name == HeuristicName {
		return Heuristic{}
	}
	counter, err := NewTiktokenCounter(name)
	if err != nil {
		return Heuristic{}
	}
	return counter
}

// TiktokenCounter wraps a tiktoken encoder for exact counts against OpenAI encodings.
type TiktokenCounter struct {
	encoder  *tiktoken.Tiktoken
	encoding string
}

// NewTiktokenCounter creates a counter with the specified encoding.
// Supported encodings include:
//   - "cl100k_base" (GPT-4, GPT-3.5-turbo)
//   - "o200k_base" (GPT-4o)
//   - "p50k_base", "r50k_base" (older models)
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	encoder, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}

	return &TiktokenCounter{
		encoder:  encoder,
		encoding: encoding,
	}, nil
}

// Encoding returns the current encoding name.
func (c *TiktokenCounter) Encoding() string {
	return c.encoding
}

// Count returns the number of tokens in the given text.
func (c *TiktokenCounter) Count(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return len(c.encoder.Encode(text, nil, nil))
}

// EncodingForModel maps a provider tokenizer type to a counter name.
// Providers without a public BPE encoding get the heuristic.
func EncodingForModel(tokenizerType string) string {
	switch tokenizerType {
	case "cl100k_base", "o200k_base", "p50k_base", "r50k_base":
		return tokenizerType
	default:
		return HeuristicName
	}
}
