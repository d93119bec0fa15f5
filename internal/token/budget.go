package token

// ModelContextLimits maps model names to their maximum context window sizes.
var ModelContextLimits = map[string]int{
	// OpenAI models
	"gpt-4o":        128000,
	"gpt-4o-mini":   128000,
	"gpt-4-turbo":   128000,
	"gpt-4":         8192,
	"gpt-3.5-turbo": 16385,

	// Google Gemini models
	"gemini-2.0-flash":      1000000,
	"gemini-2.0-flash-lite": 1000000,
	"gemini-2.5-flash":      1000000,
	"gemini-2.5-pro":        1000000,
}

// DefaultContextLimit is used when the model is not recognized.
const DefaultContextLimit = 8192

// DefaultResponseReserve is held back for the model's reply when none is configured.
const DefaultResponseReserve = 1024

// ContextLimit returns the context window for a model, or the default if unknown.
func ContextLimit(model string) int {
	if limit, ok := ModelContextLimits[model]; ok {
		return limit
	}
	return DefaultContextLimit
}

// InputLimit returns the token ceiling for assembled context.
// A positive configured value overrides the model's window. The response
// reserve is subtracted, but the result never drops below a quarter of the window.
func InputLimit(model string, configured, responseReserve int) int {
	window := configured
	if window <= 0 {
		window = ContextLimit(model)
	}
	if responseReserve < 0 {
		responseReserve = 0
	}

	limit := window - responseReserve
	if floor := window / 4; limit < floor {
		limit = floor
	}
	return limit
}
