package task

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/azyu/talemind/internal/logging"
	"github.com/azyu/talemind/internal/metrics"
	"github.com/azyu/talemind/internal/narrator"
)

// Illustrator produces an illustration for one assistant message. Image
// generation itself lives outside the engine.
type Illustrator interface {
	Illustrate(ctx context.Context, req IllustrationRequest) (string, error)
}

// IllustrationRequest describes the turn to illustrate.
type IllustrationRequest struct {
	AssistantMessageID int64
	Model              string
	Prompt             string
}

// IllustrationResult is delivered once per request that was not superseded.
type IllustrationResult struct {
	AssistantMessageID int64
	URL                string
	// Err is nil or a *narrator.GenerationError.
	Err error
}

// Timeouts selects how long an illustration may take by model.
type Timeouts struct {
	Default time.Duration
	High    time.Duration
	// HighModels are model name prefixes that get the High timeout.
	HighModels []string
}

// DefaultHighCapabilityModels are slower, higher-quality image models.
var DefaultHighCapabilityModels = []string{"gpt-image", "imagen-4", "flux-pro"}

// For returns the timeout for model.
func (t Timeouts) For(model string) time.Duration {
	m := strings.ToLower(model)
	for _, prefix := range t.HighModels {
		if prefix != "" && strings.HasPrefix(m, strings.ToLower(prefix)) {
			return t.High
		}
	}
	return t.Default
}

// Illustrations runs illustration tasks keyed by assistant message id. A new
// request for a message cancels the previous one, and results of superseded
// runs are dropped.
type Illustrations struct {
	reg      *Registry
	gen      Illustrator
	timeouts Timeouts
	wg       sync.WaitGroup
}

// NewIllustrations creates an illustration scheduler.
func NewIllustrations(gen Illustrator, timeouts Timeouts) *Illustrations {
	return &Illustrations{
		reg:      NewRegistry("illustration"),
		gen:      gen,
		timeouts: timeouts,
	}
}

// Request starts illustrating req in the background. done runs on the task's
// goroutine unless the run was superseded or cancelled first.
func (s *Illustrations) Request(ctx context.Context, req IllustrationRequest, done func(IllustrationResult)) *Token {
	key := strconv.FormatInt(req.AssistantMessageID, 10)
	tok := s.reg.Start(ctx, key, s.timeouts.For(req.Model))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		url, err := s.gen.Illustrate(tok.Context(), req)
		if err == nil && tok.Err() != nil {
			err = tok.Err()
		}

		if !s.reg.Finish(tok) {
			metrics.IllustrationTotal.WithLabelValues("superseded").Inc()
			return
		}

		res := IllustrationResult{AssistantMessageID: req.AssistantMessageID, URL: url}
		if err != nil {
			res.URL = ""
			res.Err = classifyTimeout(err)
			status := "failed"
			if errors.Is(err, context.DeadlineExceeded) {
				status = "timeout"
			}
			metrics.IllustrationTotal.WithLabelValues(status).Inc()
			logging.FromContext(ctx).Warn("illustration failed",
				"assistant_message_id", req.AssistantMessageID, "error", err)
		} else {
			metrics.IllustrationTotal.WithLabelValues("completed").Inc()
		}
		if done != nil {
			done(res)
		}
	}()
	return tok
}

// Cancel stops the illustration for a message.
func (s *Illustrations) Cancel(assistantMessageID int64) bool {
	return s.reg.Cancel(strconv.FormatInt(assistantMessageID, 10))
}

// Pending returns the number of live illustration tasks.
func (s *Illustrations) Pending() int {
	return s.reg.Len()
}

// Close cancels every task and waits for their goroutines to exit.
func (s *Illustrations) Close() {
	s.reg.CancelAll()
	s.wg.Wait()
}

// classifyTimeout reports timeouts as failures, like a dropped connection.
func classifyTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return narrator.Failed(err)
	}
	return narrator.Classify(err)
}
