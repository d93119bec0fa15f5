package narrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/azyu/talemind/internal/llm"
)

// Sentinel outcomes of a failed generation or background task.
var (
	// ErrCancelled means the user or a newer task stopped the work.
	ErrCancelled = errors.New("generation cancelled")

	// ErrFailed covers network failures, timeouts and malformed responses.
	ErrFailed = errors.New("generation failed")

	// ErrInsufficientBalance means the collaborator refused for lack of balance.
	// The user can recover by topping up.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Kind distinguishes how a caller should react to a failure.
type Kind string

const (
	KindCancelled           Kind = "cancelled"
	KindFailed              Kind = "failed"
	KindInsufficientBalance Kind = "insufficient_balance"
)

func (k Kind) sentinel() error {
	switch k {
	case KindCancelled:
		return ErrCancelled
	case KindInsufficientBalance:
		return ErrInsufficientBalance
	default:
		return ErrFailed
	}
}

// GenerationError is the typed failure surfaced to callers.
type GenerationError struct {
	Kind Kind
	// Code is the collaborator's error code when it sent one.
	Code string
	// Legacy is set when the kind was inferred from message text.
	Legacy bool
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return e.Kind.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind.sentinel(), e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *GenerationError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// Coder is implemented by errors that carry a structured code.
type Coder interface {
	Code() string
}

// balanceCodes are structured codes meaning the account is out of balance.
var balanceCodes = map[string]bool{
	"insufficient_balance": true,
	"insufficient_quota":   true,
	"payment_required":     true,
}

// balancePhrases are matched against error text when no code is available.
var balancePhrases = []string{
	"insufficient balance",
	"insufficient funds",
	"not enough balance",
	"недостаточно средств",
	"недостаточно баланса",
}

// Classify converts any error into a *GenerationError. Structured signals
// are preferred; message text is only consulted as a last resort.
func Classify(err error) *GenerationError {
	if err == nil {
		return nil
	}

	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge
	}

	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return &GenerationError{Kind: KindCancelled, Err: err}
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, llm.ErrInsufficientBalance):
		return &GenerationError{Kind: KindInsufficientBalance, Err: err}
	}

	var coder Coder
	if errors.As(err, &coder) && coder.Code() != "" {
		code := strings.ToLower(coder.Code())
		if balanceCodes[code] {
			return &GenerationError{Kind: KindInsufficientBalance, Code: code, Err: err}
		}
		return &GenerationError{Kind: KindFailed, Code: code, Err: err}
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range balancePhrases {
		if strings.Contains(msg, phrase) {
			return &GenerationError{Kind: KindInsufficientBalance, Legacy: true, Err: err}
		}
	}
	return &GenerationError{Kind: KindFailed, Err: err}
}

// Cancelled wraps err as a cancellation.
func Cancelled(err error) *GenerationError {
	return &GenerationError{Kind: KindCancelled, Err: err}
}

// Failed wraps err as a generic failure.
func Failed(err error) *GenerationError {
	return &GenerationError{Kind: KindFailed, Err: err}
}
