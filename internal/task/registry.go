// Package task tracks cancellable background work, one live task per key.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/azyu/talemind/internal/metrics"
)

// Token identifies one run of a task and owns its cancellation.
type Token struct {
	ID  string
	Key string

	ctx    context.Context
	cancel context.CancelFunc
}

// Context is cancelled when the task is superseded, cancelled or times out.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Err reports why the task's context ended, or nil while it is live.
func (t *Token) Err() error {
	return t.ctx.Err()
}

// Registry maps keys to their live token. Starting a task for a key cancels
// the one already running under it.
type Registry struct {
	kind   string
	mu     sync.Mutex
	active map[string]*Token
}

// NewRegistry creates a registry; kind labels its metrics.
func NewRegistry(kind string) *Registry {
	return &Registry{
		kind:   kind,
		active: make(map[string]*Token),
	}
}

// Start cancels any live task for key and registers a new token derived from
// parent. A positive timeout bounds the new task.
func (r *Registry) Start(parent context.Context, key string, timeout time.Duration) *Token {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	tok := &Token{ID: uuid.NewString(), Key: key, ctx: ctx, cancel: cancel}

	r.mu.Lock()
	prev := r.active[key]
	r.active[key] = tok
	r.mu.Unlock()

	if prev != nil {
		prev.cancel()
		metrics.TasksSupersededTotal.WithLabelValues(r.kind).Inc()
	}
	return tok
}

// IsCurrent reports whether tok is still the live token for its key.
func (r *Registry) IsCurrent(tok *Token) bool {
	if tok == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[tok.Key] == tok
}

// Active returns the live token for key.
func (r *Registry) Active(key string) (*Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.active[key]
	return tok, ok
}

// Finish releases tok and unregisters it if it is still current. It reports
// whether tok was current.
func (r *Registry) Finish(tok *Token) bool {
	if tok == nil {
		return false
	}
	r.mu.Lock()
	current := r.active[tok.Key] == tok
	if current {
		delete(r.active, tok.Key)
	}
	r.mu.Unlock()

	tok.cancel()
	return current
}

// Cancel stops the live task for key, if any.
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	tok, ok := r.active[key]
	delete(r.active, key)
	r.mu.Unlock()

	if ok {
		tok.cancel()
	}
	return ok
}

// CancelAll stops every live task.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	toks := make([]*Token, 0, len(r.active))
	for _, tok := range r.active {
		toks = append(toks, tok)
	}
	r.active = make(map[string]*Token)
	r.mu.Unlock()

	for _, tok := range toks {
		tok.cancel()
	}
}

// Len returns the number of live tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
