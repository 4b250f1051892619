// Package lifecycle implements the cooperative cancellation token used by
// every RakNet client and Bedrock session. It is a thin wrapper around context.Context — the idiomatic
// Go primitive for exactly this purpose, plus a WaitGroup so a reaper
// can block until every task spawned under the token has actually
// drained, not merely been told to stop.
package lifecycle

import (
	"context"
	"sync"
)

// Token is cancelled exactly once, after which Done() is closed and
// Err() returns non-nil. Tasks register with Go so that Wait can block
// until all of them have returned.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	reason error
}

// New creates a Token tied to parent. A nil parent defaults to
// context.Background().
func New(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Done returns a channel closed once the token is cancelled.
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Context returns the underlying context, for callers (like the
// registry) that need to hand it onward as another component's parent.
func (t *Token) Context() context.Context { return t.ctx }

// Err returns the cancellation cause, or nil if still live. A token
// cancelled with a nil reason (or through its parent) reports the
// context's own cancellation error.
func (t *Token) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reason == nil {
		return t.ctx.Err()
	}
	return t.reason
}

// Cancel cancels the token with reason. Only the first call's reason is
// retained; subsequent calls are no-ops beyond the underlying context
// cancellation, which is itself idempotent.
func (t *Token) Cancel(reason error) {
	t.mu.Lock()
	if t.reason == nil {
		t.reason = reason
	}
	t.mu.Unlock()
	t.cancel()
}

// Go runs fn in a new goroutine tracked by the token's WaitGroup.
func (t *Token) Go(fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

// Wait blocks until every goroutine started with Go has returned. Callers
// must have already cancelled the token (or know it will be shortly) or
// this blocks forever.
func (t *Token) Wait() { t.wg.Wait() }
