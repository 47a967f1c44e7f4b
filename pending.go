// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tdmux

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/creachadair/mds/mapset"
)

// maxTokenAttempts bounds the number of tokens Begin will draw from its source
// while looking for one that is not already pending.
const maxTokenAttempts = 64

// A Table records pending calls keyed by correlation token, and delivers
// results of type T to them. A Table is safe for concurrent use by callers
// and by the goroutine delivering responses.
//
// Every call ends exactly once, by Resolve, Reject, Cancel, timeout, or Close.
// Whichever of these happens first wins; the others report false and have no
// effect.
type Table[T any] struct {
	src  TokenSource
	live *tokenSet // if non-nil, tokens pending in other tables sharing it

	μ     sync.Mutex
	calls map[string]*Call[T]
	err   error // if non-nil, the table is closed
}

// NewTable constructs an empty table that draws tokens from src.  If src ==
// nil, the table uses its own Sequence.
func NewTable[T any](src TokenSource) *Table[T] {
	if src == nil {
		src = new(Sequence)
	}
	return &Table[T]{src: src, calls: make(map[string]*Call[T])}
}

// newSharedTable constructs an empty table like NewTable, whose tokens are
// also unique among the calls pending in every other table sharing live.
func newSharedTable[T any](src TokenSource, live *tokenSet) *Table[T] {
	t := NewTable[T](src)
	t.live = live
	return t
}

// A tokenSet records the tokens pending across a group of tables.
type tokenSet struct {
	μ    sync.Mutex
	toks mapset.Set[string]
}

func newTokenSet() *tokenSet { return &tokenSet{toks: mapset.New[string]()} }

// reserve adds tok to s and reports whether it was not already present.
// A nil *tokenSet accepts every token.
func (s *tokenSet) reserve(tok string) bool {
	if s == nil {
		return true
	}
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.toks.Has(tok) {
		return false
	}
	s.toks.Add(tok)
	return true
}

func (s *tokenSet) release(toks ...string) {
	if s == nil || len(toks) == 0 {
		return
	}
	s.μ.Lock()
	defer s.μ.Unlock()
	s.toks.Remove(toks...)
}

// Begin records a new pending call with a token not used by any other call
// pending in t, or in any table sharing its tokens with t. If timeout > 0 and the call has not ended when it elapses,
// the call ends with ErrTimeout.
//
// If t is closed, or no unused token can be found, the call returned has
// already failed with an error and has an empty token.
func (t *Table[T]) Begin(timeout time.Duration) *Call[T] {
	c := &Call[T]{table: t, done: make(chan struct{})}

	t.μ.Lock()
	defer t.μ.Unlock()
	if t.err != nil {
		c.complete(*new(T), t.err)
		return c
	}
	for range maxTokenAttempts {
		tok := t.src.Next()
		if _, used := t.calls[tok]; tok != "" && !used && t.live.reserve(tok) {
			c.token = tok
			break
		}
	}
	if c.token == "" {
		c.complete(*new(T), fmt.Errorf("no unused token after %d attempts", maxTokenAttempts))
		return c
	}
	if timeout > 0 {
		c.timer = time.AfterFunc(timeout, func() {
			t.finish(c.token, c, *new(T), ErrTimeout)
		})
	}
	t.calls[c.token] = c
	return c
}

// Resolve ends the call pending for token with value v, and reports whether
// a call was pending. A false result means the token is unknown or the call
// has already ended.
func (t *Table[T]) Resolve(token string, v T) bool { return t.finish(token, nil, v, nil) }

// Reject ends the call pending for token with the given error, and reports
// whether a call was pending.
func (t *Table[T]) Reject(token string, err error) bool {
	return t.finish(token, nil, *new(T), err)
}

// Cancel ends the call pending for token with ErrCanceled, and reports
// whether a call was pending.
func (t *Table[T]) Cancel(token string) bool {
	return t.finish(token, nil, *new(T), ErrCanceled)
}

// Len reports the number of pending calls.
func (t *Table[T]) Len() int {
	t.μ.Lock()
	defer t.μ.Unlock()
	return len(t.calls)
}

// Pending reports whether a call is pending for token.
func (t *Table[T]) Pending(token string) bool {
	t.μ.Lock()
	defer t.μ.Unlock()
	_, ok := t.calls[token]
	return ok
}

// Close ends all pending calls with err, and causes subsequent calls to Begin
// to fail with err. If err == nil, ErrCanceled is used. Close is idempotent;
// only the first error is retained.
func (t *Table[T]) Close(err error) {
	if err == nil {
		err = ErrCanceled
	}
	t.μ.Lock()
	if t.err == nil {
		t.err = err
	}
	calls := t.calls
	t.calls = make(map[string]*Call[T])
	t.μ.Unlock()

	toks := make([]string, 0, len(calls))
	for tok := range calls {
		toks = append(toks, tok)
	}
	t.live.release(toks...)
	for _, c := range calls {
		c.complete(*new(T), err)
	}
}

// finish removes the call pending for token and completes it. If want != nil,
// the call is finished only if it is the one pending for token; this keeps a
// stale timer or canceller from ending a later call that reused the token.
func (t *Table[T]) finish(token string, want *Call[T], v T, err error) bool {
	t.μ.Lock()
	c, ok := t.calls[token]
	if !ok || (want != nil && c != want) {
		t.μ.Unlock()
		return false
	}
	delete(t.calls, token)
	t.μ.Unlock()

	t.live.release(token)
	c.complete(v, err)
	return true
}

// A Call is the handle for a pending call recorded in a Table.
type Call[T any] struct {
	table *Table[T]
	token string
	timer *time.Timer
	done  chan struct{}

	// Set once, before done is closed.
	value T
	err   error
}

func (c *Call[T]) complete(v T, err error) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.value, c.err = v, err
	close(c.done)
}

// Token returns the correlation token assigned to c.
func (c *Call[T]) Token() string { return c.token }

// Done returns a channel that is closed when c has ended.
func (c *Call[T]) Done() <-chan struct{} { return c.done }

// Result blocks until c has ended, and returns its value and error.
func (c *Call[T]) Result() (T, error) {
	<-c.done
	return c.value, c.err
}

// Cancel ends c with ErrCanceled if it is still pending, and reports whether
// it did so.
func (c *Call[T]) Cancel() bool { return c.table.finish(c.token, c, *new(T), ErrCanceled) }

// Wait blocks until c ends or ctx ends. If ctx ends first, c is canceled and
// its error wraps both ErrCanceled and the error from ctx. Wait does not stop
// a response from arriving later; the table will no longer match it.
func (c *Call[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		c.table.finish(c.token, c, *new(T), fmt.Errorf("%w: %w", ErrCanceled, ctx.Err()))
	}
	return c.Result()
}
