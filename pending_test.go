// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tdmux_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/creachadair/tdmux"
	"github.com/fortytw2/leaktest"
)

func TestTableTokens(t *testing.T) {
	defer leaktest.Check(t)()

	const numCallers = 64
	tab := tdmux.NewTable[string](nil)

	var μ sync.Mutex
	seen := make(map[string]bool)

	g := taskgroup.New(nil)
	for range numCallers {
		g.Go(func() error {
			c := tab.Begin(0)
			if c.Token() == "" {
				t.Error("Begin: empty token")
				return nil
			}
			μ.Lock()
			defer μ.Unlock()
			if seen[c.Token()] {
				t.Errorf("Begin: duplicate token %q", c.Token())
			}
			seen[c.Token()] = true
			return nil
		})
	}
	g.Wait()

	if n := tab.Len(); n != numCallers {
		t.Errorf("Len: got %d, want %d", n, numCallers)
	}
	tab.Close(nil)
	if n := tab.Len(); n != 0 {
		t.Errorf("Len after Close: got %d, want 0", n)
	}
}

func TestTableResolve(t *testing.T) {
	tab := tdmux.NewTable[string](nil)

	c := tab.Begin(0)
	tok := c.Token()
	if !tab.Pending(tok) {
		t.Fatalf("Pending(%q): got false, want true", tok)
	}

	// The first terminal transition wins; the rest have no effect.
	if !tab.Resolve(tok, "first") {
		t.Error("Resolve: got false, want true")
	}
	if tab.Resolve(tok, "second") {
		t.Error("Second Resolve: got true, want false")
	}
	if tab.Reject(tok, errors.New("bad")) {
		t.Error("Reject after Resolve: got true, want false")
	}
	if c.Cancel() {
		t.Error("Cancel after Resolve: got true, want false")
	}

	v, err := c.Result()
	if err != nil || v != "first" {
		t.Errorf("Result: got %q, %v; want first, nil", v, err)
	}
	if tab.Pending(tok) {
		t.Errorf("Pending(%q) after Resolve: got true, want false", tok)
	}

	t.Run("Unknown", func(t *testing.T) {
		if tab.Resolve("no-such-token", "x") {
			t.Error("Resolve unknown token: got true, want false")
		}
	})

	t.Run("Reject", func(t *testing.T) {
		c := tab.Begin(0)
		bad := errors.New("bad")
		if !tab.Reject(c.Token(), bad) {
			t.Error("Reject: got false, want true")
		}
		if _, err := c.Result(); err != bad {
			t.Errorf("Result: got %v, want %v", err, bad)
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		c := tab.Begin(0)
		if !tab.Cancel(c.Token()) {
			t.Error("Cancel: got false, want true")
		}
		if _, err := c.Result(); !errors.Is(err, tdmux.ErrCanceled) {
			t.Errorf("Result: got %v, want %v", err, tdmux.ErrCanceled)
		}
	})

	t.Run("Close", func(t *testing.T) {
		tab := tdmux.NewTable[int](nil)
		c := tab.Begin(0)
		stop := errors.New("stopped")
		tab.Close(stop)

		if _, err := c.Result(); err != stop {
			t.Errorf("Result: got %v, want %v", err, stop)
		}
		late := tab.Begin(time.Second)
		if late.Token() != "" {
			t.Errorf("Begin after Close: got token %q, want empty", late.Token())
		}
		if _, err := late.Result(); err != stop {
			t.Errorf("Begin after Close: got %v, want %v", err, stop)
		}
	})
}

func TestTableTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		tab := tdmux.NewTable[string](nil)
		c := tab.Begin(50 * time.Millisecond)

		start := time.Now()
		_, err := c.Wait(context.Background())
		if !errors.Is(err, tdmux.ErrTimeout) {
			t.Errorf("Wait: got %v, want %v", err, tdmux.ErrTimeout)
		}
		if d := time.Since(start); d != 50*time.Millisecond {
			t.Errorf("Wait: returned after %v, want 50ms", d)
		}

		// A response arriving after the timeout is not matched.
		if tab.Resolve(c.Token(), "late") {
			t.Error("Resolve after timeout: got true, want false")
		}
		if n := tab.Len(); n != 0 {
			t.Errorf("Len after timeout: got %d, want 0", n)
		}
	})
}

func TestTableStaleTimer(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// A source that always reports the same token, so that a later call
		// reuses the token of a finished one.
		tab := tdmux.NewTable[string](tdmux.TokenFunc(func() string { return "same" }))

		c1 := tab.Begin(10 * time.Millisecond)
		if !tab.Resolve("same", "one") {
			t.Fatal("Resolve first call: got false, want true")
		}
		c2 := tab.Begin(time.Second)
		if c2.Token() != "same" {
			t.Fatalf("Begin: got token %q, want same", c2.Token())
		}

		// While c2 is pending, no other call can have its token.
		if c3 := tab.Begin(0); c3.Token() != "" {
			t.Errorf("Begin with token in use: got token %q, want empty", c3.Token())
		}

		// The timer of c1 must not end c2.
		time.Sleep(100 * time.Millisecond)
		synctest.Wait()
		if !tab.Pending("same") {
			t.Error("Second call ended early")
		}
		if v, _ := c1.Result(); v != "one" {
			t.Errorf("First result: got %q, want one", v)
		}
		if !tab.Resolve("same", "two") {
			t.Error("Resolve second call: got false, want true")
		}
		if v, err := c2.Result(); err != nil || v != "two" {
			t.Errorf("Second result: got %q, %v; want two, nil", v, err)
		}
	})
}

func TestCallWait(t *testing.T) {
	defer leaktest.Check(t)()
	tab := tdmux.NewTable[string](tdmux.UUIDTokens())

	t.Run("Response", func(t *testing.T) {
		c := tab.Begin(0)
		go tab.Resolve(c.Token(), "ok")
		v, err := c.Wait(t.Context())
		if err != nil || v != "ok" {
			t.Errorf("Wait: got %q, %v; want ok, nil", v, err)
		}
	})

	t.Run("Context", func(t *testing.T) {
		c := tab.Begin(0)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := c.Wait(ctx)
		if !errors.Is(err, tdmux.ErrCanceled) || !errors.Is(err, context.Canceled) {
			t.Errorf("Wait: got %v, want %v and %v", err, tdmux.ErrCanceled, context.Canceled)
		}
		if tab.Pending(c.Token()) {
			t.Error("Call is still pending after its context ended")
		}
	})
}

func TestSequence(t *testing.T) {
	var s tdmux.Sequence
	for _, want := range []string{"1", "2", "3"} {
		if got := s.Next(); got != want {
			t.Errorf("Next: got %q, want %q", got, want)
		}
	}
}
