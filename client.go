// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tdmux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/creachadair/mds/queue"
)

// A Client is one logical session multiplexed by a Mux. Its calls and events
// are tagged with its ID, and responses are matched only against its own
// pending calls. The methods of a Client are safe for concurrent use.
type Client struct {
	mux   *Mux
	id    int32
	calls *Table[*Message]

	μ        sync.Mutex
	handler  func(*Message)
	events   *queue.Queue[*Message]
	draining bool // a drain task is running
}

func newClient(m *Mux, id int32) *Client {
	return &Client{
		mux:    m,
		id:     id,
		calls:  newSharedTable[*Message](m.tokens, m.live),
		events: queue.New[*Message](),
	}
}

// ID returns the client ID of c. The default client has ID 0.
func (c *Client) ID() int32 { return c.id }

// Pending reports the number of calls on c awaiting a response.
func (c *Client) Pending() int { return c.calls.Len() }

// Call sends fn to the engine and blocks until the matching response is
// received, ctx ends, or the default timeout of the mux elapses.
//
// If the response is an "error" object, Call returns it as a *RemoteError.
// If ctx ends first, the error wraps ErrCanceled; on timeout it wraps
// ErrTimeout. Neither retracts the request from the engine, and a response
// arriving later is discarded.
func (c *Client) Call(ctx context.Context, fn Object) (*Message, error) {
	return c.call(ctx, fn, c.mux.timeout)
}

// CallTimeout is as Call, but the call fails with ErrTimeout if no response
// arrives within timeout. A timeout ≤ 0 means no timeout.
func (c *Client) CallTimeout(ctx context.Context, fn Object, timeout time.Duration) (*Message, error) {
	return c.call(ctx, fn, timeout)
}

func (c *Client) call(ctx context.Context, fn Object, timeout time.Duration) (_ *Message, err error) {
	m := c.mux
	m.metrics.callOut.Add(1)
	defer func() {
		if err != nil {
			m.metrics.callOutErr.Add(1)
			if errors.Is(err, ErrTimeout) {
				m.metrics.callTimeout.Add(1)
			}
		}
	}()

	name := fn.Type()
	if err := m.checkFunction(name); err != nil {
		return nil, err
	}

	pc := c.calls.Begin(timeout)
	if pc.Token() == "" {
		_, err := pc.Result() // the call failed at the outset
		return nil, err
	}
	m.metrics.callPending.Add(1)
	defer m.metrics.callPending.Add(-1)

	data, err := EncodeEnvelope(fn, pc.Token(), c.id)
	if err != nil {
		pc.Cancel()
		return nil, err
	}

	// N.B. The response may be dispatched before sendOut returns, but it
	// cannot be lost, since the call was recorded before sending.
	if err := m.sendOut(data); err != nil {
		pc.Cancel()
		return nil, fmt.Errorf("send %s: %w", name, err)
	}

	msg, err := pc.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	if re, ok := msg.Value.(*RemoteError); ok {
		return nil, re
	}
	return msg, nil
}

// Send sends fn to the engine without a correlation token, and does not wait
// for a reply. Any response the engine sends will arrive as an event.
func (c *Client) Send(fn Object) error {
	if err := c.mux.checkFunction(fn.Type()); err != nil {
		return err
	}
	data, err := EncodeEnvelope(fn, "", c.id)
	if err != nil {
		return err
	}
	return c.mux.sendOut(data)
}

// HandleEvents registers a callback to receive the uncorrelated messages
// (events) addressed to c. Events are delivered one at a time in the order
// they were received, on a goroutine separate from the receive routine.
// Events received while no handler is registered are discarded. Passing nil
// removes the handler. HandleEvents returns c to permit chaining.
//
// If the handler panics, the panic is logged and delivery continues with the
// next event.
func (c *Client) HandleEvents(f func(*Message)) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.handler = f
	return c
}

// Close retires c. Its pending calls fail with ErrClientClosed, and messages
// that arrive later for its ID are treated as unrouted. Closing a client does
// not send anything to the engine. Close is idempotent.
func (c *Client) Close() error {
	if c.mux.retire(c) {
		c.calls.Close(ErrClientClosed)
	}
	return nil
}

// pushEvent queues msg for delivery to the event handler. It is called only
// by the receive routine, and does not block on the handler.
func (c *Client) pushEvent(msg *Message) {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.handler == nil {
		c.mux.metrics.evtDropped.Add(1)
		c.mux.log.Debug("dropping event", "client", c.id, "type", msg.Type)
		return
	}
	c.events.Add(msg)
	if !c.draining {
		c.draining = true
		c.mux.tasks.Go(c.drain)
	}
}

// drain delivers queued events until the queue is empty or the mux stops.
func (c *Client) drain() error {
	for {
		c.μ.Lock()
		msg, ok := c.events.Pop()
		h := c.handler
		if !ok || c.mux.stopped.Load() {
			for ok {
				c.mux.metrics.evtDropped.Add(1)
				_, ok = c.events.Pop()
			}
			c.draining = false
			c.μ.Unlock()
			return nil
		}
		c.μ.Unlock()

		if h == nil {
			c.mux.metrics.evtDropped.Add(1)
			continue
		}
		c.deliver(h, msg)
	}
}

func (c *Client) deliver(h func(*Message), msg *Message) {
	defer func() {
		if x := recover(); x != nil {
			c.mux.log.Error("event handler panicked (recovered)", "client", c.id, "type", msg.Type, "panic", x)
		}
	}()
	h(msg)
	c.mux.metrics.evtDelivered.Add(1)
}

// Invoke calls fn on c and returns the decoded response as a value of type R.
// It reports an error if the response has any other type.
func Invoke[R Object](ctx context.Context, c *Client, fn Object) (R, error) {
	var zero R
	msg, err := c.Call(ctx, fn)
	if err != nil {
		return zero, err
	}
	r, ok := msg.Value.(R)
	if !ok {
		return zero, fmt.Errorf("call %s: unexpected response type %q", fn.Type(), msg.Type)
	}
	return r, nil
}
