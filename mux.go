// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tdmux

import (
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/mds/value"
	"github.com/creachadair/taskgroup"
)

// A Channel is a reliable ordered stream of encoded wire objects shared with
// the engine.
//
// The methods of an implementation must be safe for concurrent use by one
// sender and one receiver.
type Channel interface {
	// Send one encoded object to the engine.
	Send([]byte) error

	// Receive the next available encoded object from the engine.
	Recv() ([]byte, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// A ClientAllocator is an optional interface a Channel may implement if its
// engine assigns client IDs itself. The IDs it reports must be positive.
type ClientAllocator interface {
	NewClientID() (int32, error)
}

// A MessageLogger logs an encoded object exchanged with the engine.
type MessageLogger func(MessageInfo)

// A MessageInfo combines an encoded object and a flag indicating whether it
// was sent or received.
type MessageInfo struct {
	Data []byte // the encoded object
	Sent bool   // whether the object was sent (true) or received (false)
}

func (m MessageInfo) String() string {
	return fmt.Sprintf("%s %s", value.Cond(m.Sent, "send", "recv"), m.Data)
}

// Options are optional settings for a Mux. A nil *Options is ready for use
// and provides default values as described.
type Options struct {
	// Log diagnostics to this logger. If nil, use slog.Default().
	Logger *slog.Logger

	// Generate correlation tokens from this source. If nil, each mux uses its
	// own Sequence. The source is shared by all clients of the mux.
	Tokens TokenSource

	// The timeout for calls that do not specify one. Zero means calls wait
	// until their context ends or a response arrives.
	Timeout time.Duration

	// If true, the mux maintains its own metrics rather than updating the
	// metrics shared by all muxes.
	DetachMetrics bool
}

func (o *Options) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

func (o *Options) tokens() TokenSource {
	if o == nil || o.Tokens == nil {
		return new(Sequence)
	}
	return o.Tokens
}

func (o *Options) timeout() time.Duration {
	if o == nil {
		return 0
	}
	return o.Timeout
}

func (o *Options) metrics() *muxMetrics {
	if o == nil || !o.DetachMetrics {
		return rootMetrics
	}
	return newMuxMetrics()
}

// A Mux multiplexes the calls and events of several clients over a single
// channel to the engine.
//
// Call Start with a channel to start the service routine for the mux. Once
// started, a mux runs until Stop is called, the channel closes, or the
// channel reports an error. Use Wait to wait for the mux to exit and report
// its status. A mux cannot be restarted.
//
// A single routine receives from the channel. It decodes each object, routes
// it by its @client_id to a client, and then either completes the pending
// call matching its @extra, or queues it as an event for the client. It never
// waits for a caller or an event handler. An object that cannot be decoded or
// routed is logged and does not affect any other object.
type Mux struct {
	reg     *Registry
	log     *slog.Logger
	tokens  TokenSource
	live    *tokenSet // tokens pending across all clients
	timeout time.Duration
	metrics *muxMetrics
	stopped atomic.Bool

	in  interface{ Recv() ([]byte, error) }
	out struct {
		// Must hold the lock to send to or set ch.
		sync.Mutex
		ch Channel
	}
	tasks *taskgroup.Group

	μ sync.Mutex

	err      error              // terminal error from the channel
	started  bool               // Start has been called
	clients  map[int32]*Client  // client ID → live client
	seen     mapset.Set[int32]  // every client ID ever allocated
	nextc    int32              // last locally-allocated client ID
	dflt     *Client            // the default client (ID 0)
	unrouted func(*Message, error)
	mlog     MessageLogger
}

// New constructs a new unstarted mux that decodes messages with reg.
// The default client (ID 0) is created immediately.
func New(reg *Registry, opts *Options) *Mux {
	m := &Mux{
		reg:     reg,
		log:     opts.logger(),
		tokens:  opts.tokens(),
		live:    newTokenSet(),
		timeout: opts.timeout(),
		metrics: opts.metrics(),
		clients: make(map[int32]*Client),
		seen:    mapset.New[int32](0),
	}
	m.dflt = newClient(m, 0)
	m.clients[0] = m.dflt
	m.metrics.clientsActive.Add(1)
	return m
}

// Start starts the mux running on the given channel. Start does not block;
// call Wait to wait for the mux to exit and report its status. Start panics
// if m has already been started.
func (m *Mux) Start(ch Channel) *Mux {
	m.μ.Lock()
	defer m.μ.Unlock()
	if m.started {
		panic("mux is already started")
	}

	g := taskgroup.New(nil)
	m.started = true
	m.in = ch
	m.tasks = g
	m.out.Lock()
	m.out.ch = ch
	m.out.Unlock()

	g.Go(func() error {
		for {
			data, err := m.in.Recv()
			if err != nil {
				m.fail(err)
				return nil
			}
			m.metrics.msgRecv.Add(1)
			m.dispatch(data)
		}
	})
	return m
}

// Metrics returns a metrics map for the mux. It is safe for the caller to add
// additional metrics to the map while the mux is active.
func (m *Mux) Metrics() *expvar.Map { return m.metrics.emap }

// Registry returns the type registry used by m to decode messages.
func (m *Mux) Registry() *Registry { return m.reg }

// Stop closes the channel and terminates the mux. It blocks until the mux
// has exited and returns its status.
func (m *Mux) Stop() error { m.closeOut(); return m.Wait() }

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// Wait blocks until m terminates and reports the error that caused it to
// stop. If m is not running, or has stopped because of a closed channel, Wait
// returns nil; otherwise it returns the error reported by the channel.
func (m *Mux) Wait() error {
	m.μ.Lock()
	t := m.tasks
	m.μ.Unlock()
	if t == nil {
		return nil // the mux is not running
	}
	t.Wait()

	m.μ.Lock()
	defer m.μ.Unlock()
	if treatErrorAsSuccess(m.err) {
		return nil
	}
	return m.err
}

// Default returns the default client, whose messages carry no @client_id.
func (m *Mux) Default() *Client { return m.dflt }

// NewClient creates a new client with a fresh ID.
//
// If the channel implements ClientAllocator the engine chooses the ID;
// otherwise IDs are assigned in increasing order starting from 1. In either
// case no ID is ever assigned twice during the lifetime of m, so a late
// response for a closed client cannot be delivered to a new one.
func (m *Mux) NewClient() (*Client, error) {
	m.out.Lock()
	alloc, _ := m.out.ch.(ClientAllocator)
	m.out.Unlock()

	var id int32
	if alloc != nil {
		v, err := alloc.NewClientID()
		if err != nil {
			return nil, fmt.Errorf("allocate client: %w", err)
		} else if v <= 0 {
			return nil, fmt.Errorf("allocate client: invalid client ID %d", v)
		}
		id = v
	}

	m.μ.Lock()
	defer m.μ.Unlock()
	if m.err != nil {
		return nil, fmt.Errorf("mux terminated: %w", m.err)
	}
	if id == 0 {
		for m.seen.Has(m.nextc) {
			if m.nextc == math.MaxInt32 {
				return nil, errors.New("allocate client: client IDs exhausted")
			}
			m.nextc++
		}
		id = m.nextc
	} else if m.seen.Has(id) {
		return nil, fmt.Errorf("allocate client: client ID %d was already used", id)
	}
	m.seen.Add(id)

	c := newClient(m, id)
	m.clients[id] = c
	m.metrics.clientsActive.Add(1)
	return c, nil
}

// Route reports the live client to which env should be delivered. It reports
// an error wrapping ErrRoutingFailure if no such client exists.
func (m *Mux) Route(env Envelope) (*Client, error) {
	m.μ.Lock()
	defer m.μ.Unlock()
	if c, ok := m.clients[env.ClientID]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: no client with ID %d", ErrRoutingFailure, env.ClientID)
}

// HandleUnrouted registers a callback to receive messages whose @client_id
// does not name a live client, together with the routing error. By default
// such messages are logged at warning level. Passing nil restores the
// default. HandleUnrouted returns m to permit chaining.
//
// The callback is invoked synchronously by the receive routine, and must not
// block.
func (m *Mux) HandleUnrouted(f func(*Message, error)) *Mux {
	m.μ.Lock()
	defer m.μ.Unlock()
	m.unrouted = f
	return m
}

// LogMessages registers a callback that will be invoked for each object
// exchanged with the engine, including objects to be discarded. Passing nil
// disables message logging. The logger is invoked synchronously, prior to
// sending or dispatching an object. LogMessages returns m to permit chaining.
func (m *Mux) LogMessages(log MessageLogger) *Mux {
	m.μ.Lock()
	defer m.μ.Unlock()
	m.mlog = log
	return m
}

// dispatch routes one object received from the engine.
func (m *Mux) dispatch(data []byte) {
	m.μ.Lock()
	mlog := m.mlog
	m.μ.Unlock()
	if mlog != nil {
		mlog(MessageInfo{Data: data, Sent: false})
	}

	msg, derr := m.reg.DecodeMessage(data)
	if msg == nil {
		m.metrics.msgMalformed.Add(1)
		m.log.Warn("discarding malformed message", "error", derr, "size", len(data))
		return
	}

	c, err := m.Route(msg.Envelope)
	if err != nil {
		m.metrics.msgUnrouted.Add(1)
		m.deliverUnrouted(msg, err)
		return
	}

	if msg.Kind() == Correlated {
		var ok bool
		if derr != nil {
			ok = c.calls.Reject(msg.Extra, derr)
		} else {
			ok = c.calls.Resolve(msg.Extra, msg)
		}
		if !ok {
			m.metrics.rspUnmatched.Add(1)
			m.log.Debug("discarding response", "error", ErrUnmatchedResponse,
				"client", c.id, "extra", msg.Extra, "type", msg.Type)
		}
		return
	}

	if derr != nil {
		m.metrics.msgMalformed.Add(1)
		m.log.Warn("discarding event", "client", c.id, "type", msg.Type, "error", derr)
		return
	}
	c.pushEvent(msg)
}

func (m *Mux) deliverUnrouted(msg *Message, err error) {
	m.μ.Lock()
	f := m.unrouted
	m.μ.Unlock()
	if f != nil {
		f(msg, err)
		return
	}
	m.log.Warn("unrouted message", "error", err, "type", msg.Type, "extra", msg.Extra)
}

// fail terminates all pending calls and records the terminal error.
func (m *Mux) fail(err error) {
	m.closeOut()
	m.stopped.Store(true)

	m.μ.Lock()
	m.err = err
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.μ.Unlock()

	cerr := fmt.Errorf("mux terminated: %w", err)
	for _, c := range clients {
		c.calls.Close(cerr)
	}
}

// retire removes c from the set of live clients. Its ID is not reused.
func (m *Mux) retire(c *Client) bool {
	m.μ.Lock()
	defer m.μ.Unlock()
	if m.clients[c.id] != c {
		return false
	}
	delete(m.clients, c.id)
	m.metrics.clientsActive.Add(-1)
	return true
}

// checkFunction reports an error if name is registered as a type that is not
// a function. Unregistered names are permitted, since the engine may support
// functions the local schema does not describe.
func (m *Mux) checkFunction(name string) error {
	if c, ok := m.reg.Capability(name); ok && c != Function {
		return fmt.Errorf("%q is not a function (%v)", name, c)
	}
	return nil
}

func (m *Mux) sendOut(data []byte) error {
	m.μ.Lock()
	mlog := m.mlog
	m.μ.Unlock()

	m.out.Lock()
	defer m.out.Unlock()
	if m.out.ch == nil || m.stopped.Load() {
		return fmt.Errorf("mux is not running: %w", net.ErrClosed)
	}
	m.metrics.msgSent.Add(1)
	if mlog != nil {
		mlog(MessageInfo{Data: data, Sent: true})
	}
	return m.out.ch.Send(data)
}

func (m *Mux) closeOut() {
	m.out.Lock()
	defer m.out.Unlock()
	if m.out.ch != nil {
		m.out.ch.Close()
	}
}
