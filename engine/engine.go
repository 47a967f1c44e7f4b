// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package engine provides a fake TDLib engine that speaks the tdmux wire
// format over a channel, for use in testing and tooling.
//
// An Engine answers each request by calling the handler registered for its
// @type, and echoes the @extra and @client_id of the request on the reply.
// A handler that reports an error is answered with an "error" object. The
// engine can also push events to a client at any time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"reflect"
	"sync"

	"github.com/creachadair/taskgroup"
	"github.com/creachadair/tdmux"
)

// A Request is an inbound request delivered to a Handler.
type Request struct {
	tdmux.Envelope
	Raw   []byte       // the complete wire encoding
	Value tdmux.Object // the decoded request, or nil if the type is not registered
}

// A Handler computes the result of a request. If it reports an error, the
// engine replies with an "error" object. A *tdmux.RemoteError is sent as-is;
// any other error is sent with code 500. A nil result, including a nil
// pointer, is answered with an "ok" object.
type Handler func(context.Context, *Request) (tdmux.Object, error)

// ErrNoReply may be returned by a Handler to suppress the reply to a request.
var ErrNoReply = errors.New("no reply")

// Error codes used by the engine for requests it cannot serve.
const (
	CodeBadRequest    = 400 // the request could not be decoded
	CodeUnknownMethod = 404 // no handler for the request type
	CodeHandlerFailed = 500 // the handler reported a non-remote error
)

// An Engine is a fake engine. Register handlers with Handle, then call Start
// to begin serving requests from a channel. An Engine cannot be restarted.
type Engine struct {
	reg *tdmux.Registry
	log *slog.Logger

	out struct {
		// Must hold the lock to send to or set ch.
		sync.Mutex
		ch tdmux.Channel
	}
	tasks *taskgroup.Group

	μ sync.Mutex

	err    error
	stop   context.CancelFunc
	ctx    context.Context
	imux   map[string]Handler
	nextc  int32            // last allocated client ID
	seen   []*tdmux.Message // received requests, if recording
	record bool
}

// New constructs a new unstarted engine that decodes requests with reg. If
// logger == nil, the engine logs to slog.Default().
func New(reg *tdmux.Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		reg:  reg,
		log:  logger,
		imux: make(map[string]Handler),
	}
}

// Handle registers a handler for requests with the given @type. Passing a nil
// handler removes any handler for that type. Handle returns e to permit
// chaining.
func (e *Engine) Handle(name string, h Handler) *Engine {
	e.μ.Lock()
	defer e.μ.Unlock()
	if h == nil {
		delete(e.imux, name)
	} else {
		e.imux[name] = h
	}
	return e
}

// Record enables or disables the recording of received requests. Use
// Received to retrieve the requests recorded. Record returns e to permit
// chaining.
func (e *Engine) Record(on bool) *Engine {
	e.μ.Lock()
	defer e.μ.Unlock()
	e.record = on
	return e
}

// Received returns the requests recorded so far, in the order received.
func (e *Engine) Received() []*tdmux.Message {
	e.μ.Lock()
	defer e.μ.Unlock()
	out := make([]*tdmux.Message, len(e.seen))
	copy(out, e.seen)
	return out
}

// Start starts the engine running on the given channel. Start does not
// block; call Wait to wait for the engine to exit. Start panics if e has
// already been started.
func (e *Engine) Start(ch tdmux.Channel) *Engine {
	e.μ.Lock()
	defer e.μ.Unlock()
	if e.tasks != nil {
		panic("engine is already started")
	}
	e.ctx, e.stop = context.WithCancel(context.Background())
	e.tasks = taskgroup.New(nil)
	e.out.Lock()
	e.out.ch = ch
	e.out.Unlock()

	e.tasks.Go(func() error {
		for {
			data, err := ch.Recv()
			if err != nil {
				e.fail(err)
				return nil
			}
			e.dispatch(data)
		}
	})
	return e
}

// Stop closes the channel and terminates the engine. It blocks until the
// engine has exited and returns its status.
func (e *Engine) Stop() error { e.closeOut(); return e.Wait() }

// Wait blocks until e terminates and reports the error that caused it to
// stop. A closed channel is not an error.
func (e *Engine) Wait() error {
	e.μ.Lock()
	t := e.tasks
	e.μ.Unlock()
	if t == nil {
		return nil
	}
	t.Wait()

	e.μ.Lock()
	defer e.μ.Unlock()
	if errors.Is(e.err, io.EOF) || errors.Is(e.err, net.ErrClosed) {
		return nil
	}
	return e.err
}

// NewClientID allocates a fresh client ID, as td_create_client_id does.
// IDs are assigned in increasing order starting from 1.
func (e *Engine) NewClientID() (int32, error) {
	e.μ.Lock()
	defer e.μ.Unlock()
	if e.err != nil {
		return 0, fmt.Errorf("engine terminated: %w", e.err)
	}
	e.nextc++
	return e.nextc, nil
}

// Push sends v to the client with the given ID as an event, without an
// @extra token.
func (e *Engine) Push(clientID int32, v tdmux.Object) error {
	data, err := tdmux.EncodeEnvelope(v, "", clientID)
	if err != nil {
		return err
	}
	return e.sendOut(data)
}

// Reply sends v to the client with the given ID as a response carrying the
// @extra token extra. It is meant for tests that need to send a response
// that no handler produced, such as a late or duplicate reply.
func (e *Engine) Reply(clientID int32, extra string, v tdmux.Object) error {
	data, err := tdmux.EncodeEnvelope(v, extra, clientID)
	if err != nil {
		return err
	}
	return e.sendOut(data)
}

// SendRaw sends data to the peer without checking it.
func (e *Engine) SendRaw(data []byte) error { return e.sendOut(data) }

func (e *Engine) dispatch(data []byte) {
	env, err := tdmux.DecodeEnvelope(data)
	if err != nil {
		e.log.Warn("engine: discarding malformed request", "error", err)
		return
	}
	req := &Request{Envelope: env, Raw: data}

	e.μ.Lock()
	if e.record {
		e.seen = append(e.seen, &tdmux.Message{Envelope: env, Raw: data})
	}
	h, ok := e.imux[env.Type]
	ctx := e.ctx
	e.μ.Unlock()

	if !ok {
		e.reply(env, &tdmux.RemoteError{
			Code:    CodeUnknownMethod,
			Message: fmt.Sprintf("Unknown function %q", env.Type),
		})
		return
	}
	if _, known := e.reg.Capability(env.Type); known {
		v, err := e.reg.Decode(env.Type, data)
		if err != nil {
			e.reply(env, &tdmux.RemoteError{Code: CodeBadRequest, Message: err.Error()})
			return
		}
		req.Value = v
	}

	// Start a goroutine to service the request, so that a slow handler does
	// not delay other requests.
	e.tasks.Go(func() error {
		rsp, err := func() (_ tdmux.Object, err error) {
			defer func() {
				if x := recover(); x != nil && err == nil {
					err = fmt.Errorf("handler panicked (recovered): %v", x)
				}
			}()
			return h(ctx, req)
		}()
		if errors.Is(err, ErrNoReply) {
			return nil
		}
		if err != nil {
			var re *tdmux.RemoteError
			if !errors.As(err, &re) {
				re = &tdmux.RemoteError{Code: CodeHandlerFailed, Message: err.Error()}
			}
			rsp = re
		}
		e.reply(env, rsp)
		return nil
	})
}

func (e *Engine) reply(env tdmux.Envelope, v tdmux.Object) {
	if isNil(v) {
		v = okObject{}
	}
	data, err := tdmux.EncodeEnvelope(v, env.Extra, env.ClientID)
	if err != nil {
		e.log.Error("engine: encoding reply", "type", v.Type(), "error", err)
		return
	}
	if err := e.sendOut(data); err != nil {
		e.log.Debug("engine: sending reply", "type", v.Type(), "error", err)
	}
}

func (e *Engine) fail(err error) {
	e.closeOut()
	e.μ.Lock()
	defer e.μ.Unlock()
	e.err = err
	e.stop()
}

func (e *Engine) sendOut(data []byte) error {
	e.out.Lock()
	defer e.out.Unlock()
	if e.out.ch == nil {
		return fmt.Errorf("engine is not running: %w", net.ErrClosed)
	}
	return e.out.ch.Send(data)
}

func (e *Engine) closeOut() {
	e.out.Lock()
	defer e.out.Unlock()
	if e.out.ch != nil {
		e.out.ch.Close()
	}
}

// isNil reports whether v is nil or holds a nil pointer, whose methods
// cannot be called.
func isNil(v tdmux.Object) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// okObject is the reply to a request whose handler returns no value.
type okObject struct{}

func (okObject) Type() string { return "ok" }
