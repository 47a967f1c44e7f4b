// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package engine

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/creachadair/taskgroup"
	"github.com/creachadair/tdmux"
	"github.com/creachadair/tdmux/channel"
)

// Local is a mux connected to an engine in memory, suitable for testing.
type Local struct {
	Mux    *tdmux.Mux
	Engine *Engine
}

// Stop shuts down the mux and the engine and blocks until both have exited.
func (p *Local) Stop() error {
	merr := p.Mux.Stop()
	eerr := p.Engine.Stop()
	if merr != nil {
		return merr
	}
	return eerr
}

// NewLocal creates a started mux and engine that communicate via a direct
// channel without encoding. The engine allocates the client IDs of the mux.
// Both decode with reg, and the engine logs to opts.Logger if it is set.
func NewLocal(reg *tdmux.Registry, opts *tdmux.Options) *Local {
	m2e, e2m := channel.Direct()
	var eng *Engine
	if opts != nil {
		eng = New(reg, opts.Logger)
	} else {
		eng = New(reg, nil)
	}
	eng.Start(e2m)
	return &Local{
		Mux:    tdmux.New(reg, opts).Start(allocChannel{Channel: m2e, e: eng}),
		Engine: eng,
	}
}

// allocChannel is a channel whose client IDs are assigned by e.
type allocChannel struct {
	tdmux.Channel
	e *Engine
}

func (a allocChannel) NewClientID() (int32, error) { return a.e.NewClientID() }

// An Accepter accepts channels from clients.
type Accepter interface {
	Accept(context.Context) (tdmux.Channel, error)
}

// Loop accepts connections from acc and starts an engine for each one in a
// goroutine. Loop continues until acc closes or ctx ends.
//
// When ctx terminates, all running engines are stopped. When acc closes, the
// loop waits for running engines to exit before returning.
func Loop(ctx context.Context, acc Accepter, newEngine func() *Engine) error {
	g := taskgroup.New(nil)
	for {
		ch, err := acc.Accept(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
			g.Wait()
			return err
		}

		g.Go(func() error {
			sctx, cancel := context.WithCancel(ctx)
			defer cancel()

			eng := newEngine().Start(ch)
			go func() { <-sctx.Done(); eng.Stop() }()
			return eng.Wait()
		})
	}
}

// NetAccepter adapts a net.Listener to the Accepter interface. Accepted
// connections use JSON Lines framing.
func NetAccepter(lst net.Listener) Accepter {
	return netAccepter{Listener: lst}
}

type netAccepter struct {
	net.Listener
}

func (n netAccepter) Accept(ctx context.Context) (tdmux.Channel, error) {
	// A net.Listener does not obey a context, so simulate it by closing the
	// listener if ctx ends. The ok channel allows the context watcher to clean
	// up when we return before ctx ends.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			n.Listener.Close()
		case <-ok:
			// release the waiter
		}
		return nil
	})

	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return channel.IO(conn, conn), nil
}

// SplitAddress parses an address string to guess a network type and target.
//
// If s does not have the form [host]:port, the network is assigned as "unix".
// The network "unix" is also assigned if port == "", port contains characters
// other than ASCII letters, digits, and "-", or if host contains a "/".
// Otherwise, the network is assigned as "tcp".
func SplitAddress(s string) (network, address string) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "unix", s
	}
	host, port := s[:i], s[i+1:]
	if port == "" || !isServiceName(port) {
		return "unix", s
	} else if strings.IndexByte(host, '/') >= 0 {
		return "unix", s
	}
	return "tcp", s
}

// isServiceName reports whether s looks like a legal service name from the
// services(5) file.
func isServiceName(s string) bool {
	for _, b := range s {
		if b >= '0' && b <= '9' || b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z' || b == '-' {
			continue
		}
		return false
	}
	return true
}
