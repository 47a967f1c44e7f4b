// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the tdmux.Channel interface.
package channel

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net"

	"github.com/creachadair/tdmux"
)

// Direct constructs a connected pair of in-memory channels that pass encoded
// objects directly without framing. Objects sent to A are received by B and
// vice versa.
func Direct() (A, B tdmux.Channel) {
	a2b := make(chan []byte)
	b2a := make(chan []byte)
	A = direct{a2b: a2b, b2a: b2a}
	B = direct{a2b: b2a, b2a: a2b}
	return
}

type direct struct {
	a2b chan<- []byte
	b2a <-chan []byte
}

// Send implements a method of the [tdmux.Channel] interface.
func (d direct) Send(data []byte) (err error) {
	defer safeClose(&err)
	d.a2b <- data
	return nil
}

// Recv implements a method of the [tdmux.Channel] interface.
func (d direct) Recv() ([]byte, error) {
	data, ok := <-d.b2a
	if !ok {
		return nil, net.ErrClosed
	}
	return data, nil
}

// Close implements a method of the [tdmux.Channel] interface.
func (d direct) Close() (err error) {
	defer safeClose(&err)
	close(d.a2b)
	return nil
}

func safeClose(err *error) {
	if x := recover(); x != nil && *err == nil {
		*err = net.ErrClosed
	}
}

// IO constructs a channel that receives from r and sends to wc.  Objects are
// framed as lines of JSON text ("JSON Lines"): each object sent is compacted
// onto a single line, and blank lines are skipped on receipt.
func IO(r io.Reader, wc io.WriteCloser) IOChannel {
	// N.B. The bufio package will reuse existing buffers if possible.
	return IOChannel{r: bufio.NewReader(r), w: bufio.NewWriter(wc), c: wc}
}

// An IOChannel sends and receives encoded objects on a reader and a writer.
type IOChannel struct {
	r *bufio.Reader
	w *bufio.Writer
	c io.Closer
}

// Send implements a method of the [tdmux.Channel] interface.
func (c IOChannel) Send(data []byte) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	buf.WriteByte('\n')
	if _, err := buf.WriteTo(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Recv implements a method of the [tdmux.Channel] interface.
func (c IOChannel) Recv() ([]byte, error) {
	for {
		line, err := c.r.ReadBytes('\n')
		if t := bytes.TrimSpace(line); len(t) != 0 {
			// Deliver a final unterminated line, and report the error on the
			// next call.
			return t, nil
		} else if err != nil {
			return nil, err
		}
	}
}

// Close implements a method of the [tdmux.Channel] interface.
func (c IOChannel) Close() error { return c.c.Close() }
