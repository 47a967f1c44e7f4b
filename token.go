// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tdmux

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// A TokenSource generates correlation tokens. Implementations must be safe
// for concurrent use. A Table never trusts a source blindly: a token that is
// still pending is skipped and another one drawn.
type TokenSource interface {
	Next() string
}

// Sequence is a TokenSource that generates decimal strings from a counter
// starting at 1. It never restarts, so tokens are unique over its lifetime.
// The zero value is ready for use.
type Sequence struct {
	n atomic.Uint64
}

// Next implements the TokenSource interface.
func (s *Sequence) Next() string { return strconv.FormatUint(s.n.Add(1), 10) }

// UUIDTokens returns a TokenSource that generates random (version 4) UUID
// strings. These are useful when several independent processes share an
// engine and must not predict one another's tokens.
func UUIDTokens() TokenSource { return uuidTokens{} }

type uuidTokens struct{}

func (uuidTokens) Next() string { return uuid.NewString() }

// TokenFunc adapts a function to the TokenSource interface.
type TokenFunc func() string

// Next implements the TokenSource interface.
func (f TokenFunc) Next() string { return f() }
