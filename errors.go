// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tdmux

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload is reported for data that is not a well-formed
	// envelope, or whose fields do not decode into the registered type.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnknownDiscriminant is reported when a @type has no registered
	// decoder. This is expected when the engine is newer than the local
	// schema, and callers may recover from it.
	ErrUnknownDiscriminant = errors.New("unknown discriminant")

	// ErrDuplicateDiscriminant is reported when a @type is registered twice.
	ErrDuplicateDiscriminant = errors.New("duplicate discriminant")

	// ErrUnmatchedResponse marks a response whose @extra token does not
	// belong to any pending call. It is logged, never returned to a caller.
	ErrUnmatchedResponse = errors.New("unmatched response")

	// ErrTimeout is reported by a call whose deadline expired before a
	// response arrived.
	ErrTimeout = errors.New("request timed out")

	// ErrCanceled is reported by a call that was canceled locally.
	ErrCanceled = errors.New("request canceled")

	// ErrRoutingFailure marks an inbound message whose @client_id does not
	// name a live client.
	ErrRoutingFailure = errors.New("routing failure")

	// ErrClientClosed is reported by calls on a client that has been closed.
	ErrClientClosed = errors.New("client closed")
)

// RemoteError is the "error" object reported by the engine in reply to a
// failed request. It is returned as the error of a call whose response has
// this type.
type RemoteError struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
}

// Type implements the [Object] interface.
func (*RemoteError) Type() string { return "error" }

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("[code %d] %s", e.Code, e.Message)
	}
	return e.Message
}
