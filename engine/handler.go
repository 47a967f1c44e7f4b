// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package engine

import (
	"context"
	"fmt"

	"github.com/creachadair/tdmux"
)

// reqContextKey is a context key for the request value to a handler.
type reqContextKey struct{}

// ContextRequest returns the original request passed to the handler, or nil
// if ctx has no associated request. The context passed to a handler returned
// by Func has this value.
func ContextRequest(ctx context.Context) *Request {
	if v := ctx.Value(reqContextKey{}); v != nil {
		return v.(*Request)
	}
	return nil
}

// Func adapts a function f that accepts a decoded request of type P and
// returns a result of type R, to a Handler. If the request did not decode as
// a P, the handler reports an error with CodeBadRequest without calling f.
func Func[P, R tdmux.Object](f func(context.Context, P) (R, error)) Handler {
	return func(ctx context.Context, req *Request) (tdmux.Object, error) {
		p, ok := req.Value.(P)
		if !ok {
			return nil, &tdmux.RemoteError{
				Code:    CodeBadRequest,
				Message: fmt.Sprintf("cannot decode %s request", req.Type),
			}
		}
		hctx := context.WithValue(ctx, reqContextKey{}, req)
		r, err := f(hctx, p)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}
