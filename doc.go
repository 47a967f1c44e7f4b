// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package tdmux implements the typed envelope protocol spoken by the TDLib
// JSON interface.
//
// Every object exchanged with the engine is a JSON object. Three top-level
// keys are reserved:
//
//   - "@type" names the concrete type of the object (its discriminant).
//   - "@extra" is an opaque correlation token. A request that carries one is
//     answered by a response that echoes it. Objects without one are events.
//   - "@client_id" selects one of several logical sessions sharing the
//     engine. An absent value means the default session, ID 0.
//
// # Registry
//
// A [Registry] maps each discriminant to a decoder and records whether the
// type is a [Function] (a request) or a [DataObject]. The registry is filled
// once at startup from a schema table, and registering the same discriminant
// twice is an error:
//
//	reg := tdmux.NewRegistry()
//	if err := tdmux.RegisterType[GetOption](reg, tdmux.Function); err != nil {
//	   log.Fatalf("Register: %v", err)
//	}
//
// Decoding an unregistered discriminant reports [ErrUnknownDiscriminant],
// which is not fatal: the engine may simply be newer than the schema.
//
// # Muxes and Clients
//
// The core type defined by this package is the [Mux]. A mux owns a [Channel]
// to the engine, and multiplexes the traffic of several [Client] values over
// it. To create and start a mux:
//
//	m := tdmux.New(reg, nil).Start(ch)
//
// The mux runs until [Mux.Stop] is called or the channel closes. Call
// [Mux.Wait] to wait for it to exit and report its status.
//
// Each client has its own ID and its own table of pending calls. The default
// client always exists; use [Mux.NewClient] to create more:
//
//	c, err := m.NewClient()
//	...
//	rsp, err := c.Call(ctx, &GetOption{Name: "version"})
//
// To receive events pushed by the engine, register a handler:
//
//	c.HandleEvents(func(msg *tdmux.Message) {
//	   log.Printf("Event: %v", msg.Value)
//	})
//
// Events for a client are delivered in the order received. Messages for a
// client ID that does not exist are passed to the callback registered with
// [Mux.HandleUnrouted], or logged.
//
// # Correlation
//
// The pending calls of a client are kept in a [Table], which can also be used
// on its own. A table assigns each call a token not shared with any other
// pending call, and ends each call exactly once: by a response, a local
// cancellation, a timeout, or shutdown.
//
// # Metrics
//
// Muxes maintain a collection of metrics while running. Use [Mux.Metrics] to
// obtain an [expvar.Map] containing them. By default, metrics are shared
// globally among all muxes; set [Options.DetachMetrics] to give a mux its own.
//
// The metrics currently exported include:
//
//   - messages_received: counter of objects received
//   - messages_sent: counter of objects sent
//   - messages_malformed: counter of received objects that did not decode
//   - messages_unrouted: counter of received objects for unknown clients
//   - responses_unmatched: counter of responses with no pending call
//   - events_delivered: counter of events passed to a handler
//   - events_dropped: counter of events discarded without a handler
//   - calls_out: counter of calls initiated
//   - calls_out_failed: counter of calls resulting in errors
//   - calls_timeout: counter of calls that timed out
//   - calls_pending: gauge of calls awaiting a response
//   - clients_active: gauge of live clients
package tdmux
