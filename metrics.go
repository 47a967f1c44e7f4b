// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tdmux

import "expvar"

// muxMetrics record multiplexer activity counters.
type muxMetrics struct {
	msgRecv       expvar.Int
	msgSent       expvar.Int
	msgMalformed  expvar.Int // received messages that could not be decoded
	msgUnrouted   expvar.Int // received messages for an unknown client
	rspUnmatched  expvar.Int // responses with no pending call
	evtDelivered  expvar.Int
	evtDropped    expvar.Int // events for a client with no event handler
	callOut       expvar.Int // number of outbound calls initiated
	callOutErr    expvar.Int // number of outbound calls reporting an error
	callTimeout   expvar.Int
	callPending   expvar.Int
	clientsActive expvar.Int

	emap *expvar.Map
}

var rootMetrics = newMuxMetrics()

func newMuxMetrics() *muxMetrics {
	mm := &muxMetrics{emap: new(expvar.Map)}
	mm.emap.Set("messages_received", &mm.msgRecv)
	mm.emap.Set("messages_sent", &mm.msgSent)
	mm.emap.Set("messages_malformed", &mm.msgMalformed)
	mm.emap.Set("messages_unrouted", &mm.msgUnrouted)
	mm.emap.Set("responses_unmatched", &mm.rspUnmatched)
	mm.emap.Set("events_delivered", &mm.evtDelivered)
	mm.emap.Set("events_dropped", &mm.evtDropped)
	mm.emap.Set("calls_out", &mm.callOut)
	mm.emap.Set("calls_out_failed", &mm.callOutErr)
	mm.emap.Set("calls_timeout", &mm.callTimeout)
	mm.emap.Set("calls_pending", &mm.callPending)
	mm.emap.Set("clients_active", &mm.clientsActive)
	return mm
}
