// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stream implements the two symmetric per-call state machines that
// turn raw transport records into typed request/response flows: Responder
// (handles an inbound call) and Caller (originates an outbound call).
//
// This is the generalization of the teacher's jsonrpc2.Conn: the teacher
// multiplexes at most one logical in-flight request per id on a single
// shared connection and replies with one JSON object; here every call owns
// its own transport stream and may exchange an arbitrary number of framed
// messages in either direction before a trailer closes it. The pending-map
// (awaiting one correlated reply) and single-flight-reply machinery of
// jsonrpc2.Conn.Call/Request.Reply reappears below as, respectively, the
// Caller's response channel and the Responder's send-once-per-write
// discipline guarded by sendMu.
package stream

import (
	"github.com/nogipx/rpcrouter/transport"
)

// RequestItem is one element of a Responder's request sequence: either a
// successfully decoded value, or a terminal decode error.
type RequestItem[Req any] struct {
	Value Req
	Err   error
}

// ResponseItem is one element of a Caller's response sequence: either a
// successfully decoded value, or a terminal *status.Status error.
type ResponseItem[Resp any] struct {
	Value Resp
	Err   error
}

// feed is the per-stream record channel an endpoint routes to a processor.
// It is unexported so both Responder and Caller share one input type
// without exposing it as API.
type feed = <-chan transport.Record
