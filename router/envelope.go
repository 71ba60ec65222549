// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package router implements the message-bus core sitting on top of the RPC
// layer (package rpc): a client registry, group index, one persistent
// bidirectional stream per client, and dispatch of unicast/multicast/
// broadcast/request/response/error/system-event envelopes between them.
//
// This package is transport- and RPC-binding-agnostic: Core exposes plain
// Go methods (Register, Dispatch, AttachP2P, ...); package routerserver
// wires those methods onto an rpc.ServiceDesc and accepts transports, and
// package routerclient wraps an rpc.CallerEndpoint to drive them from the
// caller side.
package router

// EnvelopeType identifies the kind of message carried on a P2P stream.
type EnvelopeType string

const (
	Unicast     EnvelopeType = "unicast"
	Multicast   EnvelopeType = "multicast"
	Broadcast   EnvelopeType = "broadcast"
	Request     EnvelopeType = "request"
	Response    EnvelopeType = "response"
	ErrorType   EnvelopeType = "error"
	SystemEventType EnvelopeType = "system-event"
)

// RouterTargetID is the reserved target id a client addresses a request
// envelope to when the request is meant for the router itself rather than
// for a peer — currently only UpdateMetadata's P2P form (see
// Core.Dispatch). It can never collide with a real client_id, which is
// always a uuid.
const RouterTargetID = "$router"

// Envelope is the unit of exchange on a client's P2P stream. Payload is
// opaque to the router; only the envelope's own fields are interpreted.
type Envelope struct {
	Type          EnvelopeType `json:"type"`
	SenderID      string       `json:"sender_id"`
	TargetIDs     []string     `json:"target_ids,omitempty"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	Payload       []byte       `json:"payload,omitempty"`
	Timestamp     int64        `json:"timestamp"`
}
