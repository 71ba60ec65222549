// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transport declares the abstract multiplexing byte transport that
// the call layer (package stream, package rpc) is built on top of. It plays
// the role the teacher's jsonrpc2_v2.Reader/Writer/Framer trio plays for a
// single 1:1 pipe, generalized to many concurrent streams multiplexed over
// one full-duplex channel, identified by StreamID.
//
// Concrete transports (WebSocket, HTTP/2, in-process pipes used only for
// tests, ...) are external collaborators and are not implemented here; see
// package transporttest for the in-memory double used by this module's own
// tests.
package transport

import (
	"context"
	"errors"

	"github.com/nogipx/rpcrouter/metadata"
)

// StreamID identifies one multiplexed stream within a Transport. Per the
// spec, initiator-assigned ids are odd; even ids are reserved for a future
// server-push extension and are never created by this runtime.
type StreamID uint64

// NextClientStreamID returns the next odd stream id after prev (prev=0
// yields 1, the first client-initiated stream).
func NextClientStreamID(prev StreamID) StreamID {
	if prev == 0 {
		return 1
	}
	return prev + 2
}

// ErrClosed is returned by any send operation performed after the transport
// has been closed. Incoming reports closure only by closing its channel.
var ErrClosed = errors.New("transport: closed")

// Record is one inbound item delivered by Transport.Incoming: either the
// metadata for a new or continuing stream, a message frame's decoded
// payload, or both, depending on what the underlying transport bundles
// together on the wire.
type Record struct {
	StreamID    StreamID
	Metadata    metadata.MD
	HasMetadata bool
	Payload     []byte
	HasPayload  bool
	// MethodPath is set only on the first record of an inbound stream, taken
	// from the :path header, to let an endpoint dispatch without re-parsing
	// metadata itself.
	MethodPath string
	EndOfStream bool
}

// Transport is the abstract multiplexing byte channel beneath a call. An
// implementation must make every Send* method safe for concurrent callers
// and must preserve per-stream frame ordering; see §4.3/§5 of the spec for
// the full concurrency contract.
type Transport interface {
	// CreateStream allocates a new initiator-side stream id. It never
	// blocks on the network; the stream only becomes visible to the peer
	// once SendMetadata is called on it.
	CreateStream(ctx context.Context) (StreamID, error)

	// SendMetadata sends headers or trailers on stream. end marks the
	// stream's local half closed after this frame.
	SendMetadata(ctx context.Context, stream StreamID, md metadata.MD, end bool) error

	// SendMessage sends one message frame's encoded payload on stream. end
	// marks the stream's local half closed after this frame.
	SendMessage(ctx context.Context, stream StreamID, payload []byte, end bool) error

	// FinishSending marks the local half of stream closed without sending a
	// further frame; it is a no-op if the half is already closed.
	FinishSending(ctx context.Context, stream StreamID) error

	// Close tears down the transport and every stream multiplexed on it.
	// Incoming's channel is closed once Close has fully drained.
	Close() error

	// Incoming returns the unified, per-transport feed of inbound records.
	// It is finite: the channel is closed when the transport is closed or
	// the underlying connection fails, and it is not restartable — a second
	// call returns the same channel.
	Incoming() <-chan Record
}
