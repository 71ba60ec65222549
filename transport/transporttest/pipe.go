// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package transporttest provides an in-memory, in-process Transport pair
// for exercising package stream, package rpc and package router without a
// real network. It is test-only scaffolding, not a deliverable wire
// transport (those are out of scope per the spec); the naming mirrors the
// "transporttest" convention used for in-process message-pipe doubles in
// the wider RPC ecosystem (e.g. yarpc's api/transport/transporttest).
package transporttest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nogipx/rpcrouter/metadata"
	"github.com/nogipx/rpcrouter/transport"
)

// Pipe is one end of an in-memory transport pair. Sends on one end are
// delivered, in send order per stream, as Records on the other end's
// Incoming channel.
type Pipe struct {
	mu       sync.Mutex
	peer     *Pipe
	incoming chan transport.Record
	closed   bool
	nextID   uint64
}

// NewPair returns two connected Pipes. Each pipe's CreateStream allocates
// odd ids from its own counter; in the spec's deployment only the caller
// side ever calls CreateStream, but both ends support it for test symmetry.
func NewPair() (a, b *Pipe) {
	a = &Pipe{incoming: make(chan transport.Record, 64)}
	b = &Pipe{incoming: make(chan transport.Record, 64)}
	a.peer, b.peer = b, a
	return a, b
}

func (p *Pipe) CreateStream(ctx context.Context) (transport.StreamID, error) {
	if p.isClosed() {
		return 0, transport.ErrClosed
	}
	id := atomic.AddUint64(&p.nextID, 2)
	return transport.StreamID(id - 1), nil // 1, 3, 5, ...
}

func (p *Pipe) SendMetadata(ctx context.Context, stream transport.StreamID, md metadata.MD, end bool) error {
	return p.deliver(transport.Record{
		StreamID: stream, Metadata: md, HasMetadata: true, EndOfStream: end,
		MethodPath: pathOf(md),
	})
}

func (p *Pipe) SendMessage(ctx context.Context, stream transport.StreamID, payload []byte, end bool) error {
	return p.deliver(transport.Record{StreamID: stream, Payload: payload, HasPayload: true, EndOfStream: end})
}

func (p *Pipe) FinishSending(ctx context.Context, stream transport.StreamID) error {
	return p.deliver(transport.Record{StreamID: stream, EndOfStream: true})
}

func (p *Pipe) deliver(rec transport.Record) error {
	if p.isClosed() {
		return transport.ErrClosed
	}
	peer := p.peer
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return transport.ErrClosed
	}
	peer.incoming <- rec
	return nil
}

func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.incoming)
	p.mu.Unlock()
	return nil
}

func (p *Pipe) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipe) Incoming() <-chan transport.Record { return p.incoming }

func pathOf(md metadata.MD) string {
	v, _ := md.Get(metadata.Path)
	return v
}

var _ transport.Transport = (*Pipe)(nil)
