// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nogipx/rpcrouter/metadata"
	"github.com/nogipx/rpcrouter/transport"
)

// CallerEndpoint owns one transport's outbound side: it allocates stream
// ids for new calls and demultiplexes Incoming() back to the right call's
// feed by stream id, the caller-side mirror of ResponderEndpoint.
type CallerEndpoint struct {
	tr         transport.Transport
	maxPayload int
	log        *logrus.Entry

	mu      sync.Mutex
	pending map[transport.StreamID]chan transport.Record
}

// NewCallerEndpoint constructs an endpoint that originates calls over tr.
func NewCallerEndpoint(tr transport.Transport, opts ...EndpointOption) *CallerEndpoint {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return &CallerEndpoint{
		tr:         tr,
		maxPayload: cfg.maxPayload,
		log:        cfg.log,
		pending:    map[transport.StreamID]chan transport.Record{},
	}
}

// Serve runs the demultiplex loop until tr.Incoming() is exhausted or ctx is
// cancelled. Run it in its own goroutine for the lifetime of the transport.
func (e *CallerEndpoint) Serve(ctx context.Context) error {
	for {
		select {
		case rec, ok := <-e.tr.Incoming():
			if !ok {
				e.closeAllPending()
				return nil
			}
			e.mu.Lock()
			ch, exists := e.pending[rec.StreamID]
			if exists && rec.EndOfStream {
				delete(e.pending, rec.StreamID) // no further records follow a trailer
			}
			e.mu.Unlock()
			if !exists {
				continue // a record for a stream this endpoint never opened
			}
			select {
			case ch <- rec:
			default:
				go func() { ch <- rec }()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// openStream allocates a new stream and registers its feed channel.
func (e *CallerEndpoint) openStream(ctx context.Context) (transport.StreamID, <-chan transport.Record, error) {
	id, err := e.tr.CreateStream(ctx)
	if err != nil {
		return 0, nil, err
	}
	ch := make(chan transport.Record, 32)
	e.mu.Lock()
	e.pending[id] = ch
	e.mu.Unlock()
	return id, ch, nil
}

func (e *CallerEndpoint) forget(id transport.StreamID) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

func (e *CallerEndpoint) closeAllPending() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.pending {
		close(ch)
		delete(e.pending, id)
	}
}

// deadlineMD translates ctx's deadline, if any, into a grpc-timeout header
// so the responder side can derive an equivalent budget for the handler.
func deadlineMD(ctx context.Context) metadata.MD {
	md := metadata.MD{}
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			md.Append(metadata.GRPCTimeout, metadata.EncodeTimeout(d))
		}
	}
	return md
}
