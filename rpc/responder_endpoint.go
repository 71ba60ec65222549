// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/nogipx/rpcrouter/frame"
	"github.com/nogipx/rpcrouter/metadata"
	"github.com/nogipx/rpcrouter/status"
	"github.com/nogipx/rpcrouter/transport"
)

// DefaultMaxConcurrentCalls bounds how many inbound calls a ResponderEndpoint
// drives at once before new calls queue for a free slot on a weighted
// semaphore.
const DefaultMaxConcurrentCalls = 256

// ResponderEndpoint owns one transport's inbound side: it demultiplexes
// Incoming() by stream id, resolves each new stream's :path to a registered
// method across every service handed to RegisterService, and drives that
// method's invokeFunc in its own goroutine, bounded by a semaphore.
//
// This generalizes the teacher's jsonrpc2.Conn.Run dispatch loop — which
// switches on a flat method name pulled off a single shared connection — to
// a stream-id keyed table serving many concurrently open calls per
// transport.
type ResponderEndpoint struct {
	tr         transport.Transport
	maxPayload int
	sem        *semaphore.Weighted
	log        *logrus.Entry

	mu       sync.Mutex
	services map[string]*ServiceDesc
	streams  map[transport.StreamID]chan transport.Record

	wg sync.WaitGroup
}

// EndpointOption configures a ResponderEndpoint or CallerEndpoint.
type EndpointOption func(*endpointConfig)

type endpointConfig struct {
	maxPayload   int
	maxConcurrent int64
	log          *logrus.Entry
}

func defaultConfig() *endpointConfig {
	return &endpointConfig{
		maxPayload:    frame.DefaultMaxPayload,
		maxConcurrent: DefaultMaxConcurrentCalls,
		log:           logrus.NewEntry(logrus.StandardLogger()),
	}
}

// WithMaxPayload overrides the default maximum decoded frame payload size.
func WithMaxPayload(n int) EndpointOption {
	return func(c *endpointConfig) { c.maxPayload = n }
}

// WithMaxConcurrentCalls overrides how many inbound calls a ResponderEndpoint
// drives at once.
func WithMaxConcurrentCalls(n int64) EndpointOption {
	return func(c *endpointConfig) { c.maxConcurrent = n }
}

// WithLogger overrides the structured logger used for dispatch diagnostics.
func WithLogger(log *logrus.Entry) EndpointOption {
	return func(c *endpointConfig) { c.log = log }
}

// NewResponderEndpoint constructs an endpoint driving inbound calls arriving
// on tr. Call RegisterService for each service before Serve.
func NewResponderEndpoint(tr transport.Transport, opts ...EndpointOption) *ResponderEndpoint {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	return &ResponderEndpoint{
		tr:         tr,
		maxPayload: cfg.maxPayload,
		sem:        semaphore.NewWeighted(cfg.maxConcurrent),
		log:        cfg.log,
		services:   map[string]*ServiceDesc{},
		streams:    map[transport.StreamID]chan transport.Record{},
	}
}

// RegisterService makes svc's methods reachable under /svc.Name/Method.
func (e *ResponderEndpoint) RegisterService(svc *ServiceDesc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.services[svc.Name] = svc
}

// Wait blocks until every call this endpoint has dispatched has returned.
func (e *ResponderEndpoint) Wait() { e.wg.Wait() }

// Close tears down the endpoint's transport, which in turn aborts any
// still-running calls with UNAVAILABLE once their feed closes.
func (e *ResponderEndpoint) Close() error { return e.tr.Close() }

// Serve runs the dispatch loop until tr.Incoming() is exhausted (the
// transport closed) or ctx is cancelled. It always returns once the
// transport's feed ends; in-flight calls are given until ctx is done (or,
// with a background ctx, indefinitely) to finish before Serve returns.
func (e *ResponderEndpoint) Serve(ctx context.Context) error {
	for {
		select {
		case rec, ok := <-e.tr.Incoming():
			if !ok {
				e.closeAllStreams()
				e.wg.Wait()
				return nil
			}
			e.route(ctx, rec)
		case <-ctx.Done():
			e.wg.Wait()
			return ctx.Err()
		}
	}
}

func (e *ResponderEndpoint) route(ctx context.Context, rec transport.Record) {
	e.mu.Lock()
	ch, exists := e.streams[rec.StreamID]
	e.mu.Unlock()

	if !exists {
		if !rec.HasMetadata || rec.MethodPath == "" {
			return // a stray record for a stream we never opened; ignore
		}
		svcName, methodName, ok := rec.Metadata.ServicePath()
		if !ok {
			e.rejectUnroutable(ctx, rec.StreamID, "malformed :path %q", rec.MethodPath)
			return
		}
		e.mu.Lock()
		svc, found := e.services[svcName]
		e.mu.Unlock()
		var desc *MethodDesc
		if found {
			desc, found = svc.lookup(methodName)
		}
		if !found {
			e.rejectUnroutable(ctx, rec.StreamID, "unknown method %q", rec.MethodPath)
			return
		}

		newCh := make(chan transport.Record, 32)
		e.mu.Lock()
		e.streams[rec.StreamID] = newCh
		e.mu.Unlock()
		ch = newCh

		callCtx, cancel := e.deadlineCtx(ctx, rec.Metadata)
		e.wg.Add(1)
		go func(id transport.StreamID, invoke invokeFunc) {
			defer e.wg.Done()
			defer cancel()
			if err := e.sem.Acquire(callCtx, 1); err != nil {
				e.log.WithField("stream", id).WithError(err).Warn("rpc: acquire concurrency slot")
				return
			}
			defer e.sem.Release(1)
			invoke(callCtx, e.tr, id, newCh, e.maxPayload)
			e.mu.Lock()
			delete(e.streams, id)
			e.mu.Unlock()
		}(rec.StreamID, desc.invoke)
	}

	select {
	case ch <- rec:
	default:
		// The handler is not draining fast enough; drop to a background send
		// rather than stall the whole transport's dispatch loop.
		go func() { ch <- rec }()
	}
}

// deadlineCtx derives a per-call context from the grpc-timeout header, if
// present. Cancellation of a running handler is cooperative, same as
// net/http's request context: Go cannot preempt a goroutine, so handlers
// built on this endpoint must observe ctx.Done() themselves in long loops.
func (e *ResponderEndpoint) deadlineCtx(parent context.Context, md metadata.MD) (context.Context, context.CancelFunc) {
	raw, ok := md.Get(metadata.GRPCTimeout)
	if !ok {
		return context.WithCancel(parent)
	}
	d, err := metadata.DecodeTimeout(raw)
	if err != nil {
		e.log.WithError(err).Warn("rpc: ignoring malformed grpc-timeout")
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}

func (e *ResponderEndpoint) rejectUnroutable(ctx context.Context, id transport.StreamID, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.log.WithField("stream", id).Warn("rpc: " + msg)
	trailer := metadata.ForTrailer(status.Unimplemented, msg)
	_ = e.tr.SendMetadata(ctx, id, trailer, true)
}

func (e *ResponderEndpoint) closeAllStreams() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, ch := range e.streams {
		close(ch)
		delete(e.streams, id)
	}
}
