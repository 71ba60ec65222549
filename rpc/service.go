// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpc implements the four call shapes (C5), the caller/responder
// endpoints that own a transport and dispatch by method path (C6), and
// declarative per-service registration (C7).
//
// Go cannot express a generic method on an interface or a concrete type
// (only free functions and generic *types* are allowed type parameters), so
// where the spec describes "contract exposes add_unary/add_server_stream/…"
// as methods of a registrar object, this package instead exposes them as
// package-level generic functions taking a *ServiceDesc — the same
// eager-registration shape as the teacher's dispatch table, built once at
// startup and never touched again on the hot path (see Design Notes in
// SPEC_FULL.md).
package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/nogipx/rpcrouter/codec"
	"github.com/nogipx/rpcrouter/status"
	"github.com/nogipx/rpcrouter/transport"
)

// CallShape identifies one of the four RPC shapes the spec defines.
type CallShape int

const (
	Unary CallShape = iota
	ServerStream
	ClientStream
	Bidi
)

func (s CallShape) String() string {
	switch s {
	case Unary:
		return "unary"
	case ServerStream:
		return "server-stream"
	case ClientStream:
		return "client-stream"
	case Bidi:
		return "bidi"
	default:
		return "unknown"
	}
}

// invokeFunc fully drives one inbound call to completion. It is built once,
// generically, at registration time (see buildUnaryInvoke et al.), so
// dispatch itself never touches reflection or type parameters.
type invokeFunc func(ctx context.Context, tr transport.Transport, id transport.StreamID, recs <-chan transport.Record, maxPayload int)

// MethodDesc is one registered method: its name, call shape, and the
// type-erased closure that drives it.
type MethodDesc struct {
	Name   string
	Shape  CallShape
	invoke invokeFunc
}

// ServiceDesc is a declarative, per-service registration of named methods.
// Build one with NewService, register methods onto it with AddUnary /
// AddServerStream / AddClientStream / AddBidiStream, then hand it to a
// ResponderEndpoint via RegisterService.
type ServiceDesc struct {
	Name    string
	mu      sync.Mutex
	methods map[string]*MethodDesc
}

// NewService creates an empty ServiceDesc for name.
func NewService(name string) *ServiceDesc {
	return &ServiceDesc{Name: name, methods: map[string]*MethodDesc{}}
}

func (sd *ServiceDesc) add(method string, shape CallShape, invoke invokeFunc) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if sd.methods == nil {
		sd.methods = map[string]*MethodDesc{}
	}
	sd.methods[method] = &MethodDesc{Name: method, Shape: shape, invoke: invoke}
}

func (sd *ServiceDesc) lookup(method string) (*MethodDesc, bool) {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	m, ok := sd.methods[method]
	return m, ok
}

// UnaryHandler produces exactly one response for one request.
type UnaryHandler[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// ServerStreamHandler produces an arbitrary response sequence for one
// request, via send.
type ServerStreamHandler[Req, Resp any] func(ctx context.Context, req Req, send func(Resp) error) error

// ClientStreamHandler consumes the full, already-buffered request sequence
// and produces exactly one response.
type ClientStreamHandler[Req, Resp any] func(ctx context.Context, reqs []Req) (Resp, error)

// BidiHandler consumes the request sequence as it arrives and produces a
// response sequence, via send, independently.
type BidiHandler[Req, Resp any] func(ctx context.Context, reqs <-chan Req, send func(Resp) error) error

// AddUnary registers a unary method on svc.
func AddUnary[Req, Resp any](svc *ServiceDesc, method string, reqCodec codec.Codec[Req], respCodec codec.Codec[Resp], handler UnaryHandler[Req, Resp]) {
	svc.add(method, Unary, buildUnaryInvoke(fmt.Sprintf("%s/%s", svc.Name, method), reqCodec, respCodec, handler))
}

// AddServerStream registers a server-streaming method on svc.
func AddServerStream[Req, Resp any](svc *ServiceDesc, method string, reqCodec codec.Codec[Req], respCodec codec.Codec[Resp], handler ServerStreamHandler[Req, Resp]) {
	svc.add(method, ServerStream, buildServerStreamInvoke(fmt.Sprintf("%s/%s", svc.Name, method), reqCodec, respCodec, handler))
}

// AddClientStream registers a client-streaming method on svc.
func AddClientStream[Req, Resp any](svc *ServiceDesc, method string, reqCodec codec.Codec[Req], respCodec codec.Codec[Resp], handler ClientStreamHandler[Req, Resp]) {
	svc.add(method, ClientStream, buildClientStreamInvoke(fmt.Sprintf("%s/%s", svc.Name, method), reqCodec, respCodec, handler))
}

// AddBidiStream registers a bidirectional-streaming method on svc.
func AddBidiStream[Req, Resp any](svc *ServiceDesc, method string, reqCodec codec.Codec[Req], respCodec codec.Codec[Resp], handler BidiHandler[Req, Resp]) {
	svc.add(method, Bidi, buildBidiInvoke(fmt.Sprintf("%s/%s", svc.Name, method), reqCodec, respCodec, handler))
}

// statusErr is a tiny convenience so invoke builders read linearly.
func statusErr(err error) *status.Status { return status.FromError(err) }
