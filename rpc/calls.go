// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"
	"errors"

	"github.com/nogipx/rpcrouter/codec"
	"github.com/nogipx/rpcrouter/status"
	"github.com/nogipx/rpcrouter/stream"
)

// ctxStatus maps a context error observed while waiting on a call to the
// status code the spec assigns it: an expired deadline becomes
// DEADLINE_EXCEEDED, an explicit cancellation becomes CANCELLED.
func ctxStatus(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return status.New(status.DeadlineExceeded, "call deadline exceeded")
	}
	return status.New(status.Cancelled, "call context cancelled")
}

// newCaller opens a stream on ep and wires up a stream.Caller for it. Every
// call-shape constructor below funnels through this one helper.
func newCaller[Req, Resp any](ep *CallerEndpoint, ctx context.Context, service, method string, reqCodec codec.Codec[Req], respCodec codec.Codec[Resp]) (*stream.Caller[Req, Resp], error) {
	id, ch, err := ep.openStream(ctx)
	if err != nil {
		return nil, err
	}
	c := stream.NewCaller[Req, Resp](ep.tr, id, service, method, deadlineMD(ctx), reqCodec, respCodec, ep.maxPayload, ch)
	// The call's own terminal item (success, error, or cancellation) always
	// arrives eventually; context.AfterFunc registers lazily against ctx's
	// done channel without parking a dedicated goroutine, so there is
	// nothing to leak even if the caller never reads Responses() to
	// completion.
	context.AfterFunc(ctx, func() { c.Cancel(context.Background()) })
	return c, nil
}

// UnaryCall drives a single request/single response call.
type UnaryCall[Req, Resp any] struct{ c *stream.Caller[Req, Resp] }

// NewUnaryCall opens and prepares a unary call to /service/method. Call
// Invoke to send the request and await the response.
func NewUnaryCall[Req, Resp any](ep *CallerEndpoint, ctx context.Context, service, method string, reqCodec codec.Codec[Req], respCodec codec.Codec[Resp]) (*UnaryCall[Req, Resp], error) {
	c, err := newCaller[Req, Resp](ep, ctx, service, method, reqCodec, respCodec)
	if err != nil {
		return nil, err
	}
	return &UnaryCall[Req, Resp]{c: c}, nil
}

// Invoke sends req, closes the request half, and returns the single
// response (or the error the responder or the transport produced).
func (u *UnaryCall[Req, Resp]) Invoke(ctx context.Context, req Req) (Resp, error) {
	var zero Resp
	if err := u.c.Send(ctx, req); err != nil {
		return zero, err
	}
	if err := u.c.CloseSend(ctx); err != nil {
		return zero, err
	}
	select {
	case item, ok := <-u.c.Responses():
		if !ok {
			return zero, status.New(status.Internal, "call closed with no response")
		}
		return item.Value, item.Err
	case <-ctx.Done():
		u.c.Cancel(context.Background())
		<-u.c.Responses()
		return zero, ctxStatus(ctx)
	}
}

// ServerStreamCall drives a single request/many responses call.
type ServerStreamCall[Req, Resp any] struct{ c *stream.Caller[Req, Resp] }

// NewServerStreamCall opens and prepares a server-streaming call.
func NewServerStreamCall[Req, Resp any](ep *CallerEndpoint, ctx context.Context, service, method string, reqCodec codec.Codec[Req], respCodec codec.Codec[Resp]) (*ServerStreamCall[Req, Resp], error) {
	c, err := newCaller[Req, Resp](ep, ctx, service, method, reqCodec, respCodec)
	if err != nil {
		return nil, err
	}
	return &ServerStreamCall[Req, Resp]{c: c}, nil
}

// Invoke sends the single request and returns the response sequence. The
// returned channel closes when the responder's trailer arrives or ctx ends.
func (s *ServerStreamCall[Req, Resp]) Invoke(ctx context.Context, req Req) (<-chan stream.ResponseItem[Resp], error) {
	if err := s.c.Send(ctx, req); err != nil {
		return nil, err
	}
	if err := s.c.CloseSend(ctx); err != nil {
		return nil, err
	}
	return s.c.Responses(), nil
}

// Cancel abandons the call early.
func (s *ServerStreamCall[Req, Resp]) Cancel(ctx context.Context) error { return s.c.Cancel(ctx) }

// ClientStreamCall drives a many requests/single response call.
type ClientStreamCall[Req, Resp any] struct{ c *stream.Caller[Req, Resp] }

// NewClientStreamCall opens and prepares a client-streaming call.
func NewClientStreamCall[Req, Resp any](ep *CallerEndpoint, ctx context.Context, service, method string, reqCodec codec.Codec[Req], respCodec codec.Codec[Resp]) (*ClientStreamCall[Req, Resp], error) {
	c, err := newCaller[Req, Resp](ep, ctx, service, method, reqCodec, respCodec)
	if err != nil {
		return nil, err
	}
	return &ClientStreamCall[Req, Resp]{c: c}, nil
}

// Send writes one more request value.
func (cl *ClientStreamCall[Req, Resp]) Send(ctx context.Context, req Req) error {
	return cl.c.Send(ctx, req)
}

// CloseAndRecv closes the request half and awaits the single response.
func (cl *ClientStreamCall[Req, Resp]) CloseAndRecv(ctx context.Context) (Resp, error) {
	var zero Resp
	if err := cl.c.CloseSend(ctx); err != nil {
		return zero, err
	}
	select {
	case item, ok := <-cl.c.Responses():
		if !ok {
			return zero, status.New(status.Internal, "call closed with no response")
		}
		return item.Value, item.Err
	case <-ctx.Done():
		cl.c.Cancel(context.Background())
		<-cl.c.Responses()
		return zero, ctxStatus(ctx)
	}
}

// BidiCall drives a call where requests and responses flow independently.
type BidiCall[Req, Resp any] struct{ c *stream.Caller[Req, Resp] }

// NewBidiCall opens and prepares a bidirectional-streaming call.
func NewBidiCall[Req, Resp any](ep *CallerEndpoint, ctx context.Context, service, method string, reqCodec codec.Codec[Req], respCodec codec.Codec[Resp]) (*BidiCall[Req, Resp], error) {
	c, err := newCaller[Req, Resp](ep, ctx, service, method, reqCodec, respCodec)
	if err != nil {
		return nil, err
	}
	return &BidiCall[Req, Resp]{c: c}, nil
}

// Send writes one more request value.
func (b *BidiCall[Req, Resp]) Send(ctx context.Context, req Req) error { return b.c.Send(ctx, req) }

// CloseSend finishes the request half without affecting the response half.
func (b *BidiCall[Req, Resp]) CloseSend(ctx context.Context) error { return b.c.CloseSend(ctx) }

// Responses returns the response sequence.
func (b *BidiCall[Req, Resp]) Responses() <-chan stream.ResponseItem[Resp] { return b.c.Responses() }

// Cancel abandons the call from the caller side.
func (b *BidiCall[Req, Resp]) Cancel(ctx context.Context) error { return b.c.Cancel(ctx) }
