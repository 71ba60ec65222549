// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc

import (
	"context"

	"github.com/nogipx/rpcrouter/codec"
	"github.com/nogipx/rpcrouter/status"
	"github.com/nogipx/rpcrouter/stream"
	"github.com/nogipx/rpcrouter/transport"
)

// buildUnaryInvoke drives a call that must carry exactly one request and
// produces exactly one response.
func buildUnaryInvoke[Req, Resp any](fullMethod string, reqCodec codec.Codec[Req], respCodec codec.Codec[Resp], handler UnaryHandler[Req, Resp]) invokeFunc {
	return func(ctx context.Context, tr transport.Transport, id transport.StreamID, recs <-chan transport.Record, maxPayload int) {
		r := stream.NewResponder[Req, Resp](tr, id, reqCodec, respCodec, maxPayload, recs)

		var (
			count   int
			last    Req
			errored bool
		)
		for item := range r.Requests() {
			if errored {
				continue // drain remaining buffered items silently
			}
			if item.Err != nil {
				r.SendError(ctx, statusErr(item.Err))
				errored = true
				continue
			}
			count++
			if count > 1 {
				r.SendError(ctx, status.New(status.InvalidArgument, "%s: unary call received more than one request", fullMethod))
				errored = true
				continue
			}
			last = item.Value
		}
		if errored {
			return
		}
		if count == 0 {
			r.SendError(ctx, status.New(status.InvalidArgument, "%s: unary call received no request", fullMethod))
			return
		}

		resp, err := handler(ctx, last)
		if err != nil {
			r.SendError(ctx, statusErr(err))
			return
		}
		if err := r.Send(ctx, resp); err != nil {
			return
		}
		r.Close(ctx)
	}
}

// buildServerStreamInvoke drives a call that carries exactly one request and
// produces an arbitrary response sequence.
func buildServerStreamInvoke[Req, Resp any](fullMethod string, reqCodec codec.Codec[Req], respCodec codec.Codec[Resp], handler ServerStreamHandler[Req, Resp]) invokeFunc {
	return func(ctx context.Context, tr transport.Transport, id transport.StreamID, recs <-chan transport.Record, maxPayload int) {
		r := stream.NewResponder[Req, Resp](tr, id, reqCodec, respCodec, maxPayload, recs)

		var (
			count   int
			last    Req
			errored bool
		)
		for item := range r.Requests() {
			if errored {
				continue
			}
			if item.Err != nil {
				r.SendError(ctx, statusErr(item.Err))
				errored = true
				continue
			}
			count++
			if count > 1 {
				r.SendError(ctx, status.New(status.InvalidArgument, "%s: server-stream call received more than one request", fullMethod))
				errored = true
				continue
			}
			last = item.Value
		}
		if errored {
			return
		}
		if count == 0 {
			r.SendError(ctx, status.New(status.InvalidArgument, "%s: server-stream call received no request", fullMethod))
			return
		}

		send := func(resp Resp) error { return r.Send(ctx, resp) }
		if err := handler(ctx, last, send); err != nil {
			r.SendError(ctx, statusErr(err))
			return
		}
		r.Close(ctx)
	}
}

// buildClientStreamInvoke drives a call that accepts any number of requests
// and, once the caller signals end-of-stream, invokes handler with the full
// buffered sequence and sends its single response.
func buildClientStreamInvoke[Req, Resp any](fullMethod string, reqCodec codec.Codec[Req], respCodec codec.Codec[Resp], handler ClientStreamHandler[Req, Resp]) invokeFunc {
	return func(ctx context.Context, tr transport.Transport, id transport.StreamID, recs <-chan transport.Record, maxPayload int) {
		r := stream.NewResponder[Req, Resp](tr, id, reqCodec, respCodec, maxPayload, recs)

		var reqs []Req
		errored := false
		for item := range r.Requests() {
			if errored {
				continue
			}
			if item.Err != nil {
				r.SendError(ctx, statusErr(item.Err))
				errored = true
				continue
			}
			reqs = append(reqs, item.Value)
		}
		if errored {
			return
		}

		resp, err := handler(ctx, reqs)
		if err != nil {
			r.SendError(ctx, statusErr(err))
			return
		}
		if err := r.Send(ctx, resp); err != nil {
			return
		}
		r.Close(ctx)
	}
}

// buildBidiInvoke drives a call where requests and responses flow
// independently: handler receives requests as they are decoded and may
// interleave sends however it likes. The response half closes when handler
// returns.
func buildBidiInvoke[Req, Resp any](fullMethod string, reqCodec codec.Codec[Req], respCodec codec.Codec[Resp], handler BidiHandler[Req, Resp]) invokeFunc {
	return func(ctx context.Context, tr transport.Transport, id transport.StreamID, recs <-chan transport.Record, maxPayload int) {
		r := stream.NewResponder[Req, Resp](tr, id, reqCodec, respCodec, maxPayload, recs)

		reqs := make(chan Req)
		go func() {
			defer close(reqs)
			for item := range r.Requests() {
				if item.Err != nil {
					r.SendError(ctx, statusErr(item.Err))
					return
				}
				reqs <- item.Value
			}
		}()

		send := func(resp Resp) error { return r.Send(ctx, resp) }
		if err := handler(ctx, reqs, send); err != nil {
			r.SendError(ctx, statusErr(err))
			return
		}
		r.Close(ctx)
	}
}
