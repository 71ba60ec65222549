// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stream

import (
	"context"
	"sync"

	"github.com/nogipx/rpcrouter/codec"
	"github.com/nogipx/rpcrouter/frame"
	"github.com/nogipx/rpcrouter/metadata"
	"github.com/nogipx/rpcrouter/status"
	"github.com/nogipx/rpcrouter/transport"
)

// Responder handles one inbound call: it decodes request frames off recs
// into Req values delivered on Requests(), and accepts Resp values via Send
// to be framed and written back, finishing with a single trailer.
type Responder[Req, Resp any] struct {
	tr       transport.Transport
	id       transport.StreamID
	reqCodec codec.Codec[Req]
	respC    codec.Codec[Resp]
	maxPay   int

	requests chan RequestItem[Req]

	sendMu      sync.Mutex
	headersSent bool
	doneOnce    sync.Once
	done        bool
	cancelled   bool
	reqClosed   bool
	reqCloseMu  sync.Mutex
}

// NewResponder constructs a Responder for stream id on tr, and starts
// consuming recs in the background. maxPayload<=0 selects
// frame.DefaultMaxPayload.
func NewResponder[Req, Resp any](tr transport.Transport, id transport.StreamID, reqCodec codec.Codec[Req], respCodec codec.Codec[Resp], maxPayload int, recs feed) *Responder[Req, Resp] {
	r := &Responder[Req, Resp]{
		tr: tr, id: id, reqCodec: reqCodec, respC: respCodec, maxPay: maxPayload,
		requests: make(chan RequestItem[Req], 8),
	}
	go r.run(recs)
	return r
}

// Requests returns the decoded inbound request sequence. The channel is
// closed once the peer has signalled end-of-stream, a decode error
// occurred, or the transport failed.
func (r *Responder[Req, Resp]) Requests() <-chan RequestItem[Req] { return r.requests }

func (r *Responder[Req, Resp]) run(recs feed) {
	parser := frame.NewParser(r.maxPay)
	sawEnd := false
loop:
	for rec := range recs {
		if r.isCancelled() {
			continue // discard in-flight inbound payloads silently
		}
		if rec.HasPayload {
			payloads, err := parser.Push(rec.Payload)
			if err != nil {
				r.closeRequests(err)
				r.abort(status.FromError(err))
				return
			}
			for _, p := range payloads {
				v, derr := r.reqCodec.Unmarshal(p)
				if derr != nil {
					st := status.New(status.InvalidArgument, "decode request: %v", derr)
					r.closeRequests(st)
					r.abort(st)
					return
				}
				r.requests <- RequestItem[Req]{Value: v}
			}
		}
		if rec.EndOfStream {
			sawEnd = true
			r.closeRequests(nil)
			break loop
		}
	}
	if !sawEnd {
		// The feed closed without the peer ever signalling end-of-stream:
		// the transport died mid-call.
		r.closeRequests(nil)
		r.abort(status.New(status.Unavailable, "transport closed"))
	}
}

func (r *Responder[Req, Resp]) closeRequests(err error) {
	r.reqCloseMu.Lock()
	defer r.reqCloseMu.Unlock()
	if r.reqClosed {
		return
	}
	r.reqClosed = true
	if err != nil {
		r.requests <- RequestItem[Req]{Err: err}
	}
	close(r.requests)
}

func (r *Responder[Req, Resp]) isCancelled() bool {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	return r.cancelled
}

func (r *Responder[Req, Resp]) ensureHeadersLocked(ctx context.Context) error {
	if r.headersSent {
		return nil
	}
	r.headersSent = true
	return r.tr.SendMetadata(ctx, r.id, metadata.MD{}, false)
}

// Send encodes and writes one response value, emitting initial headers
// first if this is the first write.
func (r *Responder[Req, Resp]) Send(ctx context.Context, resp Resp) error {
	payload, err := r.respC.Marshal(resp)
	if err != nil {
		return status.New(status.Internal, "encode response: %v", err)
	}
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if r.done || r.cancelled {
		return status.New(status.Unavailable, "responder already terminated")
	}
	if err := r.ensureHeadersLocked(ctx); err != nil {
		return err
	}
	return r.tr.SendMessage(ctx, r.id, frame.Encode(payload), false)
}

// Close ends the call successfully with status OK. Idempotent: a second
// call after the trailer has been sent is a silent no-op.
func (r *Responder[Req, Resp]) Close(ctx context.Context) error {
	return r.terminate(ctx, &status.Status{Code: status.OK})
}

// SendError ends the call with the given status, after flushing whatever
// partial output the handler already wrote. Idempotent like Close.
func (r *Responder[Req, Resp]) SendError(ctx context.Context, st *status.Status) error {
	if st == nil {
		st = &status.Status{Code: status.Internal}
	}
	return r.terminate(ctx, st)
}

// Cancel aborts the call from the responder side as if the owning task had
// abandoned it: it stops accepting writes, emits a CANCELLED trailer, and
// closes the outbound half. Safe to call even if already terminated.
func (r *Responder[Req, Resp]) Cancel(ctx context.Context) error {
	r.sendMu.Lock()
	r.cancelled = true
	r.sendMu.Unlock()
	return r.terminate(ctx, &status.Status{Code: status.Cancelled})
}

func (r *Responder[Req, Resp]) terminate(ctx context.Context, st *status.Status) error {
	var sendErr error
	r.doneOnce.Do(func() {
		r.sendMu.Lock()
		defer r.sendMu.Unlock()
		if err := r.ensureHeadersLocked(ctx); err != nil {
			sendErr = err
			r.done = true
			return
		}
		trailer := metadata.ForTrailer(st.Code, st.Message)
		sendErr = r.tr.SendMetadata(ctx, r.id, trailer, true)
		r.done = true
	})
	return sendErr
}

func (r *Responder[Req, Resp]) abort(st *status.Status) {
	// Best-effort trailer; idempotent via doneOnce so a prior explicit
	// Close/SendError always wins.
	_ = r.terminate(context.Background(), st)
}
