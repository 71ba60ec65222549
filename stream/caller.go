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

// Caller originates one outbound call: it encodes Req values passed to Send
// and writes them as request frames, while decoding inbound response frames
// off recs into Resp values delivered on Responses().
type Caller[Req, Resp any] struct {
	tr       transport.Transport
	id       transport.StreamID
	reqCodec codec.Codec[Req]
	respC    codec.Codec[Resp]
	maxPay   int

	responses chan ResponseItem[Resp]

	sendMu      sync.Mutex
	headersSent bool
	extraMD     metadata.MD
	doneOnce    sync.Once
}

// NewCaller constructs a Caller for stream id on tr. extraMD seeds the
// initial request headers (e.g. a grpc-timeout set by the deadline logic in
// package rpc) on top of the standard :path/content-type pair, which is
// added automatically from service/method.
func NewCaller[Req, Resp any](tr transport.Transport, id transport.StreamID, service, method string, extraMD metadata.MD, reqCodec codec.Codec[Req], respCodec codec.Codec[Resp], maxPayload int, recs feed) *Caller[Req, Resp] {
	md := metadata.ForRequest(service, method)
	extraMD.Range(func(name, value string) { md.Append(name, value) })
	c := &Caller[Req, Resp]{
		tr: tr, id: id, reqCodec: reqCodec, respC: respCodec, maxPay: maxPayload,
		responses: make(chan ResponseItem[Resp], 8),
		extraMD:   md,
	}
	go c.run(recs)
	return c
}

// Responses returns the decoded response sequence. It is closed after a
// trailer (or an equivalent transport failure) terminates the call.
func (c *Caller[Req, Resp]) Responses() <-chan ResponseItem[Resp] { return c.responses }

func (c *Caller[Req, Resp]) ensureHeadersLocked(ctx context.Context) error {
	if c.headersSent {
		return nil
	}
	c.headersSent = true
	return c.tr.SendMetadata(ctx, c.id, c.extraMD, false)
}

// Send encodes and writes one request value, sending initial headers first
// if this is the first write.
func (c *Caller[Req, Resp]) Send(ctx context.Context, req Req) error {
	payload, err := c.reqCodec.Marshal(req)
	if err != nil {
		return status.New(status.Internal, "encode request: %v", err)
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ensureHeadersLocked(ctx); err != nil {
		return err
	}
	return c.tr.SendMessage(ctx, c.id, frame.Encode(payload), false)
}

// CloseSend finishes the local (request) half of the stream without
// cancelling: the responder still runs to completion and a trailer is still
// expected.
func (c *Caller[Req, Resp]) CloseSend(ctx context.Context) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ensureHeadersLocked(ctx); err != nil {
		return err
	}
	return c.tr.FinishSending(ctx, c.id)
}

// Cancel unilaterally abandons the call: it sets end-of-stream on an
// outbound frame with no trailer, per the spec's cancellation model, and
// surfaces a CANCELLED error on the response sequence.
func (c *Caller[Req, Resp]) Cancel(ctx context.Context) error {
	c.sendMu.Lock()
	err := c.tr.FinishSending(ctx, c.id)
	c.sendMu.Unlock()
	c.pushTerminal(ResponseItem[Resp]{Err: status.New(status.Cancelled, "call cancelled by caller")})
	return err
}

func (c *Caller[Req, Resp]) pushTerminal(item ResponseItem[Resp]) {
	c.doneOnce.Do(func() {
		c.responses <- item
		close(c.responses)
	})
}

func (c *Caller[Req, Resp]) run(recs feed) {
	parser := frame.NewParser(c.maxPay)
	haveValue := false
	for rec := range recs {
		if rec.HasPayload {
			payloads, err := parser.Push(rec.Payload)
			if err != nil {
				c.pushTerminal(ResponseItem[Resp]{Err: status.FromError(err)})
				return
			}
			for _, p := range payloads {
				v, derr := c.respC.Unmarshal(p)
				if derr != nil {
					c.pushTerminal(ResponseItem[Resp]{Err: status.New(status.Internal, "decode response: %v", derr)})
					return
				}
				haveValue = true
				c.responses <- ResponseItem[Resp]{Value: v}
			}
		}
		if rec.EndOfStream {
			st := rec.Metadata.Status()
			switch {
			case st.Code == status.OK:
				c.doneOnce.Do(func() { close(c.responses) })
			case !haveValue:
				// No payload preceded a failing trailer: a single error item.
				c.pushTerminal(ResponseItem[Resp]{Err: st})
			default:
				// A payload already delivered; the failing trailer after it
				// still surfaces as an error item before the channel closes.
				c.pushTerminal(ResponseItem[Resp]{Err: st})
			}
			return
		}
	}
	// Transport died before a trailer arrived.
	c.pushTerminal(ResponseItem[Resp]{Err: status.New(status.Unavailable, "transport closed")})
}
