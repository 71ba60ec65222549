// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/nogipx/rpcrouter/codec"
	"github.com/nogipx/rpcrouter/frame"
	"github.com/nogipx/rpcrouter/metadata"
	"github.com/nogipx/rpcrouter/status"
	"github.com/nogipx/rpcrouter/stream"
	"github.com/nogipx/rpcrouter/transport/transporttest"
)

func TestCallerUnaryHappyPath(t *testing.T) {
	ctx := context.Background()
	client, server := transporttest.NewPair()
	id, err := client.CreateStream(ctx)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	callerFeed := demuxOne(client, id)
	c := stream.NewCaller[string, string](client, id, "Echo", "SayHello", metadata.MD{}, codec.JSON[string]{}, codec.JSON[string]{}, 0, callerFeed)

	if err := c.Send(ctx, "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := c.CloseSend(ctx); err != nil {
		t.Fatalf("CloseSend: %v", err)
	}

	// Drain the server side manually, acting as a responder would.
	var sawHeaders, sawPayload bool
	var sawEnd bool
	timeout := time.After(time.Second)
	for !sawEnd {
		select {
		case rec := <-server.Incoming():
			if rec.HasMetadata {
				sawHeaders = true
				if rec.MethodPath != "/Echo/SayHello" {
					t.Fatalf("MethodPath = %q, want /Echo/SayHello", rec.MethodPath)
				}
			}
			if rec.HasPayload {
				sawPayload = true
			}
			if rec.EndOfStream {
				sawEnd = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for request frames")
		}
	}
	if !sawHeaders || !sawPayload {
		t.Fatalf("sawHeaders=%v sawPayload=%v", sawHeaders, sawPayload)
	}

	// Respond from the server side.
	respPayload, _ := codec.JSON[string]{}.Marshal("hi")
	if err := server.SendMessage(ctx, id, frame.Encode(respPayload), false); err != nil {
		t.Fatalf("server SendMessage: %v", err)
	}
	if err := server.SendMetadata(ctx, id, metadata.ForTrailer(status.OK, ""), true); err != nil {
		t.Fatalf("server SendMetadata (trailer): %v", err)
	}

	item, ok := <-c.Responses()
	if !ok || item.Err != nil || item.Value != "hi" {
		t.Fatalf("Responses() = %+v, %v", item, ok)
	}
	if _, ok := <-c.Responses(); ok {
		t.Fatal("expected Responses() closed after OK trailer")
	}
}

func TestCallerTrailerWithoutPayloadYieldsError(t *testing.T) {
	ctx := context.Background()
	client, server := transporttest.NewPair()
	id, _ := client.CreateStream(ctx)
	callerFeed := demuxOne(client, id)
	c := stream.NewCaller[string, string](client, id, "Echo", "SayHello", metadata.MD{}, codec.JSON[string]{}, codec.JSON[string]{}, 0, callerFeed)

	if err := c.Send(ctx, "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	go func() {
		for range server.Incoming() {
		}
	}()

	server.SendMetadata(ctx, id, metadata.ForTrailer(status.Unimplemented, "no such method"), true)

	item := <-c.Responses()
	if item.Err == nil {
		t.Fatal("expected an error item")
	}
	st, ok := item.Err.(*status.Status)
	if !ok || st.Code != status.Unimplemented {
		t.Fatalf("item.Err = %v, want UNIMPLEMENTED status", item.Err)
	}
}

func TestCallerCancelSetsEndOfStreamWithNoTrailer(t *testing.T) {
	ctx := context.Background()
	client, server := transporttest.NewPair()
	id, _ := client.CreateStream(ctx)
	callerFeed := demuxOne(client, id)
	c := stream.NewCaller[string, string](client, id, "Echo", "SayHello", metadata.MD{}, codec.JSON[string]{}, codec.JSON[string]{}, 0, callerFeed)

	if err := c.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	item := <-c.Responses()
	st, ok := item.Err.(*status.Status)
	if !ok || st.Code != status.Cancelled {
		t.Fatalf("item.Err = %v, want CANCELLED status", item.Err)
	}

	rec := <-server.Incoming()
	if !rec.EndOfStream || rec.HasMetadata {
		t.Fatalf("expected a bare end-of-stream frame with no trailer metadata, got %+v", rec)
	}
}
