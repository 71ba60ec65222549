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
	"github.com/nogipx/rpcrouter/transport"
	"github.com/nogipx/rpcrouter/transport/transporttest"
)

func demuxOne(tr transport.Transport, id transport.StreamID) <-chan transport.Record {
	out := make(chan transport.Record, 16)
	go func() {
		defer close(out)
		for rec := range tr.Incoming() {
			if rec.StreamID == id {
				out <- rec
			}
		}
	}()
	return out
}

func TestResponderUnaryHappyPath(t *testing.T) {
	ctx := context.Background()
	client, server := transporttest.NewPair()
	id, err := client.CreateStream(ctx)
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	feed := demuxOne(server, id)
	r := stream.NewResponder[string, string](server, id, codec.JSON[string]{}, codec.JSON[string]{}, 0, feed)

	if err := client.SendMetadata(ctx, id, metadata.ForRequest("Echo", "SayHello"), false); err != nil {
		t.Fatalf("SendMetadata: %v", err)
	}
	payload, _ := codec.JSON[string]{}.Marshal("hi")
	if err := client.SendMessage(ctx, id, frame.Encode(payload), true); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	item, ok := <-r.Requests()
	if !ok || item.Err != nil || item.Value != "hi" {
		t.Fatalf("Requests() = %+v, %v", item, ok)
	}
	if _, ok := <-r.Requests(); ok {
		t.Fatalf("expected Requests() closed after end-of-stream")
	}
	if err := r.Send(ctx, "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	trailerSeen := false
	payloadSeen := false
	timeout := time.After(time.Second)
	for !trailerSeen {
		select {
		case rec := <-client.Incoming():
			if rec.HasPayload {
				payloadSeen = true
			}
			if rec.EndOfStream && rec.Metadata.Len() > 0 {
				st := rec.Metadata.Status()
				if st.Code != status.OK {
					t.Fatalf("trailer status = %v, want OK", st.Code)
				}
				trailerSeen = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for trailer")
		}
	}
	if !payloadSeen {
		t.Fatal("expected a response payload before the trailer")
	}
}

func TestResponderDoubleCloseIsNoop(t *testing.T) {
	ctx := context.Background()
	client, server := transporttest.NewPair()
	id, _ := client.CreateStream(ctx)
	feed := demuxOne(server, id)
	r := stream.NewResponder[string, string](server, id, codec.JSON[string]{}, codec.JSON[string]{}, 0, feed)
	client.SendMetadata(ctx, id, metadata.ForRequest("Echo", "SayHello"), true)
	<-r.Requests()

	if err := r.Close(ctx); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := r.Close(ctx); err != nil {
		t.Fatalf("second Close should be a silent no-op, got %v", err)
	}
}

func TestResponderDecodeErrorAbortsWithInvalidArgument(t *testing.T) {
	ctx := context.Background()
	client, server := transporttest.NewPair()
	id, _ := client.CreateStream(ctx)
	feed := demuxOne(server, id)
	r := stream.NewResponder[string, string](server, id, codec.JSON[string]{}, codec.JSON[string]{}, 0, feed)

	client.SendMetadata(ctx, id, metadata.ForRequest("Echo", "SayHello"), false)
	client.SendMessage(ctx, id, frame.Encode([]byte("not valid json")), true)

	item := <-r.Requests()
	if item.Err == nil {
		t.Fatalf("expected decode error on request sequence")
	}
	st, ok := item.Err.(*status.Status)
	if !ok || st.Code != status.InvalidArgument {
		t.Fatalf("item.Err = %v, want INVALID_ARGUMENT status", item.Err)
	}

	timeout := time.After(time.Second)
	for {
		select {
		case rec := <-client.Incoming():
			if rec.EndOfStream && rec.Metadata.Len() > 0 {
				if got := rec.Metadata.Status().Code; got != status.InvalidArgument {
					t.Fatalf("trailer code = %v, want INVALID_ARGUMENT", got)
				}
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for abort trailer")
		}
	}
}
