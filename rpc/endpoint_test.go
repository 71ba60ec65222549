// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rpc_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nogipx/rpcrouter/codec"
	"github.com/nogipx/rpcrouter/rpc"
	"github.com/nogipx/rpcrouter/status"
	"github.com/nogipx/rpcrouter/transport/transporttest"
)

func newEchoService() *rpc.ServiceDesc {
	svc := rpc.NewService("Echo")
	rpc.AddUnary(svc, "SayHello", codec.JSON[string]{}, codec.JSON[string]{}, func(ctx context.Context, req string) (string, error) {
		return "hello " + req, nil
	})
	rpc.AddServerStream(svc, "Count", codec.JSON[int]{}, codec.JSON[int]{}, func(ctx context.Context, n int, send func(int) error) error {
		for i := 1; i <= n; i++ {
			if err := send(i); err != nil {
				return err
			}
		}
		return nil
	})
	rpc.AddClientStream(svc, "Sum", codec.JSON[int]{}, codec.JSON[int]{}, func(ctx context.Context, reqs []int) (int, error) {
		total := 0
		for _, v := range reqs {
			total += v
		}
		return total, nil
	})
	rpc.AddBidiStream(svc, "Exchange", codec.JSON[string]{}, codec.JSON[string]{}, func(ctx context.Context, reqs <-chan string, send func(string) error) error {
		for v := range reqs {
			if err := send("echo:" + v); err != nil {
				return err
			}
		}
		return nil
	})
	return svc
}

func startPair(t *testing.T) (*rpc.CallerEndpoint, func()) {
	t.Helper()
	client, server := transporttest.NewPair()
	respEP := rpc.NewResponderEndpoint(server)
	respEP.RegisterService(newEchoService())
	callEP := rpc.NewCallerEndpoint(client)

	ctx, cancel := context.WithCancel(context.Background())
	go respEP.Serve(ctx)
	go callEP.Serve(ctx)
	return callEP, cancel
}

func TestUnaryEndToEnd(t *testing.T) {
	callEP, stop := startPair(t)
	defer stop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	call, err := rpc.NewUnaryCall[string, string](callEP, ctx, "Echo", "SayHello", codec.JSON[string]{}, codec.JSON[string]{})
	if err != nil {
		t.Fatalf("NewUnaryCall: %v", err)
	}
	resp, err := call.Invoke(ctx, "world")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp != "hello world" {
		t.Fatalf("resp = %q, want %q", resp, "hello world")
	}
}

func TestServerStreamEndToEnd(t *testing.T) {
	callEP, stop := startPair(t)
	defer stop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	call, err := rpc.NewServerStreamCall[int, int](callEP, ctx, "Echo", "Count", codec.JSON[int]{}, codec.JSON[int]{})
	if err != nil {
		t.Fatalf("NewServerStreamCall: %v", err)
	}
	respCh, err := call.Invoke(ctx, 3)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	var got []int
	for item := range respCh {
		if item.Err != nil {
			t.Fatalf("stream error: %v", item.Err)
		}
		got = append(got, item.Value)
	}
	if fmt.Sprint(got) != "[1 2 3]" {
		t.Fatalf("got = %v, want [1 2 3]", got)
	}
}

func TestClientStreamEndToEnd(t *testing.T) {
	callEP, stop := startPair(t)
	defer stop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	call, err := rpc.NewClientStreamCall[int, int](callEP, ctx, "Echo", "Sum", codec.JSON[int]{}, codec.JSON[int]{})
	if err != nil {
		t.Fatalf("NewClientStreamCall: %v", err)
	}
	for _, v := range []int{1, 2, 3, 4} {
		if err := call.Send(ctx, v); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	total, err := call.CloseAndRecv(ctx)
	if err != nil {
		t.Fatalf("CloseAndRecv: %v", err)
	}
	if total != 10 {
		t.Fatalf("total = %d, want 10", total)
	}
}

func TestBidiEndToEnd(t *testing.T) {
	callEP, stop := startPair(t)
	defer stop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	call, err := rpc.NewBidiCall[string, string](callEP, ctx, "Echo", "Exchange", codec.JSON[string]{}, codec.JSON[string]{})
	if err != nil {
		t.Fatalf("NewBidiCall: %v", err)
	}
	go func() {
		for _, v := range []string{"a", "b"} {
			call.Send(ctx, v)
		}
		call.CloseSend(ctx)
	}()

	var got []string
	for item := range call.Responses() {
		if item.Err != nil {
			t.Fatalf("stream error: %v", item.Err)
		}
		got = append(got, item.Value)
	}
	if fmt.Sprint(got) != "[echo:a echo:b]" {
		t.Fatalf("got = %v, want [echo:a echo:b]", got)
	}
}

func TestUnknownMethodYieldsUnimplemented(t *testing.T) {
	callEP, stop := startPair(t)
	defer stop()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	call, err := rpc.NewUnaryCall[string, string](callEP, ctx, "Echo", "DoesNotExist", codec.JSON[string]{}, codec.JSON[string]{})
	if err != nil {
		t.Fatalf("NewUnaryCall: %v", err)
	}
	_, err = call.Invoke(ctx, "world")
	st, ok := err.(*status.Status)
	if !ok || st.Code != status.Unimplemented {
		t.Fatalf("err = %v, want UNIMPLEMENTED status", err)
	}
}
