// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metadata

import (
	"testing"

	"github.com/nogipx/rpcrouter/status"
)

func TestForRequest(t *testing.T) {
	md := ForRequest("Echo", "SayHello")
	path, ok := md.Get(Path)
	if !ok || path != "/Echo/SayHello" {
		t.Fatalf("Get(:path) = %q, %v, want /Echo/SayHello, true", path, ok)
	}
	svc, method, ok := md.ServicePath()
	if !ok || svc != "Echo" || method != "SayHello" {
		t.Fatalf("ServicePath() = %q, %q, %v", svc, method, ok)
	}
}

func TestForTrailerRoundTrip(t *testing.T) {
	md := ForTrailer(status.DeadlineExceeded, "call timed out")
	got := md.Status()
	if got.Code != status.DeadlineExceeded || got.Message != "call timed out" {
		t.Fatalf("Status() = %+v", got)
	}
}

func TestRepeatedNamesPreserveOrder(t *testing.T) {
	md := MD{}
	md.Append("x-tag", "1")
	md.Append("x-tag", "2")
	md.Append("x-tag", "3")
	got := md.Values("x-tag")
	want := []string{"1", "2", "3"}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("Values()[%d] = %q, want %q", i, got[i], v)
		}
	}
}

func TestCaseInsensitiveNames(t *testing.T) {
	md := New("Content-Type", "text/plain")
	if _, ok := md.Get("content-type"); !ok {
		t.Fatalf("Get should be case-insensitive")
	}
}

func TestMissingStatusDefaultsOK(t *testing.T) {
	md := MD{}
	if got := md.Status(); got.Code != status.OK {
		t.Fatalf("Status() on empty MD = %v, want OK", got.Code)
	}
}
