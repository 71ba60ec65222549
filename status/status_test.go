// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package status

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStatusError(t *testing.T) {
	tests := []struct {
		name string
		s    *Status
		want string
	}{
		{"with message", New(InvalidArgument, "bad %s", "frame"), "INVALID_ARGUMENT: bad frame"},
		{"no message", &Status{Code: Unavailable}, "UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFromError(t *testing.T) {
	if got := FromError(nil); got.Code != OK {
		t.Errorf("FromError(nil).Code = %v, want OK", got.Code)
	}
	wrapped := New(NotFound, "no such target")
	if got := FromError(wrapped); got != wrapped {
		t.Errorf("FromError did not return the same *Status instance")
	}
	plain := errors.New("boom")
	want := &Status{Code: Internal, Message: "boom"}
	if diff := cmp.Diff(want, FromError(plain)); diff != "" {
		t.Errorf("FromError(plain) mismatch (-want +got):\n%s", diff)
	}
}

func TestIs(t *testing.T) {
	a := New(DeadlineExceeded, "call timed out")
	b := New(DeadlineExceeded, "different message")
	if !errors.Is(a, b) {
		t.Errorf("errors.Is(a, b) = false, want true for matching codes")
	}
	c := New(Cancelled, "")
	if errors.Is(a, c) {
		t.Errorf("errors.Is(a, c) = true, want false for differing codes")
	}
}

func TestOKStatus(t *testing.T) {
	var nilStatus *Status
	if !nilStatus.OKStatus() {
		t.Errorf("nil status should be OK")
	}
	if (&Status{Code: Internal}).OKStatus() {
		t.Errorf("INTERNAL status should not be OK")
	}
}
