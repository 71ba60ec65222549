// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package status carries the small set of termination codes used to close
// an RPC stream or to report a routing failure. It plays the role that
// google.golang.org/grpc/status plays for gRPC, but is hand-rolled: a
// message-routing runtime that imports the real grpc module to describe its
// own statuses would be importing the thing it is reimplementing.
package status

import "fmt"

// Code is a small integer status, matching the grpc-status values this
// runtime's wire format borrows.
type Code int

const (
	OK               Code = 0
	Cancelled        Code = 1
	InvalidArgument  Code = 3
	DeadlineExceeded Code = 4
	NotFound         Code = 5
	AlreadyExists    Code = 6
	Internal         Code = 13
	Unavailable      Code = 14
	Unimplemented    Code = 12
	Unauthenticated  Code = 16
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Cancelled:
		return "CANCELLED"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case DeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	case NotFound:
		return "NOT_FOUND"
	case AlreadyExists:
		return "ALREADY_EXISTS"
	case Unauthenticated:
		return "UNAUTHENTICATED"
	case Internal:
		return "INTERNAL"
	case Unavailable:
		return "UNAVAILABLE"
	case Unimplemented:
		return "UNIMPLEMENTED"
	default:
		return fmt.Sprintf("CODE(%d)", int(c))
	}
}

// Status is the error type returned or carried in a trailer whenever a call
// terminates abnormally. It implements error so it can be returned directly
// from caller-facing methods.
type Status struct {
	Code    Code
	Message string
}

// New builds a Status from a code and a formatted message.
func New(code Code, format string, args ...any) *Status {
	return &Status{Code: code, Message: fmt.Sprintf(format, args...)}
}

// FromError unwraps err to a *Status, synthesizing an INTERNAL status for any
// error that isn't already one, per the "handler errors become INTERNAL"
// rule in the error handling design.
func FromError(err error) *Status {
	if err == nil {
		return &Status{Code: OK}
	}
	if s, ok := err.(*Status); ok {
		return s
	}
	return &Status{Code: Internal, Message: err.Error()}
}

func (s *Status) Error() string {
	if s.Message == "" {
		return s.Code.String()
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Message)
}

// Is supports errors.Is comparisons by status code, ignoring message text.
func (s *Status) Is(target error) bool {
	other, ok := target.(*Status)
	if !ok {
		return false
	}
	return s.Code == other.Code
}

// OKStatus reports whether the status represents a successful termination.
func (s *Status) OKStatus() bool { return s == nil || s.Code == OK }
