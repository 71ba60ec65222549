// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metadata implements the typed header/trailer key-value bags that
// travel on an RPC stream: an ordered, binary-safe, case-insensitively-keyed
// sequence of (name, value) pairs, plus the small set of reserved names the
// runtime itself interprets.
package metadata

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nogipx/rpcrouter/status"
)

// Reserved metadata names. Comparisons against these are case-insensitive,
// matching the wire convention of HTTP/2-flavoured header names.
const (
	Path         = ":path"
	GRPCStatus   = "grpc-status"
	GRPCMessage  = "grpc-message"
	ContentType  = "content-type"
	GRPCTimeout  = "grpc-timeout"
	DefaultMIME  = "application/grpc+proto"
)

// pair is one (name, value) entry. value is kept opaque ([]byte) so binary
// payloads in metadata values round-trip exactly.
type pair struct {
	name  string
	value []byte
}

// MD is an ordered, possibly-repeating sequence of metadata pairs. The zero
// value is an empty bag ready to use.
type MD struct {
	pairs []pair
}

// New builds an MD from name/value string pairs, e.g.
// New("a", "1", "b", "2"). Panics (a programmer error, not a runtime one) if
// given an odd number of arguments.
func New(kv ...string) MD {
	if len(kv)%2 != 0 {
		panic("metadata.New: odd number of key/value arguments")
	}
	md := MD{}
	for i := 0; i < len(kv); i += 2 {
		md.Append(kv[i], kv[i+1])
	}
	return md
}

// Append adds a (name, value) pair, preserving insertion order even when the
// name repeats.
func (md *MD) Append(name, value string) {
	md.pairs = append(md.pairs, pair{name: name, value: []byte(value)})
}

// AppendBytes is like Append but for values that are not necessarily UTF-8.
func (md *MD) AppendBytes(name string, value []byte) {
	cp := make([]byte, len(value))
	copy(cp, value)
	md.pairs = append(md.pairs, pair{name: name, value: cp})
}

// Get returns the first value for name (case-insensitive), and whether it
// was present at all.
func (md MD) Get(name string) (string, bool) {
	for _, p := range md.pairs {
		if strings.EqualFold(p.name, name) {
			return string(p.value), true
		}
	}
	return "", false
}

// Values returns every value for name, in insertion order.
func (md MD) Values(name string) []string {
	var out []string
	for _, p := range md.pairs {
		if strings.EqualFold(p.name, name) {
			out = append(out, string(p.value))
		}
	}
	return out
}

// Range calls fn for every pair in insertion order. fn must not mutate md.
func (md MD) Range(fn func(name, value string)) {
	for _, p := range md.pairs {
		fn(p.name, string(p.value))
	}
}

// Len reports the number of pairs, including repeats.
func (md MD) Len() int { return len(md.pairs) }

// Clone returns an independent copy of md.
func (md MD) Clone() MD {
	out := MD{pairs: make([]pair, len(md.pairs))}
	copy(out.pairs, md.pairs)
	return out
}

// ForRequest builds the initial-headers metadata for an outbound call to
// /service/method.
func ForRequest(service, method string) MD {
	md := MD{}
	md.Append(Path, fmt.Sprintf("/%s/%s", service, method))
	md.Append(ContentType, DefaultMIME)
	return md
}

// ForTrailer builds a minimal trailer carrying a status code and an optional
// human-readable message.
func ForTrailer(code status.Code, message string) MD {
	md := MD{}
	md.Append(GRPCStatus, fmt.Sprintf("%d", int(code)))
	if message != "" {
		md.Append(GRPCMessage, message)
	}
	return md
}

// Status extracts the status encoded in a trailer. A trailer with no
// grpc-status is treated as OK with no message, which lets callers pass
// partially-built metadata through Status defensively.
func (md MD) Status() *status.Status {
	raw, ok := md.Get(GRPCStatus)
	if !ok {
		return &status.Status{Code: status.OK}
	}
	var code int
	fmt.Sscanf(raw, "%d", &code)
	msg, _ := md.Get(GRPCMessage)
	return &status.Status{Code: status.Code(code), Message: msg}
}

// maxTimeoutDigits is the largest magnitude grpc-timeout carries in any one
// unit before EncodeTimeout steps up to a coarser unit, per the wire
// grammar's <positive integer><unit> shape.
const maxTimeoutDigits = 1e8 - 1

var timeoutUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"n", time.Nanosecond},
	{"u", time.Microsecond},
	{"m", time.Millisecond},
	{"S", time.Second},
	{"M", time.Minute},
	{"H", time.Hour},
}

// EncodeTimeout renders d as a grpc-timeout header value: a positive integer
// followed by one of n|u|m|S|M|H (nanoseconds, microseconds, milliseconds,
// seconds, minutes, hours), per §3/§6's documented external wire format.
// It picks the finest unit whose value does not exceed maxTimeoutDigits
// (falling back to hours), rounding up so the encoded budget never
// undershoots d.
func EncodeTimeout(d time.Duration) string {
	if d <= 0 {
		return "0n"
	}
	for i, u := range timeoutUnits {
		last := i == len(timeoutUnits)-1
		n := ceilDiv(d, u.unit)
		if n <= maxTimeoutDigits || last {
			return strconv.FormatInt(n, 10) + u.suffix
		}
	}
	panic("unreachable")
}

func ceilDiv(d, unit time.Duration) int64 {
	if d%unit > 0 {
		return int64(d/unit) + 1
	}
	return int64(d / unit)
}

// DecodeTimeout parses a grpc-timeout header value written by EncodeTimeout
// (or any conformant peer) back into a time.Duration.
func DecodeTimeout(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("metadata: malformed grpc-timeout %q", s)
	}
	suffix := s[len(s)-1:]
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("metadata: malformed grpc-timeout %q", s)
	}
	for _, u := range timeoutUnits {
		if u.suffix == suffix {
			return time.Duration(n) * u.unit, nil
		}
	}
	return 0, fmt.Errorf("metadata: unknown grpc-timeout unit in %q", s)
}

// ServicePath extracts the :path header into (service, method). ok is false
// if :path is absent or malformed.
func (md MD) ServicePath() (service, method string, ok bool) {
	raw, present := md.Get(Path)
	if !present {
		return "", "", false
	}
	raw = strings.TrimPrefix(raw, "/")
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
