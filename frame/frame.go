// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package frame implements the wire framing used inside a single stream:
// one message is a 1-byte compression flag followed by a 4-byte big-endian
// length followed by that many bytes of opaque payload. It plays the role
// the teacher's jsonrpc2_v2.Framer plays for JSON-decoder-delimited
// messages, generalized to length-prefixed binary frames that must be
// re-split by the receiver because a transport may deliver partial or
// concatenated writes.
package frame

import (
	"encoding/binary"

	"github.com/nogipx/rpcrouter/status"
)

const (
	headerSize = 5 // 1 byte compression flag + 4 byte big-endian length

	// DefaultMaxPayload is the default cap on a single frame's payload, per
	// the spec's "caller-configurable cap (default 4 MiB)".
	DefaultMaxPayload = 4 << 20

	flagUncompressed = 0
)

// Encode prepends the 5-byte frame header to payload and returns the full
// wire frame. It does not validate payload length against any cap; callers
// that enforce DefaultMaxPayload (or a custom one) do so before encoding.
func Encode(payload []byte) []byte {
	out := make([]byte, headerSize+len(payload))
	out[0] = flagUncompressed
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out
}

// Parser is a stateful, split-tolerant decoder: repeated calls to Push, fed
// with arbitrarily-chunked bytes from the same byte stream (including
// concatenations or mid-frame splits), yield exactly the same sequence of
// payloads as a single Push of the whole stream would.
type Parser struct {
	buf        []byte
	maxPayload int
}

// NewParser creates a Parser with the given max payload cap. A maxPayload of
// 0 selects DefaultMaxPayload.
func NewParser(maxPayload int) *Parser {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Parser{maxPayload: maxPayload}
}

// Push appends chunk to the parser's internal buffer and returns every
// complete payload that can now be extracted, in receive order. A partial
// trailing frame is retained for the next call.
//
// If a frame's declared length exceeds the configured cap, or the leading
// compression flag is non-zero, Push returns a *status.Status with code
// INVALID_ARGUMENT and discards the buffered bytes: the caller is expected
// to abort the stream at that point, per the spec's "exceeding it fails the
// stream ... and drains the buffer".
func (p *Parser) Push(chunk []byte) ([][]byte, error) {
	p.buf = append(p.buf, chunk...)
	var out [][]byte
	for {
		if len(p.buf) < headerSize {
			return out, nil
		}
		flag := p.buf[0]
		if flag != flagUncompressed {
			p.buf = nil
			return out, status.New(status.InvalidArgument, "unsupported compression flag %d", flag)
		}
		length := int(binary.BigEndian.Uint32(p.buf[1:5]))
		if length > p.maxPayload {
			p.buf = nil
			return out, status.New(status.InvalidArgument, "frame payload %d exceeds max %d", length, p.maxPayload)
		}
		total := headerSize + length
		if len(p.buf) < total {
			return out, nil
		}
		payload := make([]byte, length)
		copy(payload, p.buf[headerSize:total])
		out = append(out, payload)
		p.buf = p.buf[total:]
	}
}
