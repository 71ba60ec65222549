// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package codec declares the pluggable serializer pair a service contract
// chooses for its request and response types (§4.7: "the concrete codec ...
// is chosen by the registering caller, not by the framework"), plus two
// reference implementations.
package codec

import "encoding/json"

// Codec converts between an in-memory T and its wire bytes. Implementations
// must be safe for concurrent use; a single Codec instance is shared by
// every call of a method.
type Codec[T any] interface {
	Marshal(v T) ([]byte, error)
	Unmarshal(data []byte) (T, error)
}

// JSON is a Codec backed by encoding/json, the teacher's own wire format
// (golang-tools' jsonrpc2 is, after all, JSON RPC 2) and the codec the
// Router service and this module's tests register, so they need no protobuf
// toolchain.
type JSON[T any] struct{}

func (JSON[T]) Marshal(v T) ([]byte, error) { return json.Marshal(v) }

func (JSON[T]) Unmarshal(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// Bytes is the identity codec: it marshals and unmarshals opaque []byte
// payloads unchanged, for methods whose messages are already []byte. No
// method registered in this module uses it; the Router service carries
// envelopes (payload included) with JSON.
type Bytes struct{}

func (Bytes) Marshal(v []byte) ([]byte, error) { return v, nil }

func (Bytes) Unmarshal(data []byte) ([]byte, error) { return data, nil }
