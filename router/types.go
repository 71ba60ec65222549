// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package router

import "time"

// ClientRecord is one registered client. client_id is the routing key;
// client_name is a human label and is not required to be unique.
type ClientRecord struct {
	ClientID    string
	ClientName  string
	Groups      map[string]struct{}
	Metadata    map[string]string
	ConnectedAt time.Time
	LastSeenAt  time.Time
}

func (r *ClientRecord) groupSlice() []string {
	out := make([]string, 0, len(r.Groups))
	for g := range r.Groups {
		out = append(out, g)
	}
	return out
}

// ClientFilter narrows GetOnlineClients. A zero-value filter matches every
// client.
type ClientFilter struct {
	Group      string
	NamePrefix string
}

func (f ClientFilter) matches(r *ClientRecord) bool {
	if f.Group != "" {
		if _, ok := r.Groups[f.Group]; !ok {
			return false
		}
	}
	if f.NamePrefix != "" {
		if len(r.ClientName) < len(f.NamePrefix) || r.ClientName[:len(f.NamePrefix)] != f.NamePrefix {
			return false
		}
	}
	return true
}

// SystemEventKind identifies the shape of a SystemEvent.
type SystemEventKind string

const (
	ClientJoined          SystemEventKind = "client-joined"
	ClientLeft            SystemEventKind = "client-left"
	ClientMetadataUpdated SystemEventKind = "client-metadata-updated"
)

// SystemEvent is one router-originated event delivered to Events subscribers.
type SystemEvent struct {
	Kind       SystemEventKind
	ClientID   string
	ClientName string
	Groups     []string
	Reason     string
	Metadata   map[string]string
}
