// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package routerserver binds a router.Core's operations onto an RPC service
// ("Router") and accepts inbound transports from one or more listeners, each
// driven by its own responder endpoint sharing the one core instance.
package routerserver

import "github.com/nogipx/rpcrouter/router"

// RegisterRequest is the Router.Register unary request.
type RegisterRequest struct {
	ClientID string            `json:"client_id,omitempty"`
	Name     string            `json:"name"`
	Groups   []string          `json:"groups,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RegisterResponse is the Router.Register unary response.
type RegisterResponse struct {
	ClientID string `json:"client_id"`
}

// GetOnlineClientsRequest is the Router.GetOnlineClients unary request.
type GetOnlineClientsRequest struct {
	Group      string `json:"group,omitempty"`
	NamePrefix string `json:"name_prefix,omitempty"`
}

// ClientInfo is the wire-visible projection of a router.ClientRecord.
type ClientInfo struct {
	ClientID    string            `json:"client_id"`
	ClientName  string            `json:"client_name"`
	Groups      []string          `json:"groups,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ConnectedAt int64             `json:"connected_at"`
	LastSeenAt  int64             `json:"last_seen_at"`
}

// GetOnlineClientsResponse is the Router.GetOnlineClients unary response.
type GetOnlineClientsResponse struct {
	Clients []ClientInfo `json:"clients"`
}

// PingRequest is the Router.Ping unary request.
type PingRequest struct {
	ClientID string `json:"client_id,omitempty"`
	Nonce    string `json:"nonce"`
}

// PingResponse is the Router.Ping unary response.
type PingResponse struct {
	Nonce            string `json:"nonce"`
	ServerTimeMillis int64  `json:"server_time_millis"`
}

// EventsRequest is the Router.Events server-stream request. It carries no
// fields; the shape still requires exactly one request to open the stream.
type EventsRequest struct{}

// EventInfo is the wire-visible projection of a router.SystemEvent.
type EventInfo struct {
	Kind       string            `json:"kind"`
	ClientID   string            `json:"client_id"`
	ClientName string            `json:"client_name,omitempty"`
	Groups     []string          `json:"groups,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func toEventInfo(ev router.SystemEvent) EventInfo {
	return EventInfo{
		Kind: string(ev.Kind), ClientID: ev.ClientID, ClientName: ev.ClientName,
		Groups: ev.Groups, Reason: ev.Reason, Metadata: ev.Metadata,
	}
}

func toClientInfo(rec router.ClientRecord) ClientInfo {
	groups := make([]string, 0, len(rec.Groups))
	for g := range rec.Groups {
		groups = append(groups, g)
	}
	return ClientInfo{
		ClientID: rec.ClientID, ClientName: rec.ClientName, Groups: groups,
		Metadata: rec.Metadata, ConnectedAt: rec.ConnectedAt.UnixMilli(), LastSeenAt: rec.LastSeenAt.UnixMilli(),
	}
}
