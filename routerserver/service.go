// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package routerserver

import (
	"context"

	"github.com/nogipx/rpcrouter/codec"
	"github.com/nogipx/rpcrouter/router"
	"github.com/nogipx/rpcrouter/rpc"
	"github.com/nogipx/rpcrouter/status"
)

// ServiceName is the :path service component every Router method is
// registered under.
const ServiceName = "Router"

// NewService builds the "Router" rpc.ServiceDesc, binding each method to
// core. Register it on a ResponderEndpoint per accepted transport (Server
// does this for you).
func NewService(core *router.Core) *rpc.ServiceDesc {
	svc := rpc.NewService(ServiceName)

	rpc.AddUnary(svc, "Register", codec.JSON[RegisterRequest]{}, codec.JSON[RegisterResponse]{},
		func(ctx context.Context, req RegisterRequest) (RegisterResponse, error) {
			id, err := core.Register(req.ClientID, req.Name, req.Groups, req.Metadata)
			if err != nil {
				return RegisterResponse{}, err
			}
			return RegisterResponse{ClientID: id}, nil
		})

	rpc.AddUnary(svc, "GetOnlineClients", codec.JSON[GetOnlineClientsRequest]{}, codec.JSON[GetOnlineClientsResponse]{},
		func(ctx context.Context, req GetOnlineClientsRequest) (GetOnlineClientsResponse, error) {
			recs := core.GetOnlineClients(router.ClientFilter{Group: req.Group, NamePrefix: req.NamePrefix})
			out := make([]ClientInfo, len(recs))
			for i, r := range recs {
				out[i] = toClientInfo(r)
			}
			return GetOnlineClientsResponse{Clients: out}, nil
		})

	rpc.AddUnary(svc, "Ping", codec.JSON[PingRequest]{}, codec.JSON[PingResponse]{},
		func(ctx context.Context, req PingRequest) (PingResponse, error) {
			serverTime := core.Ping(req.ClientID)
			return PingResponse{Nonce: req.Nonce, ServerTimeMillis: serverTime}, nil
		})

	rpc.AddServerStream(svc, "Events", codec.JSON[EventsRequest]{}, codec.JSON[EventInfo]{},
		func(ctx context.Context, _ EventsRequest, send func(EventInfo) error) error {
			events, cancel := core.Events(16)
			defer cancel()
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					if err := send(toEventInfo(ev)); err != nil {
						return err
					}
				case <-ctx.Done():
					return nil
				}
			}
		})

	rpc.AddBidiStream(svc, "P2P", codec.JSON[router.Envelope]{}, codec.JSON[router.Envelope]{}, p2pHandler(core))

	return svc
}

// p2pHandler builds the bidi handler backing Router.P2P: the first inbound
// envelope's sender_id attaches the stream to a registered client (it is
// not itself dispatched), and every envelope after it is handed to
// core.Dispatch until the client's request half closes or the router
// evicts it.
func p2pHandler(core *router.Core) rpc.BidiHandler[router.Envelope, router.Envelope] {
	return func(ctx context.Context, reqs <-chan router.Envelope, send func(router.Envelope) error) error {
		first, ok := <-reqs
		if !ok {
			return nil
		}
		clientID := first.SenderID
		evicted, err := core.AttachP2P(clientID, send)
		if err != nil {
			return status.FromError(err)
		}
		defer core.DetachP2P(clientID)

		for {
			select {
			case env, ok := <-reqs:
				if !ok {
					return nil
				}
				core.Touch(clientID)
				core.Dispatch(env)
			case reason := <-evicted:
				return status.New(status.Unavailable, "client evicted: %s", reason)
			case <-ctx.Done():
				return nil
			}
		}
	}
}
