// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package routerclient wraps an rpc.CallerEndpoint with the router's
// client-side conveniences: register, open the persistent P2P stream, send
// typed messages, await correlated replies with a deadline, and subscribe
// to system events.
package routerclient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nogipx/rpcrouter/codec"
	"github.com/nogipx/rpcrouter/router"
	"github.com/nogipx/rpcrouter/routerserver"
	"github.com/nogipx/rpcrouter/rpc"
	"github.com/nogipx/rpcrouter/status"
)

// DefaultRequestTimeout is the local deadline UpdateMetadata enforces while
// awaiting the router's reply, independent of ctx's own deadline.
const DefaultRequestTimeout = 10 * time.Second

// Result is the outcome of a correlated request sent over P2P.
type Result struct {
	Payload []byte
	Err     error
}

// Client is the caller-side handle to one registered router client.
type Client struct {
	ep *rpc.CallerEndpoint

	mu       sync.Mutex
	clientID string
	bidi     *rpc.BidiCall[router.Envelope, router.Envelope]
	pending  map[string]chan Result

	onMessage func(router.Envelope)
}

// NewClient wraps ep, which must already be Serve()-ing in the background.
func NewClient(ep *rpc.CallerEndpoint) *Client {
	return &Client{ep: ep, pending: map[string]chan Result{}}
}

// ClientID returns the id assigned by Register, or "" before registration.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Register calls Router.Register and remembers the assigned client_id.
func (c *Client) Register(ctx context.Context, name string, groups []string, meta map[string]string) (string, error) {
	call, err := rpc.NewUnaryCall[routerserver.RegisterRequest, routerserver.RegisterResponse](
		c.ep, ctx, routerserver.ServiceName, "Register", codec.JSON[routerserver.RegisterRequest]{}, codec.JSON[routerserver.RegisterResponse]{})
	if err != nil {
		return "", err
	}
	resp, err := call.Invoke(ctx, routerserver.RegisterRequest{Name: name, Groups: groups, Metadata: meta})
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.clientID = resp.ClientID
	c.mu.Unlock()
	return resp.ClientID, nil
}

// GetOnlineClients calls Router.GetOnlineClients.
func (c *Client) GetOnlineClients(ctx context.Context, filter router.ClientFilter) ([]routerserver.ClientInfo, error) {
	call, err := rpc.NewUnaryCall[routerserver.GetOnlineClientsRequest, routerserver.GetOnlineClientsResponse](
		c.ep, ctx, routerserver.ServiceName, "GetOnlineClients", codec.JSON[routerserver.GetOnlineClientsRequest]{}, codec.JSON[routerserver.GetOnlineClientsResponse]{})
	if err != nil {
		return nil, err
	}
	resp, err := call.Invoke(ctx, routerserver.GetOnlineClientsRequest{Group: filter.Group, NamePrefix: filter.NamePrefix})
	if err != nil {
		return nil, err
	}
	return resp.Clients, nil
}

// Ping calls Router.Ping.
func (c *Client) Ping(ctx context.Context, nonce string) (routerserver.PingResponse, error) {
	call, err := rpc.NewUnaryCall[routerserver.PingRequest, routerserver.PingResponse](
		c.ep, ctx, routerserver.ServiceName, "Ping", codec.JSON[routerserver.PingRequest]{}, codec.JSON[routerserver.PingResponse]{})
	if err != nil {
		return routerserver.PingResponse{}, err
	}
	return call.Invoke(ctx, routerserver.PingRequest{ClientID: c.ClientID(), Nonce: nonce})
}

// SubscribeEvents calls Router.Events and returns the decoded event
// sequence.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan routerserver.EventInfo, error) {
	call, err := rpc.NewServerStreamCall[routerserver.EventsRequest, routerserver.EventInfo](
		c.ep, ctx, routerserver.ServiceName, "Events", codec.JSON[routerserver.EventsRequest]{}, codec.JSON[routerserver.EventInfo]{})
	if err != nil {
		return nil, err
	}
	items, err := call.Invoke(ctx, routerserver.EventsRequest{})
	if err != nil {
		return nil, err
	}
	out := make(chan routerserver.EventInfo, 16)
	go func() {
		defer close(out)
		for item := range items {
			if item.Err == nil {
				out <- item.Value
			}
		}
	}()
	return out, nil
}

// InitialiseP2P opens the persistent P2P bidi stream and starts reading it
// in the background. onMessage receives every inbound envelope that is not
// a reply to a pending SendRequestWithCorrelationID call. Register must
// have completed first.
func (c *Client) InitialiseP2P(ctx context.Context, onMessage func(router.Envelope)) error {
	clientID := c.ClientID()
	if clientID == "" {
		return status.New(status.InvalidArgument, "InitialiseP2P called before Register")
	}
	call, err := rpc.NewBidiCall[router.Envelope, router.Envelope](
		c.ep, ctx, routerserver.ServiceName, "P2P", codec.JSON[router.Envelope]{}, codec.JSON[router.Envelope]{})
	if err != nil {
		return err
	}
	if err := call.Send(ctx, router.Envelope{Type: router.Unicast, SenderID: clientID, Timestamp: time.Now().UnixMilli()}); err != nil {
		return err
	}
	c.mu.Lock()
	c.bidi = call
	c.onMessage = onMessage
	c.mu.Unlock()

	go c.readLoop(call)
	return nil
}

func (c *Client) readLoop(call *rpc.BidiCall[router.Envelope, router.Envelope]) {
	for item := range call.Responses() {
		if item.Err != nil {
			c.failAllPending(item.Err)
			return
		}
		env := item.Value
		if (env.Type == router.Response || env.Type == router.ErrorType) && c.completePending(env) {
			continue
		}
		c.mu.Lock()
		onMessage := c.onMessage
		c.mu.Unlock()
		if onMessage != nil {
			onMessage(env)
		}
	}
}

func (c *Client) completePending(env router.Envelope) bool {
	c.mu.Lock()
	ch, ok := c.pending[env.CorrelationID]
	if ok {
		delete(c.pending, env.CorrelationID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	if env.Type == router.ErrorType {
		ch <- Result{Err: status.New(status.NotFound, "%s", env.Payload)}
	} else {
		ch <- Result{Payload: env.Payload}
	}
	close(ch)
	return true
}

func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = map[string]chan Result{}
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- Result{Err: err}
		close(ch)
	}
}

func (c *Client) send(ctx context.Context, env router.Envelope) error {
	c.mu.Lock()
	bidi := c.bidi
	c.mu.Unlock()
	if bidi == nil {
		return status.New(status.InvalidArgument, "P2P stream not initialised")
	}
	env.Timestamp = time.Now().UnixMilli()
	return bidi.Send(ctx, env)
}

// SendUnicast sends payload to exactly one target.
func (c *Client) SendUnicast(ctx context.Context, target string, payload []byte) error {
	return c.send(ctx, router.Envelope{Type: router.Unicast, SenderID: c.ClientID(), TargetIDs: []string{target}, Payload: payload})
}

// SendMulticast sends payload to every member of the given group tags.
func (c *Client) SendMulticast(ctx context.Context, groups []string, payload []byte) error {
	return c.send(ctx, router.Envelope{Type: router.Multicast, SenderID: c.ClientID(), TargetIDs: groups, Payload: payload})
}

// SendBroadcast sends payload to every connected client.
func (c *Client) SendBroadcast(ctx context.Context, payload []byte) error {
	return c.send(ctx, router.Envelope{Type: router.Broadcast, SenderID: c.ClientID(), Payload: payload})
}

// SendResponse answers a pending request with payload, preserving
// correlationID so the original sender's SendRequest call resolves.
func (c *Client) SendResponse(ctx context.Context, target, correlationID string, payload []byte) error {
	return c.send(ctx, router.Envelope{Type: router.Response, SenderID: c.ClientID(), TargetIDs: []string{target}, CorrelationID: correlationID, Payload: payload})
}

// Heartbeat sends an empty, target-less envelope over P2P purely to refresh
// this client's last_seen_at at the router.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.send(ctx, router.Envelope{Type: router.Unicast, SenderID: c.ClientID()})
}

// UpdateMetadata sends the P2P form of a metadata update, the only form the
// router accepts (see router.Core.Dispatch).
func (c *Client) UpdateMetadata(ctx context.Context, meta map[string]string) error {
	payload, err := codec.JSON[map[string]string]{}.Marshal(meta)
	if err != nil {
		return status.New(status.Internal, "encode metadata: %v", err)
	}
	correlationID := uuid.NewString()
	resultCh := c.registerPending(correlationID)
	if err := c.send(ctx, router.Envelope{Type: router.Request, TargetIDs: []string{router.RouterTargetID}, SenderID: c.ClientID(), CorrelationID: correlationID, Payload: payload}); err != nil {
		c.removePending(correlationID)
		return err
	}
	return c.awaitResult(ctx, correlationID, resultCh, DefaultRequestTimeout).Err
}

// SendRequest sends a correlated request to target and awaits its response
// (or DEADLINE_EXCEEDED if it does not arrive within timeout).
func (c *Client) SendRequest(ctx context.Context, target string, payload []byte, timeout time.Duration) ([]byte, error) {
	res, err := c.SendRequestWithCorrelationID(ctx, target, payload, timeout, uuid.NewString())
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SendRequestWithCorrelationID is SendRequest with an explicit correlation
// id. It fails with a precondition error if correlationID already names a
// live pending request, per the router client's local uniqueness
// invariant.
func (c *Client) SendRequestWithCorrelationID(ctx context.Context, target string, payload []byte, timeout time.Duration, correlationID string) ([]byte, error) {
	c.mu.Lock()
	if _, live := c.pending[correlationID]; live {
		c.mu.Unlock()
		return nil, status.New(status.AlreadyExists, "correlation_id %q already has a live pending request", correlationID)
	}
	ch := make(chan Result, 1)
	c.pending[correlationID] = ch
	c.mu.Unlock()

	if err := c.send(ctx, router.Envelope{Type: router.Request, SenderID: c.ClientID(), TargetIDs: []string{target}, CorrelationID: correlationID, Payload: payload}); err != nil {
		c.removePending(correlationID)
		return nil, err
	}
	res := c.awaitResult(ctx, correlationID, ch, timeout)
	return res.Payload, res.Err
}

func (c *Client) registerPending(correlationID string) chan Result {
	ch := make(chan Result, 1)
	c.mu.Lock()
	c.pending[correlationID] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) removePending(correlationID string) {
	c.mu.Lock()
	delete(c.pending, correlationID)
	c.mu.Unlock()
}

// awaitResult blocks for a reply on ch, racing both ctx's ambient
// cancellation and a timer derived from timeout, the router client's own
// deadline per the pending-request map's (completion handle, deadline) pair.
// Either one firing first completes the request with DEADLINE_EXCEEDED.
func (c *Client) awaitResult(ctx context.Context, correlationID string, ch chan Result, timeout time.Duration) Result {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		c.removePending(correlationID)
		return Result{Err: status.New(status.DeadlineExceeded, "request %q timed out", correlationID)}
	case <-timer.C:
		c.removePending(correlationID)
		return Result{Err: status.New(status.DeadlineExceeded, "request %q timed out", correlationID)}
	}
}

// Close finishes the request half of the P2P stream, if one is open. It does
// not close the underlying caller endpoint or its transport.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	bidi := c.bidi
	c.mu.Unlock()
	if bidi != nil {
		return bidi.CloseSend(ctx)
	}
	return nil
}
