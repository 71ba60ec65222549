// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package router

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nogipx/rpcrouter/status"
)

const (
	// DefaultHealthInterval is how often the health-check loop scans the
	// registry for stale clients.
	DefaultHealthInterval = 30 * time.Second
	// DefaultClientTimeout is how long a client may go without a heartbeat
	// before the health-check loop evicts it.
	DefaultClientTimeout = 5 * time.Minute
)

// p2pHandle is the router's write path to one client's P2P stream, captured
// from the bidi handler that owns the stream's send closure. evicted is
// signalled (and the handle detached) by Unregister or the health-check
// loop; the p2p handler goroutine observes it and returns, which lets its
// owning responder emit the closing trailer.
type p2pHandle struct {
	send    func(Envelope) error
	evicted chan string
}

// Core is the router's in-memory state: client registry, group index, and
// per-client P2P write handles. It is transport- and RPC-agnostic; package
// routerserver binds its methods onto RPC service methods.
type Core struct {
	mu      sync.RWMutex
	clients map[string]*ClientRecord
	groups  map[string]map[string]struct{}
	streams map[string]*p2pHandle

	events *eventBus
	log    *logrus.Entry

	healthInterval time.Duration
	clientTimeout  time.Duration
}

// CoreOption configures a Core at construction time.
type CoreOption func(*Core)

// WithHealthInterval overrides DefaultHealthInterval.
func WithHealthInterval(d time.Duration) CoreOption {
	return func(c *Core) { c.healthInterval = d }
}

// WithClientTimeout overrides DefaultClientTimeout.
func WithClientTimeout(d time.Duration) CoreOption {
	return func(c *Core) { c.clientTimeout = d }
}

// WithCoreLogger overrides the structured logger used for dispatch and
// health-check diagnostics.
func WithCoreLogger(log *logrus.Entry) CoreOption {
	return func(c *Core) { c.log = log }
}

// NewCore constructs an empty router core. Call Run in its own goroutine to
// start the health-check loop.
func NewCore(opts ...CoreOption) *Core {
	c := &Core{
		clients:        map[string]*ClientRecord{},
		groups:         map[string]map[string]struct{}{},
		streams:        map[string]*p2pHandle{},
		events:         newEventBus(),
		log:            logrus.NewEntry(logrus.StandardLogger()),
		healthInterval: DefaultHealthInterval,
		clientTimeout:  DefaultClientTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Register allocates (or, if explicitID is non-empty, claims) a client_id,
// inserts a client record and its group memberships, and emits a
// client-joined event. explicitID colliding with a live client fails with
// ALREADY_EXISTS; any other call always succeeds.
func (c *Core) Register(explicitID, name string, groups []string, meta map[string]string) (string, error) {
	c.mu.Lock()
	id := explicitID
	if id == "" {
		id = uuid.NewString()
	} else if _, exists := c.clients[id]; exists {
		c.mu.Unlock()
		return "", status.New(status.AlreadyExists, "client_id %q already registered", id)
	}
	now := time.Now()
	rec := &ClientRecord{
		ClientID:    id,
		ClientName:  name,
		Groups:      map[string]struct{}{},
		Metadata:    cloneMeta(meta),
		ConnectedAt: now,
		LastSeenAt:  now,
	}
	for _, g := range groups {
		rec.Groups[g] = struct{}{}
		if c.groups[g] == nil {
			c.groups[g] = map[string]struct{}{}
		}
		c.groups[g][id] = struct{}{}
	}
	c.clients[id] = rec
	groupSlice := rec.groupSlice()
	c.mu.Unlock()

	c.events.emit(SystemEvent{Kind: ClientJoined, ClientID: id, ClientName: name, Groups: groupSlice})
	return id, nil
}

// Unregister removes a client record, evicts its live P2P stream if any,
// and emits a client-left event. It is a no-op if clientID is unknown,
// matching the double-unregister-is-idempotent invariant.
func (c *Core) Unregister(clientID, reason string) {
	c.mu.Lock()
	rec, ok := c.clients[clientID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.clients, clientID)
	for g := range rec.Groups {
		delete(c.groups[g], clientID)
		if len(c.groups[g]) == 0 {
			delete(c.groups, g)
		}
	}
	handle := c.streams[clientID]
	delete(c.streams, clientID)
	c.mu.Unlock()

	if handle != nil {
		select {
		case handle.evicted <- reason:
		default:
		}
	}
	c.events.emit(SystemEvent{Kind: ClientLeft, ClientID: clientID, ClientName: rec.ClientName, Reason: reason})
}

// GetOnlineClients returns a snapshot of currently registered clients
// matching filter.
func (c *Core) GetOnlineClients(filter ClientFilter) []ClientRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ClientRecord, 0, len(c.clients))
	for _, rec := range c.clients {
		if filter.matches(rec) {
			out = append(out, *rec)
		}
	}
	return out
}

// Ping refreshes last_seen_at for clientID if it names a registered client,
// and always returns the server's current time in Unix milliseconds.
func (c *Core) Ping(clientID string) int64 {
	now := time.Now()
	if clientID != "" {
		c.mu.Lock()
		if rec, ok := c.clients[clientID]; ok {
			rec.LastSeenAt = now
		}
		c.mu.Unlock()
	}
	return now.UnixMilli()
}

// UpdateMetadata merges meta into clientID's record and emits a
// client-metadata-updated event. Fails with NOT_FOUND if clientID is
// unknown.
func (c *Core) UpdateMetadata(clientID string, meta map[string]string) error {
	c.mu.Lock()
	rec, ok := c.clients[clientID]
	if !ok {
		c.mu.Unlock()
		return status.New(status.NotFound, "unknown client_id %q", clientID)
	}
	for k, v := range meta {
		rec.Metadata[k] = v
	}
	rec.LastSeenAt = time.Now()
	snapshot := cloneMeta(rec.Metadata)
	c.mu.Unlock()

	c.events.emit(SystemEvent{Kind: ClientMetadataUpdated, ClientID: clientID, Metadata: snapshot})
	return nil
}

// Events subscribes to the system-event stream. The returned cancel func
// must be called once the subscriber is done to release its channel.
func (c *Core) Events(buffer int) (<-chan SystemEvent, func()) {
	return c.events.subscribe(buffer)
}

// Touch refreshes clientID's last_seen_at, called on every inbound P2P
// envelope per §5's ordering/liveness contract.
func (c *Core) Touch(clientID string) {
	c.mu.Lock()
	if rec, ok := c.clients[clientID]; ok {
		rec.LastSeenAt = time.Now()
	}
	c.mu.Unlock()
}

// AttachP2P associates a live send path with senderID's registered client
// record. senderID must already be registered; otherwise this fails with
// UNAUTHENTICATED. The returned channel receives exactly one eviction
// reason when the router (health-check loop or an explicit Unregister)
// decides to close this client's stream; the caller's bidi handler must
// select on it alongside its inbound envelope feed.
func (c *Core) AttachP2P(senderID string, send func(Envelope) error) (<-chan string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.clients[senderID]; !ok {
		return nil, status.New(status.Unauthenticated, "unknown client_id %q", senderID)
	}
	handle := &p2pHandle{send: send, evicted: make(chan string, 1)}
	c.streams[senderID] = handle
	return handle.evicted, nil
}

// DetachP2P removes the P2P write handle for clientID, if present, without
// touching the client record itself (the caller decides separately whether
// the stream closing also means the client should be unregistered).
func (c *Core) DetachP2P(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, clientID)
}

// Dispatch routes one inbound envelope per its Type, per §4.8. A request
// addressed to RouterTargetID is a control-plane call (currently only the
// P2P form of UpdateMetadata) rather than a peer-to-peer forward.
func (c *Core) Dispatch(env Envelope) {
	if env.Type == Request && len(env.TargetIDs) == 1 && env.TargetIDs[0] == RouterTargetID {
		c.handleUpdateMetadataRequest(env)
		return
	}
	switch env.Type {
	case Unicast, Request, Response, ErrorType:
		// correlation_id, like every other envelope field, is never
		// rewritten by the router regardless of which of these four types
		// is being forwarded.
		c.dispatchDirect(env)
	case Multicast:
		c.dispatchMulticast(env)
	case Broadcast:
		c.dispatchBroadcast(env)
	case SystemEventType:
		c.log.WithField("sender", env.SenderID).Warn("router: client sent a system-event envelope, dropping")
		c.sendError(env.SenderID, env.CorrelationID, status.InvalidArgument, "system-event is router-originated only")
	default:
		c.log.WithField("type", env.Type).Warn("router: dropping envelope with unknown type")
	}
}

func (c *Core) dispatchDirect(env Envelope) {
	for _, target := range env.TargetIDs {
		if err := c.forward(target, env); err != nil {
			c.Unregister(target, "send failed")
			c.sendError(env.SenderID, env.CorrelationID, status.NotFound, "target %q unavailable: %v", target, err)
		}
	}
}

func (c *Core) dispatchMulticast(env Envelope) {
	c.mu.RLock()
	members := map[string]struct{}{}
	for _, group := range env.TargetIDs {
		for id := range c.groups[group] {
			members[id] = struct{}{}
		}
	}
	c.mu.RUnlock()
	for id := range members {
		if id == env.SenderID {
			continue
		}
		if err := c.forward(id, env); err != nil {
			c.Unregister(id, "send failed")
		}
	}
}

func (c *Core) dispatchBroadcast(env Envelope) {
	c.mu.RLock()
	targets := make([]string, 0, len(c.clients))
	for id := range c.clients {
		if id != env.SenderID {
			targets = append(targets, id)
		}
	}
	c.mu.RUnlock()
	for _, id := range targets {
		if err := c.forward(id, env); err != nil {
			c.Unregister(id, "send failed")
		}
	}
}

// handleUpdateMetadataRequest services the P2P form of UpdateMetadata: the
// spec marks the unary form deprecated and requires only this one (see
// Design Notes), but the envelope schema has no dedicated type for a
// client-to-router control call, so it is carried as a Request addressed
// to RouterTargetID with a JSON object payload, answered with a Response
// envelope carrying the same correlation_id.
func (c *Core) handleUpdateMetadataRequest(env Envelope) {
	var meta map[string]string
	if err := json.Unmarshal(env.Payload, &meta); err != nil {
		c.sendError(env.SenderID, env.CorrelationID, status.InvalidArgument, "malformed update-metadata payload: %v", err)
		return
	}
	if err := c.UpdateMetadata(env.SenderID, meta); err != nil {
		c.sendError(env.SenderID, env.CorrelationID, status.NotFound, "%v", err)
		return
	}
	c.forward(env.SenderID, Envelope{
		Type: Response, SenderID: RouterTargetID, TargetIDs: []string{env.SenderID},
		CorrelationID: env.CorrelationID, Timestamp: time.Now().UnixMilli(),
	})
}

func (c *Core) forward(targetID string, env Envelope) error {
	c.mu.RLock()
	handle, ok := c.streams[targetID]
	c.mu.RUnlock()
	if !ok {
		return status.New(status.NotFound, "client %q has no live P2P stream", targetID)
	}
	return handle.send(env)
}

func (c *Core) sendError(to, correlationID string, code status.Code, format string, args ...any) {
	if to == "" {
		return
	}
	msg := status.New(code, format, args...).Message
	c.forward(to, Envelope{
		Type:          ErrorType,
		TargetIDs:     []string{to},
		CorrelationID: correlationID,
		Payload:       []byte(msg),
		Timestamp:     time.Now().UnixMilli(),
	})
}

// Run starts the health-check loop and blocks until ctx is cancelled.
func (c *Core) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(c.healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				c.sweepExpired()
			}
		}
	})
	return g.Wait()
}

func (c *Core) sweepExpired() {
	cutoff := time.Now().Add(-c.clientTimeout)
	c.mu.RLock()
	var expired []string
	for id, rec := range c.clients {
		if rec.LastSeenAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	c.mu.RUnlock()
	for _, id := range expired {
		c.Unregister(id, "timeout")
	}
}

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
