// Copyright 2026 The rpcrouter Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package routerserver

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nogipx/rpcrouter/router"
	"github.com/nogipx/rpcrouter/rpc"
	"github.com/nogipx/rpcrouter/transport"
)

// Listener supplies connected transports to a Server, e.g. one per accepted
// WebSocket or TCP connection. Its concrete protocol is out of scope for
// this module; Server only needs Accept/Close.
type Listener interface {
	Accept() (transport.Transport, error)
	Close() error
}

// Server accepts inbound transports from one or more Listeners, attaching
// each to its own responder endpoint that all share one router.Core. This
// generalizes the teacher's single jsonrpc2.NewConn-plus-Run bootstrap to
// many concurrently accepted connections.
type Server struct {
	core *router.Core
	svc  *rpc.ServiceDesc
	log  *logrus.Entry

	drainTimeout time.Duration

	mu        sync.Mutex
	endpoints []*rpc.ResponderEndpoint
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithDrainTimeout bounds how long Shutdown waits for in-flight calls to
// finish before force-closing their transports.
func WithDrainTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.drainTimeout = d }
}

// WithServerLogger overrides the structured logger used for accept-loop
// diagnostics.
func WithServerLogger(log *logrus.Entry) ServerOption {
	return func(s *Server) { s.log = log }
}

// NewServer builds a Server driving core, with its Router service already
// registered on every endpoint it creates.
func NewServer(core *router.Core, opts ...ServerOption) *Server {
	s := &Server{
		core:         core,
		svc:          NewService(core),
		log:          logrus.NewEntry(logrus.StandardLogger()),
		drainTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Serve runs core's health-check loop and the accept loop for every
// listener concurrently under one errgroup. The first error any of them
// returns (for example a failed Accept) cancels the others' context; Serve
// returns once all have returned, with that first error, or nil when it
// was context.Canceled.
func (s *Server) Serve(ctx context.Context, listeners ...Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.core.Run(ctx) })
	for _, l := range listeners {
		l := l
		g.Go(func() error { return s.acceptLoop(ctx, l) })
	}
	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, l Listener) error {
	for {
		tr, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		ep := rpc.NewResponderEndpoint(tr, rpc.WithLogger(s.log))
		ep.RegisterService(s.svc)
		s.mu.Lock()
		s.endpoints = append(s.endpoints, ep)
		s.mu.Unlock()
		go func() {
			if err := ep.Serve(ctx); err != nil {
				s.log.WithError(err).Debug("routerserver: endpoint ended")
			}
		}()
	}
}

// Shutdown stops every endpoint this server created: it gives in-flight
// calls until drainTimeout to finish, then force-closes every transport.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	endpoints := append([]*rpc.ResponderEndpoint(nil), s.endpoints...)
	s.mu.Unlock()

	drainCtx, cancel := context.WithTimeout(ctx, s.drainTimeout)
	defer cancel()
	drained := make(chan struct{})
	go func() {
		for _, ep := range endpoints {
			ep.Wait()
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-drainCtx.Done():
	}

	var result *multierror.Error
	for _, ep := range endpoints {
		if err := ep.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
