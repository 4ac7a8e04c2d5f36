// Copyright (c) 2024 The Relay Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

// Package relay implements a single-process TCP relay: it accepts many
// concurrent client connections on one bound endpoint and forwards every
// byte chunk a client sends, verbatim, to every other connected client.
// A client terminates its own session by sending the 6-byte quit sentinel
// ("quit" followed by two arbitrary bytes, conventionally CR LF).
//
// All connection state is owned by a single event-worker goroutine driving
// an epoll readiness loop; the only cross-goroutine datum is the shutdown
// flag, so the client registry needs no locking.
package relay

import (
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaykit/relay/internal/netpoll"
	"github.com/relaykit/relay/pkg/errors"
)

const (
	// pollTimeout bounds one readiness wait so the worker observes a
	// shutdown request within at most this interval plus one event batch.
	pollTimeout = 500 * time.Millisecond

	// DefaultReadBufferCap is the size of the per-loop read buffer; one
	// read per readiness notification never exceeds it. Residue stays in
	// the kernel buffer and triggers another readiness event.
	DefaultReadBufferCap = 1024
)

// Server is a TCP broadcast relay bound to one IPv4 endpoint.
type Server struct {
	opts    *Options
	ln      *listener
	poller  *netpoll.Poller
	clients registry
	buffer  []byte // read packet buffer, reused across all clients

	running atomic.Bool // shutdown flag, cleared by Stop
	alive   atomic.Bool // worker online state, set by the event worker

	workerPool errgroup.Group
}

// NewServer binds the given "host:port" IPv4 endpoint and starts the event
// worker. An empty host means the any-address wildcard; a zero port lets
// the kernel pick one (see Addr). Any setup failure releases every
// partially-created resource and is returned to the caller; the server
// never enters the running state in that case.
func NewServer(addr string, opts ...Option) (*Server, error) {
	options := initOptions(opts...)

	ln, err := initListener(addr, options)
	if err != nil {
		return nil, err
	}

	p, err := netpoll.OpenPoller()
	if err != nil {
		ln.close(options.Logger)
		return nil, err
	}

	s := &Server{
		opts:   options,
		ln:     ln,
		poller: p,
		buffer: make([]byte, options.ReadBufferCap),
	}
	s.clients.init()

	if err := p.AddRead(ln.fd); err != nil {
		ln.close(options.Logger)
		_ = p.Close()
		return nil, err
	}

	s.running.Store(true)
	s.workerPool.Go(s.run)
	return s, nil
}

// Alive reports whether the event worker is online. Callers typically poll
// it shortly after construction as a liveness check.
func (s *Server) Alive() bool {
	return s.alive.Load()
}

// Addr returns the bound local address of the listener.
func (s *Server) Addr() net.Addr {
	return s.ln.addr
}

// CountClients returns the number of currently registered clients.
func (s *Server) CountClients() int {
	return int(s.clients.loadCount())
}

// Stop requests a shutdown, wakes the event worker and blocks until it has
// closed every client session and released the listener and the poller.
// It returns ErrServerInShutdown when called more than once.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return errors.ErrServerInShutdown
	}

	// Cut the shutdown latency below the poll timeout. The worker may have
	// already exited and closed the poller on its own; a failed wake-up is
	// harmless then.
	if err := s.poller.Trigger(func() {}); err != nil {
		s.opts.Logger.Debugf("shutdown wake-up skipped: %v", err)
	}

	err := s.workerPool.Wait()
	if err == errors.ErrServerShutdown {
		err = nil
	}
	return err
}
