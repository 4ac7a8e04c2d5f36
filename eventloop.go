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

package relay

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/relaykit/relay/internal/netpoll"
	"github.com/relaykit/relay/pkg/errors"
)

// Disconnect reasons as they appear on the logging surface.
const (
	reasonQuit       = "quit"
	reasonReadError  = "read-error"
	reasonPeerHangup = "peer-hangup"
	reasonShutdown   = "server-shutdown"
)

// run is the dispatcher: the single goroutine that owns the listener, the
// poller and the client registry. It consumes readiness batches, classifies
// each event and invokes the matching handler until the shutdown flag is
// cleared or the listener becomes unusable. Nothing else runs concurrently
// with it inside the core.
func (s *Server) run() error {
	defer s.cleanup()

	s.alive.Store(true)
	s.opts.Logger.Infof("event worker online, listening on %s", s.ln.addr)

	el := netpoll.NewEventList()
	for s.running.Load() {
		n, err := s.poller.Wait(el, int(pollTimeout.Milliseconds()))
		if err != nil {
			s.opts.Logger.Errorf("event worker is exiting on poll failure: %v", err)
			return err
		}

		// n == 0 means the wait timed out; fall through to the
		// shutdown-flag check.
		for i := 0; i < n; i++ {
			fd, ev := el.Event(i)
			switch {
			case ev&netpoll.ErrEvents != 0 || ev&netpoll.InEvents == 0:
				if fd == s.ln.fd {
					s.opts.Logger.Errorf("fatal readiness event 0x%x on listener %s", ev, s.ln.addr)
					return errors.ErrListenerTerminal
				}
				s.closeClient(fd, reasonPeerHangup)
			case fd == s.ln.fd:
				s.acceptBurst()
			default:
				s.handleTraffic(fd)
			}
		}
	}

	return errors.ErrServerShutdown
}

// closeClient closes one client session and removes it from the registry in
// the same step, which keeps double-close impossible when error and hangup
// events for the same descriptor coincide in a batch.
func (s *Server) closeClient(fd int, reason string) {
	c := s.clients.get(fd)
	if c == nil {
		return // already closed earlier in this batch
	}
	s.clients.del(fd)

	err0, err1 := s.poller.Delete(fd), unix.Close(fd)
	if err0 != nil {
		s.opts.Logger.Errorf("failed to delete client %d from poller: %v", fd, err0)
	}
	if err1 != nil {
		s.opts.Logger.Errorf("failed to close client %d: %v", fd, os.NewSyscallError("close", err1))
	}

	s.opts.Logger.Infof("client %d (session %s, peer %s) disconnected: %s", fd, c.session, c.remote, reason)
}

// cleanup runs on every exit path of the dispatcher: it closes every
// registered client, clears the registry, then releases the listener and
// the poller. The registry is empty afterwards.
func (s *Server) cleanup() {
	s.clients.iterate(func(c *client) bool {
		if err0, err1 := s.poller.Delete(c.fd), unix.Close(c.fd); err0 != nil || err1 != nil {
			s.opts.Logger.Errorf("failed to release client %d on shutdown: %v / %v", c.fd, err0, err1)
		}
		s.opts.Logger.Infof("client %d (session %s, peer %s) disconnected: %s", c.fd, c.session, c.remote, reasonShutdown)
		return true
	})
	s.clients.clear()

	s.ln.close(s.opts.Logger)
	if err := s.poller.Close(); err != nil {
		s.opts.Logger.Errorf("failed to close poller: %v", err)
	}

	s.alive.Store(false)
	s.opts.Logger.Infof("event worker offline")
}
