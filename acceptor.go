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
	"golang.org/x/sys/unix"

	"github.com/relaykit/relay/internal/socket"
	"github.com/relaykit/relay/pkg/errors"
)

// acceptBurst drains every pending connection queued on the listener for
// one readiness notification. Per-connection failures after a successful
// accept close that descriptor and skip it without aborting the burst.
func (s *Server) acceptBurst() {
	for {
		nfd, sa, err := socket.Accept(s.ln.fd)
		if err != nil {
			s.opts.Logger.Errorf("%v: %v", errors.ErrAcceptSocket, err)
			return
		}
		if nfd < 0 {
			return // queue drained
		}

		// The accepted descriptor must be non-blocking before it enters
		// the registry.
		if err := socket.SetNonblock(nfd); err != nil {
			s.opts.Logger.Errorf("failed to set client %d non-blocking, dropping it: %v", nfd, err)
			_ = unix.Close(nfd)
			continue
		}

		if s.opts.TCPKeepAlive > 0 {
			if err := socket.SetKeepAlivePeriod(nfd, int(s.opts.TCPKeepAlive.Seconds())); err != nil {
				s.opts.Logger.Warnf("failed to set keep-alive on client %d: %v", nfd, err)
			}
		}

		if err := s.poller.AddRead(nfd); err != nil {
			s.opts.Logger.Errorf("failed to arm client %d, dropping it: %v", nfd, err)
			_ = unix.Close(nfd)
			continue
		}

		c := newClient(nfd, sa)
		if !s.clients.add(c) {
			s.opts.Logger.Errorf("descriptor %d is already registered, dropping the new session", nfd)
			_ = s.poller.Delete(nfd)
			_ = unix.Close(nfd)
			continue
		}

		s.opts.Logger.Infof("accepted connection as client %d (session %s, peer %s)", nfd, c.session, c.remote)
	}
}
