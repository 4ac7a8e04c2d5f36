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
	"bytes"
	"strconv"

	"golang.org/x/sys/unix"

	bbPool "github.com/relaykit/relay/pkg/pool/bytebuffer"
)

var quitSentinel = []byte("quit")

// quitPayloadLen is the exact inbound size that triggers the sentinel: the
// four ASCII bytes of the sentinel plus the two-byte line terminator sent
// by a typical line-mode client. Shorter or longer payloads are ordinary
// traffic.
const quitPayloadLen = 6

// handleTraffic performs one read for a read-ready client and fans the
// payload out to every other registered client. Only one read happens per
// readiness notification; residue in the kernel buffer re-arms the client
// on the next wait, which keeps per-client progress bounded.
func (s *Server) handleTraffic(fd int) {
	c := s.clients.get(fd)
	if c == nil {
		return // stale event for a descriptor closed earlier in this batch
	}

	n, err := unix.Read(fd, s.buffer)
	if n <= 0 {
		if err == unix.EAGAIN {
			return
		}
		reason := reasonReadError
		if n == 0 && err == nil {
			reason = reasonPeerHangup
		}
		s.closeClient(fd, reason)
		return
	}

	payload := s.buffer[:n]
	if n == quitPayloadLen && bytes.Equal(payload[:len(quitSentinel)], quitSentinel) {
		s.closeClient(fd, reasonQuit)
		return
	}

	s.fanOut(c, payload)
}

// fanOut writes the payload once to every registered client except the
// sender, in the registry's iteration order at this instant. A failed or
// short write is logged and the recipient stays registered; there is no
// retry and no cross-sender ordering contract.
func (s *Server) fanOut(sender *client, payload []byte) {
	recipients := bbPool.Get()
	defer bbPool.Put(recipients)

	s.clients.iterateExcluding(sender.fd, func(c *client) bool {
		if n, err := unix.Write(c.fd, payload); err != nil {
			s.opts.Logger.Warnf("failed to forward %d bytes to client %d: %v", len(payload), c.fd, err)
		} else if n < len(payload) {
			s.opts.Logger.Warnf("short write to client %d: %d of %d bytes", c.fd, n, len(payload))
		}
		_, _ = recipients.WriteString(strconv.Itoa(c.fd))
		_ = recipients.WriteByte(' ')
		return true
	})

	s.opts.Logger.Debugf("forwarded %d bytes from client %d to: %s", len(payload), sender.fd, recipients.String())
}
