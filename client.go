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
	"net"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/relaykit/relay/internal/socket"
)

// client is one accepted, non-blocking TCP session. Its identity is the
// underlying descriptor number; the session id only correlates log lines.
type client struct {
	fd      int
	session uuid.UUID
	remote  net.Addr
}

func newClient(fd int, sa unix.Sockaddr) *client {
	return &client{
		fd:      fd,
		session: uuid.New(),
		remote:  socket.SockaddrToTCPAddr(sa),
	}
}
