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
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/relaykit/relay/internal/socket"
	"github.com/relaykit/relay/pkg/logging"
)

type listener struct {
	once    sync.Once
	fd      int
	addr    net.Addr
	address string
}

func initListener(address string, opts *Options) (*listener, error) {
	// SO_REUSEADDR failure is a warning, not fatal: the bind itself may
	// subsequently fail, and that one is.
	sockopts := []socket.Option{
		{SetSockopt: func(fd, opt int) error {
			if err := socket.SetReuseAddr(fd, opt); err != nil {
				opts.Logger.Warnf("failed to set SO_REUSEADDR on listener, bind may fail: %v", err)
			}
			return nil
		}, Opt: 1},
	}
	if opts.ReusePort {
		sockopts = append(sockopts, socket.Option{SetSockopt: socket.SetReuseport, Opt: 1})
	}

	fd, lnaddr, err := socket.TCPListener(address, sockopts...)
	if err != nil {
		return nil, err
	}
	return &listener{fd: fd, addr: lnaddr, address: address}, nil
}

func (ln *listener) close(logger logging.Logger) {
	ln.once.Do(func() {
		if ln.fd > 0 {
			if err := os.NewSyscallError("close", unix.Close(ln.fd)); err != nil {
				logger.Errorf("failed to close listener on %s: %v", ln.address, err)
			}
		}
	})
}
