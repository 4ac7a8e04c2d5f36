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

// Package socket provides the raw file-descriptor primitives the relay is
// built on: listener creation with socket options, non-blocking accept and
// sockaddr conversions.
package socket

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Option is used for setting an option on a socket before it is bound.
type Option struct {
	SetSockopt func(int, int) error
	Opt        int
}

// TCPListener creates an IPv4 TCP listening socket for the given address,
// applies the socket options, binds it and puts it into listening state with
// the kernel's maximum backlog. It returns the listener file descriptor and
// the bound local address.
func TCPListener(addr string, sockopts ...Option) (int, net.Addr, error) {
	return tcpListener(addr, sockopts...)
}

// Accept takes one pending connection off the listener's queue.
// A (-1, nil, nil) return means the queue is drained (EAGAIN), which is the
// normal end of an accept burst. Any other failure is reported as an error
// that is fatal to this accept attempt only.
func Accept(lnFD int) (int, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept(lnFD)
	if err != nil {
		if err == unix.EAGAIN {
			return -1, nil, nil
		}
		return -1, nil, os.NewSyscallError("accept", err)
	}
	return nfd, sa, nil
}

// SetNonblock clears the blocking bit on the given file descriptor.
func SetNonblock(fd int) error {
	return os.NewSyscallError("fcntl nonblock", unix.SetNonblock(fd, true))
}
