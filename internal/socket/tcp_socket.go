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

package socket

import (
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/relaykit/relay/pkg/errors"
)

var listenerBacklogMaxSize = maxListenerBacklog()

// GetTCPSockAddr resolves addr to an IPv4 socket address. Host names are
// resolved through the standard resolver; an empty host means the
// any-address wildcard.
func GetTCPSockAddr(addr string) (*unix.SockaddrInet4, *net.TCPAddr, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp4", addr)
	if err != nil {
		return nil, nil, err
	}

	sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if tcpAddr.IP != nil {
		ip4 := tcpAddr.IP.To4()
		if ip4 == nil {
			return nil, nil, errors.ErrUnsupportedAddress
		}
		copy(sa4.Addr[:], ip4)
	}

	return sa4, tcpAddr, nil
}

// tcpListener creates an endpoint for communication and returns a
// listening file descriptor that refers to that endpoint.
func tcpListener(addr string, sockopts ...Option) (fd int, netAddr net.Addr, err error) {
	var sockAddr *unix.SockaddrInet4
	if sockAddr, _, err = GetTCPSockAddr(addr); err != nil {
		return -1, nil, err
	}

	if fd, err = sysSocket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP); err != nil {
		return -1, nil, os.NewSyscallError("socket", err)
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()

	for _, sockopt := range sockopts {
		if err = sockopt.SetSockopt(fd, sockopt.Opt); err != nil {
			return
		}
	}

	if err = os.NewSyscallError("bind", unix.Bind(fd, sockAddr)); err != nil {
		return
	}

	// Set backlog size to the maximum.
	if err = os.NewSyscallError("listen", unix.Listen(fd, listenerBacklogMaxSize)); err != nil {
		return
	}

	// Read the bound address back so a wildcard port resolves to the
	// actual one assigned by the kernel.
	sa, err := unix.Getsockname(fd)
	if err != nil {
		err = os.NewSyscallError("getsockname", err)
		return
	}
	netAddr = SockaddrToTCPAddr(sa)

	return
}

func sysSocket(family, sotype, proto int) (int, error) {
	return unix.Socket(family, sotype|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
}
