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
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/relay/pkg/errors"
	goPool "github.com/relaykit/relay/pkg/pool/goroutine"
)

func startTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	srv, err := NewServer("127.0.0.1:0", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Stop() })

	deadline := time.Now().Add(2 * time.Second)
	for !srv.Alive() {
		require.False(t, time.Now().After(deadline), "event worker did not come online")
		time.Sleep(5 * time.Millisecond)
	}
	return srv
}

func dialClient(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitForClients blocks until the registry has grown or shrunk to n.
func waitForClients(t *testing.T, srv *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for srv.CountClients() != n {
		require.False(t, time.Now().After(deadline),
			"registry never reached %d clients, stuck at %d", n, srv.CountClients())
		time.Sleep(5 * time.Millisecond)
	}
}

func mustReceive(t *testing.T, conn net.Conn, want []byte) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	got := make([]byte, len(want))
	_, err := io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func mustReceiveNothing(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	assert.Zero(t, n)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout(), "expected a silent socket, got: %v", err)
}

func mustObserveEOF(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestFanOutExcludesSender(t *testing.T) {
	srv := startTestServer(t)

	a := dialClient(t, srv)
	b := dialClient(t, srv)
	waitForClients(t, srv, 2)

	msg := []byte("hello\n")
	_, err := a.Write(msg)
	require.NoError(t, err)

	mustReceive(t, b, msg)
	mustReceiveNothing(t, a)
	assert.Equal(t, 2, srv.CountClients())
}

func TestFanOutThreeClients(t *testing.T) {
	srv := startTestServer(t)

	a := dialClient(t, srv)
	b := dialClient(t, srv)
	c := dialClient(t, srv)
	waitForClients(t, srv, 3)

	_, err := b.Write([]byte("x"))
	require.NoError(t, err)

	mustReceive(t, a, []byte("x"))
	mustReceive(t, c, []byte("x"))
	mustReceiveNothing(t, b)
}

func TestNoSelfEchoSingleClient(t *testing.T) {
	srv := startTestServer(t)

	a := dialClient(t, srv)
	waitForClients(t, srv, 1)

	_, err := a.Write([]byte("anyone there?\n"))
	require.NoError(t, err)

	mustReceiveNothing(t, a)
	assert.Equal(t, 1, srv.CountClients())
}

func TestQuitSentinelClosesSender(t *testing.T) {
	srv := startTestServer(t)

	a := dialClient(t, srv)
	b := dialClient(t, srv)
	waitForClients(t, srv, 2)

	_, err := a.Write([]byte("quit\r\n"))
	require.NoError(t, err)

	mustObserveEOF(t, a)
	waitForClients(t, srv, 1)
	mustReceiveNothing(t, b)
}

func TestQuitMatchIsExactlySixBytes(t *testing.T) {
	srv := startTestServer(t)

	a := dialClient(t, srv)
	b := dialClient(t, srv)
	waitForClients(t, srv, 2)

	// 4 bytes: ordinary payload, broadcast as-is.
	_, err := a.Write([]byte("quit"))
	require.NoError(t, err)
	mustReceive(t, b, []byte("quit"))
	assert.Equal(t, 2, srv.CountClients())

	// 6 bytes with an arbitrary tail: still terminates the session,
	// only the first four bytes are matched.
	_, err = a.Write([]byte("quitX\n"))
	require.NoError(t, err)
	mustObserveEOF(t, a)
	waitForClients(t, srv, 1)
	mustReceiveNothing(t, b)
}

func TestPeerHangupUnregistersClient(t *testing.T) {
	srv := startTestServer(t)

	a := dialClient(t, srv)
	b := dialClient(t, srv)
	waitForClients(t, srv, 2)

	require.NoError(t, a.Close())
	waitForClients(t, srv, 1)

	// The survivor still relays both ways.
	c := dialClient(t, srv)
	waitForClients(t, srv, 2)
	_, err := c.Write([]byte("still here\n"))
	require.NoError(t, err)
	mustReceive(t, b, []byte("still here\n"))
}

func TestShutdownClosesAllClients(t *testing.T) {
	srv := startTestServer(t)

	conns := []net.Conn{dialClient(t, srv), dialClient(t, srv), dialClient(t, srv)}
	waitForClients(t, srv, 3)

	start := time.Now()
	require.NoError(t, srv.Stop())
	assert.Less(t, time.Since(start), pollTimeout+time.Second)

	for _, conn := range conns {
		mustObserveEOF(t, conn)
	}
	assert.False(t, srv.Alive())
	assert.Zero(t, srv.CountClients())

	assert.ErrorIs(t, srv.Stop(), errors.ErrServerInShutdown)
}

func TestBindConflictFailsSetup(t *testing.T) {
	srv := startTestServer(t)

	dup, err := NewServer(srv.Addr().String())
	require.Error(t, err)
	require.Nil(t, dup)

	// The survivor is unaffected.
	assert.True(t, srv.Alive())
}

func TestConcurrentSendersDeliverEverything(t *testing.T) {
	srv := startTestServer(t)

	a := dialClient(t, srv)
	b := dialClient(t, srv)
	sink := dialClient(t, srv)
	waitForClients(t, srv, 3)

	pool := goPool.Default()
	defer pool.Release()

	const msgsPerSender = 50
	done := make(chan error, 2)
	send := func(conn net.Conn, payload byte) func() {
		return func() {
			buf := []byte{payload}
			for i := 0; i < msgsPerSender; i++ {
				if _, err := conn.Write(buf); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}
	}
	require.NoError(t, pool.Submit(send(a, 'a')))
	require.NoError(t, pool.Submit(send(b, 'b')))
	for i := 0; i < 2; i++ {
		require.NoError(t, <-done)
	}

	// The sink sees every byte from both senders; interleaving across
	// senders is unspecified.
	require.NoError(t, sink.SetReadDeadline(time.Now().Add(5*time.Second)))
	got := make([]byte, 2*msgsPerSender)
	_, err := io.ReadFull(sink, got)
	require.NoError(t, err)

	counts := make(map[byte]int)
	for _, ch := range got {
		counts[ch]++
	}
	assert.Equal(t, msgsPerSender, counts['a'])
	assert.Equal(t, msgsPerSender, counts['b'])
}
