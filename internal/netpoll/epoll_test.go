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

package netpoll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func openTestPoller(t *testing.T) *Poller {
	t.Helper()
	p, err := OpenPoller()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPollerWaitTimesOutEmpty(t *testing.T) {
	p := openTestPoller(t)

	el := NewEventList()
	start := time.Now()
	n, err := p.Wait(el, 20)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestPollerReportsReadable(t *testing.T) {
	p := openTestPoller(t)
	rd, wr := socketPair(t)
	require.NoError(t, p.AddRead(rd))

	_, err := unix.Write(wr, []byte("ping"))
	require.NoError(t, err)

	el := NewEventList()
	n, err := p.Wait(el, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	fd, ev := el.Event(0)
	assert.Equal(t, rd, fd)
	assert.NotZero(t, ev&InEvents)
}

func TestPollerReportsPeerHangup(t *testing.T) {
	p := openTestPoller(t)
	rd, wr := socketPair(t)
	require.NoError(t, p.AddRead(rd))

	require.NoError(t, unix.Close(wr))

	el := NewEventList()
	n, err := p.Wait(el, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	fd, ev := el.Event(0)
	assert.Equal(t, rd, fd)
	assert.NotZero(t, ev&(unix.EPOLLRDHUP|unix.EPOLLHUP))
}

func TestPollerDoubleArmFails(t *testing.T) {
	p := openTestPoller(t)
	rd, _ := socketPair(t)

	require.NoError(t, p.AddRead(rd))
	assert.Error(t, p.AddRead(rd), "arming an armed descriptor must fail")
}

func TestPollerDelete(t *testing.T) {
	p := openTestPoller(t)
	rd, wr := socketPair(t)

	require.NoError(t, p.AddRead(rd))
	require.NoError(t, p.Delete(rd))

	_, err := unix.Write(wr, []byte("x"))
	require.NoError(t, err)

	el := NewEventList()
	n, err := p.Wait(el, 20)
	require.NoError(t, err)
	assert.Zero(t, n, "a deleted descriptor must not produce events")
}

func TestPollerTriggerWakesWait(t *testing.T) {
	p := openTestPoller(t)

	ran := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = p.Trigger(func() { close(ran) })
	}()

	el := NewEventList()
	start := time.Now()
	n, err := p.Wait(el, 5000)
	require.NoError(t, err)
	assert.Zero(t, n, "the wake-up itself is not surfaced as an event")
	assert.Less(t, time.Since(start), time.Second, "Trigger must cut the wait short")

	select {
	case <-ran:
	default:
		t.Fatal("triggered task did not run on the polling goroutine")
	}
}
