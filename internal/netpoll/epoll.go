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

// Package netpoll abstracts the kernel readiness facility behind a small
// arm/wait contract: register a descriptor with the full interest set, wait
// for a bounded batch of readiness events with a timeout, deregister by
// closing. Level-triggered semantics are assumed throughout.
package netpoll

import (
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/relaykit/relay/pkg/logging"
)

// Task is a function enqueued by Trigger and run on the polling goroutine.
type Task func()

// Poller monitors file descriptors for readiness.
type Poller struct {
	fd         int    // epoll fd
	efd        int    // eventfd, wakes a blocked Wait
	efdBuf     []byte // efd buffer to read an 8-byte integer
	wakeupCall int32

	mu    sync.Mutex
	tasks *queue.Queue // tasks posted by Trigger, drained on the polling goroutine
}

// OpenPoller instantiates a poller.
func OpenPoller() (poller *Poller, err error) {
	poller = new(Poller)
	if poller.fd, err = unix.EpollCreate1(unix.EPOLL_CLOEXEC); err != nil {
		poller = nil
		err = os.NewSyscallError("epoll_create1", err)
		return
	}
	if poller.efd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		_ = unix.Close(poller.fd)
		poller = nil
		err = os.NewSyscallError("eventfd", err)
		return
	}
	poller.efdBuf = make([]byte, 8)
	if err = poller.AddRead(poller.efd); err != nil {
		_ = poller.Close()
		poller = nil
		return
	}
	poller.tasks = queue.New()
	return
}

// Close closes the poller.
func (p *Poller) Close() error {
	_ = unix.Close(p.efd)
	return os.NewSyscallError("close", unix.Close(p.fd))
}

// Make the endianness of bytes compatible with more linux OSs under different processor-architectures,
// according to http://man7.org/linux/man-pages/man2/eventfd.2.html.
var (
	u uint64 = 1
	b        = (*(*[8]byte)(unsafe.Pointer(&u)))[:]
)

// Trigger enqueues a task and wakes up the poller so that a blocked Wait
// returns before its timeout elapses. Tasks run on the polling goroutine
// during the Wait call that observes them.
func (p *Poller) Trigger(task Task) error {
	p.mu.Lock()
	p.tasks.Add(task)
	p.mu.Unlock()

	var err error
	if atomic.CompareAndSwapInt32(&p.wakeupCall, 0, 1) {
		for {
			_, err = unix.Write(p.efd, b)
			if err == unix.EAGAIN {
				_, _ = unix.Read(p.efd, p.efdBuf)
				continue
			}
			break
		}
	}
	return os.NewSyscallError("write", err)
}

// Wait blocks up to msec milliseconds and fills el with between 0 and
// MaxPollEventsCap readiness events. A return of 0 means the timeout expired
// with no events, which callers use as their cancellation-check point.
// An interrupted wait is reported as 0 events rather than an error.
func (p *Poller) Wait(el *EventList, msec int) (int, error) {
	n, err := unix.EpollWait(p.fd, el.events, msec)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("epoll_wait", err)
	}

	var doChores bool
	j := 0
	for i := 0; i < n; i++ {
		if int(el.events[i].Fd) == p.efd { // poller is awakened to run posted tasks
			doChores = true
			if _, err := unix.Read(p.efd, p.efdBuf); err != nil && err != unix.EAGAIN {
				logging.Errorf("failed to drain eventfd: %v", os.NewSyscallError("read", err))
			}
			continue
		}
		el.events[j] = el.events[i]
		j++
	}

	if doChores {
		atomic.StoreInt32(&p.wakeupCall, 0)
		p.mu.Lock()
		for p.tasks.Length() > 0 {
			task := p.tasks.Remove().(Task)
			p.mu.Unlock()
			task()
			p.mu.Lock()
		}
		p.mu.Unlock()
	}

	return j, nil
}

// AddRead registers the given file descriptor with the full interest set:
// readable, peer-hangup, error and hangup. Registering an already-registered
// descriptor fails with EEXIST.
func (p *Poller) AddRead(fd int) error {
	return os.NewSyscallError("epoll_ctl add",
		unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: ReadEvents}))
}

// Delete removes the given file descriptor from the poller. Closing a
// registered descriptor deregisters it implicitly, so callers only need
// Delete when the descriptor stays open.
func (p *Poller) Delete(fd int) error {
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil))
}
