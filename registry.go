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

import "sync/atomic"

// registry is the set of currently-connected clients, keyed by descriptor.
// It is owned by the event-worker goroutine and never accessed elsewhere;
// only the count is published for cross-goroutine readers.
type registry struct {
	count   int32
	clients map[int]*client
}

func (r *registry) init() {
	r.clients = make(map[int]*client)
}

// add registers a client. Duplicate descriptors are rejected; the dispatcher
// upholds the no-duplicates invariant, this is the defensive backstop.
func (r *registry) add(c *client) bool {
	if _, dup := r.clients[c.fd]; dup {
		return false
	}
	r.clients[c.fd] = c
	atomic.AddInt32(&r.count, 1)
	return true
}

// del removes a descriptor if present. Removing an absent descriptor
// silently succeeds: error and hangup events for one client may coincide
// within a batch.
func (r *registry) del(fd int) {
	if _, ok := r.clients[fd]; !ok {
		return
	}
	delete(r.clients, fd)
	atomic.AddInt32(&r.count, -1)
}

func (r *registry) get(fd int) *client {
	return r.clients[fd]
}

func (r *registry) loadCount() int32 {
	return atomic.LoadInt32(&r.count)
}

func (r *registry) iterate(f func(*client) bool) {
	for _, c := range r.clients {
		if c != nil {
			if !f(c) {
				return
			}
		}
	}
}

// iterateExcluding visits every client except the given sender, in an
// unspecified but fixed-per-call order.
func (r *registry) iterateExcluding(fd int, f func(*client) bool) {
	for _, c := range r.clients {
		if c == nil || c.fd == fd {
			continue
		}
		if !f(c) {
			return
		}
	}
}

func (r *registry) clear() {
	r.clients = make(map[int]*client)
	atomic.StoreInt32(&r.count, 0)
}
