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

import "golang.org/x/sys/unix"

// MaxPollEventsCap is the upper bound of readiness events delivered by a
// single Wait call.
const MaxPollEventsCap = 32

const (
	// ErrEvents marks a terminal condition on a descriptor.
	ErrEvents = unix.EPOLLERR | unix.EPOLLHUP
	// InEvents is the readable bit.
	InEvents = unix.EPOLLIN
	// ReadEvents is the full interest set armed for every descriptor.
	ReadEvents = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLERR | unix.EPOLLHUP
)

// EventList is a fixed-capacity batch of readiness events.
type EventList struct {
	events []unix.EpollEvent
}

// NewEventList returns a batch sized to MaxPollEventsCap.
func NewEventList() *EventList {
	return &EventList{events: make([]unix.EpollEvent, MaxPollEventsCap)}
}

// Event returns the descriptor and triggered-condition mask of entry i.
func (el *EventList) Event(i int) (fd int, events uint32) {
	return int(el.events[i].Fd), el.events[i].Events
}
