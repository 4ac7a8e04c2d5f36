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

// Package errors defines common errors for relay.
package errors

import "errors"

var (
	// ErrServerShutdown occurs when the server is going to be shutdown.
	ErrServerShutdown = errors.New("relay: server is going to be shutdown")
	// ErrServerInShutdown occurs when attempting to use a server that is already in shutdown.
	ErrServerInShutdown = errors.New("relay: server is already in shutdown")
	// ErrAcceptSocket occurs when the acceptor does not accept a new connection properly.
	ErrAcceptSocket = errors.New("relay: accept a new connection error")
	// ErrListenerTerminal occurs when the listener descriptor reports an error or hangup
	// condition, after which the server is unrecoverable.
	ErrListenerTerminal = errors.New("relay: fatal readiness event on listener descriptor")
	// ErrUnsupportedAddress occurs when the bind host does not resolve to an IPv4 address.
	ErrUnsupportedAddress = errors.New("relay: only IPv4 bind addresses are supported")
)
