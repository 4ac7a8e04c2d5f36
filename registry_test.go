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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(fd int) *client {
	return &client{fd: fd, session: uuid.New()}
}

func TestRegistryAddAndDuplicate(t *testing.T) {
	var r registry
	r.init()

	require.True(t, r.add(newTestClient(7)))
	require.EqualValues(t, 1, r.loadCount())
	require.NotNil(t, r.get(7))

	assert.False(t, r.add(newTestClient(7)), "duplicate descriptors must be rejected")
	assert.EqualValues(t, 1, r.loadCount())
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	var r registry
	r.init()

	require.True(t, r.add(newTestClient(5)))
	r.del(5)
	require.Nil(t, r.get(5))
	require.EqualValues(t, 0, r.loadCount())

	// A second removal may occur when error and hangup events coincide.
	r.del(5)
	assert.EqualValues(t, 0, r.loadCount())
}

func TestRegistryIterateExcluding(t *testing.T) {
	var r registry
	r.init()

	for _, fd := range []int{3, 4, 5, 6} {
		require.True(t, r.add(newTestClient(fd)))
	}

	seen := make(map[int]int)
	r.iterateExcluding(4, func(c *client) bool {
		seen[c.fd]++
		return true
	})

	assert.NotContains(t, seen, 4, "the sender must be excluded")
	for _, fd := range []int{3, 5, 6} {
		assert.Equal(t, 1, seen[fd], "every other member is visited exactly once")
	}
}

func TestRegistryClear(t *testing.T) {
	var r registry
	r.init()

	require.True(t, r.add(newTestClient(9)))
	require.True(t, r.add(newTestClient(10)))
	r.clear()

	assert.EqualValues(t, 0, r.loadCount())
	assert.Nil(t, r.get(9))
	assert.Nil(t, r.get(10))
}
