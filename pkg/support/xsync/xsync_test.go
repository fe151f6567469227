// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDynamicWaitGroup(t *testing.T) {
	wg := NewDynamicWaitGroup()
	var count atomic.Int32
	var spawn func(depth int)
	spawn = func(depth int) {
		defer wg.Done()
		count.Add(1)
		if depth == 0 {
			return
		}
		// Tasks are added while the waiter is already waiting.
		wg.Add(2)
		go spawn(depth - 1)
		go spawn(depth - 1)
	}
	wg.Add(1)
	go spawn(3)
	wg.Wait()
	assert.Equal(t, int32(1+2+4+8), count.Load())
	assert.Panics(t, func() { wg.Done() })
}
