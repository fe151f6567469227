// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements some extra synchronization tools.
package xsync

import (
	"sync"

	"github.com/pkg/errors"
)

// DynamicWaitGroup is a WaitGroup-like synchronization primitive that allows the count
// to be changed (new values added) while someone is waiting for it.
//
// The matmul driver uses it for work that fans out opportunistically: a task is only handed to
// another goroutine if the pool has a free worker, otherwise it runs inline, so the total number
// of tasks in flight is only known as they are created.
type DynamicWaitGroup struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int64
}

// NewDynamicWaitGroup creates a new DynamicWaitGroup.
func NewDynamicWaitGroup() *DynamicWaitGroup {
	cwg := &DynamicWaitGroup{}
	cwg.cond = sync.NewCond(&cwg.mu)
	return cwg
}

// Add changes the DynamicWaitGroup counter by the given delta.
// If the counter becomes zero, it broadcasts to all waiting goroutines.
// If the counter would go negative, it panics.
func (cwg *DynamicWaitGroup) Add(delta int) {
	cwg.mu.Lock()
	defer cwg.mu.Unlock()
	cwg.count += int64(delta)
	if cwg.count < 0 {
		panic(errors.Errorf("DynamicWaitGroup: negative counter"))
	}
	if cwg.count == 0 {
		cwg.cond.Broadcast()
	}
}

// Done decrements the DynamicWaitGroup counter by one.
func (cwg *DynamicWaitGroup) Done() {
	cwg.Add(-1)
}

// Wait blocks until the DynamicWaitGroup counter is zero.
func (cwg *DynamicWaitGroup) Wait() {
	cwg.mu.Lock()
	defer cwg.mu.Unlock()
	for cwg.count > 0 {
		cwg.cond.Wait()
	}
}
