// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool implements a bounded pool of goroutines, used to decode and cache images in parallel.
package workerspool

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
)

// Pool limits the number of tasks running in parallel.
type Pool struct {
	// maxParallelism is the limit of tasks running at the same time.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Should be signaled whenever numRunning is decreased.
	numRunning     int
}

// New return a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{}
	w.maxParallelism = runtime.NumCPU()
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism is the limit of tasks running concurrently.
// If set to 0 parallelism is disabled, and tasks run inline.
// If set to -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// You should only change the parallelism before any workers start running. If changed during the execution
// the behavior is undefined.
//
// It returns the Pool, so calls can be cascaded.
func (w *Pool) SetMaxParallelism(maxParallelism int) *Pool {
	w.maxParallelism = maxParallelism
	return w
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// WaitToStart waits until there is a worker available to run the task, and starts it in a goroutine.
//
// If parallelism is disabled (maxParallelism is 0), it runs the task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if w.IsUnlimited() {
		go task()
		return
	} else if w.maxParallelism == 0 {
		task()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		defer func() {
			w.mu.Lock()
			w.numRunning--
			w.cond.Signal()
			w.mu.Unlock()
		}()
		task()
	}()
}

// ForEach calls fn(i) for every i in [0, n), with at most MaxParallelism calls running at the same time,
// and waits for all of them to finish.
//
// Each index is handled by exactly one call, so fn can write to per-index slots without locking.
// After the first error no new tasks are started, and that error is returned.
func (w *Pool) ForEach(n int, fn func(i int) error) error {
	var (
		wg       sync.WaitGroup
		muErr    sync.Mutex
		firstErr error
	)
	failed := func() bool {
		muErr.Lock()
		defer muErr.Unlock()
		return firstErr != nil
	}
	for i := 0; i < n; i++ {
		if failed() {
			break
		}
		wg.Add(1)
		w.WaitToStart(func() {
			defer wg.Done()
			if err := fn(i); err != nil {
				muErr.Lock()
				if firstErr == nil {
					firstErr = errors.WithMessagef(err, "task #%d failed", i)
				}
				muErr.Unlock()
			}
		})
	}
	wg.Wait()
	return firstErr
}
