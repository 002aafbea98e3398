// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package executor

import (
	"errors"
	"sync"
)

// ErrRejected is returned by an Executor which refuses to accept a
// task, for example because it is shutting down or its queue is full.
var ErrRejected = errors.New("asynchttp/executor: task rejected")

// An Executor runs tasks submitted to it.
//
// Execute submits a task for execution and returns nil if the task was
// accepted, or a non-nil error (typically ErrRejected) if it was not.
// A task which was accepted must eventually be run exactly once, unless
// the Executor is shut down before the task starts.
type Executor interface {
	Execute(task func()) error
}

// The Func type is an adapter to allow the use of ordinary functions as
// an Executor.
type Func func(task func()) error

// Execute calls f(task).
func (f Func) Execute(task func()) error {
	return f(task)
}

// Go is an Executor which runs every task on a new goroutine. It never
// rejects a task.
var Go Executor = Func(func(task func()) error {
	go task()
	return nil
})

// Direct is an Executor which runs every task synchronously on the
// goroutine that submitted it. It never rejects a task.
//
// Direct is mostly useful in tests, and for opting a trusted task
// runner out of the inline-execution guard.
var Direct Executor = Func(func(task func()) error {
	task()
	return nil
})

// A Pool is an Executor backed by a fixed number of worker goroutines
// and a bounded queue of pending tasks.
//
// Execute rejects a task with ErrRejected when the queue is full or the
// pool has been shut down. A task which panics does not kill its
// worker: the panic value is recovered and handed to the pool's panic
// handler, if one was given.
type Pool struct {
	tasks   chan func()
	onPanic func(v interface{})
	wg      sync.WaitGroup
	lock    sync.RWMutex
	closed  bool
}

// NewPool constructs a running Pool with the given number of worker
// goroutines and the given queue capacity. The onPanic handler, which
// may be nil, receives the recovered value of every panicking task.
func NewPool(workers, queue int, onPanic func(v interface{})) *Pool {
	if workers < 1 {
		panic("asynchttp/executor: pool needs at least one worker")
	}
	if queue < 0 {
		panic("asynchttp/executor: negative pool queue")
	}

	p := &Pool{
		tasks:   make(chan func(), queue),
		onPanic: onPanic,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

// Execute queues task for execution by one of the pool's workers.
func (p *Pool) Execute(task func()) error {
	if task == nil {
		panic("asynchttp/executor: nil task")
	}

	p.lock.RLock()
	defer p.lock.RUnlock()
	if p.closed {
		return ErrRejected
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrRejected
	}
}

// Shutdown stops the pool from accepting new tasks, then waits until
// every task already queued has run. Shutdown is idempotent. It must not
// be called from one of the pool's own tasks.
func (p *Pool) Shutdown() {
	p.lock.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.lock.Unlock()
	p.wg.Wait()
}

func (p *Pool) work() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil && p.onPanic != nil {
			p.onPanic(r)
		}
	}()
	task()
}
