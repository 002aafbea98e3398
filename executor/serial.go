// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package executor

import "sync"

// A Serial is an Executor which runs the tasks submitted to it one at
// a time, in submission order, on an underlying Executor.
//
// The underlying Executor may run tasks on any number of goroutines;
// Serial guarantees that no two of its tasks ever run concurrently,
// and that each task happens-after the task submitted before it. The
// internal lock only guards queue bookkeeping and is never held while a
// task runs, so a task may safely submit further tasks to the same
// Serial.
//
// Serial is safe for concurrent use by multiple goroutines.
type Serial struct {
	under   Executor
	lock    sync.Mutex
	queue   []*serialTask
	running bool
}

type serialTask struct {
	run func()
}

// NewSerial constructs a Serial which drains its queue using under.
func NewSerial(under Executor) *Serial {
	if under == nil {
		panic("asynchttp/executor: nil underlying executor")
	}

	return &Serial{under: under}
}

// Execute appends task to the queue, and triggers a drain on the
// underlying Executor if one is not already in progress.
//
// If the underlying Executor rejects the drain, task is removed from
// the queue again and the rejection error is returned.
func (s *Serial) Execute(task func()) error {
	if task == nil {
		panic("asynchttp/executor: nil task")
	}

	t := &serialTask{run: task}
	s.lock.Lock()
	s.queue = append(s.queue, t)
	if s.running {
		s.lock.Unlock()
		return nil
	}
	s.running = true
	s.lock.Unlock()

	if err := s.under.Execute(s.drain); err != nil {
		s.lock.Lock()
		s.remove(t)
		s.running = false
		s.lock.Unlock()
		return err
	}

	return nil
}

// Len returns the number of tasks waiting to run.
func (s *Serial) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.queue)
}

func (s *Serial) drain() {
	defer func() {
		if r := recover(); r != nil {
			s.redrain()
			panic(r)
		}
	}()

	for {
		s.lock.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.lock.Unlock()
			return
		}
		t := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.lock.Unlock()
		t.run()
	}
}

// redrain hands the rest of the queue to a fresh drain after a task
// panicked. The running flag stays set throughout, so no concurrent
// submitter can start a second drain. If the underlying Executor
// rejects the fresh drain, the remaining tasks are dropped.
func (s *Serial) redrain() {
	s.lock.Lock()
	if len(s.queue) == 0 {
		s.running = false
		s.lock.Unlock()
		return
	}
	s.lock.Unlock()

	if err := s.under.Execute(s.drain); err != nil {
		s.lock.Lock()
		s.queue = nil
		s.running = false
		s.lock.Unlock()
	}
}

func (s *Serial) remove(t *serialTask) {
	for i := len(s.queue) - 1; i >= 0; i-- {
		if s.queue[i] == t {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}
