// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package executor provides the task-running primitives used by the
asynchronous request engine.

An Executor accepts a task for later execution and reports whether the
task was accepted. Three basic implementations are provided: Go, which
runs every task on a new goroutine; Pool, a bounded worker pool that
rejects work once it is full or shut down; and Direct, which runs the
task synchronously on the calling goroutine.

Two decorators build on any Executor:

• Serial runs the tasks submitted to it one at a time, in submission
order, no matter how many goroutines the underlying Executor uses. The
request engine funnels all of a request's internal steps through one
Serial, so that no two steps of a request ever overlap.

• DirectGuard refuses to let the underlying Executor run a task inline
on the submitting goroutine. If that happens, the task is skipped and
Execute returns ErrInlineExecution, turning a silent re-entrancy bug
into an immediate, attributable failure.

	exec := executor.NewPool(4, 64, nil)
	defer exec.Shutdown()
	serial := executor.NewSerial(exec)
	_ = serial.Execute(func() { fmt.Println("first") })
	_ = serial.Execute(func() { fmt.Println("second") })
*/
package executor
