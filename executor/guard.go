// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package executor

import (
	"errors"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// ErrInlineExecution is returned by DirectGuard.Execute when the
// guarded Executor ran the task synchronously on the submitting
// goroutine instead of deferring it.
var ErrInlineExecution = errors.New("asynchttp/executor: inline execution is prohibited")

// A DirectGuard is an Executor which wraps a caller-supplied Executor
// and refuses to let it run tasks inline.
//
// Every task is wrapped before it is handed to the guarded Executor.
// The wrapper remembers which goroutine submitted it; if it finds
// itself running on that same goroutine before the guarded Execute
// has returned, it skips the task and Execute returns
// ErrInlineExecution. The error is returned from Execute itself, never
// raised inside the guarded Executor.
//
// Once the guarded Execute returns without the wrapper having run
// inline, the goroutine check is switched off for that wrapper, so a
// later, genuinely asynchronous run on a recycled goroutine is never
// mistaken for an inline one.
type DirectGuard struct {
	under Executor
}

// NewDirectGuard wraps under in a DirectGuard.
func NewDirectGuard(under Executor) *DirectGuard {
	if under == nil {
		panic("asynchttp/executor: nil guarded executor")
	}

	return &DirectGuard{under: under}
}

// Execute submits task to the guarded Executor.
func (g *DirectGuard) Execute(task func()) error {
	if task == nil {
		panic("asynchttp/executor: nil task")
	}

	w := &inlineCheck{task: task, submitter: goid.Get()}
	w.armed.Store(true)
	if err := g.under.Execute(w.run); err != nil {
		return err
	}
	w.armed.Store(false)
	if w.inline.Load() {
		return ErrInlineExecution
	}

	return nil
}

// inlineCheck is only armed while the guarded Execute is running, so
// the goroutine comparison never decides the fate of a task run later.
type inlineCheck struct {
	task      func()
	submitter int64
	armed     atomic.Bool
	inline    atomic.Bool
}

func (w *inlineCheck) run() {
	if w.armed.Load() && w.submitter == goid.Get() {
		w.inline.Store(true)
		return
	}
	w.task()
}
