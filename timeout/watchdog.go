// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package timeout

import (
	"math"
	"sync"
	"time"
)

// A Canceler can be cancelled. The engine's Request implements
// Canceler.
type Canceler interface {
	Cancel()
}

// A Watchdog cancels its target when the current hop's time budget,
// as given by its Policy, runs out.
//
// Watchdog is safe for concurrent use by multiple goroutines.
type Watchdog struct {
	target  Canceler
	policy  Policy
	lock    sync.Mutex
	timer   *time.Timer
	gen     uint64
	fired   bool
	stopped bool
}

// Watch starts a Watchdog which cancels c once the budget of the
// initial hop, p.Timeout(0), has elapsed.
func Watch(c Canceler, p Policy) *Watchdog {
	if c == nil {
		panic("asynchttp/timeout: nil canceler")
	}
	if p == nil {
		panic("asynchttp/timeout: nil policy")
	}

	w := &Watchdog{target: c, policy: p}
	w.lock.Lock()
	w.arm(0)
	w.lock.Unlock()
	return w
}

// Rearm restarts the countdown with the budget of the hop which follows
// the given number of redirects. It has no effect once the Watchdog has
// fired or been stopped.
func (w *Watchdog) Rearm(redirects int) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.fired || w.stopped {
		return
	}
	w.disarm()
	w.arm(redirects)
}

// Stop stops the Watchdog. It returns true if the call stopped the
// Watchdog before it fired, and false if it had already fired or been
// stopped.
func (w *Watchdog) Stop() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.fired || w.stopped {
		return false
	}
	w.stopped = true
	w.disarm()
	return true
}

// Fired reports whether the Watchdog cancelled its target.
func (w *Watchdog) Fired() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.fired
}

func (w *Watchdog) arm(redirects int) {
	d := w.policy.Timeout(redirects)
	if d <= 0 || d == math.MaxInt64 {
		return
	}
	gen := w.gen
	w.timer = time.AfterFunc(d, func() { w.fire(gen) })
}

// disarm stops the current timer. Bumping the generation also turns a
// timer which already fired, but has not taken the lock yet, into a
// no-op. Called with w.lock held.
func (w *Watchdog) disarm() {
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watchdog) fire(gen uint64) {
	w.lock.Lock()
	if w.fired || w.stopped || w.gen != gen {
		w.lock.Unlock()
		return
	}
	w.fired = true
	w.timer = nil
	w.lock.Unlock()
	w.target.Cancel()
}
