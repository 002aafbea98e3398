// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"math/rand"
	"sync"
	"time"
)

// A Waiter says how long to wait before the retry following an
// attempt. It is only consulted if the Decider chose to retry.
//
// Implementations of Waiter must be safe for concurrent use by multiple
// goroutines.
type Waiter interface {
	Wait(a *Attempt) time.Duration
}

// DefaultWaiter uses jittered exponential backoff with a base wait of
// 50 milliseconds and a maximum wait of 1 second.
var DefaultWaiter = NewExpWaiter(50*time.Millisecond, 1*time.Second, time.Now())

// NewFixedWaiter returns a Waiter which always waits d.
func NewFixedWaiter(d time.Duration) Waiter {
	return fixedWaiter(d)
}

type fixedWaiter time.Duration

func (w fixedWaiter) Wait(_ *Attempt) time.Duration {
	return time.Duration(w)
}

// NewExpWaiter returns a Waiter using exponential backoff with "full
// jitter". The wait after attempt i is a random duration between 0 and
//
//	min(base * 2**i, max)
//
// Base must be positive and max at least base. If jitter is nil, the
// Waiter returns the ceiling itself. Otherwise jitter is the seed of
// the random numbers (a time.Time, int, or int64) or their source (a
// rand.Source or *rand.Rand).
func NewExpWaiter(base, max time.Duration, jitter interface{}) Waiter {
	if base < 1 {
		panic("asynchttp/retry: base must be positive")
	}
	if max < base {
		panic("asynchttp/retry: max must be at least base")
	}
	return &expWaiter{
		base: base,
		max:  max,
		rand: newRand(jitter),
	}
}

type expWaiter struct {
	base time.Duration
	max  time.Duration
	lock sync.Mutex
	rand *rand.Rand
}

func (w *expWaiter) Wait(a *Attempt) time.Duration {
	ceil := w.max
	if a.Index < 63 {
		if exp := int64(w.base) << a.Index; exp>>a.Index == int64(w.base) && exp < int64(w.max) {
			ceil = time.Duration(exp)
		}
	}
	if w.rand == nil {
		return ceil
	}

	w.lock.Lock()
	defer w.lock.Unlock()
	return time.Duration(w.rand.Int63n(int64(ceil) + 1))
}

func newRand(jitter interface{}) *rand.Rand {
	var src rand.Source
	switch j := jitter.(type) {
	case nil:
		return nil
	case time.Time:
		src = rand.NewSource(j.UnixNano())
	case int:
		src = rand.NewSource(int64(j))
	case int64:
		src = rand.NewSource(j)
	case *rand.Rand:
		if j == nil {
			panic("asynchttp/retry: nil *rand.Rand jitter")
		}
		return j
	case rand.Source:
		src = j
	default:
		panic("asynchttp/retry: invalid jitter type")
	}
	return rand.New(src)
}
