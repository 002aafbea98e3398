// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package timeout

import "time"

// A Policy defines how long a request may run before it is cancelled.
//
// Implementations of Policy must be safe for concurrent use by multiple
// goroutines.
type Policy interface {
	// Timeout returns the time budget for the current hop of a request,
	// measured from the moment the hop starts.
	//
	// Parameter redirects is the number of redirects followed so far:
	// zero for the initial hop, one after the first redirect is
	// followed, and so on. A non-positive return value means no
	// timeout.
	Timeout(redirects int) time.Duration
}

// DefaultPolicy is the default timeout policy. It never times out,
// since the request engine models no timeout of its own.
var DefaultPolicy Policy = Infinite

// Infinite is a built-in timeout policy which never times out.
var Infinite Policy = Fixed(1<<63 - 1)

// Fixed constructs a timeout policy that grants every hop the same
// budget d.
func Fixed(d time.Duration) Policy {
	return policy([]time.Duration{d})
}

// Adaptive constructs a timeout policy that varies the budget of a hop
// with the number of redirects already followed.
//
// Parameter usual is the budget of the initial hop. Parameter after
// contains the budgets of the hops which follow redirects: after[0] for
// the hop after the first redirect, after[1] after the second, and so
// on. If more redirects are followed than after has elements, the last
// element of after is used.
//
// Consider the following timeout policy:
//
//	p := Adaptive(10*time.Second, 5*time.Second, time.Second)
//
// The policy p gives the initial hop 10 seconds, the hop after the
// first redirect 5 seconds, and every later hop 1 second, limiting the
// time wasted on long redirect chains.
func Adaptive(usual time.Duration, after ...time.Duration) Policy {
	p := make([]time.Duration, 1, 1+len(after))
	p[0] = usual
	return policy(append(p, after...))
}

type policy []time.Duration

func (p policy) Timeout(redirects int) time.Duration {
	i := redirects
	if i < 0 {
		i = 0
	} else if i > len(p)-1 {
		i = len(p) - 1
	}

	return p[i]
}
