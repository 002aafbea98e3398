// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

// A Policy decides after every attempt whether to retry and, if so, how
// long to wait first. Implementations must be safe for concurrent use
// by multiple goroutines.
type Policy interface {
	Decider
	Waiter
}

// DefaultPolicy composes DefaultDecider and DefaultWaiter.
var DefaultPolicy Policy = NewPolicy(DefaultDecider, DefaultWaiter)

// Never is a policy that never retries.
var Never Policy = NewPolicy(Times(0), NewFixedWaiter(0))

type policy struct {
	Decider
	Waiter
}

// NewPolicy composes a Decider and a Waiter into a Policy.
func NewPolicy(d Decider, w Waiter) Policy {
	if d == nil {
		panic("asynchttp/retry: nil decider")
	}
	if w == nil {
		panic("asynchttp/retry: nil waiter")
	}
	return policy{d, w}
}

