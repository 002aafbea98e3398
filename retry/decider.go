// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"time"

	"github.com/gogama/asynchttp/transient"
)

// A Decider decides if a retry should be done after an attempt.
//
// Implementations of Decider must be safe for concurrent use by
// multiple goroutines.
type Decider interface {
	Decide(a *Attempt) bool
}

// The DeciderFunc type is an adapter to allow the use of ordinary
// functions as retry deciders. Simple DeciderFunc values compose into
// decision trees with And and Or.
type DeciderFunc func(a *Attempt) bool

// DefaultTimes is the number of retries DefaultDecider allows.
const DefaultTimes = 5

// DefaultDecider allows up to DefaultTimes retries, after a retryable
// transport error (TransientErr) or a response with status code 429,
// 502, 503, or 504.
var DefaultDecider = Times(DefaultTimes).And(StatusCode(429, 502, 503, 504).Or(TransientErr))

// TransientErr decides to retry if the attempt failed with an error
// whose transient.Category is retryable. It ignores the response, so
// it is false for any attempt that did not fail.
var TransientErr DeciderFunc = transientErr

// Decide calls f(a).
func (f DeciderFunc) Decide(a *Attempt) bool {
	return f(a)
}

// And returns a decider which is true if both f and g are. g is not
// evaluated if f is false.
func (f DeciderFunc) And(g DeciderFunc) DeciderFunc {
	return func(a *Attempt) bool {
		return f(a) && g(a)
	}
}

// Or returns a decider which is true if either f or g is. g is not
// evaluated if f is true.
func (f DeciderFunc) Or(g DeciderFunc) DeciderFunc {
	return func(a *Attempt) bool {
		return f(a) || g(a)
	}
}

// Times returns a decider which allows up to n retries.
func Times(n int) DeciderFunc {
	return func(a *Attempt) bool {
		return a.Index < n
	}
}

// Before returns a decider which allows retries until d has elapsed
// since the first attempt started.
func Before(d time.Duration) DeciderFunc {
	return func(a *Attempt) bool {
		return a.Duration() < d
	}
}

// StatusCode returns a decider which is true if the attempt received a
// response with one of the given status codes.
func StatusCode(codes ...int) DeciderFunc {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return func(a *Attempt) bool {
		_, ok := set[a.StatusCode()]
		return ok
	}
}

func transientErr(a *Attempt) bool {
	return a.Err != nil && transient.Categorize(a.Err).Retryable()
}
