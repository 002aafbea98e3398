// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package retry decides whether a finished request should be sent
// again, and how long to wait first.
//
// The engine itself never retries: once a request fails it stays
// failed. A retry is a new request, and a Policy tells the caller when
// to make one. asynchttp.Fetch is a blocking helper which applies a
// Policy this way.
//
// A Policy combines a Decider and a Waiter:
//
//	decider := retry.Times(3).
//		And(retry.Before(5 * time.Second)).
//		And(retry.StatusCode(500).Or(retry.TransientErr))
//	waiter := retry.NewExpWaiter(100*time.Millisecond, 2*time.Second, time.Now())
//	policy := retry.NewPolicy(decider, waiter)
package retry
