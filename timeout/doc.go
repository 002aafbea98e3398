// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package timeout layers timeouts on top of asynchronous requests. The
// request engine itself models no timeout: a request which should give
// up after some time is simply cancelled. A Watchdog does exactly that,
// following a Policy which may grant each redirect hop its own budget.
//
// A generic interface for timeout policies is provided, Policy, along
// with several useful policy generating functions and built-in
// policies.
package timeout
