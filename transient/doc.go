// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package transient classifies transport errors raised while executing
// an HTTP request into a small set of well-known categories, and reports
// whether a failure in a category is worth retrying immediately.
//
// The request engine attaches the category to every transport failure
// it reports, which is handy for writing caller-side retry logic and
// for bucketing error metrics.
//
// Package transient is extremely lightweight, as it depends only on
// standard library packages, so it doesn't bring any significant
// dependencies when imported as a standalone package.
package transient
