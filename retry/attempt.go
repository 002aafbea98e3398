// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"time"

	"github.com/gogama/asynchttp/request"
)

// An Attempt describes a finished request, one of a series sent for the
// same logical exchange.
type Attempt struct {
	// Index is the zero-based position of the attempt in the series.
	Index int
	// Start is when the first attempt of the series started.
	Start time.Time
	// End is when this attempt finished.
	End time.Time
	// Reason tells how the attempt ended.
	Reason request.Reason
	// Info describes the final response, or is nil if none arrived.
	Info *request.Info
	// Err is the error the attempt failed with, if any.
	Err error
}

// StatusCode returns the status code of the final response, or 0 if
// none arrived.
func (a *Attempt) StatusCode() int {
	return a.Info.Code()
}

// Duration returns the time from the start of the series to the end of
// this attempt.
func (a *Attempt) Duration() time.Duration {
	return a.End.Sub(a.Start)
}
