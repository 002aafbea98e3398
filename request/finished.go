// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"time"

	"github.com/google/uuid"
)

// A Reason identifies how a request reached its terminal state.
type Reason int

const (
	// Succeeded means the response body was read to the end.
	Succeeded Reason = iota
	// Failed means the request ended with an error.
	Failed
	// Canceled means the request was cancelled by the caller.
	Canceled
)

var reasonNames = []string{
	"Succeeded",
	"Failed",
	"Canceled",
}

// Name returns the name of the reason.
func (r Reason) Name() string {
	return reasonNames[int(r)]
}

// String returns the name of the reason.
func (r Reason) String() string {
	return r.Name()
}

// Metrics contains timing and size information collected while a
// request executed. Any time which was never reached, for example the
// TLS times of a plain HTTP request, is the zero time.
//
// When a request follows redirects, the connection-level times describe
// the last connection only.
type Metrics struct {
	RequestStart  time.Time
	DNSStart      time.Time
	DNSEnd        time.Time
	ConnectStart  time.Time
	ConnectEnd    time.Time
	TLSStart      time.Time
	TLSEnd        time.Time
	SendingStart  time.Time
	SendingEnd    time.Time
	ResponseStart time.Time
	RequestEnd    time.Time

	// SocketReused is true if the last connection was taken from the
	// transport's idle pool.
	SocketReused bool

	// SentBytes is the number of request body bytes sent, summed over
	// every redirect hop.
	SentBytes int64

	// ReceivedBytes is the number of response body bytes received for
	// the final response.
	ReceivedBytes int64
}

// TTFB returns the time from the start of the request until the first
// byte of the final response was received, or zero if no response was
// received.
func (m *Metrics) TTFB() time.Duration {
	if m.ResponseStart.IsZero() || m.RequestStart.IsZero() {
		return 0
	}
	return m.ResponseStart.Sub(m.RequestStart)
}

// Total returns the time from the start of the request until it reached
// its terminal state, or zero if it never started.
func (m *Metrics) Total() time.Duration {
	if m.RequestEnd.IsZero() || m.RequestStart.IsZero() {
		return 0
	}
	return m.RequestEnd.Sub(m.RequestStart)
}

// FinishedInfo describes a request which reached its terminal state. It
// is handed to request-finished listeners.
type FinishedInfo struct {
	// ID identifies the request.
	ID uuid.UUID

	// URL is the initial URL of the request.
	URL string

	// Annotations holds the values the caller attached to the request
	// with Request.AddAnnotation, in order.
	Annotations []interface{}

	// Metrics holds the timing and size information of the request.
	Metrics Metrics

	// Reason tells how the request ended.
	Reason Reason

	// Response is the last response received, or nil if no response
	// was received.
	Response *Info

	// Err is the error the request failed with. It is nil unless Reason
	// is Failed.
	Err error
}
