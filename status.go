// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asynchttp

// A Status is the caller-visible progress of a request, as reported by
// Request.GetStatus. It refines the request's State: while a request
// is Started, its Status tells which step of the exchange it is in.
type Status int

const (
	// StatusInvalid is reported for a request which was not started or
	// has reached a terminal state.
	StatusInvalid Status = iota
	// StatusIdle is reported while the request waits for the caller,
	// for example to follow a redirect or to call Read.
	StatusIdle
	// StatusResolvingHost is reported while the host name is being
	// resolved.
	StatusResolvingHost
	// StatusConnecting is reported while a connection is being
	// established, or taken from the idle pool.
	StatusConnecting
	// StatusSSLHandshake is reported during the TLS handshake.
	StatusSSLHandshake
	// StatusSendingRequest is reported while the request headers and
	// body are being sent.
	StatusSendingRequest
	// StatusWaitingForResponse is reported after the request was sent
	// and before the response headers arrived.
	StatusWaitingForResponse
	// StatusReadingResponse is reported while a Read is in progress.
	StatusReadingResponse
	// statusSentinel provides the total number of statuses.
	statusSentinel

	numStatuses = int(statusSentinel)
)

var statusNames = []string{
	"Invalid",
	"Idle",
	"ResolvingHost",
	"Connecting",
	"SSLHandshake",
	"SendingRequest",
	"WaitingForResponse",
	"ReadingResponse",
}

// Name returns the name of the status.
func (s Status) Name() string {
	return statusNames[int(s)]
}

// String returns the name of the status.
func (s Status) String() string {
	return s.Name()
}

// statusOf maps a request state, and for Started the sub-status, to
// the caller-visible status.
func statusOf(s State, sub Status) Status {
	switch s {
	case Started:
		return sub
	case RedirectReceived, AwaitingFollowRedirect, AwaitingRead:
		return StatusIdle
	case Reading:
		return StatusReadingResponse
	default:
		return StatusInvalid
	}
}

// A StatusListener receives the status reported by Request.GetStatus.
type StatusListener interface {
	OnStatus(r *Request, s Status)
}

// The StatusListenerFunc type is an adapter to allow the use of
// ordinary functions as status listeners.
type StatusListenerFunc func(r *Request, s Status)

// OnStatus calls f(r, s).
func (f StatusListenerFunc) OnStatus(r *Request, s Status) {
	f(r, s)
}
