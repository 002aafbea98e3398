// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asynchttp

// A State is a stage in the lifecycle of a Request.
//
// The only legal forward transitions are:
//
//	NotStarted → Started
//	Started → RedirectReceived → AwaitingFollowRedirect → Started
//	Started → AwaitingRead → Reading → AwaitingRead
//	Reading → Complete
//
// From any non-terminal state a request may instead move to Error or
// Cancelled. Complete, Error and Cancelled are terminal: once one of
// them is reached the state never changes again.
type State int32

const (
	// NotStarted is the initial state. The request may still be
	// configured.
	NotStarted State = iota
	// Started means a connection is being established, the request is
	// being sent, or the engine is waiting for the response headers.
	Started
	// RedirectReceived means a redirect response arrived and the
	// redirect callback is about to be delivered.
	RedirectReceived
	// AwaitingFollowRedirect means the redirect callback was delivered
	// and the request waits for the caller to call FollowRedirect.
	AwaitingFollowRedirect
	// AwaitingRead means the response has started and the request
	// waits for the caller to call Read.
	AwaitingRead
	// Reading means a Read is in progress.
	Reading
	// Complete means the response body was read to the end.
	Complete
	// Error means the request failed.
	Error
	// Cancelled means the request was cancelled.
	Cancelled
	// stateSentinel provides the total number of states.
	stateSentinel

	// numStates provides the total number of states as an int.
	numStates = int(stateSentinel)
)

var stateNames = []string{
	"NotStarted",
	"Started",
	"RedirectReceived",
	"AwaitingFollowRedirect",
	"AwaitingRead",
	"Reading",
	"Complete",
	"Error",
	"Cancelled",
}

// States returns a slice containing all request states, in lifecycle
// order.
func States() []State {
	return []State{
		NotStarted,
		Started,
		RedirectReceived,
		AwaitingFollowRedirect,
		AwaitingRead,
		Reading,
		Complete,
		Error,
		Cancelled,
	}
}

// Name returns the name of the state.
func (s State) Name() string {
	return stateNames[int(s)]
}

// String returns the name of the state.
func (s State) String() string {
	return s.Name()
}

// Terminal reports whether s is Complete, Error, or Cancelled.
func (s State) Terminal() bool {
	return s == Complete || s == Error || s == Cancelled
}
