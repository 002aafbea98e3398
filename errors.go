// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asynchttp

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gogama/asynchttp/transient"
)

// Usage errors. They are returned synchronously by the method the
// caller misused, and are never delivered to a Callback.
var (
	// ErrAlreadyStarted is returned when a request is configured after
	// Start was called on it.
	ErrAlreadyStarted = errors.New("asynchttp: request already started")
	// ErrNoContentType is returned by SetUploadDataProvider when no
	// Content-Type header was added beforehand.
	ErrNoContentType = errors.New("asynchttp: upload requires a Content-Type header")
	// ErrEmptyBuffer is returned by Read when the buffer has zero
	// length.
	ErrEmptyBuffer = errors.New("asynchttp: read buffer is empty")
	// ErrIllegalState is returned when an operation is not permitted
	// in the request's current state, for example Read before the
	// response has started.
	ErrIllegalState = errors.New("asynchttp: operation not permitted in current state")
	// ErrActiveRequests is returned by Engine.Shutdown while requests
	// created by the engine have not yet reached a terminal state.
	ErrActiveRequests = errors.New("asynchttp: cannot shut down with active requests")
	// ErrShutdownOnTransport is returned by Engine.Shutdown when it is
	// called from a goroutine running one of the engine's transport
	// tasks.
	ErrShutdownOnTransport = errors.New("asynchttp: cannot shut down from a transport goroutine")
	// ErrEngineShutdown is returned when a request is created by an
	// engine which has been shut down.
	ErrEngineShutdown = errors.New("asynchttp: engine is shut down")
	// ErrEstimatorDisabled is returned when a network quality listener
	// is added to an engine whose network quality estimator is not
	// enabled.
	ErrEstimatorDisabled = errors.New("asynchttp: network quality estimator is not enabled")
)

// Causes wrapped by an UploadError when the upload data provider
// breaks the upload protocol.
var (
	// ErrUploadOversupply means the provider supplied more bytes than
	// its declared length.
	ErrUploadOversupply = errors.New("asynchttp: upload data exceeds declared length")
	// ErrUploadUndersupply means the provider signalled the final
	// chunk before supplying its declared length.
	ErrUploadUndersupply = errors.New("asynchttp: upload data shorter than declared length")
	// ErrUploadSinkState means the provider called an UploadDataSink
	// method the sink was not waiting for.
	ErrUploadSinkState = errors.New("asynchttp: upload sink called out of order")
)

// A TransportError is delivered to Callback.OnFailed when a request
// fails because of the underlying connection: the host could not be
// resolved, the connection was refused or reset, the response was
// truncated, and so on. It is also used when one of the engine's task
// executors refuses to accept work.
//
// Err is always a *url.Error naming the method and URL of the request.
type TransportError struct {
	// Category classifies the cause of the error.
	Category transient.Category
	// Err is the underlying *url.Error.
	Err error
}

// Error returns the error message.
func (e *TransportError) Error() string {
	return "asynchttp: transport error: " + e.Err.Error()
}

// Unwrap returns Err.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the error was caused by a timeout.
func (e *TransportError) Timeout() bool {
	return e.Category == transient.TimedOut || e.Category == transient.ConnectionTimedOut
}

// Retryable reports whether retrying the request with a new Request
// might succeed.
func (e *TransportError) Retryable() bool {
	return e.Category.Retryable()
}

// A CallbackError is delivered to Callback.OnFailed when a
// non-terminal callback returned an error or panicked.
type CallbackError struct {
	// Callback names the callback method, for example
	// "OnResponseStarted".
	Callback string
	// Err is the error the callback returned, or an error describing
	// its panic.
	Err error
}

// Error returns the error message.
func (e *CallbackError) Error() string {
	return fmt.Sprintf("asynchttp: exception in %s: %v", e.Callback, e.Err)
}

// Unwrap returns Err.
func (e *CallbackError) Unwrap() error {
	return e.Err
}

// An UploadError is delivered to Callback.OnFailed when the upload
// data provider reports an error, panics, or breaks the upload
// protocol.
type UploadError struct {
	// Op is the provider operation involved: "read", "rewind", or
	// "length".
	Op string
	// Err is the cause. It is ErrUploadOversupply,
	// ErrUploadUndersupply or ErrUploadSinkState for protocol
	// violations, and otherwise the error reported by the provider.
	Err error
}

// Error returns the error message.
func (e *UploadError) Error() string {
	return fmt.Sprintf("asynchttp: upload data provider %s: %v", e.Op, e.Err)
}

// Unwrap returns Err.
func (e *UploadError) Unwrap() error {
	return e.Err
}

func transportError(method, rawURL string, err error) *TransportError {
	return &TransportError{
		Category: transient.Categorize(err),
		Err:      urlErrorWrap(method, rawURL, err),
	}
}

func urlErrorWrap(method, rawURL string, err error) error {
	if _, ok := err.(*url.Error); ok {
		return err
	}

	return &url.Error{
		Op:  urlErrorOp(method),
		URL: rawURL,
		Err: err,
	}
}

// urlErrorOp is lifted verbatim from net/http/client.go
func urlErrorOp(method string) string {
	if method == "" {
		return "Get"
	}
	return method[:1] + strings.ToLower(method[1:])
}

func panicError(v interface{}) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", v)
}
