// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asynchttp

import (
	"github.com/gogama/asynchttp/request"
)

// A Callback receives the events of a Request.
//
// Every method is invoked on the executor given to Engine.NewRequest,
// never synchronously inside a call the caller made into the Request.
// Events are delivered in the order they occur. A non-terminal method
// is never invoked until the previous one returned and the caller
// took the next step. Cancel may deliver OnCanceled while another
// method is still running, unless the executor runs one task at a
// time.
//
// Exactly one of OnSucceeded, OnFailed and OnCanceled is invoked for a
// Request which was started, and it is the last method invoked. A
// Request which is never started receives no events.
//
// If a non-terminal method returns an error or panics, the request
// fails with a *CallbackError. A panic in a terminal method is logged
// and otherwise ignored.
type Callback interface {
	// OnRedirectReceived is invoked when a redirect response arrives.
	// The request does not proceed until FollowRedirect or Cancel is
	// called on it. The info describes the redirect response.
	OnRedirectReceived(r *Request, info *request.Info, newURL string) error

	// OnResponseStarted is invoked once the final response headers
	// are available. Call Read to receive the body.
	OnResponseStarted(r *Request, info *request.Info) error

	// OnReadCompleted is invoked when a Read has filled some of its
	// buffer. The data slice aliases the beginning of the buffer
	// passed to Read and is only valid until the next Read.
	OnReadCompleted(r *Request, info *request.Info, data []byte) error

	// OnSucceeded is invoked when the response body was read to the
	// end.
	OnSucceeded(r *Request, info *request.Info)

	// OnFailed is invoked when the request fails. The info is nil if
	// no response was received. The error is a *TransportError, a
	// *CallbackError, or an *UploadError.
	OnFailed(r *Request, info *request.Info, err error)

	// OnCanceled is invoked when the request is cancelled. The info is
	// nil if no response was received.
	OnCanceled(r *Request, info *request.Info)
}

// CallbackFuncs is an adapter to allow the use of ordinary functions as
// a Callback. A nil field does nothing when its event occurs.
//
// Note that a request whose OnRedirectReceived or OnResponseStarted
// does nothing makes no progress until the caller follows the redirect,
// reads the response, or cancels the request from elsewhere.
type CallbackFuncs struct {
	RedirectReceived func(r *Request, info *request.Info, newURL string) error
	ResponseStarted  func(r *Request, info *request.Info) error
	ReadCompleted    func(r *Request, info *request.Info, data []byte) error
	Succeeded        func(r *Request, info *request.Info)
	Failed           func(r *Request, info *request.Info, err error)
	Canceled         func(r *Request, info *request.Info)
}

// OnRedirectReceived calls f.RedirectReceived(r, info, newURL).
func (f *CallbackFuncs) OnRedirectReceived(r *Request, info *request.Info, newURL string) error {
	if f.RedirectReceived == nil {
		return nil
	}
	return f.RedirectReceived(r, info, newURL)
}

// OnResponseStarted calls f.ResponseStarted(r, info).
func (f *CallbackFuncs) OnResponseStarted(r *Request, info *request.Info) error {
	if f.ResponseStarted == nil {
		return nil
	}
	return f.ResponseStarted(r, info)
}

// OnReadCompleted calls f.ReadCompleted(r, info, data).
func (f *CallbackFuncs) OnReadCompleted(r *Request, info *request.Info, data []byte) error {
	if f.ReadCompleted == nil {
		return nil
	}
	return f.ReadCompleted(r, info, data)
}

// OnSucceeded calls f.Succeeded(r, info).
func (f *CallbackFuncs) OnSucceeded(r *Request, info *request.Info) {
	if f.Succeeded != nil {
		f.Succeeded(r, info)
	}
}

// OnFailed calls f.Failed(r, info, err).
func (f *CallbackFuncs) OnFailed(r *Request, info *request.Info, err error) {
	if f.Failed != nil {
		f.Failed(r, info, err)
	}
}

// OnCanceled calls f.Canceled(r, info).
func (f *CallbackFuncs) OnCanceled(r *Request, info *request.Info) {
	if f.Canceled != nil {
		f.Canceled(r, info)
	}
}
