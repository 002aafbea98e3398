// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"net/http"
	"strings"
	"sync/atomic"
)

// An Info describes the response most recently received for a request:
// its status, headers, negotiated protocol, and the chain of URLs which
// led to it.
//
// The engine creates a new Info for every response, including each
// redirect response, and hands it to the request's callbacks. The
// exported fields must be treated as read-only.
type Info struct {
	// URLChain lists the URLs requested so far, in order, starting with
	// the initial URL and ending with the URL the response came from.
	// The target of a redirect response is not part of its chain. It
	// is never empty.
	URLChain []string

	// StatusCode is the HTTP status code of the response.
	StatusCode int

	// StatusText is the reason phrase of the response, for example
	// "OK" or "Not Found".
	StatusText string

	// Header contains the response headers.
	Header http.Header

	// NegotiatedProtocol is the protocol spoken on the connection that
	// carried the response: "h2", "http/1.1", "http/1.0", "h3", or the
	// ALPN value negotiated over TLS, or "unknown".
	NegotiatedProtocol string

	receivedBytes atomic.Int64
}

// NewInfo builds the Info for resp, given the URL chain which led to it.
// The chain is copied.
func NewInfo(chain []string, resp *http.Response) *Info {
	i := &Info{
		URLChain:           append([]string(nil), chain...),
		StatusCode:         resp.StatusCode,
		StatusText:         statusText(resp),
		Header:             resp.Header,
		NegotiatedProtocol: NegotiatedProtocol(resp),
	}
	if i.Header == nil {
		i.Header = make(http.Header)
	}
	return i
}

// URL returns the URL the response was received from, which is the
// last URL in the chain that led to it.
func (i *Info) URL() string {
	if i == nil || len(i.URLChain) == 0 {
		return ""
	}
	return i.URLChain[len(i.URLChain)-1]
}

// ReceivedBytes returns the number of response body bytes received so
// far. It is safe to call from any goroutine.
func (i *Info) ReceivedBytes() int64 {
	if i == nil {
		return 0
	}
	return i.receivedBytes.Load()
}

// AddReceivedBytes adds n to the received byte count.
func (i *Info) AddReceivedBytes(n int64) {
	i.receivedBytes.Add(n)
}

// Code returns the status code of i, or 0 if i is nil. It allows
// callbacks which receive no response, for example a failure before
// headers arrived, to inspect the status without a nil check.
func (i *Info) Code() int {
	if i == nil {
		return 0
	}
	return i.StatusCode
}

// NegotiatedProtocol returns the short protocol label for resp.
func NegotiatedProtocol(resp *http.Response) string {
	if resp.TLS != nil && resp.TLS.NegotiatedProtocol != "" {
		return resp.TLS.NegotiatedProtocol
	}
	switch {
	case resp.ProtoMajor == 3:
		return "h3"
	case resp.ProtoMajor == 2:
		return "h2"
	case resp.ProtoMajor == 1 && resp.ProtoMinor == 1:
		return "http/1.1"
	case resp.ProtoMajor == 1 && resp.ProtoMinor == 0:
		return "http/1.0"
	default:
		return "unknown"
	}
}

func statusText(resp *http.Response) string {
	// resp.Status is "200 OK"; keep only the reason phrase.
	if i := strings.IndexByte(resp.Status, ' '); i >= 0 {
		return resp.Status[i+1:]
	}
	return http.StatusText(resp.StatusCode)
}
