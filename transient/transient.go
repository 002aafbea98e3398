// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package transient

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// A Category is the category of a transport error, as reported by
// function Categorize.
type Category int

const (
	// Other indicates an error which fits no other category, including
	// a nil error.
	Other Category = iota
	// HostnameNotResolved indicates the host name could not be resolved
	// to an address.
	//
	// Function Categorize returns HostnameNotResolved if the error or
	// any of its wrapped causes is a *net.DNSError.
	HostnameNotResolved
	// InternetDisconnected indicates the local network is down, and
	// corresponds to the POSIX error code ENETDOWN.
	InternetDisconnected
	// NetworkChanged indicates the local address the connection was
	// bound to went away, and corresponds to the POSIX error code
	// EADDRNOTAVAIL.
	NetworkChanged
	// TimedOut indicates an operation timed out after the connection
	// was established, or a timeout of unknown origin.
	//
	// Function Categorize returns TimedOut if the error or any of its
	// wrapped causes has a Timeout() function that reports true, and
	// the timeout did not occur while dialing.
	TimedOut
	// ConnectionClosed indicates the connection was closed before a
	// complete response was received, for example a truncated body.
	//
	// Function Categorize returns ConnectionClosed if the error or any
	// of its wrapped causes is io.ErrUnexpectedEOF, io.EOF, or
	// syscall.EPIPE.
	ConnectionClosed
	// ConnectionTimedOut indicates establishing the connection timed
	// out.
	ConnectionTimedOut
	// ConnectionRefused indicates the remote host refused the
	// connection, and corresponds to the POSIX error code ECONNREFUSED.
	//
	// Although connection refusal may be a permanent condition, it can
	// happen if the service running on the remote host is in the
	// process of starting or restarting.
	ConnectionRefused
	// ConnectionReset indicates the remote host returned an RST packet
	// on a previously active TCP connection, and corresponds to the
	// POSIX error code ECONNRESET.
	ConnectionReset
	// AddressUnreachable indicates the remote address can't be reached,
	// and corresponds to the POSIX error codes EHOSTUNREACH and
	// ENETUNREACH.
	AddressUnreachable
	// categorySentinel provides the total number of categories.
	categorySentinel
)

var categoryNames = []string{
	"Other",
	"HostnameNotResolved",
	"InternetDisconnected",
	"NetworkChanged",
	"TimedOut",
	"ConnectionClosed",
	"ConnectionTimedOut",
	"ConnectionRefused",
	"ConnectionReset",
	"AddressUnreachable",
}

// Name returns the name of the category.
func (c Category) Name() string {
	if c < 0 || c >= categorySentinel {
		return "Other"
	}
	return categoryNames[int(c)]
}

// String returns the name of the category.
func (c Category) String() string {
	return c.Name()
}

// Retryable reports whether a request which failed with an error in
// this category is likely to succeed if it is immediately retried.
//
// Retryable categories are those which typically indicate a fleeting
// condition on an otherwise healthy path: NetworkChanged, TimedOut,
// ConnectionClosed, ConnectionTimedOut, and ConnectionReset.
func (c Category) Retryable() bool {
	switch c {
	case NetworkChanged, TimedOut, ConnectionClosed, ConnectionTimedOut, ConnectionReset:
		return true
	default:
		return false
	}
}

// Categorize returns the category of the given error. A nil error, and
// any error not recognized as belonging to a specific category, both
// produce the return value Other.
//
// In assessing the category, Categorize looks at wrapped cause errors
// contained within err, not just err itself.
func Categorize(err error) Category {
	if err == nil {
		return Other
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return HostnameNotResolved
	}

	var hasTimeout hasTimeout
	if errors.As(err, &hasTimeout) && hasTimeout.Timeout() {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return ConnectionTimedOut
		}
		return TimedOut
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET:
			return ConnectionReset
		case syscall.ECONNREFUSED:
			return ConnectionRefused
		case syscall.ENETDOWN:
			return InternetDisconnected
		case syscall.EADDRNOTAVAIL:
			return NetworkChanged
		case syscall.EHOSTUNREACH, syscall.ENETUNREACH:
			return AddressUnreachable
		case syscall.EPIPE:
			return ConnectionClosed
		}
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return ConnectionClosed
	}

	return Other
}

type hasTimeout interface {
	Timeout() bool
}
