// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asynchttp

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/gogama/asynchttp/request"
)

// DefaultMaxRedirects is the number of redirects a Collector follows
// when its MaxRedirects field is zero.
const DefaultMaxRedirects = 10

// DefaultReadBufferSize is the size of the buffer a Collector reads
// the response body into when its BufferSize field is zero.
const DefaultReadBufferSize = 32 << 10

// ErrTooManyRedirects is the cause of the *CallbackError a request
// driven by a Collector fails with when it is redirected more often
// than the Collector allows.
var ErrTooManyRedirects = errors.New("asynchttp: too many redirects")

// A Result is the outcome of a request driven by a Collector.
type Result struct {
	// Reason tells how the request ended.
	Reason request.Reason
	// Info describes the final response, or is nil if no response was
	// received.
	Info *request.Info
	// Body is the whole response body. It is nil unless the request
	// succeeded.
	Body []byte
	// Redirects lists the redirect targets the request was sent, in
	// order.
	Redirects []string
	// Err is the error the request failed with.
	Err error
	// Attempts is the number of requests Fetch sent to produce the
	// Result. It is zero for a Result not produced by Fetch.
	Attempts int
}

// A Collector is a Callback which follows redirects, reads the whole
// response body into memory, and reports the Result once the request
// is over. It turns the asynchronous Request into something close to
// a classic blocking HTTP client:
//
//	c := asynchttp.NewCollector()
//	_, err := asynchttp.Get(engine, "https://example.com", c, executor.Go)
//	...
//	res := c.Wait()
//
// A Collector drives one request only. Create one with NewCollector;
// the zero value is not usable.
type Collector struct {
	// NoFollow makes the Collector cancel the request when it is
	// redirected, instead of following the redirect.
	NoFollow bool
	// MaxRedirects is the number of redirects followed before the
	// request fails with ErrTooManyRedirects. If zero,
	// DefaultMaxRedirects is used.
	MaxRedirects int
	// BufferSize is the size of the read buffer. If zero,
	// DefaultReadBufferSize is used.
	BufferSize int

	done   chan struct{}
	result Result
	body   bytes.Buffer
	buf    []byte
}

// NewCollector returns a Collector with the default settings.
func NewCollector() *Collector {
	return &Collector{done: make(chan struct{})}
}

// Done returns a channel which is closed when the request is over.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the request is over and returns its Result.
func (c *Collector) Wait() *Result {
	<-c.done
	return &c.result
}

// OnRedirectReceived records the redirect and follows it, or cancels
// the request if NoFollow is set. It fails the request once more than
// MaxRedirects redirects were received.
func (c *Collector) OnRedirectReceived(r *Request, _ *request.Info, newURL string) error {
	c.result.Redirects = append(c.result.Redirects, newURL)
	if c.NoFollow {
		r.Cancel()
		return nil
	}
	max := c.MaxRedirects
	if max == 0 {
		max = DefaultMaxRedirects
	}
	if len(c.result.Redirects) > max {
		return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, max)
	}
	return r.FollowRedirect()
}

// OnResponseStarted allocates the read buffer and starts reading the
// body.
func (c *Collector) OnResponseStarted(r *Request, _ *request.Info) error {
	size := c.BufferSize
	if size <= 0 {
		size = DefaultReadBufferSize
	}
	c.buf = make([]byte, size)
	return r.Read(c.buf)
}

// OnReadCompleted appends data to the body and reads again.
func (c *Collector) OnReadCompleted(r *Request, _ *request.Info, data []byte) error {
	c.body.Write(data)
	return r.Read(c.buf)
}

// OnSucceeded completes the Result with the whole body.
func (c *Collector) OnSucceeded(_ *Request, info *request.Info) {
	c.result.Reason = request.Succeeded
	c.result.Info = info
	c.result.Body = c.body.Bytes()
	if c.result.Body == nil {
		c.result.Body = []byte{}
	}
	close(c.done)
}

// OnFailed completes the Result with err.
func (c *Collector) OnFailed(_ *Request, info *request.Info, err error) {
	c.result.Reason = request.Failed
	c.result.Info = info
	c.result.Err = err
	close(c.done)
}

// OnCanceled completes the Result as cancelled.
func (c *Collector) OnCanceled(_ *Request, info *request.Info) {
	c.result.Reason = request.Canceled
	c.result.Info = info
	close(c.done)
}
