// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asynchttp

import (
	"net/url"

	"github.com/gogama/asynchttp/executor"
)

// IdleCloser is the interface that wraps the basic CloseIdleConnections
// method.
//
// If the engine's transport implements IdleCloser, Engine.Shutdown
// calls CloseIdleConnections to release the connections kept alive
// for reuse. It does not interrupt any connections currently in use.
type IdleCloser interface {
	CloseIdleConnections()
}

// Creator is the interface that wraps the basic NewRequest method.
// Engine implements Creator.
type Creator interface {
	NewRequest(url string, cb Callback, exec executor.Executor) (*Request, error)
}

// Get uses the specified Creator to create and start a GET request to
// the specified URL.
func Get(c Creator, url string, cb Callback, exec executor.Executor) (*Request, error) {
	r, err := c.NewRequest(url, cb, exec)
	if err != nil {
		return nil, err
	}
	if err = r.Start(); err != nil {
		r.Cancel()
		return nil, err
	}
	return r, nil
}

// Post uses the specified Creator to create and start a POST request
// to the specified URL.
//
// The body parameter may be nil for an empty body, or may be any of the
// types supported by NewBodyProvider and request.BodyBytes, namely:
// string; []byte; io.Reader; and io.ReadCloser. The body is supplied
// by a provider which never blocks, so it runs on the upload
// goroutine directly.
func Post(c Creator, url, contentType string, body interface{}, cb Callback, exec executor.Executor) (*Request, error) {
	p, err := NewBodyProvider(body)
	if err != nil {
		return nil, err
	}
	r, err := c.NewRequest(url, cb, exec)
	if err != nil {
		return nil, err
	}
	if err = prepareUpload(r, contentType, p); err != nil {
		r.Cancel()
		return nil, err
	}
	if err = r.Start(); err != nil {
		r.Cancel()
		return nil, err
	}
	return r, nil
}

// PostForm uses the specified Creator to create and start a POST
// request to the specified URL, with data's keys and values URL-encoded
// as the request body.
//
// The Content-Type header is set to application/x-www-form-urlencoded.
func PostForm(c Creator, url string, data url.Values, cb Callback, exec executor.Executor) (*Request, error) {
	return Post(c, url, "application/x-www-form-urlencoded", data.Encode(), cb, exec)
}

func prepareUpload(r *Request, contentType string, p UploadDataProvider) error {
	if err := r.AddHeader("Content-Type", contentType); err != nil {
		return err
	}
	if err := r.SetUploadDataProvider(p, executor.Direct); err != nil {
		return err
	}
	return r.AllowDirectExecutor()
}
