// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package asynchttp provides an asynchronous HTTP request engine.

Create an Engine, then use it to create requests. A Request never
blocks the caller: each step of the exchange is reported to a Callback,
on an executor the caller chooses, and the caller decides when to take
the next step.

	engine, err := asynchttp.NewEngine(&asynchttp.Config{EnableHTTP2: true})
	...
	cb := &asynchttp.CallbackFuncs{
		RedirectReceived: func(r *asynchttp.Request, _ *request.Info, _ string) error {
			return r.FollowRedirect()
		},
		ResponseStarted: func(r *asynchttp.Request, _ *request.Info) error {
			return r.Read(buf)
		},
		ReadCompleted: func(r *asynchttp.Request, _ *request.Info, data []byte) error {
			out.Write(data)
			return r.Read(buf)
		},
		Succeeded: func(*asynchttp.Request, *request.Info) { close(done) },
		...
	}
	r, err := engine.NewRequest("https://www.example.com", cb, executor.Go)
	...
	err = r.Start()

Every Request moves through the states described by State. The
transitions are atomic, so Cancel may race freely with the progress of
the request: exactly one of OnSucceeded, OnFailed and OnCanceled is
delivered to a started request.

A request body is supplied by an UploadDataProvider, which the engine
pulls from one buffer at a time through an UploadDataSink.
NewBytesProvider, NewBodyProvider and NewReaderProvider cover the
common cases.

For callers who want a blocking call rather than callbacks, Collector
drives a request to its end and collects the body, the helpers Get, Post
and PostForm start requests with it, and Fetch adds retries using a
policy from package retry.

The engine may also report round trip time and throughput
observations, and a summary of every finished request, to listeners
added with the Engine's Add...Listener methods. Its diagnostic log is
started with Engine.StartNetLog.
*/
package asynchttp
