// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package request contains the data types describing a single HTTP
exchange driven by the asynchronous request engine: Header (the
outgoing request headers), Info (the response metadata handed to
callbacks), and FinishedInfo (the record reported to request-finished
listeners once a request reaches a terminal state).

Header is a case-insensitive, insertion-ordered mapping from header
name to value. Names and values are validated as they are added, so an
invalid header is rejected synchronously instead of corrupting the wire
format:

	var h request.Header
	if err := h.Set("Content-Type", "application/json"); err != nil {
		...
	}

Info and FinishedInfo are produced by the engine. You will typically
not allocate them yourself, but will instead work with the ones handed
out to callbacks and listeners.

The package also contains the small pieces of HTTP semantics the engine
applies itself because automatic redirect following is disabled in the
underlying transport: resolving a Location header against the current
URL, and rewriting the method when a redirect is followed.
*/
package request
