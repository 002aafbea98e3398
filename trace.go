// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asynchttp

import (
	"context"

	"github.com/gogama/asynchttp/request"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// startSpan starts the span covering a request from Start to its
// terminal state. Called under the request's configuration lock.
func (e *Engine) startSpan(r *Request) trace.Span {
	_, span := e.tracer.Start(context.Background(), "asynchttp.Request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("request.id", r.id.String()),
			attribute.String("http.method", r.method),
			attribute.String("url.full", r.url),
			attribute.String("request.priority", r.priority.Name()),
		),
	)
	return span
}

func (r *Request) spanEvent(name, location string) {
	r.lock.Lock()
	span := r.span
	r.lock.Unlock()
	if span != nil {
		span.AddEvent(name, trace.WithAttributes(attribute.String("location", location)))
	}
}

func (e *Engine) endSpan(r *Request, fi *request.FinishedInfo) {
	r.lock.Lock()
	span := r.span
	r.lock.Unlock()
	if span == nil {
		return
	}

	span.SetAttributes(
		attribute.String("request.reason", fi.Reason.Name()),
		attribute.Int("http.redirects", redirectCount(fi.Response)),
		attribute.Int64("http.response.body.size", fi.Metrics.ReceivedBytes),
		attribute.Int64("http.request.body.size", fi.Metrics.SentBytes),
	)
	if fi.Response != nil {
		span.SetAttributes(
			attribute.Int("http.response.status_code", fi.Response.StatusCode),
			attribute.String("network.protocol.name", fi.Response.NegotiatedProtocol),
		)
	}
	switch fi.Reason {
	case request.Succeeded:
		span.SetStatus(codes.Ok, "")
	case request.Failed:
		span.RecordError(fi.Err)
		span.SetStatus(codes.Error, fi.Err.Error())
	case request.Canceled:
		span.SetStatus(codes.Unset, "canceled")
	}
	span.End()
}

func redirectCount(info *request.Info) int {
	if info == nil || len(info.URLChain) == 0 {
		return 0
	}
	return len(info.URLChain) - 1
}
