// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package request

import (
	"crypto/tls"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewInfo(t *testing.T) {
	chain := []string{"http://a.com/", "http://b.com/"}
	resp := &http.Response{
		Status:     "404 Not Found",
		StatusCode: 404,
		ProtoMajor: 1,
		ProtoMinor: 1,
	}
	i := NewInfo(chain, resp)
	chain[0] = "mutated"
	assert.Equal(t, []string{"http://a.com/", "http://b.com/"}, i.URLChain)
	assert.Equal(t, "http://b.com/", i.URL())
	assert.Equal(t, 404, i.StatusCode)
	assert.Equal(t, 404, i.Code())
	assert.Equal(t, "Not Found", i.StatusText)
	assert.NotNil(t, i.Header)
	assert.Equal(t, "http/1.1", i.NegotiatedProtocol)
	assert.Equal(t, int64(0), i.ReceivedBytes())
	i.AddReceivedBytes(10)
	i.AddReceivedBytes(5)
	assert.Equal(t, int64(15), i.ReceivedBytes())
}

func TestInfo_Nil(t *testing.T) {
	var i *Info
	assert.Equal(t, "", i.URL())
	assert.Equal(t, 0, i.Code())
	assert.Equal(t, int64(0), i.ReceivedBytes())
}

func TestNegotiatedProtocol(t *testing.T) {
	assert.Equal(t, "h2", NegotiatedProtocol(&http.Response{ProtoMajor: 2}))
	assert.Equal(t, "h3", NegotiatedProtocol(&http.Response{ProtoMajor: 3}))
	assert.Equal(t, "http/1.0", NegotiatedProtocol(&http.Response{ProtoMajor: 1}))
	assert.Equal(t, "unknown", NegotiatedProtocol(&http.Response{}))
	assert.Equal(t, "h2", NegotiatedProtocol(&http.Response{
		ProtoMajor: 1,
		ProtoMinor: 1,
		TLS:        &tls.ConnectionState{NegotiatedProtocol: "h2"},
	}))
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "OK", statusText(&http.Response{Status: "200 OK", StatusCode: 200}))
	assert.Equal(t, "Teapot Time", statusText(&http.Response{Status: "418 Teapot Time", StatusCode: 418}))
	assert.Equal(t, "Internal Server Error", statusText(&http.Response{StatusCode: 500}))
}

func TestReason(t *testing.T) {
	assert.Equal(t, "Succeeded", Succeeded.Name())
	assert.Equal(t, "Failed", Failed.String())
	assert.Equal(t, "Canceled", Canceled.Name())
}

func TestMetrics(t *testing.T) {
	var m Metrics
	assert.Equal(t, time.Duration(0), m.TTFB())
	assert.Equal(t, time.Duration(0), m.Total())
	start := time.Now()
	m.RequestStart = start
	m.ResponseStart = start.Add(time.Second)
	m.RequestEnd = start.Add(3 * time.Second)
	assert.Equal(t, time.Second, m.TTFB())
	assert.Equal(t, 3*time.Second, m.Total())
}
