// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asynchttp

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gogama/asynchttp/request"
	"github.com/gogama/asynchttp/retry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flakyURL(fails int) string {
	return httpServer.URL + "/flaky/" + uuid.NewString() + "?fails=" + strconv.Itoa(fails)
}

func TestFetch(t *testing.T) {
	t.Run("no policy", func(t *testing.T) {
		e := newTestEngine(t, httpServer, nil)
		res, err := Fetch(context.Background(), e, flakyURL(1), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, 503, res.Info.StatusCode)
	})
	t.Run("retries until success", func(t *testing.T) {
		e := newTestEngine(t, httpServer, nil)
		p := retry.NewPolicy(retry.Times(3).And(retry.StatusCode(503)), retry.NewFixedWaiter(time.Millisecond))
		res, err := Fetch(context.Background(), e, flakyURL(2), p, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, request.Succeeded, res.Reason)
		assert.Equal(t, 200, res.Info.StatusCode)
		assert.Equal(t, "ok", string(res.Body))
	})
	t.Run("gives up", func(t *testing.T) {
		e := newTestEngine(t, httpServer, nil)
		p := retry.NewPolicy(retry.Times(1).And(retry.StatusCode(503)), retry.NewFixedWaiter(time.Millisecond))
		res, err := Fetch(context.Background(), e, flakyURL(5), p, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Attempts)
		assert.Equal(t, 503, res.Info.StatusCode)
	})
	t.Run("transport failure", func(t *testing.T) {
		e := newTestEngine(t, httpServer, nil)
		res, err := Fetch(context.Background(), e, "http://127.0.0.1:1/", retry.NewPolicy(retry.Times(2), retry.NewFixedWaiter(0)), nil)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Attempts)
		assert.Equal(t, request.Failed, res.Reason)
		var te *TransportError
		assert.ErrorAs(t, res.Err, &te)
	})
	t.Run("context done", func(t *testing.T) {
		e := newTestEngine(t, httpServer, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		res, err := Fetch(ctx, e, httpServer.URL+"/slow", retry.DefaultPolicy, nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		require.NotNil(t, res)
		assert.Equal(t, request.Canceled, res.Reason)
		assert.Equal(t, 1, res.Attempts)
	})
	t.Run("context done while waiting", func(t *testing.T) {
		e := newTestEngine(t, httpServer, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		p := retry.NewPolicy(retry.Times(3).And(retry.StatusCode(503)), retry.NewFixedWaiter(time.Hour))
		res, err := Fetch(ctx, e, flakyURL(5), p, nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, 503, res.Info.StatusCode)
	})
	t.Run("setup", func(t *testing.T) {
		e := newTestEngine(t, httpServer, nil)
		res, err := Fetch(context.Background(), e, httpServer.URL+"/echo", nil, func(r *Request) error {
			if err := r.SetMethod("PUT"); err != nil {
				return err
			}
			return prepareUpload(r, "text/plain", NewBytesProvider([]byte("put body")))
		})
		require.NoError(t, err)
		assert.Equal(t, "PUT", res.Info.Header.Get("X-Method"))
		assert.Equal(t, "put body", string(res.Body))
	})
	t.Run("setup error", func(t *testing.T) {
		e := newTestEngine(t, httpServer, nil)
		boom := errors.New("boom")
		res, err := Fetch(context.Background(), e, httpServer.URL+"/echo", nil, func(*Request) error {
			return boom
		})
		assert.Nil(t, res)
		assert.Same(t, boom, err)
		assert.Equal(t, 0, e.ActiveRequests())
	})
	t.Run("creator error", func(t *testing.T) {
		e := newTestEngine(t, httpServer, nil)
		res, err := Fetch(context.Background(), e, "ftp://example.com/", nil, nil)
		assert.Nil(t, res)
		assert.True(t, strings.HasPrefix(err.Error(), "asynchttp: invalid URL"))
	})
}
