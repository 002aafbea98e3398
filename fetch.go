// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asynchttp

import (
	"context"
	"time"

	"github.com/gogama/asynchttp/executor"
	"github.com/gogama/asynchttp/request"
	"github.com/gogama/asynchttp/retry"
)

// A Setup configures a request before it is started. It is called once
// per attempt, so an upload data provider set by Setup must be new
// each time or able to rewind.
type Setup func(r *Request) error

// Fetch sends a request to url with c and blocks until it is over. If
// the policy p decides so, the request is sent again as a new Request
// after the wait the policy chooses. Fetch returns the Result of the
// last attempt.
//
// Every attempt is driven by a fresh Collector and its callbacks run on
// executor.Go. A nil p means retry.Never, and a nil setup sends a GET.
//
// If ctx is done while an attempt is in flight, the attempt is
// cancelled and Fetch returns its Result along with ctx.Err(). A
// cancelled attempt is never retried.
func Fetch(ctx context.Context, c Creator, url string, p retry.Policy, setup Setup) (*Result, error) {
	if p == nil {
		p = retry.Never
	}

	start := time.Now()
	for i := 0; ; i++ {
		res, err := attempt(ctx, c, url, setup)
		if err != nil {
			return res, err
		}
		res.Attempts = i + 1
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if res.Reason == request.Canceled {
			return res, nil
		}

		a := &retry.Attempt{
			Index:  i,
			Start:  start,
			End:    time.Now(),
			Reason: res.Reason,
			Info:   res.Info,
			Err:    res.Err,
		}
		if !p.Decide(a) {
			return res, nil
		}

		t := time.NewTimer(p.Wait(a))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return res, ctx.Err()
		}
	}
}

func attempt(ctx context.Context, c Creator, url string, setup Setup) (*Result, error) {
	col := NewCollector()
	r, err := c.NewRequest(url, col, executor.Go)
	if err != nil {
		return nil, err
	}
	if setup != nil {
		if err = setup(r); err != nil {
			r.Cancel()
			return nil, err
		}
	}
	if err = r.Start(); err != nil {
		r.Cancel()
		return nil, err
	}

	select {
	case <-col.Done():
	case <-ctx.Done():
		r.Cancel()
	}
	return col.Wait(), nil
}
