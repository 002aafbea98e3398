// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package retry

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/gogama/asynchttp/request"
	"github.com/stretchr/testify/assert"
)

func TestDefaultDecider(t *testing.T) {
	t.Run("retryable status codes", func(t *testing.T) {
		for _, code := range []int{429, 502, 503, 504} {
			a := Attempt{Info: info(code)}
			t.Run(fmt.Sprint(code), func(t *testing.T) {
				for i := 0; i < DefaultTimes; i++ {
					a.Index = i
					assert.True(t, DefaultDecider(&a), "attempt %d", i)
				}
				a.Index = DefaultTimes
				assert.False(t, DefaultDecider(&a))
			})
		}
	})
	t.Run("other status codes", func(t *testing.T) {
		for _, code := range []int{200, 204, 301, 400, 404, 500} {
			a := Attempt{Info: info(code)}
			assert.False(t, DefaultDecider(&a), "status %d", code)
		}
	})
	t.Run("transient errors", func(t *testing.T) {
		for _, err := range transientErrs {
			a := Attempt{Reason: request.Failed, Err: err}
			assert.True(t, DefaultDecider(&a), "%v", err)
			a.Index = DefaultTimes
			assert.False(t, DefaultDecider(&a), "%v", err)
		}
	})
	t.Run("other errors", func(t *testing.T) {
		for _, err := range nonTransientErrs {
			a := Attempt{Reason: request.Failed, Err: err}
			assert.False(t, DefaultDecider(&a), "%v", err)
		}
	})
}

func TestTransientErr(t *testing.T) {
	for _, err := range transientErrs {
		assert.True(t, TransientErr(&Attempt{Err: err}), "%v", err)
		assert.True(t, TransientErr(&Attempt{Err: &url.Error{Op: "Get", URL: "http://x", Err: err}}), "%v", err)
	}
	for _, err := range nonTransientErrs {
		assert.False(t, TransientErr(&Attempt{Err: err}), "%v", err)
	}
}

func TestDeciderFunc_AndOr(t *testing.T) {
	yes := DeciderFunc(func(*Attempt) bool { return true })
	no := DeciderFunc(func(*Attempt) bool { return false })
	a := &Attempt{}

	assert.True(t, yes.And(yes).Decide(a))
	assert.False(t, yes.And(no).Decide(a))
	assert.False(t, no.And(yes).Decide(a))
	assert.True(t, yes.Or(no).Decide(a))
	assert.True(t, no.Or(yes).Decide(a))
	assert.False(t, no.Or(no).Decide(a))

	panics := DeciderFunc(func(*Attempt) bool { panic("evaluated") })
	assert.NotPanics(t, func() { no.And(panics).Decide(a) })
	assert.NotPanics(t, func() { yes.Or(panics).Decide(a) })
}

func TestTimes(t *testing.T) {
	assert.False(t, Times(0)(&Attempt{}))
	assert.True(t, Times(1)(&Attempt{}))
	assert.False(t, Times(1)(&Attempt{Index: 1}))
	assert.True(t, Times(2)(&Attempt{Index: 1}))
	assert.False(t, Times(2)(&Attempt{Index: 2}))
}

func TestBefore(t *testing.T) {
	start := time.Now()
	before := Before(time.Minute)
	assert.True(t, before(&Attempt{Index: 20, Start: start, End: start.Add(59 * time.Second)}))
	assert.False(t, before(&Attempt{Start: start, End: start.Add(2 * time.Minute)}))
}

func TestStatusCode(t *testing.T) {
	empty := StatusCode()
	one := StatusCode(602)
	two := StatusCode(509, 602)

	assert.False(t, empty(&Attempt{}))
	assert.False(t, one(&Attempt{}))
	assert.False(t, empty(&Attempt{Info: info(602)}))
	assert.True(t, one(&Attempt{Info: info(602)}))
	assert.True(t, two(&Attempt{Info: info(602)}))
	assert.True(t, two(&Attempt{Info: info(509)}))
	assert.False(t, two(&Attempt{Info: info(508)}))
}

func info(code int) *request.Info {
	return request.NewInfo([]string{"http://example.com"}, &http.Response{
		StatusCode: code,
		ProtoMajor: 1,
		ProtoMinor: 1,
	})
}

var (
	transientErrs = []error{
		syscall.ECONNRESET,
		syscall.EPIPE,
		syscall.EADDRNOTAVAIL,
	}
	nonTransientErrs = []error{
		nil,
		errors.New("not transient"),
		syscall.ECONNREFUSED,
		syscall.EHOSTUNREACH,
		syscall.ENETDOWN,
	}
)
