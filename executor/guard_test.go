// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petermattis/goid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDirectGuard(t *testing.T) {
	assert.PanicsWithValue(t, "asynchttp/executor: nil guarded executor", func() { NewDirectGuard(nil) })
	assert.PanicsWithValue(t, "asynchttp/executor: nil task", func() { _ = NewDirectGuard(Go).Execute(nil) })
}

func TestDirectGuard(t *testing.T) {
	t.Run("Inline", func(t *testing.T) {
		g := NewDirectGuard(Direct)
		err := g.Execute(func() { t.Fatal("inline task must not run") })
		assert.ErrorIs(t, err, ErrInlineExecution)
	})
	t.Run("Async", func(t *testing.T) {
		g := NewDirectGuard(Go)
		done := make(chan struct{})
		require.NoError(t, g.Execute(func() { close(done) }))
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("task never ran")
		}
	})
	t.Run("Async Every Task Runs", func(t *testing.T) {
		g := NewDirectGuard(Go)
		const n = 100
		var wg sync.WaitGroup
		var ran atomic.Int32
		wg.Add(n)
		for i := 0; i < n; i++ {
			require.NoError(t, g.Execute(func() {
				defer wg.Done()
				ran.Add(1)
			}))
		}
		wg.Wait()
		assert.Equal(t, int32(n), ran.Load())
	})
	t.Run("Goroutine Identity", func(t *testing.T) {
		main := goid.Get()
		other := make(chan int64)
		go func() { other <- goid.Get() }()
		id := <-other
		assert.NotZero(t, main)
		assert.NotZero(t, id)
		assert.NotEqual(t, main, id)
	})
	t.Run("Deferred On Same Goroutine", func(t *testing.T) {
		// An executor which defers the task and later runs it on the
		// submitting goroutine is asynchronous and must not be flagged.
		var pending func()
		deferred := Func(func(task func()) error {
			pending = task
			return nil
		})
		g := NewDirectGuard(deferred)
		ran := false
		require.NoError(t, g.Execute(func() { ran = true }))
		require.NotNil(t, pending)
		pending()
		assert.True(t, ran)
	})
	t.Run("Rejected", func(t *testing.T) {
		g := NewDirectGuard(Func(func(func()) error { return ErrRejected }))
		assert.Same(t, ErrRejected, g.Execute(func() {}))
	})
}
