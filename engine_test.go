// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asynchttp

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogama/asynchttp/executor"
	"github.com/gogama/asynchttp/request"
	"github.com/gogama/asynchttp/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestNewEngine(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		e, err := NewEngine(nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultUserAgent, e.userAgent)
		assert.Nil(t, e.Store())
		assert.NoError(t, e.Shutdown())
	})
	t.Run("invalid config", func(t *testing.T) {
		testCases := []Config{
			{MaxRequestsPerSecond: -1},
			{Burst: -1},
			{UserAgent: "bad\nagent"},
		}
		for _, cfg := range testCases {
			e, err := NewEngine(&cfg)
			assert.Nil(t, e)
			assert.ErrorContains(t, err, "asynchttp: invalid config")
		}
	})
	t.Run("http2 transport", func(t *testing.T) {
		e, err := NewEngine(&Config{EnableHTTP2: true})
		require.NoError(t, err)
		assert.IsType(t, &http.Transport{}, e.transport)
		assert.NoError(t, e.Shutdown())
	})
}

func TestEngine_Version(t *testing.T) {
	e := newTestEngine(t, httpServer, nil)
	assert.Equal(t, "asynchttp/"+Version, e.Version())
}

func TestEngine_NewRequest(t *testing.T) {
	e := newTestEngine(t, httpServer, nil)

	t.Run("invalid url", func(t *testing.T) {
		for _, u := range []string{"ftp://example.com/", "/relative", "http://[::1", "https:///nohost"} {
			r, err := e.NewRequest(u, NewCollector(), executor.Go)
			assert.Nil(t, r, u)
			assert.Error(t, err, u)
		}
		assert.Equal(t, 0, e.ActiveRequests())
	})
	t.Run("panics", func(t *testing.T) {
		assert.PanicsWithValue(t, "asynchttp: nil callback", func() {
			_, _ = e.NewRequest(httpServer.URL, nil, executor.Go)
		})
		assert.PanicsWithValue(t, "asynchttp: nil callback executor", func() {
			_, _ = e.NewRequest(httpServer.URL, NewCollector(), nil)
		})
	})
}

func TestEngine_Shutdown(t *testing.T) {
	t.Run("active requests", func(t *testing.T) {
		e := newTestEngine(t, httpServer, nil)
		r1, err := e.NewRequest(httpServer.URL+"/status/200", NewCollector(), executor.Go)
		require.NoError(t, err)
		r2, err := e.NewRequest(httpServer.URL+"/status/200", NewCollector(), executor.Go)
		require.NoError(t, err)
		assert.Equal(t, 2, e.ActiveRequests())
		assert.ErrorIs(t, e.Shutdown(), ErrActiveRequests)

		r1.Cancel()
		assert.ErrorIs(t, e.Shutdown(), ErrActiveRequests)
		r2.Cancel()
		assert.Equal(t, 0, e.ActiveRequests())
		assert.NoError(t, e.Shutdown())

		_, err = e.NewRequest(httpServer.URL, NewCollector(), executor.Go)
		assert.ErrorIs(t, err, ErrEngineShutdown)
		assert.NoError(t, e.Shutdown())
	})
	t.Run("concurrent", func(t *testing.T) {
		ct := &idleCountingTransport{RoundTripper: httpServer.Client().Transport}
		dir := t.TempDir()
		e := newTestEngine(t, httpServer, &Config{Transport: ct, StoragePath: dir})
		var wg sync.WaitGroup
		errs := make([]error, 10)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = e.Shutdown()
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, int32(1), ct.closes.Load())
		assert.False(t, storage.InUse(dir))
	})
	t.Run("round trip in flight", func(t *testing.T) {
		bt := &blockingTransport{
			RoundTripper: httpServer.Client().Transport,
			entered:      make(chan struct{}),
			release:      make(chan struct{}),
		}
		e := newTestEngine(t, httpServer, &Config{Transport: bt})
		c := NewCollector()
		_, err := Get(e, httpServer.URL+"/status/200", c, executor.Go)
		require.NoError(t, err)

		<-bt.entered
		assert.ErrorIs(t, e.Shutdown(), ErrActiveRequests)
		close(bt.release)
		assert.Equal(t, request.Succeeded, c.Wait().Reason)
	})
	t.Run("on transport goroutine", func(t *testing.T) {
		st := &shutdownTransport{under: httpServer.Client().Transport}
		e := newTestEngine(t, httpServer, &Config{Transport: st})
		st.e = e
		c := NewCollector()
		_, err := Get(e, httpServer.URL+"/status/200", c, executor.Go)
		require.NoError(t, err)

		res := c.Wait()
		assert.Equal(t, request.Succeeded, res.Reason)
		assert.ErrorIs(t, st.err, ErrShutdownOnTransport)
	})
}

type idleCountingTransport struct {
	http.RoundTripper
	closes atomic.Int32
}

func (t *idleCountingTransport) CloseIdleConnections() {
	t.closes.Add(1)
}

type blockingTransport struct {
	http.RoundTripper
	entered chan struct{}
	release chan struct{}
}

func (t *blockingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	close(t.entered)
	<-t.release
	return t.RoundTripper.RoundTrip(req)
}

type shutdownTransport struct {
	under http.RoundTripper
	e     *Engine
	err   error
}

func (st *shutdownTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	st.err = st.e.Shutdown()
	return st.under.RoundTrip(req)
}

func TestEngine_Storage(t *testing.T) {
	dir := t.TempDir()
	cfg := func() *Config {
		return &Config{
			StoragePath: dir,
			Transport:   httpServer.Client().Transport,
			Logger:      quietLogger(),
		}
	}

	e1, err := NewEngine(cfg())
	require.NoError(t, err)
	require.NotNil(t, e1.Store())

	e2, err := NewEngine(cfg())
	assert.Nil(t, e2)
	assert.ErrorIs(t, err, storage.ErrPathInUse)

	fin := finishedChan(e1)
	c := NewCollector()
	_, err = Get(e1, httpServer.URL+"/status/200", c, executor.Go)
	require.NoError(t, err)
	require.Equal(t, request.Succeeded, c.Wait().Reason)
	waitFinished(t, fin)

	u, err := url.Parse(httpServer.URL)
	require.NoError(t, err)
	props, ok, err := e1.Store().Get(storage.Origin(u))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "http/1.1", props.Protocol)
	require.NoError(t, e1.Shutdown())
	assert.False(t, storage.InUse(dir))

	e3, err := NewEngine(cfg())
	require.NoError(t, err)
	origins, err := e3.Store().Origins()
	require.NoError(t, err)
	assert.Equal(t, []string{storage.Origin(u)}, origins)
	assert.NoError(t, e3.Shutdown())
}

type rttRecorder struct {
	n *atomic.Int32
}

func (r rttRecorder) OnRTTObservation(time.Duration, time.Time, Source) {
	r.n.Add(1)
}

func TestEngine_NetworkQuality(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		e := newTestEngine(t, httpServer, nil)
		reg, err := e.AddRTTListener(rttRecorder{&atomic.Int32{}}, executor.Go)
		assert.Nil(t, reg)
		assert.ErrorIs(t, err, ErrEstimatorDisabled)
		reg, err = e.AddThroughputListener(ThroughputListenerFunc(func(int64, time.Time, Source) {}), executor.Go)
		assert.Nil(t, reg)
		assert.ErrorIs(t, err, ErrEstimatorDisabled)
	})
	t.Run("observations", func(t *testing.T) {
		e := newTestEngine(t, httpServer, &Config{EnableNetworkQualityEstimator: true})
		assert.False(t, e.rttObserving.Load())
		assert.False(t, e.throughputObserving.Load())

		rtts := make(chan Source, 16)
		rttReg, err := e.AddRTTListener(RTTListenerFunc(func(rtt time.Duration, _ time.Time, src Source) {
			assert.GreaterOrEqual(t, rtt, time.Duration(0))
			select {
			case rtts <- src:
			default:
			}
		}), executor.Go)
		require.NoError(t, err)
		throughputs := make(chan int64, 16)
		tpReg, err := e.AddThroughputListener(ThroughputListenerFunc(func(kbps int64, _ time.Time, src Source) {
			assert.Equal(t, SourceHTTP, src)
			throughputs <- kbps
		}), executor.Go)
		require.NoError(t, err)
		assert.True(t, e.rttObserving.Load())
		assert.True(t, e.throughputObserving.Load())

		c := NewCollector()
		_, err = Get(e, httpServer.URL+"/body/10000", c, executor.Go)
		require.NoError(t, err)
		require.Equal(t, request.Succeeded, c.Wait().Reason)

		sources := map[Source]bool{}
		deadline := time.After(5 * time.Second)
	collect:
		for !sources[SourceHTTP] {
			select {
			case src := <-rtts:
				sources[src] = true
			case <-deadline:
				break collect
			}
		}
		assert.True(t, sources[SourceHTTP])
		select {
		case kbps := <-throughputs:
			assert.GreaterOrEqual(t, kbps, int64(0))
		case <-time.After(5 * time.Second):
			assert.Fail(t, "no throughput observation")
		}

		assert.True(t, e.RemoveRTTListener(rttReg))
		assert.False(t, e.RemoveRTTListener(rttReg))
		assert.False(t, e.rttObserving.Load())
		assert.True(t, e.RemoveThroughputListener(tpReg))
		assert.False(t, e.throughputObserving.Load())
	})
	t.Run("remove by value", func(t *testing.T) {
		e := newTestEngine(t, httpServer, &Config{EnableNetworkQualityEstimator: true})
		l := rttRecorder{&atomic.Int32{}}
		_, err := e.AddRTTListener(l, executor.Go)
		require.NoError(t, err)
		f := RTTListenerFunc(func(time.Duration, time.Time, Source) {})
		_, err = e.AddRTTListener(f, executor.Go)
		require.NoError(t, err)

		assert.False(t, e.RemoveRTTListenerValue(f))
		assert.True(t, e.RemoveRTTListenerValue(l))
		assert.False(t, e.RemoveRTTListenerValue(l))
		assert.True(t, e.rttObserving.Load())
	})
}

func TestEngine_FinishedListener(t *testing.T) {
	e := newTestEngine(t, httpServer, nil)
	fin := finishedChan(e)
	var other atomic.Int32
	reg := e.AddRequestFinishedListener(FinishedListenerFunc(func(*request.FinishedInfo) {
		other.Add(1)
	}), executor.Go)

	c := NewCollector()
	_, err := Get(e, httpServer.URL+"/status/200", c, executor.Go)
	require.NoError(t, err)
	c.Wait()

	fi := waitFinished(t, fin)
	assert.Equal(t, request.Succeeded, fi.Reason)
	assert.Equal(t, httpServer.URL+"/status/200", fi.URL)
	assert.Eventually(t, func() bool { return other.Load() == 1 }, time.Second, time.Millisecond)

	assert.True(t, e.RemoveRequestFinishedListener(reg))
	c = NewCollector()
	_, err = Get(e, httpServer.URL+"/status/200", c, executor.Go)
	require.NoError(t, err)
	c.Wait()
	waitFinished(t, fin)
	assert.Equal(t, int32(1), other.Load())
}

func TestEngine_InlineExecutor(t *testing.T) {
	e := newTestEngine(t, httpServer, nil)
	fin := finishedChan(e)
	var calls atomic.Int32
	cb := &CallbackFuncs{
		ResponseStarted: func(*Request, *request.Info) error {
			calls.Add(1)
			return nil
		},
		Succeeded: func(*Request, *request.Info) { calls.Add(1) },
		Failed:    func(*Request, *request.Info, error) { calls.Add(1) },
	}
	_, err := Get(e, httpServer.URL+"/status/200", cb, executor.Direct)
	require.NoError(t, err)

	fi := waitFinished(t, fin)
	assert.Equal(t, request.Failed, fi.Reason)
	assert.ErrorIs(t, fi.Err, executor.ErrInlineExecution)
	assert.Equal(t, int32(0), calls.Load())
}

func TestEngine_NetLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netlog.json")
	e := newTestEngine(t, httpServer, nil)
	require.NoError(t, e.StartNetLog(path, true))
	require.NoError(t, e.StartNetLog(filepath.Join(t.TempDir(), "ignored.json"), false))
	fin := finishedChan(e)

	c := NewCollector()
	_, err := Get(e, httpServer.URL+"/body/100", c, executor.Go)
	require.NoError(t, err)
	c.Wait()
	waitFinished(t, fin)
	e.StopNetLog()
	e.StopNetLog()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var events []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(s.Bytes(), &line))
		events = append(events, line["event"].(string))
	}
	require.NoError(t, s.Err())

	assert.Equal(t, "netlog_start", events[0])
	assert.Equal(t, "netlog_end", events[len(events)-1])
	assert.Subset(t, events, []string{"request_start", "response", "response_headers", "request_end"})
}

type recordingTracer struct {
	noop.Tracer
	lock  sync.Mutex
	spans []*recordingSpan
}

func (t *recordingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	s := &recordingSpan{name: name, attrs: map[attribute.Key]attribute.Value{}}
	for _, kv := range cfg.Attributes() {
		s.attrs[kv.Key] = kv.Value
	}
	t.lock.Lock()
	t.spans = append(t.spans, s)
	t.lock.Unlock()
	return ctx, s
}

type recordingSpan struct {
	noop.Span
	lock   sync.Mutex
	name   string
	attrs  map[attribute.Key]attribute.Value
	events []string
	status codes.Code
	ended  bool
}

func (s *recordingSpan) AddEvent(name string, _ ...trace.EventOption) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.events = append(s.events, name)
}

func (s *recordingSpan) SetAttributes(kv ...attribute.KeyValue) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, a := range kv {
		s.attrs[a.Key] = a.Value
	}
}

func (s *recordingSpan) SetStatus(code codes.Code, _ string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.status = code
}

func (s *recordingSpan) End(...trace.SpanEndOption) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.ended = true
}

func TestEngine_Tracer(t *testing.T) {
	tracer := &recordingTracer{}
	e := newTestEngine(t, httpServer, &Config{Tracer: tracer})
	fin := finishedChan(e)

	c := NewCollector()
	_, err := Get(e, httpServer.URL+"/redirect/2", c, executor.Go)
	require.NoError(t, err)
	require.Equal(t, request.Succeeded, c.Wait().Reason)
	waitFinished(t, fin)

	tracer.lock.Lock()
	defer tracer.lock.Unlock()
	require.Len(t, tracer.spans, 1)
	s := tracer.spans[0]
	s.lock.Lock()
	defer s.lock.Unlock()
	assert.Equal(t, "asynchttp.Request", s.name)
	assert.True(t, s.ended)
	assert.Equal(t, codes.Ok, s.status)
	assert.Equal(t, []string{"redirect", "redirect"}, s.events)
	assert.Equal(t, "GET", s.attrs["http.method"].AsString())
	assert.Equal(t, int64(2), s.attrs["http.redirects"].AsInt64())
	assert.Equal(t, int64(200), s.attrs["http.response.status_code"].AsInt64())
	assert.Equal(t, "Succeeded", s.attrs["request.reason"].AsString())
}

func TestEngine_Throttle(t *testing.T) {
	e := newTestEngine(t, httpServer, &Config{MaxRequestsPerSecond: 20, Burst: 1})
	start := time.Now()
	for i := 0; i < 3; i++ {
		c := NewCollector()
		_, err := Get(e, httpServer.URL+"/status/204", c, executor.Go)
		require.NoError(t, err)
		require.Equal(t, request.Succeeded, c.Wait().Reason)
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestEngine_TransportExecutor(t *testing.T) {
	p := executor.NewPool(2, 16, nil)
	defer p.Shutdown()
	e := newTestEngine(t, httpServer, &Config{TransportExecutor: p})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewCollector()
			_, err := Get(e, httpServer.URL+"/status/200", c, executor.Go)
			if assert.NoError(t, err) {
				assert.Equal(t, request.Succeeded, c.Wait().Reason)
			}
		}()
	}
	wg.Wait()
}
