// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asynchttp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	urlpkg "net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gogama/asynchttp/executor"
	"github.com/gogama/asynchttp/netlog"
	"github.com/gogama/asynchttp/request"
	"github.com/gogama/asynchttp/storage"
	"github.com/petermattis/goid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

// Version is the version of the engine.
const Version = "1.0.0"

// DefaultUserAgent is the User-Agent header sent when Config.UserAgent
// is empty and a request sets none of its own.
const DefaultUserAgent = "asynchttp/" + Version

// Config configures an Engine. Its zero value is a valid
// configuration.
type Config struct {
	// UserAgent is the default User-Agent header. If empty,
	// DefaultUserAgent is used.
	UserAgent string `validate:"omitempty,printascii"`

	// StoragePath is a directory where the engine keeps what it learns
	// about servers between runs. No two live engines may share a
	// storage path. If empty, nothing is stored.
	StoragePath string

	// Transport sends requests and receives responses. If nil, a clone
	// of http.DefaultTransport is used. The engine never uses an
	// http.Client, so redirects are never followed automatically.
	Transport http.RoundTripper `validate:"-"`

	// EnableHTTP2 configures the default transport for HTTP/2 using
	// golang.org/x/net/http2. It is ignored if Transport is set.
	EnableHTTP2 bool

	// MaxRequestsPerSecond limits the rate at which round trips start.
	// Zero means no limit.
	MaxRequestsPerSecond float64 `validate:"gte=0"`

	// Burst is the number of round trips which may start at once when
	// MaxRequestsPerSecond is set. Zero means one.
	Burst int `validate:"gte=0"`

	// TransportExecutor runs round trips. Each round trip occupies its
	// goroutine until the response headers arrive. If nil, every round
	// trip runs on its own goroutine.
	TransportExecutor executor.Executor `validate:"-"`

	// EnableNetworkQualityEstimator enables RTT and throughput
	// observations. Listeners for them may only be added if it is set.
	EnableNetworkQualityEstimator bool

	// Logger receives the engine's log messages. If nil, the logrus
	// standard logger is used.
	Logger logrus.FieldLogger `validate:"-"`

	// Tracer creates a span for every request. If nil, tracing is
	// disabled.
	Tracer trace.Tracer `validate:"-"`
}

var validate = validator.New()

// An Engine creates requests and owns everything they share: the
// transport, the throttle, the storage, the diagnostic log, and the
// listeners.
//
// Engine is safe for concurrent use by multiple goroutines.
type Engine struct {
	log           logrus.FieldLogger
	userAgent     string
	transport     http.RoundTripper
	tracer        trace.Tracer
	limiter       *rate.Limiter
	taskExec      executor.Executor
	transportExec executor.Executor
	estimator     bool

	onTransport sync.Map
	active      atomic.Int64

	lock    sync.Mutex
	shut    bool
	store   *storage.Store
	release func()

	netlogLock sync.Mutex
	netlog     atomic.Pointer[netlog.Logger]

	rttObserving        atomic.Bool
	throughputObserving atomic.Bool
	rttListeners        registry[RTTListener]
	throughputListeners registry[ThroughputListener]
	finishedListeners   registry[FinishedListener]
}

// NewEngine creates an Engine. A nil cfg is the same as a zero Config.
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("asynchttp: invalid config: %w", err)
	}

	e := &Engine{
		log:           cfg.Logger,
		userAgent:     cfg.UserAgent,
		transport:     cfg.Transport,
		tracer:        cfg.Tracer,
		taskExec:      executor.Go,
		transportExec: cfg.TransportExecutor,
		estimator:     cfg.EnableNetworkQualityEstimator,
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	if e.userAgent == "" {
		e.userAgent = DefaultUserAgent
	}
	if e.tracer == nil {
		e.tracer = noop.Tracer{}
	}
	if e.transportExec == nil {
		e.transportExec = executor.Go
	}
	if e.transport == nil {
		t, err := defaultTransport(cfg.EnableHTTP2)
		if err != nil {
			return nil, err
		}
		e.transport = t
	}
	if cfg.MaxRequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst == 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), burst)
	}

	e.rttListeners.kind = "rtt"
	e.rttListeners.onFirst = func() { e.rttObserving.Store(true) }
	e.rttListeners.onLast = func() { e.rttObserving.Store(false) }
	e.throughputListeners.kind = "throughput"
	e.throughputListeners.onFirst = func() { e.throughputObserving.Store(true) }
	e.throughputListeners.onLast = func() { e.throughputObserving.Store(false) }
	e.finishedListeners.kind = "finished"

	if cfg.StoragePath != "" {
		release, err := storage.Acquire(cfg.StoragePath)
		if err != nil {
			return nil, err
		}
		store, err := storage.Open(cfg.StoragePath)
		if err != nil {
			release()
			return nil, err
		}
		e.store, e.release = store, release
	}

	e.log.WithField("version", Version).Debug("asynchttp: engine created")
	return e, nil
}

func defaultTransport(enableHTTP2 bool) (http.RoundTripper, error) {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if !enableHTTP2 {
		t.ForceAttemptHTTP2 = false
		t.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
		return t, nil
	}
	if err := http2.ConfigureTransport(t); err != nil {
		return nil, fmt.Errorf("asynchttp: failed to configure HTTP/2: %w", err)
	}
	return t, nil
}

// Version returns the product version string of the engine.
func (e *Engine) Version() string {
	return DefaultUserAgent
}

// NewRequest creates a request for url, whose events are delivered to
// cb on exec. The URL must be an absolute http or https URL.
//
// The exec executor must not run tasks inline on the goroutine which
// submits them. A request whose callback would run inline fails
// instead, with an error wrapping executor.ErrInlineExecution.
//
// The new request counts as active until it reaches a terminal state.
// A request which is never started must be cancelled, or the engine
// can never shut down.
func (e *Engine) NewRequest(url string, cb Callback, exec executor.Executor) (*Request, error) {
	if cb == nil {
		panic("asynchttp: nil callback")
	}
	if exec == nil {
		panic("asynchttp: nil callback executor")
	}
	u, err := urlpkg.Parse(url)
	if err != nil {
		return nil, fmt.Errorf("asynchttp: invalid URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("asynchttp: invalid URL %q: not an absolute http or https URL", url)
	}

	e.lock.Lock()
	defer e.lock.Unlock()
	if e.shut {
		return nil, ErrEngineShutdown
	}
	e.active.Add(1)
	return newRequest(e, url, cb, exec), nil
}

// NewBidirectionalStream creates a request which streams the body
// supplied by p to url with method POST while the response is streamed
// back. The body is sent with chunked transfer encoding if p reports an
// unknown length. The Content-Type header defaults to
// application/octet-stream.
//
// The provider's methods run on exec, the same executor as the
// callback's.
func (e *Engine) NewBidirectionalStream(url string, cb Callback, exec executor.Executor, p UploadDataProvider) (*Request, error) {
	r, err := e.NewRequest(url, cb, exec)
	if err != nil {
		return nil, err
	}
	_ = r.SetMethod(http.MethodPost)
	_ = r.AddHeader("Content-Type", "application/octet-stream")
	_ = r.SetUploadDataProvider(p, exec)
	return r, nil
}

// ActiveRequests returns the number of requests which were created and
// have not yet reached a terminal state.
func (e *Engine) ActiveRequests() int {
	return int(e.active.Load())
}

// Shutdown shuts the engine down. It returns ErrActiveRequests while
// requests are active, and ErrShutdownOnTransport when called from a
// transport goroutine. Otherwise it stops the diagnostic log, closes
// the transport's idle connections, and releases the storage path.
//
// Shutdown releases the engine's resources exactly once. Later calls,
// including concurrent ones, return nil and do nothing.
func (e *Engine) Shutdown() error {
	if _, ok := e.onTransport.Load(goid.Get()); ok {
		return ErrShutdownOnTransport
	}

	e.lock.Lock()
	defer e.lock.Unlock()
	if e.shut {
		return nil
	}
	if e.active.Load() != 0 {
		return ErrActiveRequests
	}

	e.shut = true
	e.StopNetLog()
	if ic, ok := e.transport.(IdleCloser); ok {
		ic.CloseIdleConnections()
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.log.WithError(err).Warn("asynchttp: failed to close storage")
		}
		e.release()
	}
	e.log.Debug("asynchttp: engine shut down")
	return nil
}

// Store returns the engine's server properties store, or nil if no
// storage path was configured.
func (e *Engine) Store() *storage.Store {
	return e.store
}

// StartNetLog starts writing the diagnostic log to the file at path.
// Unless verbose is set, header values and byte counts are left out.
// If the diagnostic log is already running, StartNetLog does nothing.
func (e *Engine) StartNetLog(path string, verbose bool) error {
	e.netlogLock.Lock()
	defer e.netlogLock.Unlock()
	if e.netlog.Load() != nil {
		return nil
	}
	l, err := netlog.Open(path, verbose)
	if err != nil {
		return err
	}
	e.netlog.Store(l)
	l.Event("netlog_start", logrus.Fields{"version": Version})
	return nil
}

// StopNetLog stops the diagnostic log, if it is running.
func (e *Engine) StopNetLog() {
	e.netlogLock.Lock()
	defer e.netlogLock.Unlock()
	l := e.netlog.Swap(nil)
	if l == nil {
		return
	}
	if err := l.Close(); err != nil {
		e.log.WithError(err).Warn("asynchttp: failed to close diagnostic log")
	}
}

// AddRTTListener adds a listener for round trip time observations,
// delivered on exec. It returns ErrEstimatorDisabled unless
// Config.EnableNetworkQualityEstimator was set.
func (e *Engine) AddRTTListener(l RTTListener, exec executor.Executor) (*Registration, error) {
	if !e.estimator {
		return nil, ErrEstimatorDisabled
	}
	return e.rttListeners.add(l, exec), nil
}

// RemoveRTTListener removes the RTT listener added with reg. It
// reports whether the listener was found.
func (e *Engine) RemoveRTTListener(reg *Registration) bool {
	return e.rttListeners.remove(reg)
}

// RemoveRTTListenerValue removes the first RTT listener equal to l. It
// always returns false for a listener of incomparable type, such as
// RTTListenerFunc.
func (e *Engine) RemoveRTTListenerValue(l RTTListener) bool {
	return e.rttListeners.removeValue(l)
}

// AddThroughputListener adds a listener for throughput observations,
// delivered on exec. It returns ErrEstimatorDisabled unless
// Config.EnableNetworkQualityEstimator was set.
func (e *Engine) AddThroughputListener(l ThroughputListener, exec executor.Executor) (*Registration, error) {
	if !e.estimator {
		return nil, ErrEstimatorDisabled
	}
	return e.throughputListeners.add(l, exec), nil
}

// RemoveThroughputListener removes the throughput listener added with
// reg. It reports whether the listener was found.
func (e *Engine) RemoveThroughputListener(reg *Registration) bool {
	return e.throughputListeners.remove(reg)
}

// RemoveThroughputListenerValue removes the first throughput listener
// equal to l.
func (e *Engine) RemoveThroughputListenerValue(l ThroughputListener) bool {
	return e.throughputListeners.removeValue(l)
}

// AddRequestFinishedListener adds a listener which is told about every
// request reaching a terminal state, on exec.
func (e *Engine) AddRequestFinishedListener(l FinishedListener, exec executor.Executor) *Registration {
	return e.finishedListeners.add(l, exec)
}

// RemoveRequestFinishedListener removes the listener added with reg.
// It reports whether the listener was found.
func (e *Engine) RemoveRequestFinishedListener(reg *Registration) bool {
	return e.finishedListeners.remove(reg)
}

// RemoveRequestFinishedListenerValue removes the first request-finished
// listener equal to l.
func (e *Engine) RemoveRequestFinishedListenerValue(l FinishedListener) bool {
	return e.finishedListeners.removeValue(l)
}

// enterTransport marks the calling goroutine as a transport goroutine
// until the returned function is called.
func (e *Engine) enterTransport() func() {
	id := goid.Get()
	e.onTransport.Store(id, struct{}{})
	return func() {
		e.onTransport.Delete(id)
	}
}

func (e *Engine) throttle(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

func (e *Engine) observeRTT(rtt time.Duration, at time.Time, src Source) {
	if !e.rttObserving.Load() {
		return
	}
	e.netlogDetail("rtt", func() logrus.Fields {
		return logrus.Fields{"rtt": rtt.String(), "source": src.Name()}
	})
	e.rttListeners.dispatch(e.log, func(l RTTListener) {
		l.OnRTTObservation(rtt, at, src)
	})
}

// observeThroughput turns the body transfer of a completed request into
// a throughput observation.
func (e *Engine) observeThroughput(r *Request, info *request.Info) {
	if !e.throughputObserving.Load() {
		return
	}
	r.metricsLock.Lock()
	start := r.metrics.ResponseStart
	r.metricsLock.Unlock()
	n := info.ReceivedBytes()
	now := time.Now()
	d := now.Sub(start)
	if start.IsZero() || n == 0 || d <= 0 {
		return
	}
	kbps := int64(float64(n) * 8 / 1000 / d.Seconds())
	e.netlogDetail("throughput", func() logrus.Fields {
		return logrus.Fields{"kbps": kbps, "bytes": netlog.Bytes(n)}
	})
	e.throughputListeners.dispatch(e.log, func(l ThroughputListener) {
		l.OnThroughputObservation(kbps, now, SourceHTTP)
	})
}

// unstarted releases a request which was cancelled before it started.
func (e *Engine) unstarted(r *Request) {
	e.active.Add(-1)
	r.log.Debug("asynchttp: request cancelled before start")
}

// finished is called once per started request, after its terminal
// callback ran or could not be delivered.
func (e *Engine) finished(r *Request, reason request.Reason, info *request.Info, err error) {
	fi := r.finishedInfo(reason, info, err)
	e.endSpan(r, fi)
	if e.store != nil && info != nil {
		e.record(r, info, &fi.Metrics)
	}
	e.netlogEvent("request_end", r, logrus.Fields{
		"reason":   reason.Name(),
		"duration": fi.Metrics.Total().String(),
	})

	e.active.Add(-1)
	r.log.WithField("reason", reason).Debug("asynchttp: request finished")
	e.finishedListeners.dispatch(e.log, func(l FinishedListener) {
		l.OnRequestFinished(fi)
	})
}

func (e *Engine) record(r *Request, info *request.Info, m *request.Metrics) {
	u, err := urlpkg.Parse(info.URL())
	if err != nil {
		return
	}
	props := storage.ServerProperties{
		Protocol: info.NegotiatedProtocol,
		Updated:  time.Now(),
	}
	if !m.ConnectEnd.IsZero() && !m.ConnectStart.IsZero() {
		props.RTT = m.ConnectEnd.Sub(m.ConnectStart)
	}
	if err = e.store.Put(storage.Origin(u), props); err != nil {
		r.log.WithError(err).Warn("asynchttp: failed to store server properties")
	}
}

func (e *Engine) netlogEvent(kind string, r *Request, fields logrus.Fields) {
	l := e.netlog.Load()
	if l == nil {
		return
	}
	fields["request_id"] = r.id.String()
	l.Event(kind, fields)
}

func (e *Engine) netlogDetail(kind string, fields func() logrus.Fields) {
	if l := e.netlog.Load(); l != nil {
		l.Detail(kind, fields)
	}
}
