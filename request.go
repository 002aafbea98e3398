// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asynchttp

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogama/asynchttp/executor"
	"github.com/gogama/asynchttp/netlog"
	"github.com/gogama/asynchttp/request"
	"github.com/gogama/asynchttp/timeout"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// A Priority is a hint about the relative importance of a request.
// The engine records it in traces and the diagnostic log.
type Priority int

const (
	PriorityIdle Priority = iota
	PriorityLowest
	PriorityLow
	PriorityMedium
	PriorityHighest
)

var priorityNames = []string{
	"Idle",
	"Lowest",
	"Low",
	"Medium",
	"Highest",
}

// Name returns the name of the priority.
func (p Priority) Name() string {
	return priorityNames[int(p)]
}

// String returns the name of the priority.
func (p Priority) String() string {
	return p.Name()
}

// redirectDrainLimit caps how much of a redirect response body is read
// so its connection can be reused.
const redirectDrainLimit = 4 << 10

// A Request is one HTTP exchange, including the redirects it follows,
// driven asynchronously through a strict lifecycle. Create a Request
// with Engine.NewRequest, configure it, then call Start.
//
// The events of the exchange are delivered to the request's Callback.
// None of Request's methods block. All of them are safe to call from
// any goroutine, including from within a Callback.
//
// The lifecycle is described by State. Every transition is made by an
// atomic compare-and-swap, so exactly one of competing transitions
// wins: in particular, when Cancel races with the completion or
// failure of the request, exactly one terminal callback is delivered.
type Request struct {
	engine   *Engine
	id       uuid.UUID
	url      string
	callback Callback
	exec     executor.Executor
	serial   *executor.Serial
	log      logrus.FieldLogger
	ctx      context.Context
	cancel   context.CancelFunc

	state  atomic.Int32
	sub    atomic.Int32
	info   atomic.Pointer[request.Info]
	target atomic.Pointer[hopTarget]
	pipe   atomic.Pointer[io.PipeReader]

	// Configuration, guarded by lock until Start.
	lock          sync.Mutex
	method        string
	header        request.Header
	upload        *uploadSink
	allowDirect   bool
	uploadExec    executor.Executor
	disableCache  bool
	priority      Priority
	timeoutPolicy timeout.Policy
	annotations   []interface{}
	watchdog      *timeout.Watchdog
	span          trace.Span

	// Owned by the serial executor after Start.
	chain           []string
	current         string
	redirects       int
	pendingURL      string
	pendingMethod   string
	pendingKeepBody bool
	sendBody        bool
	hop             *hop
	body            io.ReadCloser
	eof             bool
	readErr         error

	metricsLock sync.Mutex
	metrics     request.Metrics
}

type hopTarget struct {
	method string
	url    string
}

// A hop is one round trip: the initial request, or the request made
// after following a redirect. Owned by the serial executor.
type hop struct {
	req        *http.Request
	resp       *http.Response
	uploadDone bool
	handled    bool
}

func newRequest(e *Engine, url string, cb Callback, exec executor.Executor) *Request {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Request{
		engine:   e,
		id:       uuid.New(),
		url:      url,
		callback: cb,
		exec:     executor.NewDirectGuard(exec),
		serial:   executor.NewSerial(e.taskExec),
		ctx:      ctx,
		cancel:   cancel,
		priority: PriorityMedium,
	}
	r.log = e.log.WithFields(logrus.Fields{
		"request_id": r.id.String(),
		"url":        url,
	})
	r.target.Store(&hopTarget{method: http.MethodGet, url: url})
	return r
}

// ID returns the unique identifier of the request.
func (r *Request) ID() uuid.UUID {
	return r.id
}

// State returns the current lifecycle state of the request.
func (r *Request) State() State {
	return State(r.state.Load())
}

// IsDone reports whether the request has reached a terminal state.
func (r *Request) IsDone() bool {
	return r.State().Terminal()
}

// configure runs f under the configuration lock if the request has not
// started yet.
func (r *Request) configure(f func() error) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.State() != NotStarted {
		return ErrAlreadyStarted
	}
	return f()
}

// SetMethod sets the HTTP method. The default is GET, or POST if an
// upload data provider is set. It returns an error wrapping
// request.ErrInvalidMethod if method is not an HTTP token.
func (r *Request) SetMethod(method string) error {
	return r.configure(func() error {
		if err := request.ValidMethod(method); err != nil {
			return err
		}
		r.method = method
		return nil
	})
}

// AddHeader adds a request header, replacing any value already added
// under the same case-insensitive name. It returns an error wrapping
// request.ErrInvalidHeaderName or request.ErrInvalidHeaderValue, and
// leaves the headers unchanged, if the header would corrupt the
// request.
func (r *Request) AddHeader(name, value string) error {
	return r.configure(func() error {
		return r.header.Set(name, value)
	})
}

// SetUploadDataProvider sets the provider of the request body. The
// provider's methods are called on exec, which must not run tasks
// inline unless AllowDirectExecutor is called. A Content-Type header
// must be added first; otherwise SetUploadDataProvider returns
// ErrNoContentType and the request is left without a body.
func (r *Request) SetUploadDataProvider(p UploadDataProvider, exec executor.Executor) error {
	if p == nil {
		panic("asynchttp: nil upload data provider")
	}
	if exec == nil {
		panic("asynchttp: nil upload executor")
	}

	return r.configure(func() error {
		if !r.header.Has("Content-Type") {
			return ErrNoContentType
		}
		r.upload = newUploadSink(r, p, nil)
		r.uploadExec = exec
		return nil
	})
}

// AllowDirectExecutor permits the upload executor to run provider
// calls inline, on the goroutine which submits them. Use it only with a
// provider whose calls never block.
func (r *Request) AllowDirectExecutor() error {
	return r.configure(func() error {
		r.allowDirect = true
		return nil
	})
}

// DisableCache asks caches between the engine and the origin server
// not to serve the response from cache.
func (r *Request) DisableCache() error {
	return r.configure(func() error {
		r.disableCache = true
		return nil
	})
}

// SetPriority sets the priority of the request. The default is
// PriorityMedium.
func (r *Request) SetPriority(p Priority) error {
	if p < PriorityIdle || p > PriorityHighest {
		panic("asynchttp: invalid priority")
	}

	return r.configure(func() error {
		r.priority = p
		return nil
	})
}

// SetTimeoutPolicy makes the request cancel itself when the policy's
// budget for the current hop runs out. By default a request never
// times out.
func (r *Request) SetTimeoutPolicy(p timeout.Policy) error {
	return r.configure(func() error {
		r.timeoutPolicy = p
		return nil
	})
}

// AddAnnotation attaches an arbitrary value to the request. The values
// are handed to request-finished listeners in request.FinishedInfo.
func (r *Request) AddAnnotation(v interface{}) error {
	return r.configure(func() error {
		r.annotations = append(r.annotations, v)
		return nil
	})
}

// Start starts the request.
//
// If the request was already cancelled, or has already failed, Start
// does nothing. If it was started before, Start returns
// ErrAlreadyStarted.
func (r *Request) Start() error {
	r.lock.Lock()
	if !r.state.CompareAndSwap(int32(NotStarted), int32(Started)) {
		r.lock.Unlock()
		return r.illegal(ErrAlreadyStarted)
	}
	r.sub.Store(int32(StatusConnecting))
	if r.method == "" {
		r.method = http.MethodGet
		if r.upload != nil {
			r.method = http.MethodPost
		}
	}
	if r.upload != nil {
		r.upload.exec = r.uploadExec
		if !r.allowDirect {
			r.upload.exec = executor.NewDirectGuard(r.uploadExec)
		}
	}
	r.chain = []string{r.url}
	r.current = r.url
	r.sendBody = r.upload != nil
	r.span = r.engine.startSpan(r)
	if r.timeoutPolicy != nil {
		r.watchdog = timeout.Watch(r, r.timeoutPolicy)
	}
	r.lock.Unlock()

	r.metricsLock.Lock()
	r.metrics.RequestStart = time.Now()
	r.metricsLock.Unlock()
	r.log.Debug("asynchttp: request started")
	r.engine.netlogEvent("request_start", r, logrus.Fields{"method": r.method, "priority": r.priority.Name()})

	if err := r.serial.Execute(r.connect); err != nil {
		r.fail(r.rejected(err))
	}
	return nil
}

// FollowRedirect follows the redirect most recently reported to
// Callback.OnRedirectReceived.
func (r *Request) FollowRedirect() error {
	if !r.state.CompareAndSwap(int32(AwaitingFollowRedirect), int32(Started)) {
		return r.illegal(ErrIllegalState)
	}
	r.sub.Store(int32(StatusConnecting))
	if err := r.serial.Execute(r.followRedirect); err != nil {
		r.fail(r.rejected(err))
	}
	return nil
}

// Read reads the next part of the response body into buf. The outcome
// is delivered to Callback.OnReadCompleted, or to Callback.OnSucceeded
// at the end of the body. Read may only be called once the response
// has started, and not again until the previous Read completed.
func (r *Request) Read(buf []byte) error {
	if len(buf) == 0 {
		return ErrEmptyBuffer
	}
	if !r.state.CompareAndSwap(int32(AwaitingRead), int32(Reading)) {
		return r.illegal(ErrIllegalState)
	}
	if err := r.serial.Execute(func() { r.read(buf) }); err != nil {
		r.fail(r.rejected(err))
	}
	return nil
}

// Cancel cancels the request. It may be called at any time from any
// goroutine, any number of times.
//
// If the request was started and has not reached a terminal state,
// Callback.OnCanceled is delivered once. A request which was never
// started is marked cancelled without any callback. Cancelling a
// request in a terminal state has no effect.
func (r *Request) Cancel() {
	for {
		s := r.State()
		if s.Terminal() {
			return
		}
		if r.state.CompareAndSwap(int32(s), int32(Cancelled)) {
			if s == NotStarted {
				r.cancel()
				r.engine.unstarted(r)
				return
			}
			r.log.WithField("state", s).Debug("asynchttp: request cancelled")
			r.teardown()
			r.terminate(request.Canceled, nil)
			return
		}
	}
}

// GetStatus reports the current status of the request to l, on the
// request's callback executor.
func (r *Request) GetStatus(l StatusListener) {
	if l == nil {
		panic("asynchttp: nil status listener")
	}

	st := statusOf(r.State(), Status(r.sub.Load()))
	err := r.exec.Execute(func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Errorf("asynchttp: status listener panicked: %v", p)
			}
		}()
		l.OnStatus(r, st)
	})
	if err != nil {
		r.log.WithError(err).Warn("asynchttp: status not delivered")
	}
}

// illegal returns nil if the request already failed or was cancelled,
// since the caller cannot avoid that race, and err otherwise.
func (r *Request) illegal(err error) error {
	if s := r.State(); s == Cancelled || s == Error {
		return nil
	}
	return err
}

func (r *Request) rejected(err error) *TransportError {
	t := r.target.Load()
	return transportError(t.method, t.url, err)
}

func (r *Request) connect() {
	if r.State() != Started {
		return
	}

	h := &hop{}
	var body io.Reader
	var pw *io.PipeWriter
	var length int64
	if r.sendBody {
		n, err := r.upload.length()
		if err != nil {
			r.fail(err)
			return
		}
		if n == 0 {
			body = http.NoBody
			h.uploadDone = true
		} else {
			var pr *io.PipeReader
			pr, pw = io.Pipe()
			r.pipe.Store(pr)
			body, length = pr, n
		}
	} else {
		h.uploadDone = true
	}

	r.target.Store(&hopTarget{method: r.method, url: r.current})
	ctx := httptrace.WithClientTrace(r.ctx, r.clientTrace())
	req, err := http.NewRequestWithContext(ctx, r.method, r.current, body)
	if err != nil {
		r.fail(transportError(r.method, r.current, err))
		return
	}
	if pw != nil {
		req.ContentLength = length
	}
	if ua := r.engine.userAgent; ua != "" && !r.header.Has("User-Agent") {
		req.Header.Set("User-Agent", ua)
	}
	r.header.Apply(req.Header)
	if r.upload != nil && !r.sendBody {
		req.Header.Del("Content-Type")
	}
	if r.disableCache && req.Header.Get("Cache-Control") == "" {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}
	h.req = req
	r.hop = h

	if err = r.engine.transportExec.Execute(func() { r.roundTrip(h) }); err != nil {
		if pw != nil {
			_ = pw.CloseWithError(err)
		}
		r.fail(r.rejected(err))
		return
	}
	if pw != nil {
		r.upload.begin(pw)
	}
}

// roundTrip runs on a transport goroutine and posts the outcome back
// to the serial executor.
func (r *Request) roundTrip(h *hop) {
	defer r.engine.enterTransport()()

	var resp *http.Response
	err := r.engine.throttle(h.req.Context())
	if err == nil {
		resp, err = r.engine.transport.RoundTrip(h.req)
	} else if h.req.Body != nil {
		_ = h.req.Body.Close()
	}
	if perr := r.serial.Execute(func() { r.onRoundTrip(h, resp, err) }); perr != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		r.fail(r.rejected(perr))
	}
}

func (r *Request) onRoundTrip(h *hop, resp *http.Response, err error) {
	if r.State() != Started || h != r.hop {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return
	}
	if err != nil {
		r.fail(transportError(h.req.Method, h.req.URL.String(), err))
		return
	}

	h.resp = resp
	if h.uploadDone {
		r.processResponse(h)
	}
}

// uploadFinished is called by the upload sink, on the serial executor,
// once the body was sent or the transport stopped consuming it.
func (r *Request) uploadFinished() {
	h := r.hop
	h.uploadDone = true
	if h.resp != nil {
		r.processResponse(h)
	} else {
		r.sub.CompareAndSwap(int32(StatusSendingRequest), int32(StatusWaitingForResponse))
	}
}

func (r *Request) processResponse(h *hop) {
	h.handled = true
	resp := h.resp
	info := request.NewInfo(r.chain, resp)
	r.info.Store(info)
	r.engine.netlogEvent("response", r, logrus.Fields{
		"status":   resp.StatusCode,
		"protocol": info.NegotiatedProtocol,
	})
	r.engine.netlogDetail("response_headers", func() logrus.Fields {
		names := make([]string, 0, len(resp.Header))
		for name := range resp.Header {
			names = append(names, name)
		}
		sort.Strings(names)
		return logrus.Fields{
			"request_id":     r.id.String(),
			"headers":        names,
			"content_length": netlog.Bytes(resp.ContentLength),
		}
	})

	if loc := resp.Header.Get("Location"); loc != "" && request.IsRedirect(resp.StatusCode) {
		drain(resp.Body)
		target, err := request.ResolveLocation(r.current, loc)
		if err != nil {
			r.fail(transportError(r.method, r.current, err))
			return
		}
		r.pendingURL = target
		r.pendingMethod, r.pendingKeepBody = request.RedirectMethod(r.method, resp.StatusCode)
		r.chain = append(r.chain, target)
		r.spanEvent("redirect", target)
		if !r.state.CompareAndSwap(int32(Started), int32(RedirectReceived)) {
			return
		}
		r.deliver("OnRedirectReceived", RedirectReceived, AwaitingFollowRedirect, func() error {
			return r.callback.OnRedirectReceived(r, info, target)
		})
		return
	}

	if resp.Body != http.NoBody {
		r.body = resp.Body
	} else {
		r.eof = true
	}
	r.deliver("OnResponseStarted", Started, AwaitingRead, func() error {
		return r.callback.OnResponseStarted(r, info)
	})
}

func (r *Request) followRedirect() {
	if r.State() != Started {
		return
	}

	r.current = r.pendingURL
	if r.pendingMethod != r.method {
		r.method = r.pendingMethod
	}
	if !r.pendingKeepBody {
		r.sendBody = false
	}
	r.redirects++
	if r.watchdog != nil {
		r.watchdog.Rearm(r.redirects)
	}
	r.connect()
}

func (r *Request) read(buf []byte) {
	if r.State() != Reading {
		return
	}

	var n int
	var err error
	switch {
	case r.eof || r.body == nil:
		err = io.EOF
	case r.readErr != nil:
		err = r.readErr
	default:
		n, err = r.body.Read(buf)
		if n > 0 && err != nil {
			if err == io.EOF {
				r.eof = true
			} else {
				r.readErr = err
			}
			err = nil
		}
	}

	info := r.info.Load()
	if err == nil {
		info.AddReceivedBytes(int64(n))
		data := buf[:n]
		r.deliver("OnReadCompleted", Reading, AwaitingRead, func() error {
			return r.callback.OnReadCompleted(r, info, data)
		})
		return
	}

	if err != io.EOF {
		t := r.target.Load()
		r.fail(transportError(t.method, t.url, err))
		return
	}

	r.closeBody()
	if r.state.CompareAndSwap(int32(Reading), int32(Complete)) {
		r.engine.observeThroughput(r, info)
		r.teardown()
		r.terminate(request.Succeeded, nil)
	}
}

// deliver invokes a non-terminal callback on the caller's executor,
// provided the request can still move from one state to the next when
// the task runs. A failing callback fails the request.
func (r *Request) deliver(name string, from, to State, call func() error) {
	err := r.exec.Execute(func() {
		if !r.state.CompareAndSwap(int32(from), int32(to)) {
			return
		}
		if err := invoke(call); err != nil {
			r.fail(&CallbackError{Callback: name, Err: err})
		}
	})
	if err != nil {
		r.fail(r.rejected(err))
	}
}

func invoke(call func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError(p)
		}
	}()
	return call()
}

// fail moves the request to Error, unless it already reached a
// terminal state, and delivers OnFailed. It may be called from any
// goroutine.
func (r *Request) fail(err error) {
	for {
		s := r.State()
		if s.Terminal() || s == NotStarted {
			return
		}
		if r.state.CompareAndSwap(int32(s), int32(Error)) {
			break
		}
	}

	r.log.WithError(err).Debug("asynchttp: request failed")
	r.teardown()
	r.terminate(request.Failed, err)
}

// teardown releases the request's resources after it reached a
// terminal state. It never blocks.
func (r *Request) teardown() {
	r.cancel()
	if p := r.pipe.Load(); p != nil {
		_ = p.CloseWithError(context.Canceled)
	}

	r.lock.Lock()
	w, upload := r.watchdog, r.upload
	r.lock.Unlock()
	if w != nil {
		w.Stop()
	}
	if upload != nil {
		upload.close()
	}
	if err := r.serial.Execute(r.closeBody); err != nil {
		r.log.WithError(err).Warn("asynchttp: response body not closed")
	}
}

func (r *Request) closeBody() {
	if r.body != nil {
		_ = r.body.Close()
		r.body = nil
	}
	if h := r.hop; h != nil && h.resp != nil && !h.handled {
		h.handled = true
		_ = h.resp.Body.Close()
	}
}

// terminate delivers the terminal callback, then hands the request back
// to the engine. The engine is told even if the callback could not be
// delivered, so the request never stays active forever.
func (r *Request) terminate(reason request.Reason, err error) {
	info := r.info.Load()
	finished := func() {
		r.engine.finished(r, reason, info, err)
	}
	xerr := r.exec.Execute(func() {
		defer finished()
		defer func() {
			if p := recover(); p != nil {
				r.log.WithField("reason", reason).Errorf("asynchttp: terminal callback panicked: %v", p)
			}
		}()
		switch reason {
		case request.Succeeded:
			r.callback.OnSucceeded(r, info)
		case request.Failed:
			r.callback.OnFailed(r, info, err)
		case request.Canceled:
			r.callback.OnCanceled(r, info)
		}
	})
	if xerr != nil {
		r.log.WithError(xerr).WithField("reason", reason).Error("asynchttp: terminal callback not delivered")
		finished()
	}
}

func (r *Request) addSentBytes(n int64) {
	r.metricsLock.Lock()
	r.metrics.SentBytes += n
	r.metricsLock.Unlock()
}

func (r *Request) mark(field *time.Time) time.Time {
	now := time.Now()
	r.metricsLock.Lock()
	*field = now
	r.metricsLock.Unlock()
	return now
}

func (r *Request) setSub(s Status) {
	if r.State() == Started {
		r.sub.Store(int32(s))
	}
}

// clientTrace refines the sub-status of a Started request and collects
// metrics and network quality observations. Its hooks run on transport
// goroutines.
func (r *Request) clientTrace() *httptrace.ClientTrace {
	m := &r.metrics
	return &httptrace.ClientTrace{
		GetConn: func(string) {
			r.setSub(StatusConnecting)
		},
		DNSStart: func(httptrace.DNSStartInfo) {
			r.setSub(StatusResolvingHost)
			r.mark(&m.DNSStart)
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			r.setSub(StatusConnecting)
			r.mark(&m.DNSEnd)
		},
		ConnectStart: func(string, string) {
			r.mark(&m.ConnectStart)
		},
		ConnectDone: func(_, _ string, err error) {
			if err != nil {
				return
			}
			end := r.mark(&m.ConnectEnd)
			r.metricsLock.Lock()
			rtt := end.Sub(m.ConnectStart)
			r.metricsLock.Unlock()
			r.engine.observeRTT(rtt, end, SourceTCP)
		},
		TLSHandshakeStart: func() {
			r.setSub(StatusSSLHandshake)
			r.mark(&m.TLSStart)
		},
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			r.mark(&m.TLSEnd)
		},
		GotConn: func(info httptrace.GotConnInfo) {
			r.setSub(StatusSendingRequest)
			r.mark(&m.SendingStart)
			r.metricsLock.Lock()
			m.SocketReused = info.Reused
			r.metricsLock.Unlock()
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			r.setSub(StatusWaitingForResponse)
			r.mark(&m.SendingEnd)
		},
		GotFirstResponseByte: func() {
			now := r.mark(&m.ResponseStart)
			r.metricsLock.Lock()
			sent := m.SendingEnd
			r.metricsLock.Unlock()
			if !sent.IsZero() {
				r.engine.observeRTT(now.Sub(sent), now, SourceHTTP)
			}
		},
	}
}

func (r *Request) finishedInfo(reason request.Reason, info *request.Info, err error) *request.FinishedInfo {
	r.lock.Lock()
	annotations := append([]interface{}(nil), r.annotations...)
	r.lock.Unlock()

	r.metricsLock.Lock()
	r.metrics.RequestEnd = time.Now()
	r.metrics.ReceivedBytes = info.ReceivedBytes()
	m := r.metrics
	r.metricsLock.Unlock()

	return &request.FinishedInfo{
		ID:          r.id,
		URL:         r.url,
		Annotations: annotations,
		Metrics:     m,
		Reason:      reason,
		Response:    info,
		Err:         err,
	}
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, redirectDrainLimit))
	_ = body.Close()
}
