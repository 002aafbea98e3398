// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asynchttp

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gogama/asynchttp/executor"
	"github.com/gogama/asynchttp/request"
)

// An UploadDataProvider supplies the body of a request.
//
// The engine calls Read and Rewind on the executor given to
// Request.SetUploadDataProvider, one call at a time, and waits for the
// provider to report the outcome through the UploadDataSink before
// making the next call. The provider may report from any goroutine, at
// any later time.
type UploadDataProvider interface {
	// Length returns the length of the body in bytes, or -1 if the
	// length is unknown. A body of unknown length is sent with chunked
	// transfer encoding.
	Length() int64

	// Read copies the next part of the body into the beginning of buf
	// and then calls sink.OnReadSucceeded with the number of bytes
	// copied, or calls sink.OnReadError.
	//
	// A provider of unknown length signals the end of the body by
	// passing finalChunk=true. A provider of known length may do the
	// same on the read which completes the body, but signalling the
	// final chunk before the declared length was supplied fails the
	// request.
	Read(sink UploadDataSink, buf []byte)

	// Rewind resets the provider to the beginning of the body and then
	// calls sink.OnRewindSucceeded or sink.OnRewindError. The engine
	// rewinds before sending the body again, for example after a 307
	// or 308 redirect.
	Rewind(sink UploadDataSink)

	// Close releases the provider's resources. It is called exactly
	// once, when the request reaches its terminal state.
	Close() error
}

// An UploadDataSink receives the outcome of UploadDataProvider calls.
// Its methods may be called from any goroutine.
type UploadDataSink interface {
	OnReadSucceeded(n int, finalChunk bool)
	OnReadError(err error)
	OnRewindSucceeded()
	OnRewindError(err error)
}

type sinkState int32

const (
	sinkNotStarted sinkState = iota
	sinkAwaitingReadResult
	sinkAwaitingRewindResult
	sinkUploading
)

// uploadBufferCap is the largest buffer handed to a provider.
const uploadBufferCap = 8192

// uploadBufferSize returns the buffer size for a body of the given
// length. A small known length gets one spare byte so an oversupplying
// provider can be detected.
func uploadBufferSize(length int64) int {
	if length >= 0 && length <= uploadBufferCap {
		return int(length) + 1
	}
	return uploadBufferCap
}

// uploadSink streams a provider's body into the pipe of the current
// hop. Unless noted otherwise its fields are owned by the request's
// serial executor.
type uploadSink struct {
	r        *Request
	provider UploadDataProvider
	exec     executor.Executor
	state    atomic.Int32

	total   int64
	sized   bool
	written int64
	buf     []byte
	w       *io.PipeWriter
	readOne bool

	closeOnce sync.Once
}

func newUploadSink(r *Request, p UploadDataProvider, exec executor.Executor) *uploadSink {
	return &uploadSink{
		r:        r,
		provider: p,
		exec:     exec,
	}
}

// length returns the declared body length, asking the provider the
// first time only.
func (s *uploadSink) length() (n int64, err error) {
	if s.sized {
		return s.total, nil
	}

	defer func() {
		if p := recover(); p != nil {
			err = &UploadError{Op: "length", Err: panicError(p)}
		}
	}()
	n = s.provider.Length()
	if n < -1 {
		return 0, &UploadError{Op: "length", Err: fmt.Errorf("invalid length %d", n)}
	}
	s.total, s.sized = n, true
	return n, nil
}

// begin starts sending the body into w. The first hop reads from the
// start; later hops rewind first.
func (s *uploadSink) begin(w *io.PipeWriter) {
	s.w = w
	s.written = 0
	if s.buf == nil {
		s.buf = make([]byte, uploadBufferSize(s.total))
	}
	if s.readOne {
		s.state.Store(int32(sinkAwaitingRewindResult))
		s.submit("rewind", func() { s.provider.Rewind(s) })
		return
	}
	s.readOne = true
	s.requestRead()
}

func (s *uploadSink) requestRead() {
	buf := s.buf
	s.state.Store(int32(sinkAwaitingReadResult))
	s.submit("read", func() { s.provider.Read(s, buf) })
}

func (s *uploadSink) submit(op string, call func()) {
	err := s.exec.Execute(func() {
		defer func() {
			if p := recover(); p != nil {
				s.r.fail(&UploadError{Op: op, Err: panicError(p)})
			}
		}()
		call()
	})
	if err != nil {
		s.r.fail(&UploadError{Op: op, Err: err})
	}
}

// transition moves the sink from one state to another on behalf of a
// provider callback. A callback arriving in the wrong state fails the
// request, unless the request is already over.
func (s *uploadSink) transition(from, to sinkState, op string) bool {
	if s.state.CompareAndSwap(int32(from), int32(to)) {
		return true
	}
	if s.r.IsDone() {
		return false
	}
	s.r.log.WithField("sink_state", s.state.Load()).Error("asynchttp: upload sink called out of order")
	s.r.fail(&UploadError{Op: op, Err: ErrUploadSinkState})
	return false
}

func (s *uploadSink) post(task func()) {
	err := s.r.serial.Execute(func() {
		if s.r.State() != Started {
			return
		}
		task()
	})
	if err != nil {
		s.r.fail(s.r.rejected(err))
	}
}

func (s *uploadSink) OnReadSucceeded(n int, finalChunk bool) {
	if !s.transition(sinkAwaitingReadResult, sinkUploading, "read") {
		return
	}
	s.post(func() { s.write(n, finalChunk) })
}

func (s *uploadSink) OnReadError(err error) {
	if !s.transition(sinkAwaitingReadResult, sinkNotStarted, "read") {
		return
	}
	if err == nil {
		err = errors.New("unspecified read error")
	}
	s.r.fail(&UploadError{Op: "read", Err: err})
}

func (s *uploadSink) OnRewindSucceeded() {
	if !s.transition(sinkAwaitingRewindResult, sinkNotStarted, "rewind") {
		return
	}
	s.post(func() {
		s.written = 0
		s.requestRead()
	})
}

func (s *uploadSink) OnRewindError(err error) {
	if !s.transition(sinkAwaitingRewindResult, sinkNotStarted, "rewind") {
		return
	}
	if err == nil {
		err = errors.New("unspecified rewind error")
	}
	s.r.fail(&UploadError{Op: "rewind", Err: err})
}

func (s *uploadSink) write(n int, finalChunk bool) {
	if n < 0 || n > len(s.buf) {
		s.r.fail(&UploadError{Op: "read", Err: fmt.Errorf("%w: read %d bytes into a %d byte buffer", ErrUploadOversupply, n, len(s.buf))})
		return
	}
	if s.total >= 0 && s.written+int64(n) > s.total {
		s.r.fail(&UploadError{Op: "read", Err: fmt.Errorf("%w: read %d bytes, declared %d", ErrUploadOversupply, s.written+int64(n), s.total)})
		return
	}

	if n > 0 {
		// Write returns once the transport has consumed every byte,
		// so a short chunk is never held back.
		if _, err := s.w.Write(s.buf[:n]); err != nil {
			s.abandon(err)
			return
		}
		s.written += int64(n)
		s.r.addSentBytes(int64(n))
	}

	switch {
	case s.total >= 0 && s.written == s.total:
		s.finish()
	case s.total >= 0 && finalChunk:
		s.r.fail(&UploadError{Op: "read", Err: fmt.Errorf("%w: final chunk after %d of %d bytes", ErrUploadUndersupply, s.written, s.total)})
	case s.total < 0 && finalChunk:
		s.finish()
	default:
		s.requestRead()
	}
}

func (s *uploadSink) finish() {
	s.state.Store(int32(sinkNotStarted))
	_ = s.w.Close()
	s.r.uploadFinished()
}

// abandon ends the upload after the transport stopped consuming the
// body. The round trip reports its own outcome, so the write error is
// not a failure of the request.
func (s *uploadSink) abandon(err error) {
	s.r.log.WithError(err).Debug("asynchttp: transport stopped reading upload body")
	s.state.Store(int32(sinkNotStarted))
	_ = s.w.CloseWithError(err)
	s.r.uploadFinished()
}

// close closes the provider on its own executor, once. It may be
// called from any goroutine.
func (s *uploadSink) close() {
	s.closeOnce.Do(func() {
		err := s.exec.Execute(func() {
			defer func() {
				if p := recover(); p != nil {
					s.r.log.Errorf("asynchttp: upload data provider Close panicked: %v", p)
				}
			}()
			if err := s.provider.Close(); err != nil {
				s.r.log.WithError(err).Warn("asynchttp: upload data provider Close failed")
			}
		})
		if err != nil {
			s.r.log.WithError(err).Warn("asynchttp: upload data provider Close not delivered")
		}
	})
}

// NewBytesProvider returns an UploadDataProvider which supplies b. The
// slice is not copied and must not be modified until the request is
// done.
func NewBytesProvider(b []byte) UploadDataProvider {
	return &bytesProvider{b: b}
}

// NewBodyProvider returns an UploadDataProvider which supplies body.
// The body may be nil, a string, a []byte, an io.Reader, or an
// io.ReadCloser, as accepted by request.BodyBytes. A reader is read to
// the end, and closed if it is a Closer, before NewBodyProvider
// returns.
func NewBodyProvider(body interface{}) (UploadDataProvider, error) {
	b, err := request.BodyBytes(body)
	if err != nil {
		return nil, err
	}
	return NewBytesProvider(b), nil
}

type bytesProvider struct {
	b   []byte
	off int
}

func (p *bytesProvider) Length() int64 {
	return int64(len(p.b))
}

func (p *bytesProvider) Read(sink UploadDataSink, buf []byte) {
	n := copy(buf, p.b[p.off:])
	p.off += n
	sink.OnReadSucceeded(n, false)
}

func (p *bytesProvider) Rewind(sink UploadDataSink) {
	p.off = 0
	sink.OnRewindSucceeded()
}

func (p *bytesProvider) Close() error {
	return nil
}

// NewReaderProvider returns an UploadDataProvider which supplies the
// contents of r. The length is the declared length of the body, or -1
// if unknown.
//
// The provider can be rewound only if r is an io.Seeker. Closing the
// provider closes r if r is an io.Closer.
func NewReaderProvider(r io.Reader, length int64) UploadDataProvider {
	return &readerProvider{r: r, length: length}
}

type readerProvider struct {
	r      io.Reader
	length int64
}

func (p *readerProvider) Length() int64 {
	return p.length
}

func (p *readerProvider) Read(sink UploadDataSink, buf []byte) {
	n, err := io.ReadFull(p.r, buf)
	switch {
	case err == nil:
		sink.OnReadSucceeded(n, false)
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		sink.OnReadSucceeded(n, true)
	default:
		sink.OnReadError(err)
	}
}

func (p *readerProvider) Rewind(sink UploadDataSink) {
	s, ok := p.r.(io.Seeker)
	if !ok {
		sink.OnRewindError(errors.New("asynchttp: reader provider cannot rewind"))
		return
	}
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		sink.OnRewindError(err)
		return
	}
	sink.OnRewindSucceeded()
}

func (p *readerProvider) Close() error {
	if c, ok := p.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
