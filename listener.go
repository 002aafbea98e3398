// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package asynchttp

import (
	"reflect"
	"sync"
	"time"

	"github.com/gogama/asynchttp/executor"
	"github.com/gogama/asynchttp/request"
	"github.com/sirupsen/logrus"
)

// A Source identifies where a network quality observation came from.
type Source int

const (
	// SourceTCP identifies observations of TCP connection setup.
	SourceTCP Source = iota
	// SourceHTTP identifies observations of HTTP exchanges: the time
	// from sending a request until its first response byte, or the
	// rate at which a response body was received.
	SourceHTTP
)

var sourceNames = []string{
	"TCP",
	"HTTP",
}

// Name returns the name of the source.
func (s Source) Name() string {
	return sourceNames[int(s)]
}

// String returns the name of the source.
func (s Source) String() string {
	return s.Name()
}

// An RTTListener receives round trip time observations.
type RTTListener interface {
	OnRTTObservation(rtt time.Duration, at time.Time, src Source)
}

// The RTTListenerFunc type is an adapter to allow the use of ordinary
// functions as RTT listeners.
type RTTListenerFunc func(rtt time.Duration, at time.Time, src Source)

// OnRTTObservation calls f(rtt, at, src).
func (f RTTListenerFunc) OnRTTObservation(rtt time.Duration, at time.Time, src Source) {
	f(rtt, at, src)
}

// A ThroughputListener receives throughput observations, in kilobits
// per second.
type ThroughputListener interface {
	OnThroughputObservation(kbps int64, at time.Time, src Source)
}

// The ThroughputListenerFunc type is an adapter to allow the use of
// ordinary functions as throughput listeners.
type ThroughputListenerFunc func(kbps int64, at time.Time, src Source)

// OnThroughputObservation calls f(kbps, at, src).
func (f ThroughputListenerFunc) OnThroughputObservation(kbps int64, at time.Time, src Source) {
	f(kbps, at, src)
}

// A FinishedListener is told about every request which reaches a
// terminal state, after the request's terminal callback has run.
type FinishedListener interface {
	OnRequestFinished(info *request.FinishedInfo)
}

// The FinishedListenerFunc type is an adapter to allow the use of
// ordinary functions as request-finished listeners.
type FinishedListenerFunc func(info *request.FinishedInfo)

// OnRequestFinished calls f(info).
func (f FinishedListenerFunc) OnRequestFinished(info *request.FinishedInfo) {
	f(info)
}

// A Registration is the handle returned when a listener is added to an
// Engine. Pass it back to the matching Remove method to remove the
// listener.
type Registration struct {
	kind string
}

type listenerEntry[L any] struct {
	reg  *Registration
	l    L
	exec executor.Executor
}

// A registry holds the listeners of one kind. The onFirst and onLast
// hooks run under the registry lock when the registry goes from empty
// to non-empty and back.
type registry[L any] struct {
	kind    string
	lock    sync.Mutex
	entries []*listenerEntry[L]
	onFirst func()
	onLast  func()
}

func (g *registry[L]) add(l L, exec executor.Executor) *Registration {
	if reflect.ValueOf(&l).Elem().IsNil() {
		panic("asynchttp: nil listener")
	}
	if exec == nil {
		panic("asynchttp: nil listener executor")
	}

	e := &listenerEntry[L]{
		reg:  &Registration{kind: g.kind},
		l:    l,
		exec: executor.NewDirectGuard(exec),
	}
	g.lock.Lock()
	defer g.lock.Unlock()
	g.entries = append(g.entries, e)
	if len(g.entries) == 1 && g.onFirst != nil {
		g.onFirst()
	}
	return e.reg
}

func (g *registry[L]) remove(reg *Registration) bool {
	if reg == nil {
		return false
	}

	g.lock.Lock()
	defer g.lock.Unlock()
	for i, e := range g.entries {
		if e.reg == reg {
			g.removeAt(i)
			return true
		}
	}
	return false
}

// removeValue removes the first listener equal to l. It returns false
// without removing anything if the dynamic type of l is not
// comparable, as is the case for the Func adapters.
func (g *registry[L]) removeValue(l L) bool {
	t := reflect.TypeOf(&l).Elem()
	v := reflect.ValueOf(&l).Elem()
	if v.IsNil() {
		return false
	}
	if t.Kind() == reflect.Interface {
		t = v.Elem().Type()
	}
	if !t.Comparable() {
		return false
	}

	g.lock.Lock()
	defer g.lock.Unlock()
	for i, e := range g.entries {
		if any(e.l) == any(l) {
			g.removeAt(i)
			return true
		}
	}
	return false
}

func (g *registry[L]) removeAt(i int) {
	g.entries = append(g.entries[:i], g.entries[i+1:]...)
	if len(g.entries) == 0 && g.onLast != nil {
		g.onLast()
	}
}

func (g *registry[L]) len() int {
	g.lock.Lock()
	defer g.lock.Unlock()
	return len(g.entries)
}

func (g *registry[L]) snapshot() []*listenerEntry[L] {
	g.lock.Lock()
	defer g.lock.Unlock()
	if len(g.entries) == 0 {
		return nil
	}
	s := make([]*listenerEntry[L], len(g.entries))
	copy(s, g.entries)
	return s
}

// dispatch delivers to a snapshot of the registered listeners, each on
// its own executor. Registration changes made while dispatch runs do
// not affect the snapshot.
func (g *registry[L]) dispatch(log logrus.FieldLogger, deliver func(l L)) {
	for _, e := range g.snapshot() {
		l := e.l
		err := e.exec.Execute(func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("listener", g.kind).Errorf("asynchttp: listener panicked: %v", r)
				}
			}()
			deliver(l)
		})
		if err != nil {
			log.WithField("listener", g.kind).WithError(err).Warn("asynchttp: listener delivery rejected")
		}
	}
}
