// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package netlog writes an engine's diagnostic log: one JSON object per
// line, each describing a network event such as a request starting, a
// redirect, or a request finishing.
package netlog

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Close if the Logger was already closed.
var ErrClosed = errors.New("asynchttp/netlog: logger closed")

// A Logger writes diagnostic events to a file. It is safe for
// concurrent use by multiple goroutines. Events logged after Close are
// dropped.
type Logger struct {
	verbose bool
	lock    sync.Mutex
	closed  bool
	file    *os.File
	log     *logrus.Logger
}

// Open creates or truncates the file at path and returns a Logger
// writing to it. Verbose Loggers also write the events logged with
// Detail.
func Open(path string, verbose bool) (*Logger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("asynchttp/netlog: failed to create log file: %w", err)
	}

	log := logrus.New()
	log.SetOutput(f)
	log.SetLevel(logrus.DebugLevel)
	log.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "event",
		},
	})

	return &Logger{verbose: verbose, file: f, log: log}, nil
}

// Verbose reports whether the Logger writes Detail events.
func (l *Logger) Verbose() bool {
	return l.verbose
}

// Event writes an event of the given kind.
func (l *Logger) Event(kind string, fields logrus.Fields) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed {
		return
	}
	l.log.WithFields(fields).Info(kind)
}

// Detail writes an event of the given kind if the Logger is verbose.
// The fields function is only called in that case.
func (l *Logger) Detail(kind string, fields func() logrus.Fields) {
	if !l.verbose {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed {
		return
	}
	l.log.WithFields(fields()).Debug(kind)
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.closed = true
	l.log.Info("netlog_end")
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}

// Bytes formats a byte count for a log event, for example "1.5 KiB".
func Bytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}
