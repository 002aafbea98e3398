// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
)

// ErrPathInUse is returned by Acquire when the storage path is held by
// another live engine.
var ErrPathInUse = errors.New("asynchttp/storage: storage path in use by another engine")

var (
	pathsLock sync.Mutex
	paths     = make(map[string]struct{})
)

// Acquire claims path for the calling engine. The returned release
// function gives it up again; calling it more than once has no further
// effect.
//
// Paths are compared after conversion to clean absolute paths, so
// "data" and "./data/" name the same storage path.
func Acquire(path string) (release func(), err error) {
	key, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("asynchttp/storage: bad storage path %q: %w", path, err)
	}

	pathsLock.Lock()
	defer pathsLock.Unlock()
	if _, ok := paths[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPathInUse, key)
	}
	paths[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			pathsLock.Lock()
			delete(paths, key)
			pathsLock.Unlock()
		})
	}, nil
}

// InUse reports whether path is held by a live engine.
func InUse(path string) bool {
	key, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	pathsLock.Lock()
	defer pathsLock.Unlock()
	_, ok := paths[key]
	return ok
}
