// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package storage manages the disk storage of an engine.

A storage path is a directory. At most one live engine in the process
may use a given storage path: Acquire enforces this with a
process-wide registry, and the engine releases its path when it shuts
down.

Inside the storage path, a Store remembers what the engine learned
about each origin server, namely the protocol last negotiated with it
and the last observed connection round trip time. The Store is a bbolt
database file named FileName.
*/
package storage
