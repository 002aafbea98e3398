// Copyright 2021 The asynchttp Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package storage

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// FileName is the name of the database file inside a storage path.
const FileName = "asynchttp.db"

var serversBucket = []byte("servers")

// ServerProperties is what an engine remembers about an origin server.
type ServerProperties struct {
	// Protocol is the protocol last negotiated with the server, for
	// example "h2" or "http/1.1".
	Protocol string `json:"protocol"`
	// RTT is the last observed time to establish a connection, or zero
	// if the last request reused a connection.
	RTT time.Duration `json:"rtt"`
	// Updated is when the properties were last written.
	Updated time.Time `json:"updated"`
}

// A Store keeps ServerProperties per origin in a bbolt database.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db *bolt.DB
}

// Open opens the Store in the storage path dir, creating the directory
// and the database file if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("asynchttp/storage: failed to create storage path: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, FileName), 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("asynchttp/storage: failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(serversBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("asynchttp/storage: failed to create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Put stores the properties of origin, replacing any previous value.
func (s *Store) Put(origin string, p ServerProperties) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(serversBucket).Put([]byte(origin), data)
	})
}

// Get returns the properties of origin. The boolean is false if none
// are stored.
func (s *Store) Get(origin string) (p ServerProperties, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(serversBucket).Get([]byte(origin))
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &p)
	})
	return
}

// Origins returns every origin with stored properties, sorted.
func (s *Store) Origins() ([]string, error) {
	var origins []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(serversBucket).ForEach(func(k, _ []byte) error {
			origins = append(origins, string(k))
			return nil
		})
	})
	sort.Strings(origins)
	return origins, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Origin returns the origin of u in the form scheme://host:port, with
// the default port filled in.
func Origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		switch scheme {
		case "https":
			port = "443"
		case "http":
			port = "80"
		}
	}
	host := strings.ToLower(u.Hostname())
	if port == "" {
		return scheme + "://" + host
	}
	return scheme + "://" + net.JoinHostPort(host, port)
}
