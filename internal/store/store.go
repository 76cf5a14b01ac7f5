// Package store provides the embedded keyed store shared by the session,
// mail, events, and metrics components. It is a thin wrapper around a
// single bbolt database file with one bucket per concern, mirroring the
// directory-per-store layout the coordination core's external
// collaborators expect.
//
// bbolt takes an exclusive OS file lock for the life of an open handle, so
// only one process may hold this database open at a time. The daemon
// (cmd/overstoryd) is that one process: it opens the database once at
// startup and mediates every other process's access to it over the
// internal/ipc unix-socket API, rather than each CLI invocation opening
// the file directly.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names. Each one maps 1:1 to a bbolt bucket inside one database
// file, in place of what would otherwise be a directory per store.
const (
	BucketSessions = "sessions"
	BucketMail     = "mail"
	BucketEvents   = "events"
	BucketMetrics  = "metrics"
)

var allBuckets = []string{BucketSessions, BucketMail, BucketEvents, BucketMetrics}

// DB wraps a bbolt database, opening all known buckets up front so callers
// never need to handle a missing-bucket error on first use.
type DB struct {
	bolt *bolt.DB
	path string
}

// Open opens (creating if necessary) the coordination database at path.
func Open(path string) (*DB, error) {
	b, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening coordination store %s: %w", path, err)
	}

	err = b.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	return &DB{bolt: b, path: path}, nil
}

// Close releases the underlying database handle. Safe to call once per Open.
func (d *DB) Close() error {
	if d == nil || d.bolt == nil {
		return nil
	}
	return d.bolt.Close()
}

// Put JSON-encodes value and stores it under key in bucket, in a single
// read-write transaction.
func (d *DB) Put(bucket, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", bucket, key, err)
	}
	return d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("unknown bucket %s", bucket)
		}
		return b.Put([]byte(key), data)
	})
}

// Get loads the value stored under key in bucket into dst. Returns
// (false, nil) if the key does not exist.
func (d *DB) Get(bucket, key string, dst interface{}) (bool, error) {
	var found bool
	err := d.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("unknown bucket %s", bucket)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, dst)
	})
	return found, err
}

// Delete removes key from bucket. Idempotent.
func (d *DB) Delete(bucket, key string) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("unknown bucket %s", bucket)
		}
		return b.Delete([]byte(key))
	})
}

// ForEach iterates every key/value pair in bucket in key order, decoding each
// value via decode. Iteration stops early if fn returns an error, and that
// error is returned from ForEach.
func (d *DB) ForEach(bucket string, decode func(key string, data []byte) error) error {
	return d.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("unknown bucket %s", bucket)
		}
		return b.ForEach(func(k, v []byte) error {
			return decode(string(k), v)
		})
	})
}

// Update runs fn inside a single read-write transaction spanning every
// bucket, for operations that must appear atomic across several keys.
func (d *DB) Update(fn func(tx *bolt.Tx) error) error {
	return d.bolt.Update(fn)
}

// View runs fn inside a single read-only transaction, giving callers a
// consistent snapshot across several keys.
func (d *DB) View(fn func(tx *bolt.Tx) error) error {
	return d.bolt.View(fn)
}
