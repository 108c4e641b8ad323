// Package storage provides the key-value stores behind relayd: the
// undelivered-message mailbox and the federation peer records.
package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("key not found")

// DB is a byte-keyed store. Implementations must be safe for concurrent use.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach calls fn for every key starting with prefix, in key order.
	// fn owns the slices it receives and may write to the DB. A non-nil
	// error from fn stops the walk and is returned.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Batch buffers writes until Commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
}

// Batcher is implemented by DBs that can commit a Batch atomically.
type Batcher interface {
	NewBatch() Batch
}

// Expirer is implemented by DBs that can drop a key on their own once its
// ttl passes.
type Expirer interface {
	PutWithTTL(key, value []byte, ttl time.Duration) error
}

// PutWithTTL stores value with ttl when db is an Expirer and falls back to
// a plain Put otherwise. Callers still prune expired entries themselves.
func PutWithTTL(db DB, key, value []byte, ttl time.Duration) error {
	if e, ok := db.(Expirer); ok {
		return e.PutWithTTL(key, value, ttl)
	}
	return db.Put(key, value)
}
