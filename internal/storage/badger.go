package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDB is the on-disk DB used by relayd for its mailbox and peer
// records.
type BadgerDB struct {
	db *badger.DB
}

// NewBadger opens (or creates) a Badger database in dir.
func NewBadger(dir string) (*BadgerDB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		if isLockError(err) {
			return nil, fmt.Errorf("database at %s is locked by another process (is another relayd instance running?): %w", dir, err)
		}
		return nil, fmt.Errorf("open database at %s: %w", dir, err)
	}
	return &BadgerDB{db: db}, nil
}

func isLockError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Cannot acquire directory lock") ||
		strings.Contains(msg, "resource temporarily unavailable")
}

func (b *BadgerDB) Get(key []byte) (val []byte, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return val, nil
}

func (b *BadgerDB) Put(key, value []byte) error {
	return b.PutWithTTL(key, value, 0)
}

// PutWithTTL stores value and lets Badger drop it after ttl. A ttl of zero
// or less keeps the key until it is deleted.
func (b *BadgerDB) PutWithTTL(key, value []byte, ttl time.Duration) error {
	e := badger.NewEntry(key, value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	if err := b.db.Update(func(txn *badger.Txn) error { return txn.SetEntry(e) }); err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

func (b *BadgerDB) Delete(key []byte) error {
	if err := b.db.Update(func(txn *badger.Txn) error { return txn.Delete(key) }); err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

func (b *BadgerDB) Has(key []byte) (bool, error) {
	_, err := b.Get(key)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// ForEach visits keys under prefix in byte order. Values are copied before
// fn sees them.
func (b *BadgerDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunGC reclaims space in the value log. It returns nil when there was
// nothing to collect.
func (b *BadgerDB) RunGC() error {
	err := b.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
		return nil
	}
	return err
}

func (b *BadgerDB) Close() error {
	return b.db.Close()
}

// NewBatch returns a batch backed by a Badger WriteBatch.
func (b *BadgerDB) NewBatch() Batch {
	return badgerBatch{b.db.NewWriteBatch()}
}

type badgerBatch struct{ *badger.WriteBatch }

func (bb badgerBatch) Put(key, value []byte) error { return bb.Set(key, value) }
func (bb badgerBatch) Commit() error               { return bb.Flush() }
