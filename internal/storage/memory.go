package storage

import (
	"bytes"
	"slices"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	value   []byte
	expires time.Time // zero means never
}

func (e memEntry) live(now time.Time) bool {
	return e.expires.IsZero() || now.Before(e.expires)
}

// MemoryDB is a map-backed DB for tests and single-process relays. Keys
// written with a TTL disappear once it passes.
type MemoryDB struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

func NewMemory() *MemoryDB {
	return &MemoryDB{entries: make(map[string]memEntry)}
}

func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[string(key)]
	m.mu.RUnlock()
	if !ok || !e.live(time.Now()) {
		return nil, ErrNotFound
	}
	return bytes.Clone(e.value), nil
}

func (m *MemoryDB) Put(key, value []byte) error {
	return m.PutWithTTL(key, value, 0)
}

// PutWithTTL stores value until ttl passes. A ttl of zero or less keeps
// the key until it is deleted.
func (m *MemoryDB) PutWithTTL(key, value []byte, ttl time.Duration) error {
	e := memEntry{value: append([]byte{}, value...)}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[string(key)] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	delete(m.entries, string(key))
	m.mu.Unlock()
	return nil
}

func (m *MemoryDB) Has(key []byte) (bool, error) {
	_, err := m.Get(key)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

// ForEach visits live keys under prefix in key order. It works on a
// snapshot, so fn may write to the DB.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	now := time.Now()
	p := string(prefix)

	m.mu.RLock()
	keys := make([]string, 0)
	snap := make(map[string][]byte)
	for k, e := range m.entries {
		if strings.HasPrefix(k, p) && e.live(now) {
			keys = append(keys, k)
			snap[k] = bytes.Clone(e.value)
		}
	}
	m.mu.RUnlock()

	slices.Sort(keys)
	for _, k := range keys {
		if err := fn([]byte(k), snap[k]); err != nil {
			return err
		}
	}
	return nil
}

// RunGC drops expired entries. Reads already hide them.
func (m *MemoryDB) RunGC() error {
	now := time.Now()
	m.mu.Lock()
	for k, e := range m.entries {
		if !e.live(now) {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryDB) Close() error { return nil }

// NewBatch returns a batch applied under one lock on Commit.
func (m *MemoryDB) NewBatch() Batch {
	return &memBatch{db: m}
}

// memBatch queues writes; a nil value marks a delete.
type memBatch struct {
	db   *MemoryDB
	keys []string
	vals [][]byte
}

func (b *memBatch) Put(key, value []byte) error {
	b.keys = append(b.keys, string(key))
	b.vals = append(b.vals, append([]byte{}, value...))
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.keys = append(b.keys, string(key))
	b.vals = append(b.vals, nil)
	return nil
}

func (b *memBatch) Commit() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for i, k := range b.keys {
		if b.vals[i] == nil {
			delete(b.db.entries, k)
			continue
		}
		b.db.entries[k] = memEntry{value: b.vals[i]}
	}
	b.keys, b.vals = nil, nil
	return nil
}
