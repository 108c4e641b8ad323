package storage

import "time"

// PrefixDB scopes a DB to one keyspace. relayd opens a single database and
// hands "mailbox/" and "p2p/" views of it to the mailbox and peer store.
type PrefixDB struct {
	inner  DB
	prefix []byte
}

// NewPrefixDB returns a view of inner whose keys all start with prefix.
func NewPrefixDB(inner DB, prefix []byte) *PrefixDB {
	return &PrefixDB{inner: inner, prefix: append([]byte(nil), prefix...)}
}

func join(prefix, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	return append(append(out, prefix...), key...)
}

func (p *PrefixDB) Get(key []byte) ([]byte, error) { return p.inner.Get(join(p.prefix, key)) }
func (p *PrefixDB) Put(key, value []byte) error    { return p.inner.Put(join(p.prefix, key), value) }
func (p *PrefixDB) Delete(key []byte) error        { return p.inner.Delete(join(p.prefix, key)) }
func (p *PrefixDB) Has(key []byte) (bool, error)   { return p.inner.Has(join(p.prefix, key)) }

// PutWithTTL forwards to the shared DB's expiry support when it has one.
func (p *PrefixDB) PutWithTTL(key, value []byte, ttl time.Duration) error {
	return PutWithTTL(p.inner, join(p.prefix, key), value, ttl)
}

// Close leaves the shared database open.
func (p *PrefixDB) Close() error { return nil }

// ForEach walks keys under prefix inside this view. fn sees keys relative
// to the view.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	n := len(p.prefix)
	return p.inner.ForEach(join(p.prefix, prefix), func(key, value []byte) error {
		return fn(key[n:], value)
	})
}

// Clear deletes every key in the view.
func (p *PrefixDB) Clear() error {
	var keys [][]byte
	if err := p.inner.ForEach(p.prefix, func(key, _ []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	}); err != nil {
		return err
	}
	b, ok := p.inner.(Batcher)
	if !ok {
		for _, k := range keys {
			if err := p.inner.Delete(k); err != nil {
				return err
			}
		}
		return nil
	}
	batch := b.NewBatch()
	for _, k := range keys {
		if err := batch.Delete(k); err != nil {
			return err
		}
	}
	return batch.Commit()
}

// NewBatch returns a batch scoped to the view. It is atomic when the
// underlying DB is a Batcher and applied write by write otherwise.
func (p *PrefixDB) NewBatch() Batch {
	if b, ok := p.inner.(Batcher); ok {
		return &scopedBatch{prefix: p.prefix, inner: b.NewBatch()}
	}
	return &scopedBatch{prefix: p.prefix, inner: &sequentialBatch{db: p.inner}}
}

type scopedBatch struct {
	prefix []byte
	inner  Batch
}

func (s *scopedBatch) Put(key, value []byte) error { return s.inner.Put(join(s.prefix, key), value) }
func (s *scopedBatch) Delete(key []byte) error     { return s.inner.Delete(join(s.prefix, key)) }
func (s *scopedBatch) Commit() error               { return s.inner.Commit() }

// sequentialBatch queues writes for a DB without native batches.
type sequentialBatch struct {
	db  DB
	ops []func() error
}

func (s *sequentialBatch) Put(key, value []byte) error {
	k, v := append([]byte(nil), key...), append([]byte(nil), value...)
	s.ops = append(s.ops, func() error { return s.db.Put(k, v) })
	return nil
}

func (s *sequentialBatch) Delete(key []byte) error {
	k := append([]byte(nil), key...)
	s.ops = append(s.ops, func() error { return s.db.Delete(k) })
	return nil
}

func (s *sequentialBatch) Commit() error {
	for _, op := range s.ops {
		if err := op(); err != nil {
			return err
		}
	}
	s.ops = nil
	return nil
}
