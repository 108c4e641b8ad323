package p2p

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ScopeLift/umbra-v2-experimental/internal/storage"
	"github.com/libp2p/go-libp2p/core/peer"
)

// records is a JSON keyspace of one record type inside the relay DB.
type records[T any] struct {
	db     storage.DB
	prefix string
}

func (r records[T]) key(id string) []byte { return []byte(r.prefix + id) }

func (r records[T]) get(id string) (T, error) {
	var rec T
	data, err := r.db.Get(r.key(id))
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("decode %s%s: %w", r.prefix, id, err)
	}
	return rec, nil
}

func (r records[T]) put(id string, rec T) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s%s: %w", r.prefix, id, err)
	}
	return r.db.Put(r.key(id), data)
}

func (r records[T]) delete(id string) error {
	return r.db.Delete(r.key(id))
}

// all decodes every record. Entries that no longer decode are skipped.
func (r records[T]) all() ([]T, error) {
	var out []T
	err := r.db.ForEach([]byte(r.prefix), func(_, value []byte) error {
		var rec T
		if json.Unmarshal(value, &rec) == nil {
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (r records[T]) count() (int, error) {
	n := 0
	err := r.db.ForEach([]byte(r.prefix), func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// prune deletes records for which drop reports true, and any record that
// no longer decodes.
func (r records[T]) prune(drop func(T) bool) (int, error) {
	var dead [][]byte
	err := r.db.ForEach([]byte(r.prefix), func(key, value []byte) error {
		var rec T
		if json.Unmarshal(value, &rec) != nil || drop(rec) {
			dead = append(dead, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", r.prefix, err)
	}
	for _, k := range dead {
		if err := r.db.Delete(k); err != nil {
			return 0, fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return len(dead), nil
}

const (
	// addressBookLimit caps how many relays are remembered. Known entries
	// are refreshed even when the book is full.
	addressBookLimit = 200

	// forgetAfter drops relays not seen for this long.
	forgetAfter = 24 * time.Hour

	// rememberInterval is how often connected relays are written out.
	rememberInterval = 5 * time.Minute
)

// PeerRecord is a federated relay remembered across restarts.
type PeerRecord struct {
	ID       string   `json:"id"`
	Addrs    []string `json:"addrs"`
	LastSeen int64    `json:"lastSeen"`
	Source   string   `json:"source"`
}

// AddressBook persists the relays this node has federated with so a
// restart can rejoin without waiting on seeds.
type AddressBook struct {
	recs records[PeerRecord]
}

// NewAddressBook stores peer records in db under "peer/".
func NewAddressBook(db storage.DB) *AddressBook {
	return &AddressBook{recs: records[PeerRecord]{db: db, prefix: "peer/"}}
}

// Remember saves or refreshes rec.
func (b *AddressBook) Remember(rec PeerRecord) error {
	if _, err := b.recs.get(rec.ID); err != nil {
		n, err := b.recs.count()
		if err != nil {
			return fmt.Errorf("count peers: %w", err)
		}
		if n >= addressBookLimit {
			return nil
		}
	}
	return b.recs.put(rec.ID, rec)
}

// Lookup returns the record for id.
func (b *AddressBook) Lookup(id peer.ID) (PeerRecord, error) {
	return b.recs.get(id.String())
}

// All returns every remembered relay.
func (b *AddressBook) All() ([]PeerRecord, error) {
	return b.recs.all()
}

// Forget drops the record for id.
func (b *AddressBook) Forget(id peer.ID) error {
	return b.recs.delete(id.String())
}

// Len reports how many relays are remembered.
func (b *AddressBook) Len() (int, error) {
	return b.recs.count()
}

// PruneStale forgets relays last seen more than maxAge ago.
func (b *AddressBook) PruneStale(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	return b.recs.prune(func(rec PeerRecord) bool { return rec.LastSeen < cutoff })
}
