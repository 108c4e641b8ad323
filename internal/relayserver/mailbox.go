package relayserver

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ScopeLift/umbra-v2-experimental/internal/storage"
)

// mailboxPrefix namespaces mailbox keys inside a shared DB.
const mailboxPrefix = "mbox/"

// StoredMessage is a published message held for a topic with no
// subscriber. Timestamps are unix milliseconds.
type StoredMessage struct {
	Topic       string `json:"topic"`
	Message     string `json:"message"`
	Tag         int    `json:"tag"`
	PublishedAt int64  `json:"publishedAt"`
	ExpiresAt   int64  `json:"expiresAt"`
	Publisher   string `json:"publisher,omitempty"` // connection id, empty for federated messages
}

// Expired reports whether the message TTL has passed at now.
func (m *StoredMessage) Expired(now time.Time) bool {
	return now.UnixMilli() >= m.ExpiresAt
}

// TTL returns the remaining lifetime at now, rounded down to seconds.
func (m *StoredMessage) TTL(now time.Time) time.Duration {
	left := time.Duration(m.ExpiresAt-now.UnixMilli()) * time.Millisecond
	if left < 0 {
		return 0
	}
	return left.Truncate(time.Second)
}

// Mailbox stores messages per topic until they expire or a subscriber
// drains them. Keys are "<topic>/<seq>" so iteration returns publish order.
type Mailbox struct {
	db    *storage.PrefixDB
	limit int // per topic, 0 = unlimited

	mu  sync.Mutex // serializes Store and Take per mailbox
	seq atomic.Uint64
}

// NewMailbox creates a mailbox inside db. limit caps the messages kept per
// topic; the oldest is dropped when a topic is full.
func NewMailbox(db storage.DB, limit int) *Mailbox {
	m := &Mailbox{
		db:    storage.NewPrefixDB(db, []byte(mailboxPrefix)),
		limit: limit,
	}
	// Sequence numbers from a previous run are always smaller.
	m.seq.Store(uint64(time.Now().UnixNano()))
	return m
}

func topicPrefix(topic string) []byte {
	return []byte(topic + "/")
}

// Store appends msg to its topic.
func (m *Mailbox) Store(msg StoredMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal stored message: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limit > 0 {
		var keys [][]byte
		m.db.ForEach(topicPrefix(msg.Topic), func(key, _ []byte) error {
			keys = append(keys, key)
			return nil
		})
		for len(keys) >= m.limit {
			if err := m.db.Delete(keys[0]); err != nil {
				return fmt.Errorf("evict oldest message: %w", err)
			}
			keys = keys[1:]
		}
	}

	key := fmt.Sprintf("%s/%020d", msg.Topic, m.seq.Add(1))
	// Backends with native expiry drop the key themselves; Prune covers
	// the rest. The extra second absorbs Badger's whole-second expiry.
	ttl := time.Duration(msg.ExpiresAt-time.Now().UnixMilli())*time.Millisecond + time.Second
	if err := m.db.PutWithTTL([]byte(key), data, ttl); err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	return nil
}

// Take removes every message stored for topic and returns the unexpired
// ones in publish order.
func (m *Mailbox) Take(topic string, now time.Time) ([]StoredMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []StoredMessage
	batch := m.db.NewBatch()
	err := m.db.ForEach(topicPrefix(topic), func(key, value []byte) error {
		if err := batch.Delete(key); err != nil {
			return err
		}
		var msg StoredMessage
		if err := json.Unmarshal(value, &msg); err != nil {
			return nil // Corrupt entries are dropped.
		}
		if !msg.Expired(now) {
			out = append(out, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read mailbox: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("drain mailbox: %w", err)
	}
	return out, nil
}

// Prune deletes expired messages across all topics. Returns the number deleted.
func (m *Mailbox) Prune(now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := 0
	batch := m.db.NewBatch()
	err := m.db.ForEach(nil, func(key, value []byte) error {
		var msg StoredMessage
		if err := json.Unmarshal(value, &msg); err == nil && !msg.Expired(now) {
			return nil
		}
		pruned++
		return batch.Delete(key)
	})
	if err != nil {
		return 0, fmt.Errorf("scan mailbox: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return 0, fmt.Errorf("prune mailbox: %w", err)
	}
	return pruned, nil
}

// Stats returns the number of stored messages and distinct topics.
func (m *Mailbox) Stats() (messages, topics int) {
	seen := make(map[string]struct{})
	m.db.ForEach(nil, func(key, _ []byte) error {
		messages++
		if i := strings.LastIndexByte(string(key), '/'); i > 0 {
			seen[string(key[:i])] = struct{}{}
		}
		return nil
	})
	return messages, len(seen)
}
