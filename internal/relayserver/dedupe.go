package relayserver

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// messageHash identifies a published message by topic and payload.
func messageHash(topic, message string) [32]byte {
	h := blake3.New()
	h.Write([]byte(topic))
	h.Write([]byte{0})
	h.Write([]byte(message))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// seenCache remembers message hashes until their TTL expires, so a message
// that reaches the relay twice (client retry or federation echo) is
// delivered once.
type seenCache struct {
	mu      sync.Mutex
	entries map[[32]byte]time.Time
}

func newSeenCache() *seenCache {
	return &seenCache{entries: make(map[[32]byte]time.Time)}
}

// add records h until expiry. It returns false if h was already recorded
// and has not expired.
func (c *seenCache) add(h [32]byte, now, expiry time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if exp, ok := c.entries[h]; ok && now.Before(exp) {
		return false
	}
	c.entries[h] = expiry
	return true
}

func (c *seenCache) prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for h, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, h)
			n++
		}
	}
	return n
}

func (c *seenCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
