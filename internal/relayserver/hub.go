package relayserver

import (
	"encoding/hex"
	"sort"
	"sync"

	"github.com/zeebo/blake3"
)

// subscription binds one connection to one topic.
type subscription struct {
	id    string
	topic string
	conn  *conn
}

// hub tracks live connections and their topic subscriptions.
type hub struct {
	mu     sync.RWMutex
	conns  map[string]*conn
	topics map[string]map[string]*subscription // topic -> subscription id -> sub
}

func newHub() *hub {
	return &hub{
		conns:  make(map[string]*conn),
		topics: make(map[string]map[string]*subscription),
	}
}

// subscriptionID is stable per (connection, topic), which makes repeated
// irn_subscribe calls idempotent.
func subscriptionID(connID, topic string) string {
	sum := blake3.Sum256([]byte(connID + "/" + topic))
	return hex.EncodeToString(sum[:])
}

func (h *hub) add(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

// remove drops c and every subscription it holds.
func (h *hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.id)
	for topic, subs := range h.topics {
		for id, s := range subs {
			if s.conn == c {
				delete(subs, id)
			}
		}
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// subscribe registers c on topic. fresh is false when c was already subscribed.
func (h *hub) subscribe(c *conn, topic string) (id string, fresh bool) {
	id = subscriptionID(c.id, topic)
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[string]*subscription)
		h.topics[topic] = subs
	}
	if _, exists := subs[id]; exists {
		return id, false
	}
	subs[id] = &subscription{id: id, topic: topic, conn: c}
	return id, true
}

// unsubscribe removes the subscription id from topic if c owns it.
func (h *hub) unsubscribe(c *conn, topic, id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[topic]
	s, ok := subs[id]
	if !ok || s.conn != c {
		return false
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
	return true
}

// subscribers returns a snapshot of the subscriptions on topic.
func (h *hub) subscribers(topic string) []*subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.topics[topic]
	out := make([]*subscription, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (h *hub) counts() (conns, topics int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns), len(h.topics)
}

// closeAll closes every connection.
func (h *hub) closeAll() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.close()
	}
}
