package p2p

import (
	"sort"
	"sync"
	"time"

	"github.com/ScopeLift/umbra-v2-experimental/internal/storage"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// Offense scores. A relay reaching banThreshold is banned for banDuration.
const (
	ScoreMalformed = 20  // gossip payload does not decode
	ScoreInvalid   = 10  // decodes but fails relay validation
	ScoreHandshake = 100 // different federation or protocol version

	banThreshold = 100
	banDuration  = 24 * time.Hour
)

// BanRecord is a persisted ban.
type BanRecord struct {
	ID        string `json:"id"`
	Reason    string `json:"reason"`
	Score     int    `json:"score"`
	BannedAt  int64  `json:"bannedAt"`
	ExpiresAt int64  `json:"expiresAt"` // 0 never expires
}

func (r BanRecord) expired(now time.Time) bool {
	return r.ExpiresAt > 0 && now.Unix() >= r.ExpiresAt
}

// Bans scores misbehaving relays and refuses connections to banned ones.
// It is installed as the host's connection gater.
type Bans struct {
	mu     sync.Mutex
	scores map[peer.ID]int
	active map[peer.ID]BanRecord

	recs  *records[BanRecord] // nil when not persisted
	onBan func(peer.ID)
	now   func() time.Time
}

// NewBans creates a ban list. db may be nil; onBan, when set, runs in its
// own goroutine for each new ban.
func NewBans(db storage.DB, onBan func(peer.ID)) *Bans {
	b := &Bans{
		scores: make(map[peer.ID]int),
		active: make(map[peer.ID]BanRecord),
		onBan:  onBan,
		now:    time.Now,
	}
	if db != nil {
		b.recs = &records[BanRecord]{db: db, prefix: "ban/"}
	}
	return b
}

// Load restores unexpired bans from the DB and prunes the rest.
func (b *Bans) Load() error {
	if b.recs == nil {
		return nil
	}
	now := b.now()
	if _, err := b.recs.prune(func(r BanRecord) bool { return r.expired(now) }); err != nil {
		return err
	}
	saved, err := b.recs.all()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, rec := range saved {
		if id, err := peer.Decode(rec.ID); err == nil {
			b.active[id] = rec
		}
	}
	return nil
}

// Penalize adds score to id and reports whether this offense banned it.
// Offenses by an already banned relay are ignored.
func (b *Bans) Penalize(id peer.ID, score int, reason string) bool {
	now := b.now()

	b.mu.Lock()
	if rec, ok := b.active[id]; ok && !rec.expired(now) {
		b.mu.Unlock()
		return false
	}
	b.scores[id] += score
	total := b.scores[id]
	if total < banThreshold {
		b.mu.Unlock()
		return false
	}
	rec := BanRecord{
		ID:        id.String(),
		Reason:    reason,
		Score:     total,
		BannedAt:  now.Unix(),
		ExpiresAt: now.Add(banDuration).Unix(),
	}
	b.active[id] = rec
	delete(b.scores, id)
	b.mu.Unlock()

	if b.recs != nil {
		if err := b.recs.put(rec.ID, rec); err != nil {
			logger().Warn().Err(err).Msg("Persisting ban failed")
		}
	}
	logger().Warn().
		Str("peer", shortID(id)).
		Str("reason", reason).
		Int("score", total).
		Msg("Relay peer banned")
	if b.onBan != nil {
		go b.onBan(id)
	}
	return true
}

// IsBanned reports whether id is banned now. An expired ban is lifted.
func (b *Bans) IsBanned(id peer.ID) bool {
	b.mu.Lock()
	rec, ok := b.active[id]
	if ok && rec.expired(b.now()) {
		delete(b.active, id)
		ok = false
		if b.recs != nil {
			b.recs.delete(id.String())
		}
	}
	b.mu.Unlock()
	return ok
}

// Lift removes a ban and forgets the relay's score.
func (b *Bans) Lift(id peer.ID) {
	b.mu.Lock()
	delete(b.active, id)
	delete(b.scores, id)
	b.mu.Unlock()
	if b.recs != nil {
		b.recs.delete(id.String())
	}
}

// List returns the active bans, oldest first.
func (b *Bans) List() []BanRecord {
	now := b.now()
	b.mu.Lock()
	out := make([]BanRecord, 0, len(b.active))
	for _, rec := range b.active {
		if !rec.expired(now) {
			out = append(out, rec)
		}
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].BannedAt < out[j].BannedAt })
	return out
}

func (b *Bans) sweep() {
	now := b.now()
	b.mu.Lock()
	for id, rec := range b.active {
		if rec.expired(now) {
			delete(b.active, id)
		}
	}
	b.mu.Unlock()
	if b.recs != nil {
		b.recs.prune(func(r BanRecord) bool { return r.expired(now) })
	}
}

// Connection gating. Identity is only known from InterceptSecured on, so
// accepts and address dials always pass.

func (b *Bans) InterceptPeerDial(id peer.ID) bool            { return !b.IsBanned(id) }
func (b *Bans) InterceptAddrDial(peer.ID, ma.Multiaddr) bool { return true }
func (b *Bans) InterceptAccept(network.ConnMultiaddrs) bool  { return true }
func (b *Bans) InterceptUpgraded(network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}

func (b *Bans) InterceptSecured(_ network.Direction, id peer.ID, _ network.ConnMultiaddrs) bool {
	return !b.IsBanned(id)
}
