package relayserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ScopeLift/umbra-v2-experimental/internal/p2p"
)

// federatedMessage is the gossip payload relays exchange. TTL is the
// remaining lifetime in seconds when the message left the origin relay.
type federatedMessage struct {
	Topic       string `json:"topic"`
	Message     string `json:"message"`
	TTL         int64  `json:"ttl"`
	Tag         int    `json:"tag"`
	PublishedAt int64  `json:"publishedAt"`
}

// AttachFederation makes the server gossip accepted publishes through n and
// accept messages gossiped by other relays. Call before n.Start.
func (s *Server) AttachFederation(n *p2p.Node) {
	s.fedMu.Lock()
	s.fed = n
	s.fedMu.Unlock()
	n.SetMessageHandler(s.handleFederated)
}

// federate forwards a locally published message to the other relays.
func (s *Server) federate(msg StoredMessage, now time.Time) {
	s.fedMu.RLock()
	fed := s.fed
	s.fedMu.RUnlock()
	if fed == nil {
		return
	}

	data, err := json.Marshal(federatedMessage{
		Topic:       msg.Topic,
		Message:     msg.Message,
		TTL:         int64(msg.TTL(now) / time.Second),
		Tag:         msg.Tag,
		PublishedAt: msg.PublishedAt,
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fed.Publish(ctx, data); err != nil {
		s.logger.Debug().Err(err).Msg("Federation publish failed")
	}
}

// handleFederated accepts a message gossiped by another relay. Peers sending
// garbage accumulate ban score.
func (s *Server) handleFederated(from peer.ID, data []byte) {
	var fm federatedMessage
	if err := json.Unmarshal(data, &fm); err != nil {
		s.penalize(from, p2p.ScoreMalformed, "malformed federated message")
		return
	}
	if fm.TTL <= 0 {
		return // Expired in transit.
	}
	now := s.now()
	msg, err := s.validate(fm.Topic, fm.Message, fm.TTL, fm.Tag, now)
	if err != nil {
		s.penalize(from, p2p.ScoreInvalid, err.Error())
		return
	}
	if fm.PublishedAt > 0 {
		msg.PublishedAt = fm.PublishedAt
	}
	s.accept(msg, nil, now)
}

func (s *Server) penalize(from peer.ID, penalty int, reason string) {
	s.fedMu.RLock()
	fed := s.fed
	s.fedMu.RUnlock()
	s.logger.Debug().Str("peer", from.String()).Str("reason", reason).Msg("Rejected federated message")
	if fed != nil {
		fed.Penalize(from, penalty, reason)
	}
}
