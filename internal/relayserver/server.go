// Package relayserver is a store-and-forward relay speaking the irn_*
// JSON-RPC methods over websockets. Messages published to a topic are
// pushed to every other subscriber of that topic; when nobody is
// listening they wait in a mailbox until their TTL runs out.
package relayserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	ulog "github.com/ScopeLift/umbra-v2-experimental/internal/log"
	"github.com/ScopeLift/umbra-v2-experimental/internal/p2p"
	"github.com/ScopeLift/umbra-v2-experimental/internal/relay"
	"github.com/ScopeLift/umbra-v2-experimental/internal/storage"
)

// Validation errors returned to publishers.
var (
	ErrInvalidTopic   = errors.New("topic must be 64 hex characters")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrTTLTooLong     = errors.New("ttl exceeds relay maximum")
	ErrUnknownProject = errors.New("unknown project id")
)

var topicPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Config holds relay server settings.
type Config struct {
	DefaultTTL    time.Duration // Applied when a publish carries ttl 0.
	MaxTTL        time.Duration
	MailboxLimit  int      // Messages kept per topic.
	ProjectIDs    []string // Accepted projectId values; empty accepts any.
	PruneInterval time.Duration
}

// DefaultConfig returns the settings relayd starts from.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:    5 * time.Minute,
		MaxTTL:        30 * 24 * time.Hour,
		MailboxLimit:  100,
		PruneInterval: time.Minute,
	}
}

// Stats is a point-in-time view of the relay.
type Stats struct {
	Connections     int `json:"connections"`
	Topics          int `json:"topics"`
	MailboxMessages int `json:"mailboxMessages"`
	MailboxTopics   int `json:"mailboxTopics"`
	Seen            int `json:"seen"`
	FederationPeers int `json:"federationPeers"`
}

// Server is the relay. Create with New, mount Handler, then call Run.
type Server struct {
	cfg      Config
	hub      *hub
	mailbox  *Mailbox
	seen     *seenCache
	router   *mux.Router
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	projects map[string]struct{}

	fedMu sync.RWMutex
	fed   *p2p.Node

	now func() time.Time
}

// New creates a relay server whose mailbox lives in db.
func New(cfg Config, db storage.DB) *Server {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = DefaultConfig().MaxTTL
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultConfig().PruneInterval
	}
	s := &Server{
		cfg:     cfg,
		hub:     newHub(),
		mailbox: NewMailbox(db, cfg.MailboxLimit),
		seen:    newSeenCache(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:   ulog.WithComponent("relayd"),
		projects: make(map[string]struct{}),
		now:      time.Now,
	}
	for _, id := range cfg.ProjectIDs {
		s.projects[id] = struct{}{}
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the HTTP handler serving the websocket and health routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run prunes expired mailbox entries and dedupe hashes until ctx is done,
// then closes every connection.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.hub.closeAll()
			return
		case <-ticker.C:
			now := s.now()
			n, err := s.mailbox.Prune(now)
			if err != nil {
				s.logger.Warn().Err(err).Msg("Mailbox prune failed")
			}
			dropped := s.seen.prune(now)
			if n > 0 || dropped > 0 {
				s.logger.Debug().Int("mailbox", n).Int("hashes", dropped).Msg("Pruned expired messages")
			}
		}
	}
}

// Stats reports connection, topic and mailbox counts.
func (s *Server) Stats() Stats {
	conns, topics := s.hub.counts()
	msgs, mtopics := s.mailbox.Stats()
	st := Stats{
		Connections:     conns,
		Topics:          topics,
		MailboxMessages: msgs,
		MailboxTopics:   mtopics,
		Seen:            s.seen.len(),
	}
	s.fedMu.RLock()
	if s.fed != nil {
		st.FederationPeers = s.fed.PeerCount()
	}
	s.fedMu.RUnlock()
	return st
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Status string `json:"status"`
		Stats
	}{"ok", s.Stats()})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if len(s.projects) > 0 {
		if _, ok := s.projects[r.URL.Query().Get("projectId")]; !ok {
			http.Error(w, ErrUnknownProject.Error(), http.StatusUnauthorized)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := newConn(uuid.NewString(), ws, s.logger)
	s.hub.add(c)
	c.logger.Debug().Str("remote", r.RemoteAddr).Msg("Client connected")

	go c.writePump()
	go func() {
		c.readPump(s.handleFrame)
		s.hub.remove(c)
		c.logger.Debug().Msg("Client disconnected")
	}()
}

// handleFrame dispatches one inbound JSON-RPC frame.
func (s *Server) handleFrame(c *conn, data []byte) {
	msg, err := relay.DecodeMessage(data)
	if err != nil {
		s.reply(c, relay.NewError(0, relay.CodeParseError, err.Error()))
		return
	}
	if !msg.IsRequest() {
		return // Subscription acks.
	}

	switch msg.Method {
	case relay.MethodSubscribe:
		s.handleSubscribe(c, msg.Request())
	case relay.MethodUnsubscribe:
		s.handleUnsubscribe(c, msg.Request())
	case relay.MethodPublish:
		s.handlePublish(c, msg.Request())
	default:
		s.reply(c, relay.NewError(msg.ID, relay.CodeMethodNotFound, "method not found: "+msg.Method))
	}
}

func (s *Server) handleSubscribe(c *conn, req *relay.Request) {
	var p relay.SubscribeParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.reply(c, relay.NewError(req.ID, relay.CodeInvalidParams, err.Error()))
		return
	}
	if !topicPattern.MatchString(p.Topic) {
		s.reply(c, relay.NewError(req.ID, relay.CodeInvalidParams, ErrInvalidTopic.Error()))
		return
	}

	id, fresh := s.hub.subscribe(c, p.Topic)
	s.replyResult(c, req.ID, id)
	if !fresh {
		return
	}

	stored, err := s.mailbox.Take(p.Topic, s.now())
	if err != nil {
		ulog.WithTopic("relayd", p.Topic).Warn().Err(err).Msg("Mailbox flush failed")
		return
	}
	for _, m := range stored {
		if m.Publisher == c.id {
			continue
		}
		s.deliverTo(&subscription{id: id, topic: p.Topic, conn: c}, m)
	}
	if len(stored) > 0 {
		ulog.WithTopic("relayd", p.Topic).Debug().Int("messages", len(stored)).Msg("Flushed mailbox")
	}
}

func (s *Server) handleUnsubscribe(c *conn, req *relay.Request) {
	var p relay.UnsubscribeParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.reply(c, relay.NewError(req.ID, relay.CodeInvalidParams, err.Error()))
		return
	}
	s.hub.unsubscribe(c, p.Topic, p.ID)
	s.replyResult(c, req.ID, true)
}

func (s *Server) handlePublish(c *conn, req *relay.Request) {
	var p relay.PublishParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		s.reply(c, relay.NewError(req.ID, relay.CodeInvalidParams, err.Error()))
		return
	}
	now := s.now()
	msg, err := s.validate(p.Topic, p.Message, p.TTL, p.Tag, now)
	if err != nil {
		s.reply(c, relay.NewError(req.ID, relay.CodeInvalidParams, err.Error()))
		return
	}
	msg.Publisher = c.id

	// Local fan-out only enqueues, so the ack still goes out promptly.
	fresh := s.accept(msg, c, now)
	s.replyResult(c, req.ID, true)
	if fresh {
		s.federate(msg, now)
	}
}

// validate builds a StoredMessage from publish params.
func (s *Server) validate(topic, message string, ttlSeconds int64, tag int, now time.Time) (StoredMessage, error) {
	if !topicPattern.MatchString(topic) {
		return StoredMessage{}, ErrInvalidTopic
	}
	if message == "" {
		return StoredMessage{}, ErrEmptyMessage
	}
	ttl := time.Duration(ttlSeconds) * time.Second
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	if ttl > s.cfg.MaxTTL {
		return StoredMessage{}, ErrTTLTooLong
	}
	return StoredMessage{
		Topic:       topic,
		Message:     message,
		Tag:         tag,
		PublishedAt: now.UnixMilli(),
		ExpiresAt:   now.Add(ttl).UnixMilli(),
	}, nil
}

// accept de-duplicates msg, pushes it to every subscriber except origin,
// and stores it when nobody received it. It returns false for duplicates.
func (s *Server) accept(msg StoredMessage, origin *conn, now time.Time) bool {
	h := messageHash(msg.Topic, msg.Message)
	if !s.seen.add(h, now, time.UnixMilli(msg.ExpiresAt)) {
		ulog.WithTopic("relayd", msg.Topic).Debug().Msg("Duplicate message dropped")
		return false
	}

	delivered := 0
	for _, sub := range s.hub.subscribers(msg.Topic) {
		if sub.conn == origin {
			continue
		}
		if s.deliverTo(sub, msg) {
			delivered++
		}
	}
	if delivered == 0 {
		if err := s.mailbox.Store(msg); err != nil {
			ulog.WithTopic("relayd", msg.Topic).Warn().Err(err).Msg("Mailbox store failed")
		}
	}
	return true
}

// deliverTo pushes msg to one subscriber as irn_subscription.
func (s *Server) deliverTo(sub *subscription, msg StoredMessage) bool {
	req, err := relay.NewRequest(relay.MethodSubscription, relay.SubscriptionParams{
		ID: sub.id,
		Data: relay.SubscriptionData{
			Topic:       msg.Topic,
			Message:     msg.Message,
			PublishedAt: msg.PublishedAt,
			Tag:         msg.Tag,
		},
	})
	if err != nil {
		return false
	}
	frame, err := json.Marshal(req)
	if err != nil {
		return false
	}
	return sub.conn.enqueue(frame)
}

func (s *Server) reply(c *conn, resp *relay.Response) {
	frame, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func (s *Server) replyResult(c *conn, id int64, result any) {
	resp, err := relay.NewResult(id, result)
	if err != nil {
		s.reply(c, relay.NewError(id, relay.CodeInternalError, err.Error()))
		return
	}
	s.reply(c, resp)
}
