// Package pairing is the wallet side of the session protocol: it pairs with
// a dApp from a wc: URI, answers session proposals, and carries session
// requests and their responses over the relay.
package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	ulog "github.com/ScopeLift/umbra-v2-experimental/internal/log"
	"github.com/ScopeLift/umbra-v2-experimental/internal/relay"
)

// DefaultSessionTTL is the lifetime of an approved session.
const DefaultSessionTTL = 7 * 24 * time.Hour

// replyTimeout bounds protocol replies sent from the dispatcher.
const replyTimeout = 10 * time.Second

var (
	// ErrNotReady is returned by operations that need a connected client.
	ErrNotReady = errors.New("pairing client not ready")

	// ErrInitialization wraps the cause of a failed Init.
	ErrInitialization = errors.New("pairing initialization failed")

	// ErrUnknownProposal is returned when approving or rejecting an id
	// that is not pending.
	ErrUnknownProposal = errors.New("unknown session proposal")

	// ErrUnknownRequest is returned by Respond for ids never received.
	ErrUnknownRequest = errors.New("request id was never received")

	// ErrUnknownSession is returned for topics with no active session.
	ErrUnknownSession = errors.New("unknown session topic")
)

// Transport is the relay connection a Client runs over. *relay.Client
// implements it.
type Transport interface {
	Connect(ctx context.Context) error
	OnMessage(h relay.Handler)
	Subscribe(ctx context.Context, topic string) (string, error)
	Unsubscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic, message string, opts relay.PublishOptions) error
	Close() error
}

var _ Transport = (*relay.Client)(nil)

// Dialer creates a fresh Transport for each Init attempt.
type Dialer func() (Transport, error)

// RelayDialer returns a Dialer for a websocket relay.
func RelayDialer(relayURL, projectID string) Dialer {
	return func() (Transport, error) {
		c, err := relay.NewClient(relayURL, projectID)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Subscription is a registered event handler. Close deregisters it.
type Subscription struct {
	once    sync.Once
	release func()
}

// Close deregisters the handler. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.release)
}

// Option configures a Client.
type Option func(*Client)

// WithSessionTTL overrides DefaultSessionTTL.
func WithSessionTTL(d time.Duration) Option {
	return func(c *Client) { c.sessionTTL = d }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

type receivedRequest struct {
	topic  string
	method string
}

// Client is the wallet's pairing state machine:
// Uninitialized -> Initializing -> Ready -> TornDown.
type Client struct {
	dial       Dialer
	meta       relay.Metadata
	sessionTTL time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	state atomic.Int32

	mu        sync.Mutex
	transport Transport
	pairings  map[string]relay.PairingURI
	sessions  map[string]*Session
	proposals map[int64]Proposal
	received  map[int64]receivedRequest
	outbound  map[int64]string // our request id -> session topic
	onProp    map[uint64]func(Proposal)
	onReq     map[uint64]func(Request)
	handles   map[uint64]*Subscription
	nextID    uint64

	queueMu sync.Mutex
	queue   []relay.SubscriptionData
	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
}

// New creates an uninitialized client advertising meta to dApps.
func New(dial Dialer, meta relay.Metadata, opts ...Option) *Client {
	c := &Client{
		dial:       dial,
		meta:       meta,
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
		logger:     ulog.Pairing,
		pairings:   make(map[string]relay.PairingURI),
		sessions:   make(map[string]*Session),
		proposals:  make(map[int64]Proposal),
		received:   make(map[int64]receivedRequest),
		outbound:   make(map[int64]string),
		onProp:     make(map[uint64]func(Proposal)),
		onReq:      make(map[uint64]func(Request)),
		handles:    make(map[uint64]*Subscription),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Init dials and connects the relay transport. On failure the client
// returns to Uninitialized and Init may be retried. Calling Init on a
// ready client is a no-op.
func (c *Client) Init(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		if c.State() == StateReady {
			return nil
		}
		return fmt.Errorf("init in state %s: %w", c.State(), ErrNotReady)
	}

	fail := func(err error) error {
		c.state.Store(int32(StateUninitialized))
		c.logger.Error().Err(err).Msg("Failed to initialize pairing client")
		return fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	t, err := c.dial()
	if err != nil {
		return fail(err)
	}
	t.OnMessage(c.enqueue)
	if err := t.Connect(ctx); err != nil {
		t.Close()
		return fail(err)
	}

	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()

	if !c.state.CompareAndSwap(int32(StateInitializing), int32(StateReady)) {
		// Torn down while connecting.
		t.Close()
		return ErrNotReady
	}
	go c.dispatch()
	c.logger.Info().Msg("Pairing client initialized")
	return nil
}

// Connect pairs with a dApp from a wc: URI. Pairing failures (malformed or
// expired URI, subscribe error) are logged and swallowed; only calling
// before Init returns an error.
func (c *Client) Connect(ctx context.Context, uri string) error {
	if c.State() != StateReady {
		return ErrNotReady
	}

	u, err := relay.ParseURI(uri)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Pairing failed")
		return nil
	}
	if u.Expired(c.now()) {
		c.logger.Warn().Time("expiry", u.Expiry).Msg("Pairing failed: uri expired")
		return nil
	}

	c.mu.Lock()
	c.pairings[u.Topic] = u
	t := c.transport
	c.mu.Unlock()

	if _, err := t.Subscribe(ctx, u.Topic); err != nil {
		c.mu.Lock()
		delete(c.pairings, u.Topic)
		c.mu.Unlock()
		ulog.WithTopic("pairing", u.Topic).Warn().Err(err).Msg("Pairing failed: subscribe")
		return nil
	}
	ulog.WithTopic("pairing", u.Topic).Info().Msg("Paired, waiting for proposal")
	return nil
}

// ActiveSessions returns the unexpired sessions sorted by topic. Expired
// sessions are dropped.
func (c *Client) ActiveSessions() []Session {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Session, 0, len(c.sessions))
	for topic, s := range c.sessions {
		if s.Expired(now) {
			delete(c.sessions, topic)
			continue
		}
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Session returns one active session.
func (c *Client) Session(topic string) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[topic]
	if !ok || s.Expired(c.now()) {
		return Session{}, ErrUnknownSession
	}
	return s.clone(), nil
}

// OnProposal registers fn for session proposals. fn runs on the
// dispatcher goroutine.
func (c *Client) OnProposal(fn func(Proposal)) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.onProp[id] = fn
	return c.newHandle(id)
}

// OnRequest registers fn for session requests. fn runs on the dispatcher
// goroutine.
func (c *Client) OnRequest(fn func(Request)) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.onReq[id] = fn
	return c.newHandle(id)
}

// newHandle must be called with mu held.
func (c *Client) newHandle(id uint64) *Subscription {
	s := &Subscription{release: func() {
		c.mu.Lock()
		delete(c.onProp, id)
		delete(c.onReq, id)
		delete(c.handles, id)
		c.mu.Unlock()
	}}
	c.handles[id] = s
	return s
}

// Teardown closes every handler, stops the dispatcher and closes the
// transport. The client cannot be reused.
func (c *Client) Teardown() error {
	prev := State(c.state.Swap(int32(StateTornDown)))
	if prev == StateTornDown {
		return nil
	}

	c.mu.Lock()
	handles := make([]*Subscription, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	t := c.transport
	c.transport = nil
	c.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}

	close(c.stop)
	if prev == StateReady {
		<-c.stopped
	}
	c.logger.Info().Msg("Pairing client torn down")
	if t != nil {
		return t.Close()
	}
	return nil
}

// ApproveSession answers a pending proposal: derives the session key from
// the proposer's public key, subscribes the session topic, responds on the
// pairing topic and settles the session.
func (c *Client) ApproveSession(ctx context.Context, proposalID int64, namespaces map[string]relay.Namespace) (Session, error) {
	if c.State() != StateReady {
		return Session{}, ErrNotReady
	}

	c.mu.Lock()
	p, ok := c.proposals[proposalID]
	pairing, paired := c.pairings[p.PairingTopic]
	t := c.transport
	if ok {
		delete(c.proposals, proposalID)
	}
	c.mu.Unlock()
	if !ok {
		return Session{}, ErrUnknownProposal
	}
	if !paired {
		return Session{}, fmt.Errorf("proposal %d: pairing %s gone: %w", proposalID, p.PairingTopic, ErrUnknownProposal)
	}

	// Until the propose response is out the proposal stays answerable, so
	// a failed approval can still be rejected.
	kp, err := relay.GenerateKeyPair()
	if err != nil {
		c.restoreProposal(p)
		return Session{}, err
	}
	symKey, err := kp.DeriveSymKey(p.Proposer.PublicKey)
	if err != nil {
		c.restoreProposal(p)
		return Session{}, fmt.Errorf("derive session key: %w", err)
	}

	s := &Session{
		Topic:         symKey.Topic(),
		PairingTopic:  p.PairingTopic,
		Expiry:        c.now().Add(c.sessionTTL).Truncate(time.Second),
		Peer:          p.Proposer.Metadata,
		PeerPublicKey: p.Proposer.PublicKey,
		Namespaces:    namespaces,
		Controller:    kp.PublicHex(),
		symKey:        symKey,
	}
	logger := ulog.WithTopic("pairing", s.Topic)

	if _, err := t.Subscribe(ctx, s.Topic); err != nil {
		c.restoreProposal(p)
		return Session{}, fmt.Errorf("subscribe session topic: %w", err)
	}

	result, err := relay.NewResult(proposalID, relay.SessionProposeResult{
		Relay:              relay.RelayProtocol{Protocol: relay.ProtocolIRN},
		ResponderPublicKey: kp.PublicHex(),
	})
	if err != nil {
		t.Unsubscribe(ctx, s.Topic)
		c.restoreProposal(p)
		return Session{}, err
	}
	if err := c.publish(ctx, t, p.PairingTopic, pairing.SymKey, result, relay.ResponseOptions(relay.MethodSessionPropose)); err != nil {
		t.Unsubscribe(ctx, s.Topic)
		c.restoreProposal(p)
		return Session{}, fmt.Errorf("respond to proposal: %w", err)
	}

	// The session exists before settle goes out so the settle ack finds it.
	c.mu.Lock()
	c.sessions[s.Topic] = s
	c.mu.Unlock()

	settle, err := relay.NewRequest(relay.MethodSessionSettle, relay.SessionSettleParams{
		Relay:      relay.RelayProtocol{Protocol: relay.ProtocolIRN},
		Namespaces: namespaces,
		Controller: relay.Participant{PublicKey: kp.PublicHex(), Metadata: c.meta},
		Expiry:     s.Expiry.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	c.mu.Lock()
	c.outbound[settle.ID] = s.Topic
	c.mu.Unlock()
	if err := c.publish(ctx, t, s.Topic, symKey, settle, relay.RequestOptions(relay.MethodSessionSettle)); err != nil {
		c.dropSession(s.Topic)
		return Session{}, fmt.Errorf("settle session: %w", err)
	}

	logger.Info().Str("peer", s.Peer.Name).Strs("accounts", s.Accounts()).Msg("Session approved")
	c.mu.Lock()
	defer c.mu.Unlock()
	return s.clone(), nil
}

// RejectSession answers a pending proposal with reason.
func (c *Client) RejectSession(ctx context.Context, proposalID int64, reason relay.SDKError) error {
	if c.State() != StateReady {
		return ErrNotReady
	}

	c.mu.Lock()
	p, ok := c.proposals[proposalID]
	pairing, paired := c.pairings[p.PairingTopic]
	t := c.transport
	if ok {
		delete(c.proposals, proposalID)
	}
	c.mu.Unlock()
	if !ok || !paired {
		return ErrUnknownProposal
	}

	resp := relay.NewSDKError(proposalID, reason)
	if err := c.publish(ctx, t, p.PairingTopic, pairing.SymKey, resp, relay.ResponseOptions(relay.MethodSessionPropose)); err != nil {
		c.restoreProposal(p)
		return fmt.Errorf("reject proposal: %w", err)
	}
	ulog.WithTopic("pairing", p.PairingTopic).Info().
		Int("code", reason.Code).
		Str("peer", p.Proposer.Metadata.Name).
		Msg("Session proposal rejected")
	return nil
}

// Respond sends resp for a request received on topic. Each received id can
// be answered once; other ids are refused with ErrUnknownRequest.
func (c *Client) Respond(ctx context.Context, topic string, resp *relay.Response) error {
	if c.State() != StateReady {
		return ErrNotReady
	}

	c.mu.Lock()
	rr, ok := c.received[resp.ID]
	if !ok || rr.topic != topic {
		c.mu.Unlock()
		return fmt.Errorf("respond %d on %s: %w", resp.ID, topic, ErrUnknownRequest)
	}
	key, known := c.keyLocked(topic)
	t := c.transport
	c.mu.Unlock()
	if !known {
		return ErrUnknownSession
	}

	if err := c.publish(ctx, t, topic, key, resp, relay.ResponseOptions(rr.method)); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.received, resp.ID)
	c.mu.Unlock()
	return nil
}

// restoreProposal makes p answerable again after a failed answer.
func (c *Client) restoreProposal(p Proposal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pairings[p.PairingTopic]; ok {
		c.proposals[p.ID] = p
	}
}

// Disconnect tells the dApp the session is over and forgets it.
func (c *Client) Disconnect(ctx context.Context, topic string) error {
	if c.State() != StateReady {
		return ErrNotReady
	}

	c.mu.Lock()
	s, ok := c.sessions[topic]
	t := c.transport
	c.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	req, err := relay.NewRequest(relay.MethodSessionDelete, relay.SessionDeleteParams{
		Code:    relay.SDKUserDisconnected.Code,
		Message: relay.SDKUserDisconnected.Message,
	})
	if err != nil {
		return err
	}
	pubErr := c.publish(ctx, t, topic, s.symKey, req, relay.RequestOptions(relay.MethodSessionDelete))
	c.dropSession(topic)
	if pubErr != nil {
		return fmt.Errorf("send session delete: %w", pubErr)
	}
	ulog.WithTopic("pairing", topic).Info().Str("peer", s.Peer.Name).Msg("Session disconnected")
	return nil
}

// dropSession forgets a session and its unanswered requests and
// unsubscribes its topic.
func (c *Client) dropSession(topic string) {
	c.mu.Lock()
	delete(c.sessions, topic)
	for id, rr := range c.received {
		if rr.topic == topic {
			delete(c.received, id)
		}
	}
	t := c.transport
	c.mu.Unlock()

	if t != nil {
		ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		defer cancel()
		if err := t.Unsubscribe(ctx, topic); err != nil {
			ulog.WithTopic("pairing", topic).Debug().Err(err).Msg("Unsubscribe failed")
		}
	}
}

// keyLocked returns the symmetric key of a session or pairing topic.
// mu must be held.
func (c *Client) keyLocked(topic string) (relay.SymKey, bool) {
	if s, ok := c.sessions[topic]; ok {
		return s.symKey, true
	}
	if p, ok := c.pairings[topic]; ok {
		return p.SymKey, true
	}
	return relay.SymKey{}, false
}

// publish encrypts v with key and publishes it on topic.
func (c *Client) publish(ctx context.Context, t Transport, topic string, key relay.SymKey, v any, opts relay.PublishOptions) error {
	if t == nil {
		return ErrNotReady
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	envelope, err := key.Encrypt(payload)
	if err != nil {
		return err
	}
	return t.Publish(ctx, topic, envelope, opts)
}
