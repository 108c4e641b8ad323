package pairing

import (
	"context"
	"encoding/json"
	"time"

	ulog "github.com/ScopeLift/umbra-v2-experimental/internal/log"
	"github.com/ScopeLift/umbra-v2-experimental/internal/relay"
)

// enqueue runs on the transport's read goroutine. It never blocks.
func (c *Client) enqueue(msg relay.SubscriptionData) {
	c.queueMu.Lock()
	c.queue = append(c.queue, msg)
	c.queueMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// dispatch handles queued messages one at a time in delivery order.
func (c *Client) dispatch() {
	defer close(c.stopped)
	for {
		select {
		case <-c.stop:
			return
		case <-c.wake:
		}

		for {
			c.queueMu.Lock()
			if len(c.queue) == 0 {
				c.queueMu.Unlock()
				break
			}
			msg := c.queue[0]
			c.queue[0] = relay.SubscriptionData{}
			c.queue = c.queue[1:]
			c.queueMu.Unlock()

			select {
			case <-c.stop:
				return
			default:
			}
			c.handle(msg)
		}
	}
}

// handle decrypts one relay message and routes it.
func (c *Client) handle(data relay.SubscriptionData) {
	logger := ulog.WithTopic("pairing", data.Topic)

	c.mu.Lock()
	key, ok := c.keyLocked(data.Topic)
	c.mu.Unlock()
	if !ok {
		logger.Debug().Msg("Message on unknown topic dropped")
		return
	}

	payload, err := key.Decrypt(data.Message)
	if err != nil {
		logger.Warn().Err(err).Msg("Undecryptable message dropped")
		return
	}
	msg, err := relay.DecodeMessage(payload)
	if err != nil {
		logger.Warn().Err(err).Msg("Malformed message dropped")
		return
	}

	if !msg.IsRequest() {
		c.handleResponse(data.Topic, msg.Response())
		return
	}

	req := msg.Request()
	logger.Debug().Str("method", req.Method).Int64("id", req.ID).Msg("Inbound request")

	switch req.Method {
	case relay.MethodSessionPropose:
		c.handleProposal(data.Topic, key, req)
	case relay.MethodSessionRequest:
		c.handleSessionRequest(data.Topic, key, req)
	case relay.MethodSessionPing, relay.MethodPairingPing:
		c.reply(data.Topic, key, req, true)
	case relay.MethodSessionDelete:
		c.reply(data.Topic, key, req, true)
		logger.Info().Msg("Session deleted by peer")
		c.dropSession(data.Topic)
	case relay.MethodPairingDelete:
		c.reply(data.Topic, key, req, true)
		logger.Info().Msg("Pairing deleted by peer")
		c.dropPairing(data.Topic)
	case relay.MethodSessionEvent, "wc_sessionUpdate", "wc_sessionExtend":
		c.reply(data.Topic, key, req, true)
	default:
		c.send(data.Topic, key, relay.NewSDKError(req.ID, relay.SDKInvalidMethod), relay.ResponseOptions(req.Method))
	}
}

func (c *Client) handleProposal(topic string, key relay.SymKey, req *relay.Request) {
	var params relay.SessionProposeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.send(topic, key, relay.NewError(req.ID, relay.CodeInvalidParams, err.Error()), relay.ResponseOptions(req.Method))
		return
	}

	p := Proposal{
		ID:                 req.ID,
		PairingTopic:       topic,
		Proposer:           params.Proposer,
		Relays:             params.Relays,
		RequiredNamespaces: params.RequiredNamespaces,
		OptionalNamespaces: params.OptionalNamespaces,
	}
	if params.ExpiryTimestamp > 0 {
		p.Expiry = time.Unix(params.ExpiryTimestamp, 0)
		if !c.now().Before(p.Expiry) {
			ulog.WithTopic("pairing", topic).Warn().Int64("id", req.ID).Msg("Expired proposal dropped")
			return
		}
	}

	c.mu.Lock()
	c.proposals[p.ID] = p
	handlers := make([]func(Proposal), 0, len(c.onProp))
	for _, fn := range c.onProp {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	ulog.WithTopic("pairing", topic).Info().
		Int64("id", p.ID).
		Str("peer", p.Proposer.Metadata.Name).
		Str("url", p.Proposer.Metadata.URL).
		Msg("Session proposal received")
	for _, fn := range handlers {
		fn(p)
	}
}

func (c *Client) handleSessionRequest(topic string, key relay.SymKey, req *relay.Request) {
	var params relay.SessionRequestParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.send(topic, key, relay.NewError(req.ID, relay.CodeInvalidParams, err.Error()), relay.ResponseOptions(req.Method))
		return
	}

	c.mu.Lock()
	s, ok := c.sessions[topic]
	if !ok {
		c.mu.Unlock()
		c.send(topic, key, relay.NewError(req.ID, relay.CodeServerError, ErrUnknownSession.Error()), relay.ResponseOptions(req.Method))
		return
	}
	r := Request{
		ID:       req.ID,
		Topic:    topic,
		ChainID:  params.ChainID,
		Method:   params.Request.Method,
		Params:   params.Request.Params,
		Peer:     s.Peer,
		Accounts: s.Accounts(),
		Methods:  s.Methods(),
	}
	c.received[req.ID] = receivedRequest{topic: topic, method: req.Method}
	handlers := make([]func(Request), 0, len(c.onReq))
	for _, fn := range c.onReq {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	ulog.WithTopic("pairing", topic).Info().Stringer("request", r).Str("chain", r.ChainID).Msg("Session request received")
	if len(handlers) == 0 {
		c.mu.Lock()
		delete(c.received, req.ID)
		c.mu.Unlock()
		c.send(topic, key, relay.NewError(req.ID, relay.CodeServerError, "no request handler"), relay.ResponseOptions(req.Method))
		return
	}
	for _, fn := range handlers {
		fn(r)
	}
}

// handleResponse matches a peer's response to a request we sent.
func (c *Client) handleResponse(topic string, resp *relay.Response) {
	c.mu.Lock()
	sessionTopic, ok := c.outbound[resp.ID]
	delete(c.outbound, resp.ID)
	s := c.sessions[sessionTopic]
	c.mu.Unlock()
	if !ok || sessionTopic != topic {
		return
	}

	logger := ulog.WithTopic("pairing", topic)
	if resp.Error != nil {
		logger.Warn().Err(resp.Error).Msg("Session settle refused by peer")
		c.dropSession(topic)
		return
	}
	if s != nil {
		c.mu.Lock()
		s.Acknowledged = true
		c.mu.Unlock()
		logger.Debug().Msg("Session settle acknowledged")
	}
}

// dropPairing forgets a pairing, its pending proposals and its sessions.
func (c *Client) dropPairing(topic string) {
	c.mu.Lock()
	delete(c.pairings, topic)
	for id, p := range c.proposals {
		if p.PairingTopic == topic {
			delete(c.proposals, id)
		}
	}
	var sessions []string
	for t, s := range c.sessions {
		if s.PairingTopic == topic {
			sessions = append(sessions, t)
		}
	}
	tr := c.transport
	c.mu.Unlock()

	for _, t := range sessions {
		c.dropSession(t)
	}
	if tr != nil {
		ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
		defer cancel()
		tr.Unsubscribe(ctx, topic)
	}
}

func (c *Client) reply(topic string, key relay.SymKey, req *relay.Request, result any) {
	resp, err := relay.NewResult(req.ID, result)
	if err != nil {
		return
	}
	c.send(topic, key, resp, relay.ResponseOptions(req.Method))
}

// send publishes a protocol reply from the dispatcher.
func (c *Client) send(topic string, key relay.SymKey, resp *relay.Response, opts relay.PublishOptions) {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()
	if err := c.publish(ctx, t, topic, key, resp, opts); err != nil {
		ulog.WithTopic("pairing", topic).Warn().Err(err).Int64("id", resp.ID).Msg("Reply failed")
	}
}
