// Package pairingtest runs an in-process relay and a scripted dApp peer for
// tests of the wallet side of the session protocol.
package pairingtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ScopeLift/umbra-v2-experimental/internal/relay"
	"github.com/ScopeLift/umbra-v2-experimental/internal/relayserver"
	"github.com/ScopeLift/umbra-v2-experimental/internal/storage"
)

// WaitTimeout bounds every wait in this package.
const WaitTimeout = 5 * time.Second

// StartRelay serves a relay with an in-memory mailbox for the life of the
// test and returns its ws:// URL.
func StartRelay(t testing.TB) string {
	t.Helper()
	s := relayserver.New(relayserver.DefaultConfig(), storage.NewMemory())
	ts := httptest.NewServer(s.Handler())
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

// Inbound is one decrypted message received by the dApp.
type Inbound struct {
	Topic string
	Msg   *relay.Message
}

// DApp is the proposing side of a pairing.
type DApp struct {
	t      testing.TB
	client *relay.Client
	meta   relay.Metadata
	kp     relay.KeyPair
	uri    relay.PairingURI

	mu       sync.Mutex
	keys     map[string]relay.SymKey
	inbox    []Inbound
	consumed []bool

	// SessionTopic is set once Settle succeeds.
	SessionTopic string
}

// NewDApp connects a dApp to relayURL, creates a pairing and subscribes to
// its topic.
func NewDApp(t testing.TB, relayURL string, meta relay.Metadata) *DApp {
	t.Helper()
	c, err := relay.NewClient(relayURL, "")
	if err != nil {
		t.Fatalf("relay client: %v", err)
	}
	kp, err := relay.GenerateKeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	uri, err := relay.NewPairingURI(5 * time.Minute)
	if err != nil {
		t.Fatalf("pairing uri: %v", err)
	}

	d := &DApp{
		t:      t,
		client: c,
		meta:   meta,
		kp:     kp,
		uri:    uri,
		keys:   map[string]relay.SymKey{uri.Topic: uri.SymKey},
	}
	c.OnMessage(d.receive)

	ctx, cancel := context.WithTimeout(context.Background(), WaitTimeout)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect dapp: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if _, err := c.Subscribe(ctx, uri.Topic); err != nil {
		t.Fatalf("subscribe pairing topic: %v", err)
	}
	return d
}

// URI returns the wc: URI the wallet pairs with.
func (d *DApp) URI() string { return d.uri.String() }

// PairingTopic returns the pairing topic.
func (d *DApp) PairingTopic() string { return d.uri.Topic }

func (d *DApp) receive(data relay.SubscriptionData) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key, ok := d.keys[data.Topic]
	if !ok {
		return
	}
	payload, err := key.Decrypt(data.Message)
	if err != nil {
		return
	}
	msg, err := relay.DecodeMessage(payload)
	if err != nil {
		return
	}
	d.inbox = append(d.inbox, Inbound{Topic: data.Topic, Msg: msg})
	d.consumed = append(d.consumed, false)
}

// Next waits for the first unconsumed message matching match.
func (d *DApp) Next(match func(Inbound) bool) Inbound {
	d.t.Helper()
	deadline := time.Now().Add(WaitTimeout)
	for {
		d.mu.Lock()
		for i, in := range d.inbox {
			if !d.consumed[i] && match(in) {
				d.consumed[i] = true
				d.mu.Unlock()
				return in
			}
		}
		d.mu.Unlock()
		if time.Now().After(deadline) {
			d.t.Fatalf("dapp: timed out waiting for message")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// None fails the test if a message matching match arrives within wait.
func (d *DApp) None(match func(Inbound) bool, wait time.Duration) {
	d.t.Helper()
	time.Sleep(wait)
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, in := range d.inbox {
		if !d.consumed[i] && match(in) {
			d.t.Fatalf("dapp: unexpected message %s #%d", in.Msg.Method, in.Msg.ID)
		}
	}
}

// ResponseTo matches the response with id.
func ResponseTo(id int64) func(Inbound) bool {
	return func(in Inbound) bool { return !in.Msg.IsRequest() && in.Msg.ID == id }
}

// RequestFor matches requests of method.
func RequestFor(method string) func(Inbound) bool {
	return func(in Inbound) bool { return in.Msg.Method == method }
}

// Propose sends wc_sessionPropose on the pairing topic.
func (d *DApp) Propose(required, optional map[string]relay.ProposalNamespace) int64 {
	d.t.Helper()
	req, err := relay.NewRequest(relay.MethodSessionPropose, relay.SessionProposeParams{
		Relays:             []relay.RelayProtocol{{Protocol: relay.ProtocolIRN}},
		Proposer:           relay.Participant{PublicKey: d.kp.PublicHex(), Metadata: d.meta},
		RequiredNamespaces: required,
		OptionalNamespaces: optional,
		ExpiryTimestamp:    time.Now().Add(5 * time.Minute).Unix(),
	})
	if err != nil {
		d.t.Fatalf("propose: %v", err)
	}
	d.publish(d.uri.Topic, req, relay.RequestOptions(req.Method))
	return req.ID
}

// Settle waits for the answer to proposal id. On approval it derives the
// session key, subscribes the session topic, acknowledges wc_sessionSettle
// and returns its params. On rejection it returns the error.
func (d *DApp) Settle(id int64) (relay.SessionSettleParams, *relay.Error) {
	d.t.Helper()
	resp := d.Next(ResponseTo(id)).Msg
	if resp.Error != nil {
		return relay.SessionSettleParams{}, resp.Error
	}

	var result relay.SessionProposeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		d.t.Fatalf("propose result: %v", err)
	}
	key, err := d.kp.DeriveSymKey(result.ResponderPublicKey)
	if err != nil {
		d.t.Fatalf("derive session key: %v", err)
	}

	d.mu.Lock()
	d.keys[key.Topic()] = key
	d.mu.Unlock()
	d.SessionTopic = key.Topic()

	ctx, cancel := context.WithTimeout(context.Background(), WaitTimeout)
	defer cancel()
	if _, err := d.client.Subscribe(ctx, d.SessionTopic); err != nil {
		d.t.Fatalf("subscribe session topic: %v", err)
	}

	settle := d.Next(func(in Inbound) bool {
		return in.Topic == d.SessionTopic && in.Msg.Method == relay.MethodSessionSettle
	}).Msg
	var params relay.SessionSettleParams
	if err := json.Unmarshal(settle.Params, &params); err != nil {
		d.t.Fatalf("settle params: %v", err)
	}
	d.Reply(d.SessionTopic, settle.ID, true)
	return params, nil
}

// Request sends wc_sessionRequest on the session topic and returns its id.
func (d *DApp) Request(chainID, method string, params any) int64 {
	d.t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		d.t.Fatalf("request params: %v", err)
	}
	req, err := relay.NewRequest(relay.MethodSessionRequest, relay.SessionRequestParams{
		Request: relay.RPCCall{Method: method, Params: raw},
		ChainID: chainID,
	})
	if err != nil {
		d.t.Fatalf("request: %v", err)
	}
	d.publish(d.SessionTopic, req, relay.RequestOptions(req.Method))
	return req.ID
}

// Send publishes an arbitrary request on topic and returns its id.
func (d *DApp) Send(topic, method string, params any) int64 {
	d.t.Helper()
	req, err := relay.NewRequest(method, params)
	if err != nil {
		d.t.Fatalf("request: %v", err)
	}
	d.publish(topic, req, relay.RequestOptions(method))
	return req.ID
}

// Reply answers a wallet request with result.
func (d *DApp) Reply(topic string, id int64, result any) {
	d.t.Helper()
	resp, err := relay.NewResult(id, result)
	if err != nil {
		d.t.Fatalf("reply: %v", err)
	}
	d.publish(topic, resp, relay.PublishOptions{TTL: time.Minute})
}

// Response waits for the wallet's response to id.
func (d *DApp) Response(id int64) *relay.Response {
	d.t.Helper()
	return d.Next(ResponseTo(id)).Msg.Response()
}

func (d *DApp) publish(topic string, v any, opts relay.PublishOptions) {
	d.t.Helper()
	if err := d.publishErr(topic, v, opts); err != nil {
		d.t.Fatalf("dapp publish: %v", err)
	}
}

func (d *DApp) publishErr(topic string, v any, opts relay.PublishOptions) error {
	d.mu.Lock()
	key, ok := d.keys[topic]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("no key for topic %s", topic)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	envelope, err := key.Encrypt(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), WaitTimeout)
	defer cancel()
	return d.client.Publish(ctx, topic, envelope, opts)
}
