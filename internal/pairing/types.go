package pairing

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/ScopeLift/umbra-v2-experimental/internal/relay"
)

// State is the lifecycle of a Client.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateTornDown:
		return "torn down"
	default:
		return "unknown"
	}
}

// Session is an approved connection to a dApp.
type Session struct {
	Topic         string                     `json:"topic"`
	PairingTopic  string                     `json:"pairingTopic"`
	Expiry        time.Time                  `json:"expiry"`
	Peer          relay.Metadata             `json:"peer"`
	PeerPublicKey string                     `json:"peerPublicKey"`
	Namespaces    map[string]relay.Namespace `json:"namespaces"`
	Controller    string                     `json:"controller"` // our public key
	Acknowledged  bool                       `json:"acknowledged"`

	symKey relay.SymKey
}

// Expired reports whether the session has passed its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.Expiry)
}

// Accounts returns every CAIP-10 account granted in the session, sorted.
func (s *Session) Accounts() []string {
	var out []string
	for _, ns := range s.Namespaces {
		out = append(out, ns.Accounts...)
	}
	sort.Strings(out)
	return out
}

// Methods returns every method granted in the session, sorted.
func (s *Session) Methods() []string {
	var out []string
	for _, ns := range s.Namespaces {
		for _, m := range ns.Methods {
			if !slices.Contains(out, m) {
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out
}

// clone returns a copy that shares no maps or slices with s.
func (s *Session) clone() Session {
	cp := *s
	cp.Peer.Icons = append([]string(nil), s.Peer.Icons...)
	cp.Namespaces = make(map[string]relay.Namespace, len(s.Namespaces))
	for k, ns := range s.Namespaces {
		cp.Namespaces[k] = relay.Namespace{
			Chains:   append([]string(nil), ns.Chains...),
			Accounts: append([]string(nil), ns.Accounts...),
			Methods:  append([]string(nil), ns.Methods...),
			Events:   append([]string(nil), ns.Events...),
		}
	}
	return cp
}

// Proposal is a dApp's request to open a session.
type Proposal struct {
	ID                 int64
	PairingTopic       string
	Proposer           relay.Participant
	Relays             []relay.RelayProtocol
	RequiredNamespaces map[string]relay.ProposalNamespace
	OptionalNamespaces map[string]relay.ProposalNamespace
	Expiry             time.Time // zero when the proposer set none
}

// Request is one Ethereum JSON-RPC call a dApp sent over a session.
type Request struct {
	ID       int64           `json:"id"`
	Topic    string          `json:"topic"`
	ChainID  string          `json:"chainId"`
	Method   string          `json:"method"`
	Params   json.RawMessage `json:"params"`
	Peer     relay.Metadata  `json:"peer"`
	Accounts []string        `json:"accounts"` // granted in the session
	Methods  []string        `json:"methods"`
}

// String renders the request for logs without its params.
func (r Request) String() string {
	return fmt.Sprintf("%s #%d", r.Method, r.ID)
}
