package relay

import (
	"encoding/json"
	"time"
)

// Session protocol methods.
const (
	MethodSessionPropose = "wc_sessionPropose"
	MethodSessionSettle  = "wc_sessionSettle"
	MethodSessionRequest = "wc_sessionRequest"
	MethodSessionDelete  = "wc_sessionDelete"
	MethodSessionPing    = "wc_sessionPing"
	MethodSessionEvent   = "wc_sessionEvent"
	MethodPairingPing    = "wc_pairingPing"
	MethodPairingDelete  = "wc_pairingDelete"
)

// Relay methods.
const (
	MethodSubscribe    = "irn_subscribe"
	MethodUnsubscribe  = "irn_unsubscribe"
	MethodPublish      = "irn_publish"
	MethodSubscription = "irn_subscription"
)

// SDKError is a protocol-level error code and message.
type SDKError struct {
	Code    int
	Message string
}

// Protocol errors returned to the peer.
var (
	SDKInvalidMethod           = SDKError{Code: 1001, Message: "Invalid method."}
	SDKUnauthorizedMethod      = SDKError{Code: 3001, Message: "Unauthorized method."}
	SDKUserRejected            = SDKError{Code: 5000, Message: "User rejected."}
	SDKUnsupportedChains       = SDKError{Code: 5100, Message: "Unsupported chains."}
	SDKUnsupportedNamespaceKey = SDKError{Code: 5104, Message: "Unsupported namespace key."}
	SDKUserDisconnected        = SDKError{Code: 6000, Message: "User disconnected."}
)

// PublishOptions are the relay TTL and tag of one message kind.
type PublishOptions struct {
	TTL time.Duration
	Tag int
}

// methodOptions maps a method to the options of its request and response.
var methodOptions = map[string][2]PublishOptions{
	MethodSessionPropose: {{5 * time.Minute, 1100}, {5 * time.Minute, 1101}},
	MethodSessionSettle:  {{5 * time.Minute, 1102}, {5 * time.Minute, 1103}},
	MethodSessionRequest: {{5 * time.Minute, 1108}, {5 * time.Minute, 1109}},
	MethodSessionEvent:   {{5 * time.Minute, 1110}, {5 * time.Minute, 1111}},
	MethodSessionDelete:  {{24 * time.Hour, 1112}, {24 * time.Hour, 1113}},
	MethodSessionPing:    {{30 * time.Second, 1114}, {30 * time.Second, 1115}},
	MethodPairingDelete:  {{24 * time.Hour, 1000}, {24 * time.Hour, 1001}},
	MethodPairingPing:    {{30 * time.Second, 1002}, {30 * time.Second, 1003}},
}

var defaultOptions = PublishOptions{TTL: 5 * time.Minute, Tag: 0}

// RequestOptions returns the publish options for a request of method.
func RequestOptions(method string) PublishOptions {
	if o, ok := methodOptions[method]; ok {
		return o[0]
	}
	return defaultOptions
}

// ResponseOptions returns the publish options for a response to method.
func ResponseOptions(method string) PublishOptions {
	if o, ok := methodOptions[method]; ok {
		return o[1]
	}
	return defaultOptions
}

// RelayProtocol names the relay a pairing or session uses.
type RelayProtocol struct {
	Protocol string `json:"protocol"`
	Data     string `json:"data,omitempty"`
}

// Metadata describes a peer application.
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
}

// Participant is one side of a proposal or session.
type Participant struct {
	PublicKey string   `json:"publicKey"`
	Metadata  Metadata `json:"metadata"`
}

// ProposalNamespace is what a dApp asks for under one namespace key.
type ProposalNamespace struct {
	Chains  []string `json:"chains,omitempty"`
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// Namespace is what the wallet grants under one namespace key.
type Namespace struct {
	Chains   []string `json:"chains,omitempty"`
	Accounts []string `json:"accounts"`
	Methods  []string `json:"methods"`
	Events   []string `json:"events"`
}

// SessionProposeParams are the params of wc_sessionPropose.
type SessionProposeParams struct {
	Relays             []RelayProtocol              `json:"relays"`
	Proposer           Participant                  `json:"proposer"`
	RequiredNamespaces map[string]ProposalNamespace `json:"requiredNamespaces"`
	OptionalNamespaces map[string]ProposalNamespace `json:"optionalNamespaces,omitempty"`
	ExpiryTimestamp    int64                        `json:"expiryTimestamp,omitempty"`
}

// SessionProposeResult is the wallet's answer to wc_sessionPropose.
type SessionProposeResult struct {
	Relay              RelayProtocol `json:"relay"`
	ResponderPublicKey string        `json:"responderPublicKey"`
}

// SessionSettleParams are the params of wc_sessionSettle.
type SessionSettleParams struct {
	Relay      RelayProtocol        `json:"relay"`
	Namespaces map[string]Namespace `json:"namespaces"`
	Controller Participant          `json:"controller"`
	Expiry     int64                `json:"expiry"`
}

// SessionRequestParams are the params of wc_sessionRequest.
type SessionRequestParams struct {
	Request RPCCall `json:"request"`
	ChainID string  `json:"chainId"`
}

// RPCCall is the dApp's Ethereum JSON-RPC call inside a session request.
type RPCCall struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Expiry int64           `json:"expiryTimestamp,omitempty"`
}

// SessionDeleteParams are the params of wc_sessionDelete.
type SessionDeleteParams struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SubscribeParams are the params of irn_subscribe.
type SubscribeParams struct {
	Topic string `json:"topic"`
}

// UnsubscribeParams are the params of irn_unsubscribe.
type UnsubscribeParams struct {
	Topic string `json:"topic"`
	ID    string `json:"id"`
}

// PublishParams are the params of irn_publish.
type PublishParams struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
	TTL     int64  `json:"ttl"`
	Tag     int    `json:"tag"`
	Prompt  bool   `json:"prompt,omitempty"`
}

// SubscriptionParams are the params of irn_subscription.
type SubscriptionParams struct {
	ID   string           `json:"id"`
	Data SubscriptionData `json:"data"`
}

// SubscriptionData is one message delivered on a subscribed topic.
type SubscriptionData struct {
	Topic       string `json:"topic"`
	Message     string `json:"message"`
	PublishedAt int64  `json:"publishedAt"`
	Tag         int    `json:"tag"`
}
