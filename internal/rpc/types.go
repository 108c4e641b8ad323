package rpc

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/ScopeLift/umbra-v2-experimental/internal/approval"
	"github.com/ScopeLift/umbra-v2-experimental/internal/pairing"
	"github.com/ScopeLift/umbra-v2-experimental/internal/registry"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Wallet error codes, one per approval.ErrorKind.
const (
	CodePrecondition   = -32000
	CodeRejected       = -32001
	CodeSigningFailed  = -32002
	CodeInitialization = -32003
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// AuthParam is used by auth_authenticate.
type AuthParam struct {
	Wallet   string `json:"wallet"`
	Password string `json:"password"`
}

// GenerateParam is used by stealth_generate. Zero means the default batch.
type GenerateParam struct {
	Count int `json:"count,omitempty"`
}

// AddressParam is used by stealth_select.
type AddressParam struct {
	Address string `json:"address"`
}

// URIParam is used by pairing_connect.
type URIParam struct {
	URI string `json:"uri"`
}

// TopicParam is used by pairing_disconnect.
type TopicParam struct {
	Topic string `json:"topic"`
}

// ── Result types ────────────────────────────────────────────────────────

// AuthStatus is returned by auth_authenticate and auth_status.
type AuthStatus struct {
	Authenticated bool            `json:"authenticated"`
	Wallet        string          `json:"wallet,omitempty"`
	Address       *common.Address `json:"address,omitempty"`
	MetaAddress   string          `json:"metaAddress,omitempty"`
	ChainID       uint64          `json:"chainId"`
	Pairing       string          `json:"pairing"`
}

// AddressList is returned by stealth_list.
type AddressList struct {
	Addresses  []registry.Detail `json:"addresses"`
	Selected   *common.Address   `json:"selected,omitempty"`
	Generating bool              `json:"generating"`
}

// PendingResult is returned by request_pending.
type PendingResult struct {
	Pending bool             `json:"pending"`
	Request *pairing.Request `json:"request,omitempty"`
}

// LastResponseResult is returned by request_lastResponse.
type LastResponseResult struct {
	Present  bool               `json:"present"`
	Response *approval.Response `json:"response,omitempty"`
}

// FundResult is returned by funding_fund.
type FundResult struct {
	Attempted bool          `json:"attempted"`
	Funded    bool          `json:"funded"`
	Hashes    []common.Hash `json:"hashes"`
}
