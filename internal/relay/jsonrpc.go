package relay

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

// JSONRPCVersion is the protocol version carried by every message.
const JSONRPCVersion = "2.0"

// Generic JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Request is a JSON-RPC request.
type Request struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response carrying either Result or Error.
type Response struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Message decodes any JSON-RPC message; requests carry a Method.
type Message struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsRequest reports whether m is a request.
func (m *Message) IsRequest() bool { return m.Method != "" }

// Request returns m as a request.
func (m *Message) Request() *Request {
	return &Request{ID: m.ID, JSONRPC: m.JSONRPC, Method: m.Method, Params: m.Params}
}

// Response returns m as a response.
func (m *Message) Response() *Response {
	return &Response{ID: m.ID, JSONRPC: m.JSONRPC, Result: m.Result, Error: m.Error}
}

// DecodeMessage parses a JSON-RPC message.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode jsonrpc: %w", err)
	}
	if m.JSONRPC != JSONRPCVersion {
		return nil, fmt.Errorf("decode jsonrpc: unsupported version %q", m.JSONRPC)
	}
	if !m.IsRequest() && m.Result == nil && m.Error == nil {
		return nil, fmt.Errorf("decode jsonrpc: message %d has neither method nor result", m.ID)
	}
	return &m, nil
}

// PayloadID returns a fresh id: milliseconds since epoch times 1000 plus
// three random digits.
func PayloadID() int64 {
	return time.Now().UnixMilli()*1000 + rand.Int63n(1000)
}

// NewRequest builds a request with a fresh id.
func NewRequest(method string, params any) (*Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}
	return &Request{ID: PayloadID(), JSONRPC: JSONRPCVersion, Method: method, Params: raw}, nil
}

// NewResult builds a success response.
func NewResult(id int64, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{ID: id, JSONRPC: JSONRPCVersion, Result: raw}, nil
}

// NewError builds an error response.
func NewError(id int64, code int, message string) *Response {
	return &Response{ID: id, JSONRPC: JSONRPCVersion, Error: &Error{Code: code, Message: message}}
}

// NewSDKError builds an error response from a protocol error.
func NewSDKError(id int64, e SDKError) *Response {
	return NewError(id, e.Code, e.Message)
}
