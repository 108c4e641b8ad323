// Package rpcclient talks to the stealth wallet daemon's control API. The
// typed helpers in wallet.go are what stealthwallet-cli uses.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ScopeLift/umbra-v2-experimental/internal/rpc"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 8 << 20
)

// Client sends JSON-RPC 2.0 calls over HTTP.
type Client struct {
	url  string
	http *http.Client
	seq  atomic.Int64
}

// New returns a client for url with a 10s timeout.
func New(url string) *Client {
	return NewWithTimeout(url, defaultTimeout)
}

// NewWithTimeout returns a client whose calls give up after timeout.
// Approvals wait on the relay, so the CLI passes minutes here.
func NewWithTimeout(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{url: url, http: &http.Client{Timeout: timeout}}
}

// RPCError is an error object returned by the daemon.
type RPCError struct {
	Code    int
	Message string
	Data    json.RawMessage // the pending request, for request_* failures
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// reply mirrors rpc.Response with the result left undecoded.
type reply struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

// Call invokes method and decodes the result into out, which may be nil.
func (c *Client) Call(method string, params, out any) error {
	return c.CallContext(context.Background(), method, params, out)
}

// CallContext is Call bounded by ctx as well as the client timeout.
func (c *Client) CallContext(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(rpc.Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.seq.Add(1),
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	var r reply
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&r); err != nil {
		return fmt.Errorf("decode %s response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if r.Error != nil {
		return &RPCError{Code: r.Error.Code, Message: r.Error.Message, Data: r.Error.Data}
	}
	if out == nil || len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}
