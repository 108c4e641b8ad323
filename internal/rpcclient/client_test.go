package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ScopeLift/umbra-v2-experimental/internal/rpc"
)

// seenRequest is what the stub decodes from each call.
type seenRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      int64           `json:"id"`
}

// stubServer answers each method with a canned result or error and
// records the requests it saw.
type stubServer struct {
	mu      sync.Mutex
	seen    []seenRequest
	params  map[string]json.RawMessage
	results map[string]interface{}
	errors  map[string]*rpc.Error
}

func newStub(t *testing.T) (*stubServer, *Client) {
	t.Helper()
	s := &stubServer{
		params:  make(map[string]json.RawMessage),
		results: make(map[string]interface{}),
		errors:  make(map[string]*rpc.Error),
	}
	ts := httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(ts.Close)
	return s, New(ts.URL)
}

func (s *stubServer) serve(w http.ResponseWriter, r *http.Request) {
	var req seenRequest
	json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	s.seen = append(s.seen, req)
	s.params[req.Method] = req.Params
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if e, ok := s.errors[req.Method]; ok {
		resp["error"] = e
	} else {
		resp["result"] = s.results[req.Method]
	}
	s.mu.Unlock()

	json.NewEncoder(w).Encode(resp)
}

func TestCall_IncrementsID(t *testing.T) {
	s, c := newStub(t)
	s.results["auth_status"] = rpc.AuthStatus{Authenticated: true, ChainID: 11155111}

	for i := 0; i < 3; i++ {
		st, err := c.AuthStatus()
		if err != nil {
			t.Fatalf("AuthStatus() error: %v", err)
		}
		if !st.Authenticated || st.ChainID != 11155111 {
			t.Errorf("status = %+v", st)
		}
	}
	if s.seen[0].ID == s.seen[1].ID || s.seen[1].ID == s.seen[2].ID {
		t.Errorf("ids not unique: %d %d %d", s.seen[0].ID, s.seen[1].ID, s.seen[2].ID)
	}
	if s.seen[0].JSONRPC != "2.0" {
		t.Errorf("jsonrpc = %q", s.seen[0].JSONRPC)
	}
}

func TestCall_RPCError(t *testing.T) {
	s, c := newStub(t)
	s.errors["request_approve"] = &rpc.Error{
		Code:    rpc.CodeSigningFailed,
		Message: "signing failed",
		Data:    map[string]interface{}{"id": 9, "method": "eth_sendTransaction"},
	}

	_, err := c.Approve()
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error = %v, want *RPCError", err)
	}
	if rpcErr.Code != rpc.CodeSigningFailed {
		t.Errorf("code = %d", rpcErr.Code)
	}
	var data struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(rpcErr.Data, &data); err != nil || data.ID != 9 {
		t.Errorf("data = %s", rpcErr.Data)
	}
}

func TestClient_Params(t *testing.T) {
	s, c := newStub(t)
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	s.results["stealth_select"] = map[string]string{"stealthAddress": addr.Hex()}
	s.results["stealth_generate"] = []interface{}{}
	s.results["pairing_connect"] = true

	if _, err := c.Authenticate("default", "pw"); err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	var auth rpc.AuthParam
	json.Unmarshal(s.params["auth_authenticate"], &auth)
	if auth.Wallet != "default" || auth.Password != "pw" {
		t.Errorf("auth params = %+v", auth)
	}

	d, err := c.Select(addr.Hex())
	if err != nil || d.StealthAddress != addr {
		t.Errorf("Select() = %+v, %v", d, err)
	}

	if _, err := c.Generate(0); err != nil {
		t.Fatalf("Generate(0) error: %v", err)
	}
	if p := s.params["stealth_generate"]; len(p) != 0 && string(p) != "null" {
		t.Errorf("default batch sent params %s", s.params["stealth_generate"])
	}
	if _, err := c.Generate(2); err != nil {
		t.Fatalf("Generate(2) error: %v", err)
	}
	var gen rpc.GenerateParam
	json.Unmarshal(s.params["stealth_generate"], &gen)
	if gen.Count != 2 {
		t.Errorf("count = %d", gen.Count)
	}

	if err := c.Pair("wc:abc@2"); err != nil {
		t.Fatalf("Pair() error: %v", err)
	}
	var uri rpc.URIParam
	json.Unmarshal(s.params["pairing_connect"], &uri)
	if uri.URI != "wc:abc@2" {
		t.Errorf("uri = %q", uri.URI)
	}
}

func TestCall_Unreachable(t *testing.T) {
	c := New("http://127.0.0.1:1/")
	if _, err := c.Sessions(); err == nil {
		t.Fatal("expected error for unreachable endpoint")
	}
}

func TestCallContext_Canceled(t *testing.T) {
	_, c := newStub(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.CallContext(ctx, "auth_status", nil, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
