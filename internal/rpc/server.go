// Package rpc implements the wallet daemon's JSON-RPC 2.0 control API.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/ScopeLift/umbra-v2-experimental/config"
	"github.com/ScopeLift/umbra-v2-experimental/internal/approval"
	ulog "github.com/ScopeLift/umbra-v2-experimental/internal/log"
	"github.com/ScopeLift/umbra-v2-experimental/internal/pairing"
	"github.com/ScopeLift/umbra-v2-experimental/internal/registry"
)

const maxBodySize = 1 << 20

// Service is the wallet the API drives. *node.Node implements it.
type Service interface {
	Authenticate(ctx context.Context, wallet string, password []byte) (AuthStatus, error)
	AuthStatus() AuthStatus
	Logout(ctx context.Context) error

	GenerateAddresses(ctx context.Context, count int) ([]registry.Detail, error)
	Addresses() AddressList
	SelectAddress(addr string) (registry.Detail, error)

	Pair(ctx context.Context, uri string) error
	Sessions() []pairing.Session
	Disconnect(ctx context.Context, topic string) error

	PendingRequest() (pairing.Request, bool)
	ApproveRequest(ctx context.Context) (approval.Response, error)
	RejectRequest(ctx context.Context) (approval.Response, error)
	LastResponse() (approval.Response, bool)

	Fund(ctx context.Context) (FundResult, error)
}

// methodFunc serves one method. params is nil when the caller sent none.
type methodFunc func(ctx context.Context, params json.RawMessage) (interface{}, *Error)

// call is a decoded request with its params still encoded.
type call struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// Server serves the control API over HTTP POST.
type Server struct {
	addr    string
	svc     Service
	methods map[string]methodFunc
	http    *http.Server
	ln      net.Listener
	logger  zerolog.Logger

	allowed []netip.Prefix  // empty allows every client
	origins map[string]bool // empty sends no CORS headers
}

// New builds a server for svc. Without an RPCConfig every client address
// is accepted and CORS is off.
func New(addr string, svc Service, rpcCfg ...config.RPCConfig) *Server {
	s := &Server{addr: addr, svc: svc, logger: ulog.RPC}
	if len(rpcCfg) > 0 {
		s.allowed = parsePrefixes(rpcCfg[0].AllowedIPs)
		if len(rpcCfg[0].CORSOrigins) > 0 {
			s.origins = make(map[string]bool)
			for _, o := range rpcCfg[0].CORSOrigins {
				s.origins[o] = true
			}
		}
	}
	s.methods = s.routes()

	r := mux.NewRouter()
	r.HandleFunc("/", s.serveCall).Methods(http.MethodPost)
	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodOptions)
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, nil, CodeInvalidRequest, "only POST is accepted")
	})

	s.http = &http.Server{
		Handler:     s.filter(s.cors(r)),
		ReadTimeout: 30 * time.Second,
		// Login derives keys and generates a batch; approvals wait on the chain.
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

// parsePrefixes accepts CIDRs and bare addresses. Unparseable entries are
// skipped.
func parsePrefixes(entries []string) []netip.Prefix {
	var out []netip.Prefix
	for _, e := range entries {
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked())
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			a = a.Unmap()
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Control API stopped")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Int("methods", len(s.methods)).Msg("Control API listening")
	return nil
}

// Addr is the bound address once started, so ":0" resolves.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// filter rejects clients outside the allowed prefixes with a bare 403.
func (s *Server) filter(next http.Handler) http.Handler {
	if len(s.allowed) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.permitted(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) permitted(remote string) bool {
	ap, err := netip.ParseAddrPort(remote)
	if err != nil {
		return false
	}
	addr := ap.Addr().Unmap()
	for _, p := range s.allowed {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// cors echoes an allowed Origin, or "*" when every origin is allowed.
func (s *Server) cors(next http.Handler) http.Handler {
	if s.origins == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allow := ""
		switch {
		case origin == "":
		case s.origins["*"]:
			allow = "*"
		case s.origins[origin]:
			allow = origin
		}
		if allow != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) serveCall(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	switch {
	case err != nil:
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	case len(body) > maxBodySize:
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var c call
	if err := json.Unmarshal(body, &c); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}
	if c.JSONRPC != "2.0" {
		writeError(w, c.ID, CodeInvalidRequest, `jsonrpc must be "2.0"`)
		return
	}

	method, ok := s.methods[c.Method]
	if !ok {
		writeError(w, c.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", c.Method))
		return
	}
	if bytes.Equal(c.Params, []byte("null")) {
		c.Params = nil
	}

	start := time.Now()
	result, rpcErr := method(r.Context(), c.Params)
	ev := s.logger.Debug().Str("method", c.Method).Dur("took", time.Since(start))
	if rpcErr != nil {
		ev.Int("code", rpcErr.Code).Msg(rpcErr.Message)
		writeJSON(w, Response{JSONRPC: "2.0", Error: rpcErr, ID: c.ID})
		return
	}
	ev.Msg("ok")
	writeJSON(w, Response{JSONRPC: "2.0", Result: result, ID: c.ID})
}

func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{JSONRPC: "2.0", Error: &Error{Code: code, Message: message}, ID: id})
}

// decodeParams fills v from params. Omitted params are an error unless
// optional is set, in which case v keeps its zero value.
func decodeParams(params json.RawMessage, v interface{}, optional bool) *Error {
	if params == nil {
		if optional {
			return nil
		}
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

// toRPCError maps a wallet error to a JSON-RPC error by its kind.
func toRPCError(err error) *Error {
	code := CodeInternalError
	switch approval.Kind(err) {
	case approval.KindPreconditionMissing:
		code = CodePrecondition
	case approval.KindProtocolRejection:
		code = CodeRejected
	case approval.KindSigningFailure:
		code = CodeSigningFailed
	case approval.KindInitializationFailure:
		code = CodeInitialization
	}
	if errors.Is(err, context.DeadlineExceeded) {
		code = CodeInternalError
	}
	return &Error{Code: code, Message: err.Error()}
}
