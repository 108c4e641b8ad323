package rpc

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/ScopeLift/umbra-v2-experimental/internal/approval"
)

// routes is the method table. Methods without params ignore them.
func (s *Server) routes() map[string]methodFunc {
	return map[string]methodFunc{
		"auth_authenticate":    s.authenticate,
		"auth_status":          s.status,
		"auth_logout":          s.logout,
		"stealth_generate":     s.generate,
		"stealth_list":         s.list,
		"stealth_select":       s.selectAddress,
		"pairing_connect":      s.pair,
		"pairing_sessions":     s.sessions,
		"pairing_disconnect":   s.disconnect,
		"request_pending":      s.pending,
		"request_approve":      s.answer(s.svc.ApproveRequest),
		"request_reject":       s.answer(s.svc.RejectRequest),
		"request_lastResponse": s.lastResponse,
		"funding_fund":         s.fund,
	}
}

func (s *Server) authenticate(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p AuthParam
	if err := decodeParams(params, &p, false); err != nil {
		return nil, err
	}
	if p.Wallet == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "wallet is required"}
	}
	password := []byte(p.Password)
	defer clear(password)

	status, err := s.svc.Authenticate(ctx, p.Wallet, password)
	if err != nil {
		return nil, toRPCError(err)
	}
	return status, nil
}

func (s *Server) status(context.Context, json.RawMessage) (interface{}, *Error) {
	return s.svc.AuthStatus(), nil
}

func (s *Server) logout(ctx context.Context, _ json.RawMessage) (interface{}, *Error) {
	if err := s.svc.Logout(ctx); err != nil {
		return nil, toRPCError(err)
	}
	return s.svc.AuthStatus(), nil
}

func (s *Server) generate(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p GenerateParam
	if err := decodeParams(params, &p, true); err != nil {
		return nil, err
	}
	if p.Count < 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "count must not be negative"}
	}
	details, err := s.svc.GenerateAddresses(ctx, p.Count)
	if err != nil {
		return nil, toRPCError(err)
	}
	return details, nil
}

func (s *Server) list(context.Context, json.RawMessage) (interface{}, *Error) {
	return s.svc.Addresses(), nil
}

func (s *Server) selectAddress(_ context.Context, params json.RawMessage) (interface{}, *Error) {
	var p AddressParam
	if err := decodeParams(params, &p, false); err != nil {
		return nil, err
	}
	if p.Address == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "address is required"}
	}
	detail, err := s.svc.SelectAddress(p.Address)
	if err != nil {
		return nil, toRPCError(err)
	}
	return detail, nil
}

func (s *Server) pair(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p URIParam
	if err := decodeParams(params, &p, false); err != nil {
		return nil, err
	}
	if p.URI == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "uri is required"}
	}
	if err := s.svc.Pair(ctx, p.URI); err != nil {
		return nil, toRPCError(err)
	}
	return true, nil
}

// sessions lists active sessions, soonest expiry first.
func (s *Server) sessions(context.Context, json.RawMessage) (interface{}, *Error) {
	list := s.svc.Sessions()
	sort.Slice(list, func(i, j int) bool { return list[i].Expiry.Before(list[j].Expiry) })
	return list, nil
}

func (s *Server) disconnect(ctx context.Context, params json.RawMessage) (interface{}, *Error) {
	var p TopicParam
	if err := decodeParams(params, &p, false); err != nil {
		return nil, err
	}
	if p.Topic == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "topic is required"}
	}
	if err := s.svc.Disconnect(ctx, p.Topic); err != nil {
		return nil, toRPCError(err)
	}
	return true, nil
}

func (s *Server) pending(context.Context, json.RawMessage) (interface{}, *Error) {
	r, ok := s.svc.PendingRequest()
	if !ok {
		return PendingResult{}, nil
	}
	return PendingResult{Pending: true, Request: &r}, nil
}

// answer wraps approve and reject. When the decision failed after the dApp
// was already answered, the error data carries what it was sent.
func (s *Server) answer(decide func(context.Context) (approval.Response, error)) methodFunc {
	return func(ctx context.Context, _ json.RawMessage) (interface{}, *Error) {
		resp, err := decide(ctx)
		if err == nil {
			return resp, nil
		}
		rpcErr := toRPCError(err)
		if resp.Method != "" {
			rpcErr.Data = resp
		}
		return nil, rpcErr
	}
}

func (s *Server) lastResponse(context.Context, json.RawMessage) (interface{}, *Error) {
	resp, ok := s.svc.LastResponse()
	if !ok {
		return LastResponseResult{}, nil
	}
	return LastResponseResult{Present: true, Response: &resp}, nil
}

func (s *Server) fund(ctx context.Context, _ json.RawMessage) (interface{}, *Error) {
	res, err := s.svc.Fund(ctx)
	if err != nil {
		return nil, toRPCError(err)
	}
	return res, nil
}
