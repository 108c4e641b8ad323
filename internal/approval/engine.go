// Package approval holds the one session request awaiting the user's
// decision and, on approval, executes it with the signer bound to the
// account the request targets.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	ulog "github.com/ScopeLift/umbra-v2-experimental/internal/log"
	"github.com/ScopeLift/umbra-v2-experimental/internal/namespace"
	"github.com/ScopeLift/umbra-v2-experimental/internal/pairing"
	"github.com/ScopeLift/umbra-v2-experimental/internal/relay"
	"github.com/ScopeLift/umbra-v2-experimental/internal/signer"
)

// respondTimeout bounds replies sent without a caller context.
const respondTimeout = 10 * time.Second

var (
	ErrNoPendingRequest  = errors.New("no pending request")
	ErrBusy              = errors.New("request approval already in progress")
	ErrRequestPending    = errors.New("request already pending")
	ErrAccountNotGranted = errors.New("account not granted in session")
	ErrSigning           = errors.New("signing failed")
)

// Responder sends a response for a received request id.
// *pairing.Client implements it.
type Responder interface {
	Respond(ctx context.Context, topic string, resp *relay.Response) error
}

// Signers resolves the signer bound to a stealth address.
// *registry.Registry implements it.
type Signers interface {
	SignerFor(addr common.Address) (*signer.Signer, error)
}

// Response is the last answer sent to a dApp.
type Response struct {
	ID          int64           `json:"id"`
	Topic       string          `json:"topic"`
	Method      string          `json:"method"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *relay.Error    `json:"error,omitempty"`
	ExplorerURL string          `json:"explorerUrl,omitempty"`
	At          time.Time       `json:"at"`
}

// Engine is the approval state machine: None, Pending, then Approving or
// Rejecting, then None again.
type Engine struct {
	responder Responder
	signers   Signers
	chain     string
	explorer  string
	logger    zerolog.Logger

	mu      sync.Mutex
	pending *pairing.Request
	busy    bool
	last    *Response
}

// New creates an engine serving requests for chainID. explorerURL is the
// block explorer base used to link transaction hashes; it may be empty.
func New(responder Responder, signers Signers, chainID uint64, explorerURL string) *Engine {
	return &Engine{
		responder: responder,
		signers:   signers,
		chain:     namespace.ChainID(chainID),
		explorer:  strings.TrimRight(explorerURL, "/"),
		logger:    ulog.Approval,
	}
}

// HandleRequest takes an inbound session request. Requests for another
// chain, for methods the wallet does not serve or the session did not
// grant, and requests arriving while another is pending are answered at
// once with an error and never become pending.
func (e *Engine) HandleRequest(ctx context.Context, r pairing.Request) {
	logger := e.logger.With().Stringer("request", r).Str("peer", r.Peer.Name).Logger()

	if !Supported(r.Method) {
		logger.Warn().Msg("Unsupported method refused")
		e.send(ctx, r, relay.NewSDKError(r.ID, relay.SDKInvalidMethod))
		return
	}
	if r.ChainID != e.chain {
		logger.Warn().Str("chain", r.ChainID).Str("serving", e.chain).Msg("Request for another chain refused")
		e.send(ctx, r, relay.NewSDKError(r.ID, relay.SDKUnsupportedChains))
		return
	}
	if !slices.Contains(r.Methods, r.Method) {
		logger.Warn().Strs("granted", r.Methods).Msg("Method not granted in session")
		e.send(ctx, r, relay.NewSDKError(r.ID, relay.SDKUnauthorizedMethod))
		return
	}

	e.mu.Lock()
	if e.pending != nil {
		busy := e.pending.String()
		e.mu.Unlock()
		logger.Warn().Str("pending", busy).Msg("Request refused, another is pending")
		e.send(ctx, r, relay.NewError(r.ID, relay.CodeServerError, ErrRequestPending.Error()))
		return
	}
	req := r
	e.pending = &req
	e.mu.Unlock()

	logger.Info().Msg("Request pending approval")
}

// Pending returns the request awaiting a decision.
func (e *Engine) Pending() (pairing.Request, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return pairing.Request{}, false
	}
	return *e.pending, true
}

// LastResponse returns the last response sent.
func (e *Engine) LastResponse() (Response, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Response{}, false
	}
	return *e.last, true
}

// take moves the pending request into a decision.
func (e *Engine) take() (pairing.Request, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return pairing.Request{}, ErrNoPendingRequest
	}
	if e.busy {
		return pairing.Request{}, ErrBusy
	}
	e.busy = true
	return *e.pending, nil
}

// finish returns the engine to None and records resp.
func (e *Engine) finish(resp Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
	e.busy = false
	e.last = &resp
}

// Approve executes the pending request and sends its result. A signing or
// broadcast failure is sent to the dApp as an error and also returned.
func (e *Engine) Approve(ctx context.Context) (Response, error) {
	r, err := e.take()
	if err != nil {
		return Response{}, err
	}
	logger := e.logger.With().Stringer("request", r).Logger()
	defer ulog.Benchmark("approve " + r.Method)()

	result, execErr := e.execute(ctx, r)
	var resp *relay.Response
	if execErr != nil {
		code := relay.CodeServerError
		if errors.Is(execErr, ErrUnsupportedMethod) {
			code = relay.SDKInvalidMethod.Code
		}
		logger.Warn().Err(execErr).Msg("Request failed")
		resp = relay.NewError(r.ID, code, execErr.Error())
	} else if resp, err = relay.NewResult(r.ID, result); err != nil {
		resp = relay.NewError(r.ID, relay.CodeInternalError, err.Error())
	}

	out := e.record(r, resp, result)
	sendErr := e.send(ctx, r, resp)
	e.finish(out)
	if execErr == nil {
		logger.Info().Str("explorer", out.ExplorerURL).Msg("Request approved")
	}
	return out, errors.Join(execErr, sendErr)
}

// Reject answers the pending request with USER_REJECTED.
func (e *Engine) Reject(ctx context.Context) (Response, error) {
	r, err := e.take()
	if err != nil {
		return Response{}, err
	}
	resp := relay.NewSDKError(r.ID, relay.SDKUserRejected)
	out := e.record(r, resp, nil)
	sendErr := e.send(ctx, r, resp)
	e.finish(out)
	e.logger.Info().Stringer("request", r).Msg("Request rejected")
	return out, sendErr
}

func (e *Engine) record(r pairing.Request, resp *relay.Response, result any) Response {
	out := Response{
		ID:     r.ID,
		Topic:  r.Topic,
		Method: r.Method,
		Result: resp.Result,
		Error:  resp.Error,
		At:     time.Now(),
	}
	if h, ok := result.(common.Hash); ok && e.explorer != "" {
		out.ExplorerURL = e.explorer + "/tx/" + h.Hex()
	}
	return out
}

func (e *Engine) send(ctx context.Context, r pairing.Request, resp *relay.Response) error {
	if ctx.Err() != nil {
		// The caller gave up; the dApp still gets its answer.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), respondTimeout)
		defer cancel()
	}
	if err := e.responder.Respond(ctx, r.Topic, resp); err != nil {
		e.logger.Error().Err(err).Stringer("request", r).Msg("Failed to send response")
		return fmt.Errorf("send response: %w", err)
	}
	return nil
}

// execute parses and runs r with the signer of its target account.
func (e *Engine) execute(ctx context.Context, r pairing.Request) (any, error) {
	call, err := ParseCall(r.Method, r.Params)
	if err != nil {
		return nil, err
	}
	target, err := targetAccount(call, r.Accounts)
	if err != nil {
		return nil, err
	}
	s, err := e.signers.SignerFor(target)
	if err != nil {
		return nil, err
	}

	switch c := call.(type) {
	case MessageSign:
		sig, err := s.SignMessage(c.Message)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSigning, err)
		}
		return hexutil.Bytes(sig), nil
	case TypedDataSign:
		sig, err := s.SignTypedData(c.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSigning, err)
		}
		return hexutil.Bytes(sig), nil
	case TransactionCall:
		if c.Broadcast {
			h, err := s.SendTransaction(ctx, c.Tx)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrSigning, err)
			}
			return h, nil
		}
		raw, err := s.SignTransactionRaw(ctx, c.Tx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSigning, err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, r.Method)
	}
}

// targetAccount picks the account a request acts as: the one named in its
// params, else the first account granted in the session. A named account
// must be granted in the session.
func targetAccount(call Call, granted []string) (common.Address, error) {
	grantedAddrs := make([]common.Address, 0, len(granted))
	for _, acc := range granted {
		a := namespace.StripPrefix(acc)
		if common.IsHexAddress(a) {
			grantedAddrs = append(grantedAddrs, common.HexToAddress(a))
		}
	}

	if named := call.Account(); named != nil {
		for _, a := range grantedAddrs {
			if a == *named {
				return a, nil
			}
		}
		return common.Address{}, fmt.Errorf("%w: %s", ErrAccountNotGranted, named.Hex())
	}
	if len(grantedAddrs) == 0 {
		return common.Address{}, ErrAccountNotGranted
	}
	return grantedAddrs[0], nil
}
