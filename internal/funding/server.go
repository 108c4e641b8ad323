// Package funding tops up freshly generated stealth addresses from a
// funding account. The server holds the funding key; the client is what
// the wallet daemon calls, at most once per session.
package funding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	ulog "github.com/ScopeLift/umbra-v2-experimental/internal/log"
	"github.com/ScopeLift/umbra-v2-experimental/internal/signer"
)

// BatchFundPath is the funding endpoint.
const BatchFundPath = "/api/batch-fund"

const (
	maxBodySize     = 64 * 1024
	maxBatch        = 50
	receiptPoll     = 2 * time.Second
	receiptDeadline = 3 * time.Minute
)

// Error messages returned to clients. Details stay in the server log.
const (
	msgNoFundingKey = "Funding account private key not found"
	msgSendFailed   = "Error sending ETH"
	msgBadRequest   = "Invalid batch fund request"
)

var ErrInvalidAmount = errors.New("invalid ether amount")

// BatchFundRequest is one transfer.
type BatchFundRequest struct {
	To             common.Address `json:"to"`
	FormattedValue string         `json:"formattedValue"` // ether, decimal
}

// BatchFundResponse lists the hashes of the sent transfers in order.
type BatchFundResponse struct {
	Hashes []common.Hash `json:"hashes"`
}

// ErrorResponse is returned with status 500.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Sender sends a value transfer from the funding account.
// *signer.Signer implements it.
type Sender interface {
	Address() common.Address
	SendTransaction(ctx context.Context, req signer.TxRequest) (common.Hash, error)
}

// ReceiptSource looks up mined receipts. *ethclient.Client implements it.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Server serves BatchFundPath.
type Server struct {
	sender   Sender
	receipts ReceiptSource
	poll     time.Duration
	logger   zerolog.Logger
}

// NewServer creates a funding server. A nil sender makes every request
// fail with "Funding account private key not found".
func NewServer(sender Sender, receipts ReceiptSource) *Server {
	return &Server{
		sender:   sender,
		receipts: receipts,
		poll:     receiptPoll,
		logger:   ulog.Funding,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(BatchFundPath, s.handleBatchFund).Methods(http.MethodPost)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return r
}

func (s *Server) handleBatchFund(w http.ResponseWriter, r *http.Request) {
	if s.sender == nil {
		s.logger.Error().Msg("Funding request without a funding key")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msgNoFundingKey})
		return
	}

	var reqs []BatchFundRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil || len(reqs) == 0 || len(reqs) > maxBatch {
		s.logger.Warn().Err(err).Int("count", len(reqs)).Msg("Malformed batch fund request")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msgBadRequest})
		return
	}

	hashes, err := s.fund(r.Context(), reqs)
	if err != nil {
		s.logger.Error().Err(err).Int("sent", len(hashes)).Msg("Error sending ETH")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msgSendFailed})
		return
	}
	writeJSON(w, http.StatusOK, BatchFundResponse{Hashes: hashes})
}

// fund sends each transfer in order, then waits for every receipt.
func (s *Server) fund(ctx context.Context, reqs []BatchFundRequest) ([]common.Hash, error) {
	values := make([]*big.Int, len(reqs))
	for i, req := range reqs {
		v, err := ParseEther(req.FormattedValue)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	hashes := make([]common.Hash, 0, len(reqs))
	for i, req := range reqs {
		to := req.To
		h, err := s.sender.SendTransaction(ctx, signer.TxRequest{To: &to, Value: values[i]})
		if err != nil {
			return hashes, fmt.Errorf("fund %s: %w", to.Hex(), err)
		}
		s.logger.Info().
			Str("from", s.sender.Address().Hex()).
			Str("to", to.Hex()).
			Str("value", req.FormattedValue).
			Str("tx", h.Hex()).
			Msg("Funding transfer sent")
		hashes = append(hashes, h)
	}

	waitCtx, cancel := context.WithTimeout(ctx, receiptDeadline)
	defer cancel()
	for _, h := range hashes {
		if err := s.waitMined(waitCtx, h); err != nil {
			return hashes, err
		}
	}
	return hashes, nil
}

func (s *Server) waitMined(ctx context.Context, h common.Hash) error {
	if s.receipts == nil {
		return nil
	}
	t := time.NewTicker(s.poll)
	defer t.Stop()
	for {
		receipt, err := s.receipts.TransactionReceipt(ctx, h)
		switch {
		case err == nil && receipt.Status == types.ReceiptStatusFailed:
			return fmt.Errorf("transfer %s reverted", h.Hex())
		case err == nil:
			return nil
		case !errors.Is(err, ethereum.NotFound):
			return fmt.Errorf("receipt %s: %w", h.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("receipt %s: %w", h.Hex(), ctx.Err())
		case <-t.C:
		}
	}
}

// ParseEther converts a decimal ether amount to wei.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 18 || strings.HasPrefix(whole, "-") || strings.HasPrefix(whole, "+") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	frac += strings.Repeat("0", 18-len(frac))

	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return v, nil
}

// FormatEther renders wei as a decimal ether amount.
func FormatEther(wei *big.Int) string {
	q, r := new(big.Int).QuoRem(wei, big.NewInt(params.Ether), new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	frac := strings.TrimRight(fmt.Sprintf("%018s", r.String()), "0")
	return q.String() + "." + frac
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
