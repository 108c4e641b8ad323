package funding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	ulog "github.com/ScopeLift/umbra-v2-experimental/internal/log"
)

// Client calls a funding server. Funding is attempted at most once per
// Client: after the first attempt, successful or not, every call is a
// no-op.
type Client struct {
	url    string
	http   *http.Client
	logger zerolog.Logger

	attempted atomic.Bool
	funding   atomic.Bool
	funded    atomic.Bool
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		url:    strings.TrimRight(baseURL, "/") + BatchFundPath,
		http:   &http.Client{Timeout: receiptDeadline + 30*time.Second},
		logger: ulog.Funding,
	}
}

// IsBatchFunding reports whether a funding call is in flight.
func (c *Client) IsBatchFunding() bool { return c.funding.Load() }

// HasAttemptedFunding reports whether funding was already attempted.
func (c *Client) HasAttemptedFunding() bool { return c.attempted.Load() }

// IsFunded reports whether the attempt succeeded.
func (c *Client) IsFunded() bool { return c.funded.Load() }

// BatchSendEthUsingFunder asks the server to send each transfer and returns
// the transaction hashes. It returns nil, nil when funding was already
// attempted.
func (c *Client) BatchSendEthUsingFunder(ctx context.Context, reqs []BatchFundRequest) ([]common.Hash, error) {
	if !c.attempted.CompareAndSwap(false, true) {
		c.logger.Debug().Msg("Funding already attempted, skipping")
		return nil, nil
	}
	c.funding.Store(true)
	defer c.funding.Store(false)

	hashes, err := c.post(ctx, reqs)
	if err != nil {
		c.logger.Error().Err(err).Msg("Error while batch funding")
		return nil, err
	}
	c.funded.Store(true)
	c.logger.Info().Int("transfers", len(hashes)).Msg("Stealth addresses funded")
	return hashes, nil
}

func (c *Client) post(ctx context.Context, reqs []BatchFundRequest) ([]common.Hash, error) {
	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return nil, fmt.Errorf("funder returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("funder: %s", e.Error)
	}

	var out BatchFundResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out.Hashes, nil
}
