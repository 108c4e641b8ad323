package funding

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/matryer/is"

	"github.com/ScopeLift/umbra-v2-experimental/internal/signer"
)

var (
	funderAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	addrA      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	addrB      = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

// fakeSender records transfers and hands out sequential hashes.
type fakeSender struct {
	mu     sync.Mutex
	sent   []signer.TxRequest
	failAt int // 1-based; 0 never fails
}

func (f *fakeSender) Address() common.Address { return funderAddr }

func (f *fakeSender) SendTransaction(_ context.Context, req signer.TxRequest) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt == len(f.sent)+1 {
		return common.Hash{}, errors.New("insufficient funds")
	}
	f.sent = append(f.sent, req)
	return common.BigToHash(big.NewInt(int64(len(f.sent)))), nil
}

// fakeReceipts reports each hash mined after pending polls.
type fakeReceipts struct {
	mu      sync.Mutex
	pending int
	status  uint64
	polls   map[common.Hash]int
}

func (f *fakeReceipts) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.polls == nil {
		f.polls = make(map[common.Hash]int)
	}
	f.polls[h]++
	if f.polls[h] <= f.pending {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{TxHash: h, Status: f.status}, nil
}

func startFunder(t *testing.T, sender Sender, receipts ReceiptSource) string {
	t.Helper()
	s := NewServer(sender, receipts)
	s.poll = 5 * time.Millisecond
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func batch() []BatchFundRequest {
	return []BatchFundRequest{
		{To: addrA, FormattedValue: "0.001"},
		{To: addrB, FormattedValue: "0.5"},
	}
}

func TestParseEther(t *testing.T) {
	is := is.New(t)
	tests := map[string]string{
		"1":                    "1000000000000000000",
		"0.001":                "1000000000000000",
		".5":                   "500000000000000000",
		"2.":                   "2000000000000000000",
		"0.000000000000000001": "1",
	}
	for in, want := range tests {
		v, err := ParseEther(in)
		is.NoErr(err)
		is.Equal(v.String(), want)
		back, err := ParseEther(FormatEther(v))
		is.NoErr(err)
		is.Equal(back.Cmp(v), 0)
	}

	for _, bad := range []string{"", "0", "-1", "abc", "1e18", "1.2.3", "0.0000000000000000001"} {
		_, err := ParseEther(bad)
		is.True(errors.Is(err, ErrInvalidAmount))
	}
}

func TestFormatEther(t *testing.T) {
	is := is.New(t)
	is.Equal(FormatEther(big.NewInt(1_000_000_000_000_000)), "0.001")
	is.Equal(FormatEther(new(big.Int).Mul(big.NewInt(3), big.NewInt(1e18))), "3")
}

func TestBatchFund(t *testing.T) {
	is := is.New(t)
	sender := &fakeSender{}
	receipts := &fakeReceipts{pending: 2, status: types.ReceiptStatusSuccessful}
	c := NewClient(startFunder(t, sender, receipts))

	is.True(!c.HasAttemptedFunding())
	hashes, err := c.BatchSendEthUsingFunder(context.Background(), batch())
	is.NoErr(err)
	is.Equal(len(hashes), 2)
	is.Equal(hashes[0], common.BigToHash(big.NewInt(1)))

	is.Equal(len(sender.sent), 2)
	is.Equal(*sender.sent[0].To, addrA)
	is.Equal(sender.sent[0].Value.String(), "1000000000000000")
	is.Equal(*sender.sent[1].To, addrB)

	receipts.mu.Lock()
	is.Equal(receipts.polls[hashes[1]], 3) // waited for the receipt
	receipts.mu.Unlock()

	is.True(c.HasAttemptedFunding())
	is.True(c.IsFunded())
	is.True(!c.IsBatchFunding())
}

func TestBatchFund_SecondCallIsNoop(t *testing.T) {
	is := is.New(t)
	sender := &fakeSender{}
	c := NewClient(startFunder(t, sender, nil))

	_, err := c.BatchSendEthUsingFunder(context.Background(), batch())
	is.NoErr(err)

	hashes, err := c.BatchSendEthUsingFunder(context.Background(), batch())
	is.NoErr(err)
	is.Equal(hashes, nil)
	is.Equal(len(sender.sent), 2)
}

func TestBatchFund_FailureLatches(t *testing.T) {
	is := is.New(t)
	sender := &fakeSender{failAt: 2}
	c := NewClient(startFunder(t, sender, nil))

	_, err := c.BatchSendEthUsingFunder(context.Background(), batch())
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "Error sending ETH"))
	is.True(c.HasAttemptedFunding())
	is.True(!c.IsFunded())

	// No retry after a failed attempt.
	hashes, err := c.BatchSendEthUsingFunder(context.Background(), batch())
	is.NoErr(err)
	is.Equal(hashes, nil)
	is.Equal(len(sender.sent), 1)
}

func TestBatchFund_NoFundingKey(t *testing.T) {
	is := is.New(t)
	c := NewClient(startFunder(t, nil, nil))

	_, err := c.BatchSendEthUsingFunder(context.Background(), batch())
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "Funding account private key not found"))
}

func TestBatchFund_RevertedTransfer(t *testing.T) {
	is := is.New(t)
	receipts := &fakeReceipts{status: types.ReceiptStatusFailed}
	c := NewClient(startFunder(t, &fakeSender{}, receipts))

	_, err := c.BatchSendEthUsingFunder(context.Background(), batch())
	is.True(err != nil)
	is.True(!c.IsFunded())
}

func TestServer_RejectsMalformed(t *testing.T) {
	is := is.New(t)
	url := startFunder(t, &fakeSender{}, nil)

	for _, body := range []string{"{", "[]", `[{"to":"0xzz","formattedValue":"1"}]`} {
		resp, err := http.Post(url+BatchFundPath, "application/json", strings.NewReader(body))
		is.NoErr(err)
		resp.Body.Close()
		is.Equal(resp.StatusCode, http.StatusInternalServerError)
	}

	resp, err := http.Get(url + BatchFundPath)
	is.NoErr(err)
	resp.Body.Close()
	is.Equal(resp.StatusCode, http.StatusMethodNotAllowed)
}
