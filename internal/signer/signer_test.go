package signer

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// devKey is account 0 of the "test ... junk" development mnemonic.
var (
	devKey     = common.FromHex("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	devAddress = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

const testChainID = 11155111

// fakeBackend is an in-memory Backend.
type fakeBackend struct {
	mu      sync.Mutex
	nonce   uint64
	gas     uint64
	baseFee *big.Int
	tip     *big.Int
	price   *big.Int
	sendErr error
	sent    []*types.Transaction
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nonce:   7,
		gas:     21000,
		baseFee: big.NewInt(10),
		tip:     big.NewInt(2),
		price:   big.NewInt(30),
	}
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return f.price, nil }

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return f.tip, nil }

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: f.baseFee}, nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.gas, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func testSigner(t *testing.T, backend Backend) *Signer {
	t.Helper()
	s, err := New(devKey, testChainID, backend)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func TestNew(t *testing.T) {
	s := testSigner(t, nil)
	if s.Address() != devAddress {
		t.Errorf("Address() = %s, want %s", s.Address().Hex(), devAddress.Hex())
	}
	if s.ChainID() != testChainID {
		t.Errorf("ChainID() = %d, want %d", s.ChainID(), testChainID)
	}

	if _, err := New(make([]byte, 32), testChainID, nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("New(zero key) error = %v, want ErrInvalidKey", err)
	}
	if _, err := New([]byte{1, 2, 3}, testChainID, nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("New(short key) error = %v, want ErrInvalidKey", err)
	}
}

func TestSignMessage(t *testing.T) {
	s := testSigner(t, nil)
	msg := []byte{0xde, 0xad, 0xbe, 0xef}

	sig, err := s.SignMessage(msg)
	if err != nil {
		t.Fatalf("SignMessage() error: %v", err)
	}
	if len(sig) != 65 || (sig[64] != 27 && sig[64] != 28) {
		t.Fatalf("signature = %x", sig)
	}

	got, err := RecoverMessage(msg, sig)
	if err != nil {
		t.Fatalf("RecoverMessage() error: %v", err)
	}
	if got != devAddress {
		t.Errorf("recovered %s, want %s", got.Hex(), devAddress.Hex())
	}

	if _, err := RecoverMessage(msg, sig[:64]); err == nil {
		t.Error("RecoverMessage() with short signature should fail")
	}
}

const mailTypedData = `{
  "types": {
    "EIP712Domain": [
      {"name": "name", "type": "string"},
      {"name": "version", "type": "string"},
      {"name": "chainId", "type": "uint256"},
      {"name": "verifyingContract", "type": "address"}
    ],
    "Person": [
      {"name": "name", "type": "string"},
      {"name": "wallet", "type": "address"}
    ],
    "Mail": [
      {"name": "from", "type": "Person"},
      {"name": "to", "type": "Person"},
      {"name": "contents", "type": "string"}
    ]
  },
  "primaryType": "Mail",
  "domain": {
    "name": "Ether Mail",
    "version": "1",
    "chainId": "1",
    "verifyingContract": "0xCcCCccccCCCCcCCCCCCcCcCccCcCCCcCcccccccC"
  },
  "message": {
    "from": {"name": "Cow", "wallet": "0xCD2a3d9F938E13CD947Ec05AbC7FE734Df8DD826"},
    "to": {"name": "Bob", "wallet": "0xbBbBBBBbbBBBbbbBbbBbbbbBBbBbbbbBbBbbBBbB"},
    "contents": "Hello, Bob!"
  }
}`

func mailData(t *testing.T) apitypes.TypedData {
	t.Helper()
	var td apitypes.TypedData
	if err := json.Unmarshal([]byte(mailTypedData), &td); err != nil {
		t.Fatalf("unmarshal typed data: %v", err)
	}
	return td
}

func TestTypedDataHash_KnownVector(t *testing.T) {
	// EIP-712 reference example.
	digest, err := TypedDataHash(mailData(t))
	if err != nil {
		t.Fatalf("TypedDataHash() error: %v", err)
	}
	want := common.FromHex("0xbe609aee343fb3c4b28e1df9e632fca64fcfaede20f02e86244efddf30957bd2")
	if common.Bytes2Hex(digest) != common.Bytes2Hex(want) {
		t.Errorf("digest = %x, want %x", digest, want)
	}
}

func TestSignTypedData_DomainTypeStripped(t *testing.T) {
	s := testSigner(t, nil)
	full := mailData(t)

	stripped := mailData(t)
	stripped.Types = StripDomainType(stripped.Types)
	if _, ok := stripped.Types["EIP712Domain"]; ok {
		t.Fatal("StripDomainType left EIP712Domain")
	}

	sigFull, err := s.SignTypedData(full)
	if err != nil {
		t.Fatalf("SignTypedData(full) error: %v", err)
	}
	sigStripped, err := s.SignTypedData(stripped)
	if err != nil {
		t.Fatalf("SignTypedData(stripped) error: %v", err)
	}
	if common.Bytes2Hex(sigFull) != common.Bytes2Hex(sigStripped) {
		t.Error("stripping EIP712Domain should not change the signature")
	}

	got, err := RecoverTypedData(stripped, sigStripped)
	if err != nil {
		t.Fatalf("RecoverTypedData() error: %v", err)
	}
	if got != devAddress {
		t.Errorf("recovered %s, want %s", got.Hex(), devAddress.Hex())
	}
}

func TestSignTypedData_Invalid(t *testing.T) {
	s := testSigner(t, nil)

	td := mailData(t)
	td.PrimaryType = ""
	if _, err := s.SignTypedData(td); err == nil {
		t.Error("missing primaryType should fail")
	}

	td = mailData(t)
	td.PrimaryType = "Letter"
	if _, err := s.SignTypedData(td); err == nil {
		t.Error("undeclared primaryType should fail")
	}
}

func TestSignTransaction_DynamicFee(t *testing.T) {
	backend := newFakeBackend()
	s := testSigner(t, backend)
	to := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	tx, err := s.SignTransaction(context.Background(), TxRequest{To: &to, Value: big.NewInt(1000)})
	if err != nil {
		t.Fatalf("SignTransaction() error: %v", err)
	}

	if tx.Type() != types.DynamicFeeTxType {
		t.Errorf("tx type = %d, want dynamic fee", tx.Type())
	}
	if tx.Nonce() != 7 || tx.Gas() != 21000 {
		t.Errorf("nonce/gas = %d/%d, want 7/21000", tx.Nonce(), tx.Gas())
	}
	if tx.GasTipCap().Int64() != 2 || tx.GasFeeCap().Int64() != 22 {
		t.Errorf("tip/feeCap = %s/%s, want 2/22", tx.GasTipCap(), tx.GasFeeCap())
	}
	if tx.ChainId().Uint64() != testChainID {
		t.Errorf("chain id = %s", tx.ChainId())
	}

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		t.Fatalf("Sender() error: %v", err)
	}
	if from != devAddress {
		t.Errorf("sender = %s, want %s", from.Hex(), devAddress.Hex())
	}
}

func TestSignTransaction_Legacy(t *testing.T) {
	to := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	t.Run("explicit gas price", func(t *testing.T) {
		s := testSigner(t, newFakeBackend())
		tx, err := s.SignTransaction(context.Background(), TxRequest{To: &to, GasPrice: big.NewInt(5)})
		if err != nil {
			t.Fatalf("SignTransaction() error: %v", err)
		}
		if tx.Type() != types.LegacyTxType || tx.GasPrice().Int64() != 5 {
			t.Errorf("type/price = %d/%s, want legacy/5", tx.Type(), tx.GasPrice())
		}
	})

	t.Run("no base fee", func(t *testing.T) {
		backend := newFakeBackend()
		backend.baseFee = nil
		s := testSigner(t, backend)
		tx, err := s.SignTransaction(context.Background(), TxRequest{To: &to})
		if err != nil {
			t.Fatalf("SignTransaction() error: %v", err)
		}
		if tx.Type() != types.LegacyTxType || tx.GasPrice().Int64() != 30 {
			t.Errorf("type/price = %d/%s, want legacy/30", tx.Type(), tx.GasPrice())
		}
	})
}

func TestSignTransaction_SignOnly(t *testing.T) {
	s := testSigner(t, nil)
	to := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	nonce := uint64(3)

	raw, err := s.SignTransactionRaw(context.Background(), TxRequest{
		To:                   &to,
		Gas:                  21000,
		Nonce:                &nonce,
		MaxFeePerGas:         big.NewInt(100),
		MaxPriorityFeePerGas: big.NewInt(1),
	})
	if err != nil {
		t.Fatalf("SignTransactionRaw() error: %v", err)
	}

	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		t.Fatalf("UnmarshalBinary() error: %v", err)
	}
	if tx.Nonce() != 3 {
		t.Errorf("nonce = %d, want 3", tx.Nonce())
	}

	// Without a backend, unfilled fields are an error.
	if _, err := s.SignTransaction(context.Background(), TxRequest{To: &to}); !errors.Is(err, ErrNoBackend) {
		t.Errorf("SignTransaction() error = %v, want ErrNoBackend", err)
	}
}

func TestSignTransaction_FeeCapBelowTip(t *testing.T) {
	s := testSigner(t, newFakeBackend())
	_, err := s.SignTransaction(context.Background(), TxRequest{
		MaxFeePerGas:         big.NewInt(1),
		MaxPriorityFeePerGas: big.NewInt(2),
	})
	if err == nil {
		t.Error("fee cap below tip should fail")
	}
}

func TestSendTransaction(t *testing.T) {
	backend := newFakeBackend()
	s := testSigner(t, backend)
	to := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	hash, err := s.SendTransaction(context.Background(), TxRequest{To: &to, Value: big.NewInt(1)})
	if err != nil {
		t.Fatalf("SendTransaction() error: %v", err)
	}
	if len(backend.sent) != 1 || backend.sent[0].Hash() != hash {
		t.Fatalf("backend saw %d txs, hash mismatch", len(backend.sent))
	}

	backend.sendErr = errors.New("nonce too low")
	if _, err := s.SendTransaction(context.Background(), TxRequest{To: &to}); err == nil {
		t.Error("SendTransaction() should surface backend errors")
	}

	if _, err := testSigner(t, nil).SendTransaction(context.Background(), TxRequest{To: &to}); !errors.Is(err, ErrNoBackend) {
		t.Errorf("SendTransaction() error = %v, want ErrNoBackend", err)
	}
}
