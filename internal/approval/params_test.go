package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseCall_MessageSign(t *testing.T) {
	addr := devAddress.Hex()
	tests := []struct {
		name    string
		method  string
		params  string
		from    *common.Address
		message string
	}{
		{"personal_sign hex", "personal_sign", `["0xdeadbeef", "` + addr + `"]`, &devAddress, "\xde\xad\xbe\xef"},
		{"personal_sign text", "personal_sign", `["hello", "` + addr + `"]`, &devAddress, "hello"},
		{"personal_sign swapped", "personal_sign", `["` + addr + `", "hello"]`, &devAddress, "hello"},
		{"eth_sign", "eth_sign", `["` + addr + `", "0x6869"]`, &devAddress, "hi"},
		{"no address", "personal_sign", `["0x6869"]`, nil, "hi"},
		{"bad hex kept as text", "personal_sign", `["0xzz", "` + addr + `"]`, &devAddress, "0xzz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := ParseCall(tt.method, json.RawMessage(tt.params))
			if err != nil {
				t.Fatalf("ParseCall() error: %v", err)
			}
			ms, ok := call.(MessageSign)
			if !ok {
				t.Fatalf("variant %T", call)
			}
			if string(ms.Message) != tt.message {
				t.Errorf("message = %q, want %q", ms.Message, tt.message)
			}
			if (ms.From == nil) != (tt.from == nil) || (ms.From != nil && *ms.From != *tt.from) {
				t.Errorf("from = %v, want %v", ms.From, tt.from)
			}
		})
	}
}

func TestParseCall_Errors(t *testing.T) {
	tests := []struct {
		method string
		params string
		want   error
	}{
		{"eth_accounts", `[]`, ErrUnsupportedMethod},
		{"wallet_switchEthereumChain", `[{"chainId":"0x1"}]`, ErrUnsupportedMethod},
		{"personal_sign", `{}`, ErrInvalidParams},
		{"personal_sign", `[]`, ErrInvalidParams},
		{"personal_sign", `[1, "0x00"]`, ErrInvalidParams},
		{"eth_signTypedData_v4", `["0x00", "not json"]`, ErrInvalidParams},
		{"eth_sendTransaction", `[]`, ErrInvalidParams},
		{"eth_sendTransaction", `[{"value":"0x1"}]`, ErrInvalidParams},
		{"eth_sendTransaction", `[{"to":"0x0000000000000000000000000000000000000001","value":"-1"}]`, ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.method, tt.params), func(t *testing.T) {
			_, err := ParseCall(tt.method, json.RawMessage(tt.params))
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseCall() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseCall_TypedDataObjectAndString(t *testing.T) {
	addr := `"` + devAddress.Hex() + `"`
	quoted, _ := json.Marshal(typedDataJSON)

	for _, params := range []string{
		`[` + addr + `, ` + typedDataJSON + `]`,
		`[` + addr + `, ` + string(quoted) + `]`,
	} {
		call, err := ParseCall("eth_signTypedData_v3", json.RawMessage(params))
		if err != nil {
			t.Fatalf("ParseCall() error: %v", err)
		}
		td := call.(TypedDataSign)
		if _, ok := td.Data.Types["EIP712Domain"]; ok {
			t.Error("EIP712Domain not stripped")
		}
		if td.Data.Domain.ChainId == nil || (*big.Int)(td.Data.Domain.ChainId).Int64() != testChainID {
			t.Errorf("chainId = %v", td.Data.Domain.ChainId)
		}
		if td.Data.Message["amount"] != "42" {
			t.Errorf("amount = %#v", td.Data.Message["amount"])
		}
		if *td.From != devAddress {
			t.Errorf("from = %s", td.From.Hex())
		}
	}
}

func TestParseCall_Transaction(t *testing.T) {
	call, err := ParseCall("eth_sendTransaction", json.RawMessage(`[{
		"from": "`+devAddress.Hex()+`",
		"to": "`+otherAddr.Hex()+`",
		"value": 1000,
		"input": "0x01",
		"gas": "0x5208",
		"maxFeePerGas": "100",
		"nonce": "0x7"
	}]`))
	if err != nil {
		t.Fatalf("ParseCall() error: %v", err)
	}
	tc := call.(TransactionCall)
	if !tc.Broadcast || *tc.From != devAddress || *tc.Tx.To != otherAddr {
		t.Errorf("call = %+v", tc)
	}
	if tc.Tx.Value.Int64() != 1000 || tc.Tx.Gas != 21000 || tc.Tx.MaxFeePerGas.Int64() != 100 || *tc.Tx.Nonce != 7 {
		t.Errorf("tx = %+v", tc.Tx)
	}
	if len(tc.Tx.Data) != 1 || tc.Tx.Data[0] != 1 {
		t.Errorf("data = %x", tc.Tx.Data)
	}
	if tc.Tx.GasPrice != nil {
		t.Error("gasPrice set from nothing")
	}
}

func TestTargetAccount(t *testing.T) {
	granted := []string{"eip155:11155111:" + devAddress.Hex()}

	got, err := targetAccount(MessageSign{}, granted)
	if err != nil || got != devAddress {
		t.Errorf("fallback = %s, %v", got.Hex(), err)
	}
	got, err = targetAccount(MessageSign{From: &devAddress}, granted)
	if err != nil || got != devAddress {
		t.Errorf("named = %s, %v", got.Hex(), err)
	}
	if _, err := targetAccount(MessageSign{From: &otherAddr}, granted); !errors.Is(err, ErrAccountNotGranted) {
		t.Errorf("other = %v", err)
	}
	if _, err := targetAccount(MessageSign{}, nil); !errors.Is(err, ErrAccountNotGranted) {
		t.Errorf("no accounts = %v", err)
	}
}
