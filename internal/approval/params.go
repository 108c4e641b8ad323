package approval

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ScopeLift/umbra-v2-experimental/internal/signer"
)

// Supported Ethereum JSON-RPC methods.
const (
	MethodPersonalSign    = "personal_sign"
	MethodEthSign         = "eth_sign"
	MethodSignTypedData   = "eth_signTypedData"
	MethodSignTypedDataV3 = "eth_signTypedData_v3"
	MethodSignTypedDataV4 = "eth_signTypedData_v4"
	MethodSendTransaction = "eth_sendTransaction"
	MethodSignTransaction = "eth_signTransaction"
)

// ErrUnsupportedMethod is returned for methods the wallet does not serve.
var ErrUnsupportedMethod = errors.New("unsupported method")

// ErrInvalidParams is returned when params do not fit the method.
var ErrInvalidParams = errors.New("invalid params")

// Supported reports whether method can be approved.
func Supported(method string) bool {
	switch method {
	case MethodPersonalSign, MethodEthSign,
		MethodSignTypedData, MethodSignTypedDataV3, MethodSignTypedDataV4,
		MethodSendTransaction, MethodSignTransaction:
		return true
	}
	return false
}

// Call is the parsed form of one request. Each method has its own variant.
type Call interface {
	// Account is the address the dApp asked to act as, if it named one.
	Account() *common.Address
}

// MessageSign is personal_sign or eth_sign.
type MessageSign struct {
	From    *common.Address
	Message []byte
}

// TypedDataSign is any eth_signTypedData variant.
type TypedDataSign struct {
	From *common.Address
	Data apitypes.TypedData
}

// TransactionCall is eth_sendTransaction or eth_signTransaction.
type TransactionCall struct {
	From      *common.Address
	Tx        signer.TxRequest
	Broadcast bool
}

func (c MessageSign) Account() *common.Address     { return c.From }
func (c TypedDataSign) Account() *common.Address   { return c.From }
func (c TransactionCall) Account() *common.Address { return c.From }

// ParseCall decodes params for method into its Call variant.
func ParseCall(method string, params json.RawMessage) (Call, error) {
	switch method {
	case MethodPersonalSign:
		return parseMessageSign(params, false)
	case MethodEthSign:
		return parseMessageSign(params, true)
	case MethodSignTypedData, MethodSignTypedDataV3, MethodSignTypedDataV4:
		return parseTypedData(params)
	case MethodSendTransaction:
		return parseTransaction(params, true)
	case MethodSignTransaction:
		return parseTransaction(params, false)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
}

// splitAddressParam separates [a, b] into the address param and the other
// one. addressFirst is the order the method documents; it only decides
// when both or neither look like addresses.
func splitAddressParam(params json.RawMessage, addressFirst bool) (*common.Address, json.RawMessage, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(params, &list); err != nil {
		return nil, nil, fmt.Errorf("%w: expected an array: %v", ErrInvalidParams, err)
	}
	switch len(list) {
	case 1:
		return nil, list[0], nil
	case 2, 3:
	default:
		return nil, nil, fmt.Errorf("%w: expected 1 or 2 params, got %d", ErrInvalidParams, len(list))
	}

	first, second := asAddress(list[0]), asAddress(list[1])
	switch {
	case first != nil && second == nil:
		return first, list[1], nil
	case second != nil && first == nil:
		return second, list[0], nil
	case addressFirst:
		return first, list[1], nil
	default:
		return second, list[0], nil
	}
}

func asAddress(raw json.RawMessage) *common.Address {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || !common.IsHexAddress(s) {
		return nil
	}
	a := common.HexToAddress(s)
	return &a
}

func parseMessageSign(params json.RawMessage, addressFirst bool) (Call, error) {
	from, raw, err := splitAddressParam(params, addressFirst)
	if err != nil {
		return nil, err
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: message must be a string", ErrInvalidParams)
	}
	return MessageSign{From: from, Message: decodeMessage(msg)}, nil
}

// decodeMessage hex-decodes 0x-prefixed messages; anything else is signed
// as UTF-8 text.
func decodeMessage(msg string) []byte {
	if strings.HasPrefix(msg, "0x") || strings.HasPrefix(msg, "0X") {
		if b, err := hexutil.Decode("0x" + msg[2:]); err == nil {
			return b
		}
	}
	return []byte(msg)
}

func parseTypedData(params json.RawMessage) (Call, error) {
	from, raw, err := splitAddressParam(params, true)
	if err != nil {
		return nil, err
	}

	// The typed data is either an object or a JSON string holding one.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = json.RawMessage(s)
	}

	td, err := decodeTypedData(raw)
	if err != nil {
		return nil, err
	}
	td.Types = signer.StripDomainType(td.Types)
	return TypedDataSign{From: from, Data: td}, nil
}

// decodeTypedData parses typed data whose numbers may be JSON numbers,
// decimal strings or hex strings.
func decodeTypedData(raw json.RawMessage) (apitypes.TypedData, error) {
	var generic map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return apitypes.TypedData{}, fmt.Errorf("%w: typed data: %v", ErrInvalidParams, err)
	}

	normalized, err := json.Marshal(numbersToStrings(generic))
	if err != nil {
		return apitypes.TypedData{}, fmt.Errorf("%w: typed data: %v", ErrInvalidParams, err)
	}
	var td apitypes.TypedData
	if err := json.Unmarshal(normalized, &td); err != nil {
		return apitypes.TypedData{}, fmt.Errorf("%w: typed data: %v", ErrInvalidParams, err)
	}
	return td, nil
}

func numbersToStrings(v any) any {
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = numbersToStrings(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = numbersToStrings(e)
		}
		return t
	default:
		return v
	}
}

// txParams is the transaction object dApps send. Quantities may be hex or
// decimal.
type txParams struct {
	From                 *common.Address `json:"from"`
	To                   *common.Address `json:"to"`
	Value                *quantity       `json:"value"`
	Data                 *hexutil.Bytes  `json:"data"`
	Input                *hexutil.Bytes  `json:"input"`
	Gas                  *quantity       `json:"gas"`
	GasLimit             *quantity       `json:"gasLimit"`
	GasPrice             *quantity       `json:"gasPrice"`
	MaxFeePerGas         *quantity       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *quantity       `json:"maxPriorityFeePerGas"`
	Nonce                *quantity       `json:"nonce"`
}

func parseTransaction(params json.RawMessage, broadcast bool) (Call, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(params, &list); err != nil || len(list) == 0 {
		return nil, fmt.Errorf("%w: expected [transaction]", ErrInvalidParams)
	}
	var p txParams
	if err := json.Unmarshal(list[0], &p); err != nil {
		return nil, fmt.Errorf("%w: transaction: %v", ErrInvalidParams, err)
	}

	req := signer.TxRequest{
		To:                   p.To,
		Value:                p.Value.big(),
		GasPrice:             p.GasPrice.big(),
		MaxFeePerGas:         p.MaxFeePerGas.big(),
		MaxPriorityFeePerGas: p.MaxPriorityFeePerGas.big(),
	}
	switch {
	case p.Data != nil:
		req.Data = *p.Data
	case p.Input != nil:
		req.Data = *p.Input
	}
	gas := p.Gas
	if gas == nil {
		gas = p.GasLimit
	}
	if gas != nil {
		if !gas.big().IsUint64() {
			return nil, fmt.Errorf("%w: gas out of range", ErrInvalidParams)
		}
		req.Gas = gas.big().Uint64()
	}
	if p.Nonce != nil {
		if !p.Nonce.big().IsUint64() {
			return nil, fmt.Errorf("%w: nonce out of range", ErrInvalidParams)
		}
		n := p.Nonce.big().Uint64()
		req.Nonce = &n
	}
	if req.To == nil && len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: transaction has neither to nor data", ErrInvalidParams)
	}
	return TransactionCall{From: p.From, Tx: req, Broadcast: broadcast}, nil
}

// quantity is a non-negative integer given as hex string, decimal string
// or JSON number.
type quantity big.Int

func (q *quantity) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, ok := math.ParseBig256(s)
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("invalid quantity %q", s)
	}
	*q = quantity(*v)
	return nil
}

func (q *quantity) big() *big.Int {
	if q == nil {
		return nil
	}
	return (*big.Int)(q)
}
