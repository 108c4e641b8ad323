package signer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxRequest is a transaction to fill, sign and optionally send. Zero or
// nil fields are filled from the backend.
type TxRequest struct {
	To                   *common.Address
	Value                *big.Int
	Data                 []byte
	Gas                  uint64
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Nonce                *uint64
}

// SignTransaction fills req and returns the signed transaction.
func (s *Signer) SignTransaction(ctx context.Context, req TxRequest) (*types.Transaction, error) {
	tx, err := s.fill(ctx, req)
	if err != nil {
		return nil, err
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}

// SignTransactionRaw returns the RLP-encoded signed transaction.
func (s *Signer) SignTransactionRaw(ctx context.Context, req TxRequest) (hexutil.Bytes, error) {
	tx, err := s.SignTransaction(ctx, req)
	if err != nil {
		return nil, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return raw, nil
}

// SendTransaction signs req and broadcasts it, returning the tx hash.
func (s *Signer) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	if s.backend == nil {
		return common.Hash{}, ErrNoBackend
	}
	tx, err := s.SignTransaction(ctx, req)
	if err != nil {
		return common.Hash{}, err
	}
	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	return tx.Hash(), nil
}

// fill completes nonce, gas and fee fields. A request carrying GasPrice
// yields a legacy transaction; otherwise EIP-1559 is used when the chain
// reports a base fee.
func (s *Signer) fill(ctx context.Context, req TxRequest) (*types.Transaction, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	complete := req.Nonce != nil && req.Gas != 0 &&
		(req.GasPrice != nil || (req.MaxFeePerGas != nil && req.MaxPriorityFeePerGas != nil))
	if s.backend == nil && !complete {
		return nil, fmt.Errorf("%w: nonce, gas and fees must be set", ErrNoBackend)
	}

	// ── 1. Nonce ──────────────────────────────────────────────────────
	var nonce uint64
	if req.Nonce != nil {
		nonce = *req.Nonce
	} else {
		n, err := s.backend.PendingNonceAt(ctx, s.address)
		if err != nil {
			return nil, fmt.Errorf("get nonce: %w", err)
		}
		nonce = n
	}

	// ── 2. Gas limit ──────────────────────────────────────────────────
	gas := req.Gas
	if gas == 0 {
		g, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  s.address,
			To:    req.To,
			Value: value,
			Data:  req.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
		gas = g
	}

	// ── 3. Fees ───────────────────────────────────────────────────────
	if req.GasPrice != nil {
		return s.legacyTx(nonce, gas, req.GasPrice, value, req), nil
	}

	tip, feeCap := req.MaxPriorityFeePerGas, req.MaxFeePerGas
	if tip == nil || feeCap == nil {
		head, err := s.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("get head: %w", err)
		}
		if head.BaseFee == nil {
			price, err := s.backend.SuggestGasPrice(ctx)
			if err != nil {
				return nil, fmt.Errorf("suggest gas price: %w", err)
			}
			return s.legacyTx(nonce, gas, price, value, req), nil
		}
		if tip == nil {
			t, err := s.backend.SuggestGasTipCap(ctx)
			if err != nil {
				return nil, fmt.Errorf("suggest tip: %w", err)
			}
			tip = t
		}
		if feeCap == nil {
			feeCap = new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		}
	}
	if feeCap.Cmp(tip) < 0 {
		return nil, fmt.Errorf("maxFeePerGas %s below maxPriorityFeePerGas %s", feeCap, tip)
	}

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		To:        req.To,
		Value:     value,
		Gas:       gas,
		GasFeeCap: feeCap,
		GasTipCap: tip,
		Data:      req.Data,
	}), nil
}

func (s *Signer) legacyTx(nonce, gas uint64, price, value *big.Int, req TxRequest) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       req.To,
		Value:    value,
		Gas:      gas,
		GasPrice: price,
		Data:     req.Data,
	})
}
