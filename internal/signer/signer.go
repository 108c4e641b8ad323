// Package signer binds one private key to its address and signs messages,
// typed data and transactions with it.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	// ErrNoBackend is returned when a chain operation is attempted on a
	// sign-only signer.
	ErrNoBackend = errors.New("signer has no chain backend")

	// ErrInvalidKey is returned for unusable private keys.
	ErrInvalidKey = errors.New("invalid signing key")
)

// Backend is the chain access needed to fill and broadcast transactions.
// *ethclient.Client satisfies it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to an Ethereum JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return client, nil
}

// Signer signs on behalf of exactly one address.
type Signer struct {
	address common.Address
	key     *ecdsa.PrivateKey
	chainID *big.Int
	backend Backend
}

// New creates a signer for a raw 32-byte private key on chainID. backend
// may be nil for a sign-only signer.
func New(privateKey []byte, chainID uint64, backend Backend) (*Signer, error) {
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewFromECDSA(key, chainID, backend), nil
}

// NewFromECDSA creates a signer from an ECDSA key.
func NewFromECDSA(key *ecdsa.PrivateKey, chainID uint64, backend Backend) *Signer {
	return &Signer{
		address: crypto.PubkeyToAddress(key.PublicKey),
		key:     key,
		chainID: new(big.Int).SetUint64(chainID),
		backend: backend,
	}
}

// Address returns the address whose key this signer holds.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain transactions are signed for.
func (s *Signer) ChainID() uint64 {
	return s.chainID.Uint64()
}

// SignMessage returns the EIP-191 personal_sign signature of msg with a
// 27/28 recovery byte.
func (s *Signer) SignMessage(msg []byte) ([]byte, error) {
	return s.signDigest(accounts.TextHash(msg))
}

func (s *Signer) signDigest(digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverMessage returns the address that produced an EIP-191 signature.
func RecoverMessage(msg, sig []byte) (common.Address, error) {
	return recoverDigest(accounts.TextHash(msg), sig)
}

func recoverDigest(digest, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	s := common.CopyBytes(sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest, s)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
