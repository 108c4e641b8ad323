// Package stealth implements ERC-5564 scheme 1 stealth addresses on
// secp256k1: key bundles derived from a wallet signature, stealth
// meta-addresses, stealth address generation and the recipient-side
// private key derivation.
package stealth

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Key sizes in bytes.
const (
	PrivateKeySize = 32
	PublicKeySize  = 33 // compressed
	SignatureSize  = 65
)

var (
	// ErrInvalidSignature is returned when the authentication signature is
	// not a 65-byte 0x-prefixed hex string or yields an unusable key.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidPublicKey is returned for malformed compressed public keys.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidPrivateKey is returned for scalars outside [1, n-1].
	ErrInvalidPrivateKey = errors.New("invalid private key")
)

var signaturePattern = regexp.MustCompile(`^0x[0-9a-fA-F]{130}$`)

// AuthMessage returns the message the authenticating wallet signs to produce
// the key bundle. It embeds the chain id so bundles are scoped per chain.
func AuthMessage(chainID uint64) string {
	return fmt.Sprintf("Generate Stealth Meta-Address on %d chain", chainID)
}

// KeyBundle holds the spending and viewing key pairs of a stealth recipient.
// A bundle is immutable once derived; callers must not modify the slices.
type KeyBundle struct {
	SpendingPrivateKey hexutil.Bytes `json:"spendingPrivateKey"`
	ViewingPrivateKey  hexutil.Bytes `json:"viewingPrivateKey"`
	SpendingPublicKey  hexutil.Bytes `json:"spendingPublicKey"`
	ViewingPublicKey   hexutil.Bytes `json:"viewingPublicKey"`
}

// DeriveKeyBundle derives a key bundle from a 65-byte signature given as a
// 0x-prefixed hex string. The spending key is keccak256(r) and the viewing
// key is keccak256(s). The same signature always yields the same bundle.
func DeriveKeyBundle(signature string) (KeyBundle, error) {
	if !signaturePattern.MatchString(signature) {
		return KeyBundle{}, fmt.Errorf("%w: want 0x-prefixed %d-byte hex", ErrInvalidSignature, SignatureSize)
	}
	raw, err := hexutil.Decode(signature)
	if err != nil {
		return KeyBundle{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	spendPriv := crypto.Keccak256(raw[:32])
	viewPriv := crypto.Keccak256(raw[32:64])

	spendPub, err := PublicKeyFromPrivate(spendPriv)
	if err != nil {
		return KeyBundle{}, fmt.Errorf("%w: spending key: %v", ErrInvalidSignature, err)
	}
	viewPub, err := PublicKeyFromPrivate(viewPriv)
	if err != nil {
		return KeyBundle{}, fmt.Errorf("%w: viewing key: %v", ErrInvalidSignature, err)
	}

	return KeyBundle{
		SpendingPrivateKey: spendPriv,
		ViewingPrivateKey:  viewPriv,
		SpendingPublicKey:  spendPub,
		ViewingPublicKey:   viewPub,
	}, nil
}

// MetaAddress returns the stealth meta-address published for this bundle.
func (kb KeyBundle) MetaAddress() MetaAddress {
	return MetaAddressFromKeys(kb.SpendingPublicKey, kb.ViewingPublicKey)
}

// PublicKeyFromPrivate returns the compressed public key for a 32-byte scalar.
func PublicKeyFromPrivate(priv []byte) ([]byte, error) {
	scalar, err := parseScalar(priv)
	if err != nil {
		return nil, err
	}
	key := secp256k1.NewPrivateKey(scalar)
	return key.PubKey().SerializeCompressed(), nil
}

// AddressFromPrivateKey returns the Ethereum address controlled by priv.
func AddressFromPrivateKey(priv []byte) (common.Address, error) {
	scalar, err := parseScalar(priv)
	if err != nil {
		return common.Address{}, err
	}
	return addressFromPubKey(secp256k1.NewPrivateKey(scalar).PubKey()), nil
}

// parseScalar validates a 32-byte private key and returns it as a scalar.
func parseScalar(b []byte) (*secp256k1.ModNScalar, error) {
	if len(b) != PrivateKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPrivateKey, PrivateKeySize, len(b))
	}
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(b); overflow || s.IsZero() {
		return nil, fmt.Errorf("%w: out of range", ErrInvalidPrivateKey)
	}
	return &s, nil
}

// parsePubKey parses a compressed secp256k1 public key.
func parsePubKey(b []byte) (*secp256k1.PublicKey, error) {
	if len(b) != PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, PublicKeySize, len(b))
	}
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

// addressFromPubKey computes keccak256(X || Y)[12:].
func addressFromPubKey(pub *secp256k1.PublicKey) common.Address {
	uncompressed := pub.SerializeUncompressed()
	return common.BytesToAddress(crypto.Keccak256(uncompressed[1:])[12:])
}
