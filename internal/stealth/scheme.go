package stealth

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SchemeID identifies an ERC-5564 stealth address scheme.
type SchemeID uint8

// SchemeSECP256K1 is scheme 1: secp256k1 with view tags.
const SchemeSECP256K1 SchemeID = 1

// ErrUnsupportedScheme is returned for any scheme other than SchemeSECP256K1.
var ErrUnsupportedScheme = errors.New("unsupported stealth scheme")

// DeriveStealthAddressPrivateKey re-derives the private key of a stealth
// address from its ephemeral public key and the recipient's bundle:
//
//	shared = compress(viewingPriv * E)
//	h      = keccak256(shared)
//	key    = (spendingPriv + h) mod n
func DeriveStealthAddressPrivateKey(ephemeralPub []byte, bundle KeyBundle, scheme SchemeID) ([]byte, error) {
	if scheme != SchemeSECP256K1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedScheme, scheme)
	}
	eph, err := parsePubKey(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("ephemeral key: %w", err)
	}
	viewPriv, err := parseScalar(bundle.ViewingPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("viewing key: %w", err)
	}
	spendPriv, err := parseScalar(bundle.SpendingPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("spending key: %w", err)
	}

	h := hashedSecret(viewPriv, eph)

	var key secp256k1.ModNScalar
	key.Set(spendPriv).Add(&h)
	if key.IsZero() {
		return nil, fmt.Errorf("%w: derived key is zero", ErrInvalidPrivateKey)
	}
	b := key.Bytes()
	return b[:], nil
}

// CheckStealthAddress reports whether stealthAddr was generated for the
// recipient owning viewingPriv and spendingPub, given the announced
// ephemeral key and view tag.
func CheckStealthAddress(stealthAddr common.Address, ephemeralPub, viewingPriv, spendingPub []byte, viewTag byte) (bool, error) {
	eph, err := parsePubKey(ephemeralPub)
	if err != nil {
		return false, fmt.Errorf("ephemeral key: %w", err)
	}
	viewPriv, err := parseScalar(viewingPriv)
	if err != nil {
		return false, fmt.Errorf("viewing key: %w", err)
	}
	spend, err := parsePubKey(spendingPub)
	if err != nil {
		return false, fmt.Errorf("spending key: %w", err)
	}

	h := hashedSecret(viewPriv, eph)
	hb := h.Bytes()
	if hb[0] != viewTag {
		return false, nil
	}
	return offsetPubKey(spend, &h) == stealthAddr, nil
}

// sharedSecret returns compress(k * P).
func sharedSecret(k *secp256k1.ModNScalar, p *secp256k1.PublicKey) []byte {
	var point, result secp256k1.JacobianPoint
	p.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(k, &point, &result)
	result.ToAffine()
	return secp256k1.NewPublicKey(&result.X, &result.Y).SerializeCompressed()
}

// hashedSecret returns keccak256(compress(k * P)) reduced mod n.
func hashedSecret(k *secp256k1.ModNScalar, p *secp256k1.PublicKey) secp256k1.ModNScalar {
	var h secp256k1.ModNScalar
	h.SetByteSlice(crypto.Keccak256(sharedSecret(k, p)))
	return h
}

// offsetPubKey returns the address of S + h*G.
func offsetPubKey(spend *secp256k1.PublicKey, h *secp256k1.ModNScalar) common.Address {
	var s, hG, sum secp256k1.JacobianPoint
	spend.AsJacobian(&s)
	secp256k1.ScalarBaseMultNonConst(h, &hG)
	secp256k1.AddNonConst(&s, &hG, &sum)
	sum.ToAffine()
	return addressFromPubKey(secp256k1.NewPublicKey(&sum.X, &sum.Y))
}
