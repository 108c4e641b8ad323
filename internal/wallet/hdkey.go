package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
)

// ErrPublicOnly is returned when signing with a neutered key.
var ErrPublicOnly = errors.New("public-only key cannot sign")

// HDKey is a BIP-32 node together with the path it was reached by.
type HDKey struct {
	node *bip32.Key
	path accounts.DerivationPath
}

// NewMasterKey builds the HD root from a BIP-39 seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != seedLen {
		return nil, fmt.Errorf("seed is %d bytes, want %d", len(seed), seedLen)
	}
	root, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	return &HDKey{node: root}, nil
}

// AccountPath is the wallet's path for account index: the standard
// Ethereum root m/44'/60'/0'/0 with index appended.
func AccountPath(index uint32) accounts.DerivationPath {
	p := make(accounts.DerivationPath, 0, len(accounts.DefaultBaseDerivationPath)+1)
	p = append(p, accounts.DefaultBaseDerivationPath...)
	return append(p, index)
}

// Derive walks path below k. Hardened components carry
// bip32.FirstHardenedChild, as accounts.ParseDerivationPath produces.
func (k *HDKey) Derive(path accounts.DerivationPath) (*HDKey, error) {
	node := k.node
	for _, c := range path {
		next, err := node.NewChildKey(c)
		if err != nil {
			return nil, fmt.Errorf("derive %s: %w", path, err)
		}
		node = next
	}
	full := append(append(accounts.DerivationPath{}, k.path...), path...)
	return &HDKey{node: node, path: full}, nil
}

func (k *HDKey) DeriveAccount(index uint32) (*HDKey, error) {
	return k.Derive(AccountPath(index))
}

// Path is the derivation path from the root; empty for the root itself.
func (k *HDKey) Path() accounts.DerivationPath { return k.path }
func (k *HDKey) IsPrivate() bool               { return k.node.IsPrivate }

// Neuter drops the private half.
func (k *HDKey) Neuter() *HDKey {
	return &HDKey{node: k.node.PublicKey(), path: k.path}
}

// ECDSA returns the node's signing key. bip32 stores private keys
// zero-padded to 33 bytes.
func (k *HDKey) ECDSA() (*ecdsa.PrivateKey, error) {
	if !k.node.IsPrivate {
		return nil, ErrPublicOnly
	}
	raw := k.node.Key
	if len(raw) == 33 {
		raw = raw[1:]
	}
	return crypto.ToECDSA(raw)
}

func (k *HDKey) Address() (common.Address, error) {
	var pub []byte
	if k.node.IsPrivate {
		pub = k.node.PublicKey().Key
	} else {
		pub = k.node.Key
	}
	pk, err := crypto.DecompressPubkey(pub)
	if err != nil {
		return common.Address{}, fmt.Errorf("decompress public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pk), nil
}
