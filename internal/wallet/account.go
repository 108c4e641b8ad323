package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ScopeLift/umbra-v2-experimental/internal/stealth"
)

// Authenticator produces the signature stealth keys are derived from.
type Authenticator interface {
	Address() common.Address
	Authenticate(chainID uint64) (string, error)
}

// Account is an unlocked Ethereum account of the HD wallet.
type Account struct {
	Index   uint32
	address common.Address
	key     *ecdsa.PrivateKey
}

// NewAccount wraps an ECDSA key.
func NewAccount(index uint32, key *ecdsa.PrivateKey) *Account {
	return &Account{
		Index:   index,
		address: crypto.PubkeyToAddress(key.PublicKey),
		key:     key,
	}
}

// AccountFromSeed derives account index from a BIP-39 seed.
func AccountFromSeed(seed []byte, index uint32) (*Account, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	child, err := master.DeriveAccount(index)
	if err != nil {
		return nil, err
	}
	key, err := child.ECDSA()
	if err != nil {
		return nil, err
	}
	return NewAccount(index, key), nil
}

// AccountFromMnemonic derives account index from a mnemonic.
func AccountFromMnemonic(mnemonic, passphrase string, index uint32) (*Account, error) {
	seed, err := SeedFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return AccountFromSeed(seed, index)
}

// Address returns the account address.
func (a *Account) Address() common.Address {
	return a.address
}

// SignText signs msg with the EIP-191 personal message prefix. The recovery
// id is returned as 27/28.
func (a *Account) SignText(msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), a.key)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Authenticate signs the stealth auth message for chainID and returns the
// 0x-prefixed 65-byte signature.
func (a *Account) Authenticate(chainID uint64) (string, error) {
	sig, err := a.SignText([]byte(stealth.AuthMessage(chainID)))
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// RecoverText returns the signer of an EIP-191 signature produced by SignText.
func RecoverText(msg, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	s := make([]byte, len(sig))
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(msg), s)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
