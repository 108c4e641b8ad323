// Package wallet holds the authenticating wallet: a BIP-39/BIP-32 HD
// account whose EIP-191 signature over the chain-scoped auth message seeds
// stealth key derivation.
package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tyler-smith/go-bip39"
)

// seedLen is the BIP-39 seed length: 512 bits of PBKDF2-SHA512 output.
const seedLen = 64

var (
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrWordCount       = errors.New("mnemonic must be 12 or 24 words")
)

// entropyBits maps a phrase length to its BIP-39 entropy size.
var entropyBits = map[int]int{12: 128, 24: 256}

// GenerateMnemonic returns a fresh 24-word phrase.
func GenerateMnemonic() (string, error) {
	return NewMnemonic(24)
}

// NewMnemonic returns a fresh phrase of 12 or 24 words.
func NewMnemonic(words int) (string, error) {
	bits, ok := entropyBits[words]
	if !ok {
		return "", ErrWordCount
	}
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("encode mnemonic: %w", err)
	}
	return phrase, nil
}

// NormalizeMnemonic lowercases the phrase and collapses whitespace, so a
// pasted phrase matches the word list.
func NormalizeMnemonic(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

func ValidateMnemonic(phrase string) bool {
	return bip39.IsMnemonicValid(NormalizeMnemonic(phrase))
}

// SeedFromMnemonic turns a phrase and optional BIP-39 passphrase into the
// 64-byte seed the HD root is built from.
func SeedFromMnemonic(phrase, passphrase string) ([]byte, error) {
	phrase = NormalizeMnemonic(phrase)
	if _, ok := entropyBits[len(strings.Fields(phrase))]; !ok {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, ErrWordCount)
	}
	seed, err := bip39.NewSeedWithErrorChecking(phrase, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return seed, nil
}
