package wallet

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// SaltSize is the Argon2id salt length.
const SaltSize = 32

// Sealed layout:
//
//	salt(32) | memory(4) | iterations(4) | parallelism(1) | nonce(24) | ciphertext
const headerSize = SaltSize + 4 + 4 + 1

// ErrWrongPassphrase is returned when authenticated decryption fails.
var ErrWrongPassphrase = errors.New("wrong passphrase or corrupted keystore")

// EncryptionParams holds Argon2id cost parameters.
type EncryptionParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams returns the Argon2id cost used for new keystores.
func DefaultParams() EncryptionParams {
	return EncryptionParams{Memory: 64 * 1024, Iterations: 3, Parallelism: 4}
}

func (p EncryptionParams) validate() error {
	if p.Memory == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return fmt.Errorf("argon2 parameters must be non-zero: %+v", p)
	}
	return nil
}

// Encrypt seals data under a key stretched from passphrase with Argon2id
// and XChaCha20-Poly1305. The cost parameters travel with the ciphertext.
func Encrypt(data, passphrase []byte, params EncryptionParams) ([]byte, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	header := make([]byte, SaltSize, headerSize+chacha20poly1305.NonceSizeX+len(data)+chacha20poly1305.Overhead)
	if _, err := rand.Read(header); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	header = binary.LittleEndian.AppendUint32(header, params.Memory)
	header = binary.LittleEndian.AppendUint32(header, params.Iterations)
	header = append(header, params.Parallelism)

	aead, wipe, err := newAEAD(passphrase, header[:SaltSize], params)
	if err != nil {
		return nil, err
	}
	defer wipe()

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	// The header is bound as associated data.
	ciphertext := aead.Seal(nil, nonce, data, header)
	out := append(header, nonce...)
	return append(out, ciphertext...), nil
}

// Decrypt opens data sealed by Encrypt.
func Decrypt(sealed, passphrase []byte) ([]byte, error) {
	minSize := headerSize + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(sealed) < minSize {
		return nil, fmt.Errorf("sealed data too short: %d bytes, need at least %d", len(sealed), minSize)
	}

	header := sealed[:headerSize]
	params := EncryptionParams{
		Memory:      binary.LittleEndian.Uint32(header[SaltSize:]),
		Iterations:  binary.LittleEndian.Uint32(header[SaltSize+4:]),
		Parallelism: header[SaltSize+8],
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	aead, wipe, err := newAEAD(passphrase, header[:SaltSize], params)
	if err != nil {
		return nil, err
	}
	defer wipe()

	nonce := sealed[headerSize : headerSize+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, sealed[headerSize+chacha20poly1305.NonceSizeX:], header)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plaintext, nil
}

// newAEAD derives the key and returns the cipher plus a func zeroing the key.
func newAEAD(passphrase, salt []byte, params EncryptionParams) (cipher.AEAD, func(), error) {
	key := argon2.IDKey(passphrase, salt, params.Iterations, params.Memory, params.Parallelism, chacha20poly1305.KeySize)
	wipe := func() { clear(key) }
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		wipe()
		return nil, nil, fmt.Errorf("create cipher: %w", err)
	}
	return aead, wipe, nil
}
