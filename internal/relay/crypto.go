package relay

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of symmetric and X25519 keys.
const KeySize = 32

// envelopeType0 marks a symmetric envelope: 0x00 | iv(12) | sealed.
const envelopeType0 byte = 0

var (
	// ErrDecrypt is returned when an envelope fails authentication.
	ErrDecrypt = errors.New("envelope decryption failed")

	// ErrEnvelopeType is returned for envelope types other than 0.
	ErrEnvelopeType = errors.New("unsupported envelope type")
)

// SymKey is a ChaCha20-Poly1305 key shared by the two ends of a topic.
type SymKey [KeySize]byte

// ParseSymKey decodes a 64-character hex key.
func ParseSymKey(s string) (SymKey, error) {
	var k SymKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("symKey: %w", err)
	}
	if len(b) != KeySize {
		return k, fmt.Errorf("symKey must be %d bytes, got %d", KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// GenerateSymKey returns a random key.
func GenerateSymKey() (SymKey, error) {
	var k SymKey
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return k, fmt.Errorf("generate symKey: %w", err)
	}
	return k, nil
}

func (k SymKey) String() string { return hex.EncodeToString(k[:]) }

// Topic returns the topic addressed by this key: hex(sha256(key)).
func (k SymKey) Topic() string {
	sum := sha256.Sum256(k[:])
	return hex.EncodeToString(sum[:])
}

// Encrypt seals payload in a base64 type-0 envelope.
func (k SymKey) Encrypt(payload []byte) (string, error) {
	aead, err := chacha20poly1305.New(k[:])
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	out := make([]byte, 1+chacha20poly1305.NonceSize, 1+chacha20poly1305.NonceSize+len(payload)+aead.Overhead())
	out[0] = envelopeType0
	if _, err := io.ReadFull(rand.Reader, out[1:]); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}
	out = aead.Seal(out, out[1:], payload, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a base64 type-0 envelope.
func (k SymKey) Decrypt(envelope string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecrypt, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty envelope", ErrDecrypt)
	}
	if raw[0] != envelopeType0 {
		return nil, fmt.Errorf("%w: %d", ErrEnvelopeType, raw[0])
	}
	if len(raw) < 1+chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: envelope too short", ErrDecrypt)
	}
	aead, err := chacha20poly1305.New(k[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	iv := raw[1 : 1+chacha20poly1305.NonceSize]
	plain, err := aead.Open(nil, iv, raw[1+chacha20poly1305.NonceSize:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// KeyPair is an X25519 key pair used to agree on a session key.
type KeyPair struct {
	Private [KeySize]byte
	Public  [KeySize]byte
}

// GenerateKeyPair returns a random X25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return kp, fmt.Errorf("generate x25519 key: %w", err)
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return kp, fmt.Errorf("derive x25519 public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// PublicHex returns the public key as hex.
func (kp KeyPair) PublicHex() string { return hex.EncodeToString(kp.Public[:]) }

// DeriveSymKey computes HKDF-SHA256(X25519(private, peerPublic)).
func (kp KeyPair) DeriveSymKey(peerPublicHex string) (SymKey, error) {
	var k SymKey
	peer, err := hex.DecodeString(peerPublicHex)
	if err != nil || len(peer) != KeySize {
		return k, fmt.Errorf("peer public key must be %d bytes of hex", KeySize)
	}
	shared, err := curve25519.X25519(kp.Private[:], peer)
	if err != nil {
		return k, fmt.Errorf("x25519: %w", err)
	}
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, nil), k[:]); err != nil {
		return k, fmt.Errorf("hkdf: %w", err)
	}
	return k, nil
}
