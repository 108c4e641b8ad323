package wallet

import (
	"bytes"
	"errors"
	"testing"
)

// fastParams returns low-cost Argon2 params for fast tests.
func fastParams() EncryptionParams {
	return EncryptionParams{Memory: 64, Iterations: 1, Parallelism: 1}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	large := make([]byte, 10000)
	for i := range large {
		large[i] = byte(i % 256)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", []byte{}},
		{"short", []byte("stealth wallet seed")},
		{"large", large},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := Encrypt(tt.data, []byte("passphrase"), fastParams())
			if err != nil {
				t.Fatalf("Encrypt() error: %v", err)
			}
			got, err := Decrypt(sealed, []byte("passphrase"))
			if err != nil {
				t.Fatalf("Decrypt() error: %v", err)
			}
			if !bytes.Equal(got, tt.data) {
				t.Errorf("roundtrip mismatch: got %d bytes, want %d", len(got), len(tt.data))
			}
		})
	}
}

func TestDecrypt_WrongPassphrase(t *testing.T) {
	sealed, err := Encrypt([]byte("secret"), []byte("correct"), fastParams())
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if _, err := Decrypt(sealed, []byte("wrong")); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Decrypt() error = %v, want ErrWrongPassphrase", err)
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	tests := []struct {
		name   string
		offset func(n int) int
	}{
		{"salt", func(int) int { return 0 }},
		{"nonce", func(int) int { return headerSize }},
		{"tag", func(n int) int { return n - 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := Encrypt([]byte("data"), []byte("pass"), fastParams())
			if err != nil {
				t.Fatalf("Encrypt() error: %v", err)
			}
			sealed[tt.offset(len(sealed))] ^= 0xFF
			if _, err := Decrypt(sealed, []byte("pass")); err == nil {
				t.Error("Decrypt() of tampered data should fail")
			}
		})
	}
}

func TestDecrypt_TamperedParams(t *testing.T) {
	sealed, err := Encrypt([]byte("data"), []byte("pass"), fastParams())
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	// Iterations are authenticated along with the ciphertext.
	sealed[SaltSize+4] = 2
	if _, err := Decrypt(sealed, []byte("pass")); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Decrypt() error = %v, want ErrWrongPassphrase", err)
	}
}

func TestDecrypt_TruncatedData(t *testing.T) {
	if _, err := Decrypt([]byte("too short"), []byte("pass")); err == nil {
		t.Error("Decrypt with truncated data should fail")
	}
}

func TestEncrypt_ZeroParams(t *testing.T) {
	if _, err := Encrypt([]byte("x"), []byte("pass"), EncryptionParams{}); err == nil {
		t.Error("Encrypt with zero params should fail")
	}
}

func TestEncrypt_DifferentEachTime(t *testing.T) {
	enc1, err := Encrypt([]byte("same data"), []byte("same pass"), fastParams())
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	enc2, err := Encrypt([]byte("same data"), []byte("same pass"), fastParams())
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if bytes.Equal(enc1, enc2) {
		t.Error("salt and nonce should be random")
	}
	if want := headerSize + 24 + len("same data") + 16; len(enc1) != want {
		t.Errorf("sealed length = %d, want %d", len(enc1), want)
	}
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	if p.Memory != 64*1024 || p.Iterations != 3 || p.Parallelism != 4 {
		t.Errorf("DefaultParams() = %+v", p)
	}
}
