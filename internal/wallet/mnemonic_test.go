package wallet

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestNewMnemonic_Lengths(t *testing.T) {
	for _, words := range []int{12, 24} {
		phrase, err := NewMnemonic(words)
		if err != nil {
			t.Fatalf("NewMnemonic(%d): %v", words, err)
		}
		if n := len(strings.Fields(phrase)); n != words {
			t.Errorf("NewMnemonic(%d) gave %d words", words, n)
		}
		if !ValidateMnemonic(phrase) {
			t.Errorf("NewMnemonic(%d) produced an invalid phrase", words)
		}
	}
	if _, err := NewMnemonic(15); !errors.Is(err, ErrWordCount) {
		t.Errorf("NewMnemonic(15): %v, want ErrWordCount", err)
	}

	a, _ := GenerateMnemonic()
	b, _ := GenerateMnemonic()
	if a == b || len(strings.Fields(a)) != 24 {
		t.Errorf("GenerateMnemonic: %q %q", a, b)
	}
}

func TestValidateMnemonic(t *testing.T) {
	tests := map[string]bool{
		devMnemonic: true,
		"  TEST test test test test test\ttest test test test test   Junk ": true,
		"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon": false,
		"junk": false,
		"":     false,
		"these are not words from the list at all okay fine": false,
	}
	for phrase, want := range tests {
		if got := ValidateMnemonic(phrase); got != want {
			t.Errorf("ValidateMnemonic(%q) = %v, want %v", phrase, got, want)
		}
	}
}

func TestSeedFromMnemonic(t *testing.T) {
	// Published BIP-39 vector for the all-"abandon" phrase with passphrase TREZOR.
	const phrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	want := "c55257c360c07c72029aebc1b53c05ed0362ada38ead3e3e9efa3708e53495531f09a6987599d18264c1e1c92f2cf141630c7a3c4ab7c81b2f001698e7463b04"

	seed, err := SeedFromMnemonic(phrase, "TREZOR")
	if err != nil {
		t.Fatalf("SeedFromMnemonic: %v", err)
	}
	if hex.EncodeToString(seed) != want {
		t.Errorf("seed = %x", seed)
	}

	plain, _ := SeedFromMnemonic(phrase, "")
	if hex.EncodeToString(plain) == want {
		t.Error("passphrase did not change the seed")
	}
	upper, _ := SeedFromMnemonic(strings.ToUpper(phrase), "TREZOR")
	if hex.EncodeToString(upper) != want {
		t.Error("phrase case changed the seed")
	}
}

func TestSeedFromMnemonic_Rejects(t *testing.T) {
	for _, phrase := range []string{
		"",
		"abandon abandon abandon",
		"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon",
	} {
		if _, err := SeedFromMnemonic(phrase, ""); !errors.Is(err, ErrInvalidMnemonic) {
			t.Errorf("SeedFromMnemonic(%q): %v, want ErrInvalidMnemonic", phrase, err)
		}
	}
}
