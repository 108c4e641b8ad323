package relay

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const (
	testTopic  = "7f6e504bfad60b485450578e05678ed3e8e8c4751d3c6160be17160d63ec90f9"
	testSymKey = "587d5484ce2a2a6ee3ba1962fdd7e8588e06200c46823bd18fbd67def96ad303"
)

func TestParseURI(t *testing.T) {
	raw := "wc:" + testTopic + "@2?relay-protocol=irn&symKey=" + testSymKey + "&expiryTimestamp=1700000300"

	u, err := ParseURI(raw)
	if err != nil {
		t.Fatalf("ParseURI() error: %v", err)
	}
	if u.Topic != testTopic || u.Version != 2 || u.RelayProtocol != ProtocolIRN {
		t.Errorf("ParseURI() = %+v", u)
	}
	if u.SymKey.String() != testSymKey {
		t.Errorf("symKey = %s, want %s", u.SymKey, testSymKey)
	}
	if u.Expiry.Unix() != 1700000300 {
		t.Errorf("expiry = %d, want 1700000300", u.Expiry.Unix())
	}
	if !u.Expired(time.Unix(1700000300, 0)) || u.Expired(time.Unix(1700000299, 0)) {
		t.Error("Expired() boundary wrong")
	}

	again, err := ParseURI(u.String())
	if err != nil {
		t.Fatalf("ParseURI(String()) error: %v", err)
	}
	if again != u {
		t.Errorf("String() round trip = %+v, want %+v", again, u)
	}
}

func TestParseURI_NoExpiry(t *testing.T) {
	u, err := ParseURI("  wc:" + testTopic + "@2?symKey=" + testSymKey + "&relay-protocol=irn\n")
	if err != nil {
		t.Fatalf("ParseURI() error: %v", err)
	}
	if !u.Expiry.IsZero() || u.Expired(time.Now()) {
		t.Error("URI without expiryTimestamp should never expire")
	}
}

func TestParseURI_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"scheme", "https://example.com"},
		{"no version", "wc:" + testTopic + "?relay-protocol=irn&symKey=" + testSymKey},
		{"v1", "wc:" + testTopic + "@1?relay-protocol=irn&symKey=" + testSymKey},
		{"short topic", "wc:abcd@2?relay-protocol=irn&symKey=" + testSymKey},
		{"protocol", "wc:" + testTopic + "@2?relay-protocol=waku&symKey=" + testSymKey},
		{"missing key", "wc:" + testTopic + "@2?relay-protocol=irn"},
		{"short key", "wc:" + testTopic + "@2?relay-protocol=irn&symKey=abcd"},
		{"bad expiry", "wc:" + testTopic + "@2?relay-protocol=irn&symKey=" + testSymKey + "&expiryTimestamp=soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseURI(tt.raw); !errors.Is(err, ErrInvalidURI) {
				t.Errorf("ParseURI() error = %v, want ErrInvalidURI", err)
			}
		})
	}
}

func TestNewPairingURI(t *testing.T) {
	u, err := NewPairingURI(5 * time.Minute)
	if err != nil {
		t.Fatalf("NewPairingURI() error: %v", err)
	}
	if u.Topic != u.SymKey.Topic() {
		t.Error("pairing topic should be sha256(symKey)")
	}
	if !strings.HasPrefix(u.String(), "wc:"+u.Topic+"@2?") {
		t.Errorf("String() = %s", u.String())
	}
	if _, err := ParseURI(u.String()); err != nil {
		t.Errorf("generated URI does not parse: %v", err)
	}
}
