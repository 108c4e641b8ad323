package wallet

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ScopeLift/umbra-v2-experimental/internal/stealth"
)

func testAccount(t *testing.T) *Account {
	t.Helper()
	acct, err := AccountFromMnemonic(devMnemonic, "", 0)
	if err != nil {
		t.Fatalf("AccountFromMnemonic() error: %v", err)
	}
	return acct
}

func TestAccountFromMnemonic(t *testing.T) {
	acct := testAccount(t)
	if acct.Address() != common.HexToAddress(devAddress0) {
		t.Errorf("Address() = %s, want %s", acct.Address().Hex(), devAddress0)
	}
	if _, err := AccountFromMnemonic("bogus words", "", 0); err == nil {
		t.Error("AccountFromMnemonic() with invalid mnemonic should fail")
	}
}

func TestSignText_Recover(t *testing.T) {
	acct := testAccount(t)
	msg := []byte("hello stealth")

	sig, err := acct.SignText(msg)
	if err != nil {
		t.Fatalf("SignText() error: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Errorf("recovery byte = %d, want 27 or 28", v)
	}

	signer, err := RecoverText(msg, sig)
	if err != nil {
		t.Fatalf("RecoverText() error: %v", err)
	}
	if signer != acct.Address() {
		t.Errorf("recovered %s, want %s", signer.Hex(), acct.Address().Hex())
	}

	other, err := RecoverText([]byte("different"), sig)
	if err == nil && other == acct.Address() {
		t.Error("signature should not verify for a different message")
	}
}

func TestAuthenticate_FeedsKeyDerivation(t *testing.T) {
	acct := testAccount(t)

	sig, err := acct.Authenticate(11155111)
	if err != nil {
		t.Fatalf("Authenticate() error: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 132 {
		t.Fatalf("Authenticate() = %q, want 0x + 130 hex chars", sig)
	}

	// RFC 6979 signatures are deterministic, so the bundle is too.
	again, _ := acct.Authenticate(11155111)
	if sig != again {
		t.Error("Authenticate() should be deterministic")
	}

	kb, err := stealth.DeriveKeyBundle(sig)
	if err != nil {
		t.Fatalf("DeriveKeyBundle() error: %v", err)
	}
	if err := kb.MetaAddress().Validate(); err != nil {
		t.Errorf("meta-address invalid: %v", err)
	}

	raw, _ := hexutil.Decode(sig)
	signer, err := RecoverText([]byte(stealth.AuthMessage(11155111)), raw)
	if err != nil || signer != acct.Address() {
		t.Errorf("auth signature recovers to %s (err %v)", signer.Hex(), err)
	}

	mainnet, _ := acct.Authenticate(1)
	if mainnet == sig {
		t.Error("signatures for different chains should differ")
	}
}

func TestAccount_ImplementsAuthenticator(t *testing.T) {
	var _ Authenticator = testAccount(t)
}
