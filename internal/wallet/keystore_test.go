package wallet

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testKeystore(t *testing.T) *Keystore {
	t.Helper()
	ks, err := NewKeystore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeystore() error: %v", err)
	}
	return ks
}

func TestKeystore_CreateAndUnlock(t *testing.T) {
	ks := testKeystore(t)
	passphrase := []byte("test-passphrase")

	info, err := ks.Create("main", testSeed(t), passphrase, 0, fastParams())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if info.Address != common.HexToAddress(devAddress0) {
		t.Errorf("Create() address = %s, want %s", info.Address.Hex(), devAddress0)
	}

	acct, err := ks.Unlock("main", passphrase)
	if err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	if acct.Address() != info.Address {
		t.Errorf("Unlock() address = %s, want %s", acct.Address().Hex(), info.Address.Hex())
	}
}

func TestKeystore_AccountIndex(t *testing.T) {
	ks := testKeystore(t)

	info, err := ks.Create("second", testSeed(t), []byte("pass"), 1, fastParams())
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if info.Address != common.HexToAddress(devAddress1) || info.AccountIndex != 1 {
		t.Errorf("Create() info = %+v", info)
	}

	got, err := ks.Info("second")
	if err != nil {
		t.Fatalf("Info() error: %v", err)
	}
	if got.Address != info.Address {
		t.Errorf("Info() address = %s, want %s", got.Address.Hex(), info.Address.Hex())
	}
}

func TestKeystore_CreateDuplicate(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeed(t)

	if _, err := ks.Create("dup", seed, []byte("pass"), 0, fastParams()); err != nil {
		t.Fatalf("first Create() error: %v", err)
	}
	if _, err := ks.Create("dup", seed, []byte("pass"), 0, fastParams()); !errors.Is(err, ErrWalletExists) {
		t.Errorf("second Create() error = %v, want ErrWalletExists", err)
	}
}

func TestKeystore_CreateInvalidName(t *testing.T) {
	ks := testKeystore(t)
	for _, name := range []string{"", "../escape", `a\b`} {
		if _, err := ks.Create(name, testSeed(t), []byte("pass"), 0, fastParams()); err == nil {
			t.Errorf("Create(%q) should fail", name)
		}
	}
}

func TestKeystore_UnlockWrongPassphrase(t *testing.T) {
	ks := testKeystore(t)
	if _, err := ks.Create("w", testSeed(t), []byte("correct"), 0, fastParams()); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := ks.Unlock("w", []byte("wrong")); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Unlock() error = %v, want ErrWrongPassphrase", err)
	}
}

func TestKeystore_Nonexistent(t *testing.T) {
	ks := testKeystore(t)

	if _, err := ks.Unlock("missing", []byte("pass")); !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("Unlock() error = %v, want ErrWalletNotFound", err)
	}
	if _, err := ks.Info("missing"); !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("Info() error = %v, want ErrWalletNotFound", err)
	}
	if err := ks.Delete("missing"); !errors.Is(err, ErrWalletNotFound) {
		t.Errorf("Delete() error = %v, want ErrWalletNotFound", err)
	}
}

func TestKeystore_ListAndDelete(t *testing.T) {
	ks := testKeystore(t)
	seed := testSeed(t)

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if _, err := ks.Create(name, seed, []byte("pass"), 0, fastParams()); err != nil {
			t.Fatalf("Create(%s) error: %v", name, err)
		}
	}
	// Unrelated files are ignored.
	if err := os.WriteFile(filepath.Join(ks.path, "notes.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	names, err := ks.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	want := []string{"alpha", "bravo", "charlie"}
	if len(names) != len(want) {
		t.Fatalf("List() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, names[i], want[i])
		}
	}

	if err := ks.Delete("bravo"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	names, _ = ks.List()
	if len(names) != 2 {
		t.Errorf("after Delete, List() = %v", names)
	}
}

func TestKeystore_FilePermissions(t *testing.T) {
	ks := testKeystore(t)
	if _, err := ks.Create("perm", testSeed(t), []byte("pass"), 0, fastParams()); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	fi, err := os.Stat(ks.walletPath("perm"))
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if perm := fi.Mode().Perm(); perm != 0600 {
		t.Errorf("wallet file permissions = %o, want 600", perm)
	}
}

func TestKeystore_AddressMismatch(t *testing.T) {
	ks := testKeystore(t)
	if _, err := ks.Create("tamper", testSeed(t), []byte("pass"), 0, fastParams()); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	kf, err := ks.readFile("tamper")
	if err != nil {
		t.Fatalf("readFile() error: %v", err)
	}
	kf.Address = devAddress1
	if err := ks.writeFile(ks.walletPath("tamper"), kf); err != nil {
		t.Fatalf("writeFile() error: %v", err)
	}

	if _, err := ks.Unlock("tamper", []byte("pass")); err == nil {
		t.Error("Unlock() should reject a mismatched address")
	}
}
