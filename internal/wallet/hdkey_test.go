package wallet

import (
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// devMnemonic is the development phrase shipped with local Ethereum
// toolchains; its accounts are published.
const devMnemonic = "test test test test test test test test test test test junk"

var devAccounts = []struct {
	addr string
	key  string
}{
	{"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"},
	{"0x70997970C51812dc3A010C7d01b50e0d17dc79C8", "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"},
}

var (
	devAddress0 = devAccounts[0].addr
	devAddress1 = devAccounts[1].addr
)

func testSeed(t *testing.T) []byte {
	t.Helper()
	seed, err := SeedFromMnemonic(devMnemonic, "")
	if err != nil {
		t.Fatalf("SeedFromMnemonic: %v", err)
	}
	return seed
}

func devRoot(t *testing.T) *HDKey {
	t.Helper()
	root, err := NewMasterKey(testSeed(t))
	if err != nil {
		t.Fatalf("NewMasterKey: %v", err)
	}
	return root
}

func TestNewMasterKey_SeedLength(t *testing.T) {
	for _, n := range []int{0, 16, 32, 63, 65, 128} {
		if _, err := NewMasterKey(make([]byte, n)); err == nil {
			t.Errorf("%d-byte seed accepted", n)
		}
	}
}

func TestDeriveAccount_DevAccounts(t *testing.T) {
	root := devRoot(t)
	if len(root.Path()) != 0 {
		t.Errorf("root path = %s", root.Path())
	}
	for i, want := range devAccounts {
		key, err := root.DeriveAccount(uint32(i))
		if err != nil {
			t.Fatalf("DeriveAccount(%d): %v", i, err)
		}
		addr, err := key.Address()
		if err != nil {
			t.Fatalf("Address: %v", err)
		}
		if addr != common.HexToAddress(want.addr) {
			t.Errorf("account %d = %s, want %s", i, addr.Hex(), want.addr)
		}
		priv, err := key.ECDSA()
		if err != nil {
			t.Fatalf("ECDSA: %v", err)
		}
		if got := common.Bytes2Hex(crypto.FromECDSA(priv)); got != want.key {
			t.Errorf("account %d key = %s", i, got)
		}
	}
}

func TestAccountPath(t *testing.T) {
	want, err := accounts.ParseDerivationPath("m/44'/60'/0'/0/7")
	if err != nil {
		t.Fatal(err)
	}
	if got := AccountPath(7); got.String() != want.String() {
		t.Errorf("AccountPath(7) = %s, want %s", got, want)
	}
	// The shared default root must not be mutated by appends.
	AccountPath(1)
	if accounts.DefaultBaseDerivationPath.String() != "m/44'/60'/0'/0" {
		t.Errorf("default root changed to %s", accounts.DefaultBaseDerivationPath)
	}
}

func TestDerive_Stepwise(t *testing.T) {
	root := devRoot(t)
	parent, err := root.Derive(accounts.DefaultBaseDerivationPath)
	if err != nil {
		t.Fatalf("Derive root: %v", err)
	}
	child, err := parent.Derive(accounts.DerivationPath{1})
	if err != nil {
		t.Fatalf("Derive child: %v", err)
	}
	if child.Path().String() != AccountPath(1).String() {
		t.Errorf("path = %s", child.Path())
	}
	addr, _ := child.Address()
	if addr != common.HexToAddress(devAccounts[1].addr) {
		t.Errorf("stepwise account 1 = %s", addr.Hex())
	}
}

func TestNeuter(t *testing.T) {
	key, err := devRoot(t).DeriveAccount(0)
	if err != nil {
		t.Fatal(err)
	}
	pub := key.Neuter()
	if pub.IsPrivate() {
		t.Error("neutered key is private")
	}
	if _, err := pub.ECDSA(); err != ErrPublicOnly {
		t.Errorf("ECDSA on public key: %v", err)
	}
	a1, _ := key.Address()
	a2, err := pub.Address()
	if err != nil || a1 != a2 {
		t.Errorf("neutered address = %s, %v; want %s", a2.Hex(), err, a1.Hex())
	}
}
