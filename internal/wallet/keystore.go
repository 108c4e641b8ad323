package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const keystoreVersion = 2

var (
	// ErrWalletExists is returned when creating a wallet whose file exists.
	ErrWalletExists = errors.New("wallet already exists")

	// ErrWalletNotFound is returned for unknown wallet names.
	ErrWalletNotFound = errors.New("wallet not found")
)

// keystoreFile is the on-disk JSON format for an encrypted wallet.
type keystoreFile struct {
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	EncryptedSeed []byte    `json:"encrypted_seed"`
	AccountIndex  uint32    `json:"account_index"`
	Address       string    `json:"address"`
}

// WalletInfo is the public metadata of a stored wallet.
type WalletInfo struct {
	Name         string         `json:"name"`
	Address      common.Address `json:"address"`
	AccountIndex uint32         `json:"accountIndex"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Keystore stores encrypted HD seeds, one file per wallet.
type Keystore struct {
	path string
}

// NewKeystore opens (and creates) the keystore directory.
func NewKeystore(path string) (*Keystore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{path: path}, nil
}

func (ks *Keystore) walletPath(name string) string {
	return filepath.Join(ks.path, name+".wallet")
}

// Create encrypts seed under passphrase and records the address of the
// account at index so it can be shown without unlocking.
func (ks *Keystore) Create(name string, seed, passphrase []byte, index uint32, params EncryptionParams) (WalletInfo, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return WalletInfo{}, fmt.Errorf("invalid wallet name %q", name)
	}
	path := ks.walletPath(name)
	if _, err := os.Stat(path); err == nil {
		return WalletInfo{}, fmt.Errorf("%w: %q", ErrWalletExists, name)
	}

	acct, err := AccountFromSeed(seed, index)
	if err != nil {
		return WalletInfo{}, err
	}
	encrypted, err := Encrypt(seed, passphrase, params)
	if err != nil {
		return WalletInfo{}, fmt.Errorf("encrypt seed: %w", err)
	}

	kf := keystoreFile{
		Version:       keystoreVersion,
		CreatedAt:     time.Now().UTC(),
		EncryptedSeed: encrypted,
		AccountIndex:  index,
		Address:       acct.Address().Hex(),
	}
	if err := ks.writeFile(path, &kf); err != nil {
		return WalletInfo{}, err
	}
	return kf.info(name), nil
}

// Unlock decrypts the wallet and returns its account.
func (ks *Keystore) Unlock(name string, passphrase []byte) (*Account, error) {
	kf, err := ks.readFile(name)
	if err != nil {
		return nil, err
	}
	seed, err := Decrypt(kf.EncryptedSeed, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt wallet %q: %w", name, err)
	}
	defer clear(seed)

	acct, err := AccountFromSeed(seed, kf.AccountIndex)
	if err != nil {
		return nil, err
	}
	if acct.Address() != common.HexToAddress(kf.Address) {
		return nil, fmt.Errorf("wallet %q: derived address %s does not match stored %s", name, acct.Address().Hex(), kf.Address)
	}
	return acct, nil
}

// Info returns the wallet metadata without decrypting it.
func (ks *Keystore) Info(name string) (WalletInfo, error) {
	kf, err := ks.readFile(name)
	if err != nil {
		return WalletInfo{}, err
	}
	return kf.info(name), nil
}

// List returns the names of all wallets, sorted.
func (ks *Keystore) List() ([]string, error) {
	entries, err := os.ReadDir(ks.path)
	if err != nil {
		return nil, fmt.Errorf("read keystore dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(e.Name(), ".wallet"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a wallet file.
func (ks *Keystore) Delete(name string) error {
	path := ks.walletPath(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %q", ErrWalletNotFound, name)
	}
	return os.Remove(path)
}

func (kf *keystoreFile) info(name string) WalletInfo {
	return WalletInfo{
		Name:         name,
		Address:      common.HexToAddress(kf.Address),
		AccountIndex: kf.AccountIndex,
		CreatedAt:    kf.CreatedAt,
	}
}

func (ks *Keystore) writeFile(path string, kf *keystoreFile) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallet: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write wallet: %w", err)
	}
	return nil
}

func (ks *Keystore) readFile(name string) (*keystoreFile, error) {
	data, err := os.ReadFile(ks.walletPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrWalletNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read wallet: %w", err)
	}
	var kf keystoreFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("parse wallet: %w", err)
	}
	if kf.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported wallet version: %d", kf.Version)
	}
	return &kf, nil
}
