// Package registry generates stealth addresses from the authenticated key
// bundle and keeps them, their re-derivable private keys and their bound
// signers for the lifetime of a session.
package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	ulog "github.com/ScopeLift/umbra-v2-experimental/internal/log"
	"github.com/ScopeLift/umbra-v2-experimental/internal/signer"
	"github.com/ScopeLift/umbra-v2-experimental/internal/stealth"
)

// DefaultBatchSize is the number of addresses generated per batch.
const DefaultBatchSize = 5

var (
	ErrKeysNotSet        = errors.New("stealth keys not set")
	ErrMetaAddressNotSet = errors.New("stealth meta-address not set")
	ErrBatchInFlight     = errors.New("address generation already in progress")
	ErrAddressNotFound   = errors.New("stealth address not found")
	ErrNoSelectedAddress = errors.New("no stealth address selected")
	ErrDuplicateAddress  = errors.New("duplicate stealth address")
	ErrKeyMismatch       = errors.New("derived key does not control stealth address")
)

// Detail is one generated stealth address with everything needed to spend
// from it. The private key is never serialized.
type Detail struct {
	StealthAddress           common.Address `json:"stealthAddress"`
	EphemeralPublicKey       hexutil.Bytes  `json:"ephemeralPublicKey"`
	ViewTag                  hexutil.Uint64 `json:"viewTag"`
	StealthAddressPrivateKey hexutil.Bytes  `json:"-"`
}

// Registry holds the key bundle, the generated addresses and the current
// selection. It is safe for concurrent use.
type Registry struct {
	gen     stealth.Generator
	chainID uint64
	backend signer.Backend
	logger  zerolog.Logger

	batching atomic.Bool

	mu       sync.RWMutex
	bundle   *stealth.KeyBundle
	meta     stealth.MetaAddress
	details  []Detail
	index    map[common.Address]int
	signers  map[common.Address]*signer.Signer
	selected *common.Address
}

// New creates an empty registry. backend may be nil for sign-only signers.
func New(gen stealth.Generator, chainID uint64, backend signer.Backend) *Registry {
	if gen == nil {
		gen = stealth.NewGenerator(nil)
	}
	return &Registry{
		gen:     gen,
		chainID: chainID,
		backend: backend,
		logger:  ulog.Registry,
		index:   make(map[common.Address]int),
		signers: make(map[common.Address]*signer.Signer),
	}
}

// SetKeys installs the key bundle and meta-address of an authenticated
// session. Previously generated addresses are discarded when the bundle
// changes.
func (r *Registry) SetKeys(bundle stealth.KeyBundle, meta stealth.MetaAddress) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	if bundle.MetaAddress() != meta {
		return fmt.Errorf("%w: does not match key bundle", stealth.ErrInvalidMetaAddress)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bundle != nil && !bytes.Equal(r.bundle.SpendingPrivateKey, bundle.SpendingPrivateKey) {
		r.clearLocked()
	}
	r.bundle = &bundle
	r.meta = meta
	r.logger.Info().Str("meta", shortMeta(meta)).Msg("Stealth keys set")
	return nil
}

// Reset forgets the keys, every generated address and the selection.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bundle = nil
	r.meta = ""
	r.clearLocked()
	r.logger.Info().Msg("Stealth keys cleared")
}

func (r *Registry) clearLocked() {
	r.details = nil
	r.index = make(map[common.Address]int)
	r.signers = make(map[common.Address]*signer.Signer)
	r.selected = nil
}

// Keys returns the installed bundle and meta-address.
func (r *Registry) Keys() (stealth.KeyBundle, stealth.MetaAddress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.bundle == nil {
		return stealth.KeyBundle{}, "", ErrKeysNotSet
	}
	return *r.bundle, r.meta, nil
}

// GenerateOne generates a stealth address for meta, re-derives its private
// key, checks the key controls the address and records the result.
func (r *Registry) GenerateOne(meta stealth.MetaAddress) (Detail, error) {
	r.mu.RLock()
	bundle := r.bundle
	r.mu.RUnlock()

	if bundle == nil {
		return Detail{}, ErrKeysNotSet
	}
	if meta == "" {
		return Detail{}, ErrMetaAddressNotSet
	}

	res, err := r.gen.Generate(meta)
	if err != nil {
		return Detail{}, fmt.Errorf("generate stealth address: %w", err)
	}
	priv, err := stealth.DeriveStealthAddressPrivateKey(res.EphemeralPublicKey, *bundle, stealth.SchemeSECP256K1)
	if err != nil {
		return Detail{}, fmt.Errorf("derive stealth key: %w", err)
	}
	s, err := signer.New(priv, r.chainID, r.backend)
	if err != nil {
		return Detail{}, err
	}
	if s.Address() != res.StealthAddress {
		return Detail{}, fmt.Errorf("%w: %s", ErrKeyMismatch, res.StealthAddress.Hex())
	}

	d := Detail{
		StealthAddress:           res.StealthAddress,
		EphemeralPublicKey:       res.EphemeralPublicKey,
		ViewTag:                  hexutil.Uint64(res.ViewTag),
		StealthAddressPrivateKey: priv,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Logout or a new bundle may have landed while generating.
	if r.bundle == nil || !bytes.Equal(r.bundle.SpendingPrivateKey, bundle.SpendingPrivateKey) {
		return Detail{}, ErrKeysNotSet
	}
	if _, dup := r.index[d.StealthAddress]; dup {
		return Detail{}, fmt.Errorf("%w: %s", ErrDuplicateAddress, d.StealthAddress.Hex())
	}
	r.index[d.StealthAddress] = len(r.details)
	r.details = append(r.details, d)
	r.signers[d.StealthAddress] = s

	r.logger.Debug().Str("address", d.StealthAddress.Hex()).Int("total", len(r.details)).Msg("Stealth address generated")
	return d, nil
}

// GenerateBatch generates count addresses sequentially. Failures are logged
// and skipped. Only one batch runs at a time; a concurrent call returns
// ErrBatchInFlight without generating anything.
func (r *Registry) GenerateBatch(ctx context.Context, meta stealth.MetaAddress, count int) ([]Detail, error) {
	if !r.batching.CompareAndSwap(false, true) {
		return nil, ErrBatchInFlight
	}
	defer r.batching.Store(false)

	if count <= 0 {
		count = DefaultBatchSize
	}
	defer ulog.Benchmark("registry.GenerateBatch")()

	out := make([]Detail, 0, count)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		d, err := r.GenerateOne(meta)
		if errors.Is(err, ErrKeysNotSet) || errors.Is(err, ErrMetaAddressNotSet) {
			return out, err
		}
		if err != nil {
			r.logger.Warn().Err(err).Int("attempt", i).Msg("Stealth address generation failed")
			continue
		}
		out = append(out, d)
	}

	r.logger.Info().Int("requested", count).Int("generated", len(out)).Msg("Stealth address batch complete")
	return out, nil
}

// IsGenerating reports whether a batch is running.
func (r *Registry) IsGenerating() bool {
	return r.batching.Load()
}

// FindByAddress looks up a generated address, ignoring hex case.
func (r *Registry) FindByAddress(addr string) (Detail, error) {
	a, err := parseAddress(addr)
	if err != nil {
		return Detail{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[a]
	if !ok {
		return Detail{}, fmt.Errorf("%w: %s", ErrAddressNotFound, addr)
	}
	return r.details[i], nil
}

// SignerFor returns the signer bound to a generated address.
func (r *Registry) SignerFor(addr common.Address) (*signer.Signer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.signers[addr]; ok {
		return s, nil
	}
	i, ok := r.index[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAddressNotFound, addr.Hex())
	}
	s, err := signer.New(r.details[i].StealthAddressPrivateKey, r.chainID, r.backend)
	if err != nil {
		return nil, err
	}
	r.signers[addr] = s
	return s, nil
}

// Select makes addr the address offered to the next pairing.
func (r *Registry) Select(addr string) (Detail, error) {
	a, err := parseAddress(addr)
	if err != nil {
		return Detail{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[a]
	if !ok {
		return Detail{}, fmt.Errorf("%w: %s", ErrAddressNotFound, addr)
	}
	r.selected = &a
	r.logger.Info().Str("address", a.Hex()).Msg("Stealth address selected")
	return r.details[i], nil
}

// Selected returns the selected address.
func (r *Registry) Selected() (Detail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selected == nil {
		return Detail{}, ErrNoSelectedAddress
	}
	return r.details[r.index[*r.selected]], nil
}

// List returns the generated addresses in generation order.
func (r *Registry) List() []Detail {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Detail, len(r.details))
	copy(out, r.details)
	return out
}

func parseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: malformed address %q", ErrAddressNotFound, s)
	}
	return common.HexToAddress(s), nil
}

func shortMeta(m stealth.MetaAddress) string {
	s := m.String()
	if len(s) > 20 {
		return s[:20] + "…"
	}
	return s
}
