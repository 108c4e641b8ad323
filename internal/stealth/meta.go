package stealth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// MetaAddressPrefix is the URI prefix of an Ethereum stealth meta-address.
const MetaAddressPrefix = "st:eth:0x"

// ErrInvalidMetaAddress is returned when a meta-address cannot be parsed.
var ErrInvalidMetaAddress = errors.New("invalid stealth meta-address")

// MetaAddress is a stealth meta-address URI:
// st:eth:0x<spending pubkey (33 bytes)><viewing pubkey (33 bytes)>.
type MetaAddress string

// MetaAddressFromKeys encodes spending and viewing public keys.
func MetaAddressFromKeys(spendingPub, viewingPub []byte) MetaAddress {
	return MetaAddress(MetaAddressPrefix + hex.EncodeToString(spendingPub) + hex.EncodeToString(viewingPub))
}

// Keys parses the meta-address into its spending and viewing public keys.
func (m MetaAddress) Keys() (spendingPub, viewingPub []byte, err error) {
	s := string(m)
	if !strings.HasPrefix(s, MetaAddressPrefix) {
		return nil, nil, fmt.Errorf("%w: missing %q prefix", ErrInvalidMetaAddress, MetaAddressPrefix)
	}
	raw, err := hex.DecodeString(s[len(MetaAddressPrefix):])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidMetaAddress, err)
	}
	if len(raw) != 2*PublicKeySize {
		return nil, nil, fmt.Errorf("%w: want %d key bytes, got %d", ErrInvalidMetaAddress, 2*PublicKeySize, len(raw))
	}
	spendingPub, viewingPub = raw[:PublicKeySize], raw[PublicKeySize:]
	if _, err := parsePubKey(spendingPub); err != nil {
		return nil, nil, fmt.Errorf("%w: spending key: %v", ErrInvalidMetaAddress, err)
	}
	if _, err := parsePubKey(viewingPub); err != nil {
		return nil, nil, fmt.Errorf("%w: viewing key: %v", ErrInvalidMetaAddress, err)
	}
	return spendingPub, viewingPub, nil
}

// Validate reports whether the meta-address is well formed.
func (m MetaAddress) Validate() error {
	_, _, err := m.Keys()
	return err
}

func (m MetaAddress) String() string { return string(m) }

// ParseMetaAddress validates s and returns it as a MetaAddress.
func ParseMetaAddress(s string) (MetaAddress, error) {
	m := MetaAddress(strings.TrimSpace(s))
	if err := m.Validate(); err != nil {
		return "", err
	}
	return m, nil
}
