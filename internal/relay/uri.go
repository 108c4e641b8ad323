// Package relay implements the pairing wire protocol spoken between a dApp
// and the wallet through a relay: pairing URIs, encrypted envelopes,
// JSON-RPC framing, session messages and the websocket relay client.
package relay

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ProtocolIRN is the only relay protocol supported.
const ProtocolIRN = "irn"

// ErrInvalidURI is returned for malformed pairing URIs.
var ErrInvalidURI = errors.New("invalid pairing uri")

// PairingURI is a parsed wc: URI:
//
//	wc:<topic>@2?relay-protocol=irn&symKey=<64 hex>[&expiryTimestamp=<unix>]
type PairingURI struct {
	Topic         string
	Version       int
	RelayProtocol string
	SymKey        SymKey
	Expiry        time.Time // zero when absent
}

// ParseURI parses a pairing URI.
func ParseURI(raw string) (PairingURI, error) {
	raw = strings.TrimSpace(raw)
	rest, ok := strings.CutPrefix(raw, "wc:")
	if !ok {
		return PairingURI{}, fmt.Errorf("%w: missing wc: scheme", ErrInvalidURI)
	}

	path, query, _ := strings.Cut(rest, "?")
	topic, version, ok := strings.Cut(path, "@")
	if !ok || topic == "" {
		return PairingURI{}, fmt.Errorf("%w: missing topic or version", ErrInvalidURI)
	}
	if _, err := hex.DecodeString(topic); err != nil || len(topic) != 64 {
		return PairingURI{}, fmt.Errorf("%w: topic must be 32 bytes of hex", ErrInvalidURI)
	}
	v, err := strconv.Atoi(version)
	if err != nil || v != 2 {
		return PairingURI{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidURI, version)
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return PairingURI{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}

	u := PairingURI{Topic: topic, Version: v, RelayProtocol: values.Get("relay-protocol")}
	if u.RelayProtocol != ProtocolIRN {
		return PairingURI{}, fmt.Errorf("%w: unsupported relay protocol %q", ErrInvalidURI, u.RelayProtocol)
	}
	u.SymKey, err = ParseSymKey(values.Get("symKey"))
	if err != nil {
		return PairingURI{}, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if exp := values.Get("expiryTimestamp"); exp != "" {
		sec, err := strconv.ParseInt(exp, 10, 64)
		if err != nil {
			return PairingURI{}, fmt.Errorf("%w: bad expiryTimestamp %q", ErrInvalidURI, exp)
		}
		u.Expiry = time.Unix(sec, 0)
	}
	return u, nil
}

// Expired reports whether the URI carries an expiry before now.
func (u PairingURI) Expired(now time.Time) bool {
	return !u.Expiry.IsZero() && !now.Before(u.Expiry)
}

// String formats the URI.
func (u PairingURI) String() string {
	q := url.Values{}
	q.Set("relay-protocol", u.RelayProtocol)
	q.Set("symKey", u.SymKey.String())
	if !u.Expiry.IsZero() {
		q.Set("expiryTimestamp", strconv.FormatInt(u.Expiry.Unix(), 10))
	}
	return fmt.Sprintf("wc:%s@%d?%s", u.Topic, u.Version, q.Encode())
}

// NewPairingURI creates a fresh pairing with a random symmetric key.
func NewPairingURI(ttl time.Duration) (PairingURI, error) {
	key, err := GenerateSymKey()
	if err != nil {
		return PairingURI{}, err
	}
	u := PairingURI{
		Topic:         key.Topic(),
		Version:       2,
		RelayProtocol: ProtocolIRN,
		SymKey:        key,
	}
	if ttl > 0 {
		u.Expiry = time.Now().Add(ttl)
	}
	return u, nil
}
