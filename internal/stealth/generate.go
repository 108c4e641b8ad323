package stealth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// maxEphemeralAttempts bounds rejection sampling of the ephemeral key.
const maxEphemeralAttempts = 16

// ErrEntropy is returned when the random source fails to yield a usable key.
var ErrEntropy = errors.New("ephemeral key generation failed")

// Result is a freshly generated stealth address together with the data a
// sender announces so the recipient can find it.
type Result struct {
	StealthAddress     common.Address `json:"stealthAddress"`
	EphemeralPublicKey hexutil.Bytes  `json:"ephemeralPublicKey"`
	ViewTag            byte           `json:"viewTag"`
}

// Generator produces stealth addresses for a meta-address.
type Generator interface {
	Generate(meta MetaAddress) (Result, error)
}

// NewGenerator returns a scheme 1 generator reading ephemeral keys from r.
// A nil reader uses crypto/rand.
func NewGenerator(r io.Reader) Generator {
	if r == nil {
		r = rand.Reader
	}
	return &generator{rand: r}
}

type generator struct {
	rand io.Reader
}

// Generate picks a random ephemeral key e and computes
//
//	h       = keccak256(compress(e * V))
//	P       = S + h*G
//	address = keccak256(P)[12:]
//	viewTag = h[0]
func (g *generator) Generate(meta MetaAddress) (Result, error) {
	spendPub, viewPub, err := meta.Keys()
	if err != nil {
		return Result{}, err
	}
	spend, err := parsePubKey(spendPub)
	if err != nil {
		return Result{}, err
	}
	view, err := parsePubKey(viewPub)
	if err != nil {
		return Result{}, err
	}

	eph, err := g.ephemeralKey()
	if err != nil {
		return Result{}, err
	}

	h := hashedSecret(&eph.Key, view)
	hb := h.Bytes()

	return Result{
		StealthAddress:     offsetPubKey(spend, &h),
		EphemeralPublicKey: eph.PubKey().SerializeCompressed(),
		ViewTag:            hb[0],
	}, nil
}

func (g *generator) ephemeralKey() (*secp256k1.PrivateKey, error) {
	var buf [PrivateKeySize]byte
	for i := 0; i < maxEphemeralAttempts; i++ {
		if _, err := io.ReadFull(g.rand, buf[:]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEntropy, err)
		}
		var s secp256k1.ModNScalar
		if overflow := s.SetByteSlice(buf[:]); overflow || s.IsZero() {
			continue
		}
		return secp256k1.NewPrivateKey(&s), nil
	}
	return nil, ErrEntropy
}
