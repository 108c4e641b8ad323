package approval

import (
	"errors"

	"github.com/ScopeLift/umbra-v2-experimental/internal/namespace"
	"github.com/ScopeLift/umbra-v2-experimental/internal/pairing"
	"github.com/ScopeLift/umbra-v2-experimental/internal/registry"
	"github.com/ScopeLift/umbra-v2-experimental/internal/signer"
	"github.com/ScopeLift/umbra-v2-experimental/internal/stealth"
)

// ErrorKind groups failures by how they are surfaced.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindPreconditionMissing errors abort locally: no keys, no selection,
	// nothing pending, client not ready.
	KindPreconditionMissing
	// KindProtocolRejection errors are answered to the peer.
	KindProtocolRejection
	KindSigningFailure
	KindInitializationFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindPreconditionMissing:
		return "precondition_missing"
	case KindProtocolRejection:
		return "protocol_rejection"
	case KindSigningFailure:
		return "signing_failure"
	case KindInitializationFailure:
		return "initialization_failure"
	default:
		return "unknown"
	}
}

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{pairing.ErrInitialization, KindInitializationFailure},
	{ErrSigning, KindSigningFailure},
	{signer.ErrNoBackend, KindSigningFailure},
	{signer.ErrInvalidKey, KindSigningFailure},
	{ErrNoPendingRequest, KindPreconditionMissing},
	{ErrBusy, KindPreconditionMissing},
	{pairing.ErrNotReady, KindPreconditionMissing},
	{registry.ErrKeysNotSet, KindPreconditionMissing},
	{registry.ErrMetaAddressNotSet, KindPreconditionMissing},
	{registry.ErrNoSelectedAddress, KindPreconditionMissing},
	{registry.ErrBatchInFlight, KindPreconditionMissing},
	{namespace.ErrChainIDUnset, KindPreconditionMissing},
	{namespace.ErrNoSelectedAddress, KindPreconditionMissing},
	{stealth.ErrInvalidSignature, KindPreconditionMissing},
	{ErrUnsupportedMethod, KindProtocolRejection},
	{ErrInvalidParams, KindProtocolRejection},
	{ErrRequestPending, KindProtocolRejection},
	{ErrAccountNotGranted, KindProtocolRejection},
	{namespace.ErrUnsupportedNamespace, KindProtocolRejection},
	{pairing.ErrUnknownProposal, KindProtocolRejection},
	{pairing.ErrUnknownRequest, KindProtocolRejection},
	{pairing.ErrUnknownSession, KindProtocolRejection},
	{registry.ErrAddressNotFound, KindProtocolRejection},
}

// Kind classifies err. The first matching sentinel in the wrap chain wins,
// checked in a fixed order.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
