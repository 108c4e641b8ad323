// Package namespace decides what a dApp is granted when it proposes a
// session: one eip155 chain, the selected stealth address and a fixed
// allow-list of methods and events.
package namespace

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	ulog "github.com/ScopeLift/umbra-v2-experimental/internal/log"
	"github.com/ScopeLift/umbra-v2-experimental/internal/pairing"
	"github.com/ScopeLift/umbra-v2-experimental/internal/registry"
	"github.com/ScopeLift/umbra-v2-experimental/internal/relay"
)

// EIP155 is the only namespace key the wallet grants.
const EIP155 = "eip155"

// Granted by default. Proposer methods are never echoed back.
var (
	DefaultMethods = []string{"eth_sendTransaction", "personal_sign"}
	DefaultEvents  = []string{"accountsChanged", "chainChanged"}
)

var (
	ErrChainIDUnset         = errors.New("chain id not set")
	ErrNoSelectedAddress    = errors.New("no stealth address selected")
	ErrUnsupportedNamespace = errors.New("unsupported namespace")
	ErrUnsupportedChains    = fmt.Errorf("%w: required chains not supported", ErrUnsupportedNamespace)
)

// ChainID formats a CAIP-2 chain id.
func ChainID(chainID uint64) string {
	return EIP155 + ":" + strconv.FormatUint(chainID, 10)
}

// Account formats a CAIP-10 account id.
func Account(chainID uint64, addr common.Address) string {
	return ChainID(chainID) + ":" + addr.Hex()
}

// StripPrefix returns the address part of a CAIP-10 account id. Input
// without a prefix is returned unchanged.
func StripPrefix(account string) string {
	if i := strings.LastIndexByte(account, ':'); i >= 0 {
		return account[i+1:]
	}
	return account
}

// ParseChainID parses "eip155:<n>" or a bare decimal id.
func ParseChainID(s string) (uint64, error) {
	s = strings.TrimPrefix(s, EIP155+":")
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chain id %q", s)
	}
	return id, nil
}

// Policy is the allow-list granted to every session.
type Policy struct {
	Methods []string
	Events  []string
}

// DefaultPolicy grants DefaultMethods and DefaultEvents.
func DefaultPolicy() Policy {
	return Policy{Methods: DefaultMethods, Events: DefaultEvents}
}

// BuildNamespace computes the namespaces granted for p with the default
// policy.
func BuildNamespace(p pairing.Proposal, chainID uint64, stealthAddress common.Address) (map[string]relay.Namespace, error) {
	return DefaultPolicy().Build(p, chainID, stealthAddress)
}

// Build computes the namespaces granted for p: a single eip155 namespace
// on chainID holding only stealthAddress.
func (pol Policy) Build(p pairing.Proposal, chainID uint64, stealthAddress common.Address) (map[string]relay.Namespace, error) {
	if chainID == 0 {
		return nil, ErrChainIDUnset
	}
	if stealthAddress == (common.Address{}) {
		return nil, ErrNoSelectedAddress
	}

	chain := ChainID(chainID)
	for key, ns := range p.RequiredNamespaces {
		if err := checkRequired(key, ns, chain); err != nil {
			return nil, err
		}
	}

	return map[string]relay.Namespace{
		EIP155: {
			Chains:   []string{chain},
			Accounts: []string{Account(chainID, stealthAddress)},
			Methods:  slices.Clone(pol.Methods),
			Events:   slices.Clone(pol.Events),
		},
	}, nil
}

// checkRequired accepts "eip155" and "eip155:<id>" keys whose chains
// include ours.
func checkRequired(key string, ns relay.ProposalNamespace, chain string) error {
	name, ref, inline := strings.Cut(key, ":")
	if name != EIP155 {
		return fmt.Errorf("%w: %q", ErrUnsupportedNamespace, key)
	}
	if inline {
		if key != chain {
			return fmt.Errorf("%w: %s", ErrUnsupportedChains, EIP155+":"+ref)
		}
		return nil
	}
	if len(ns.Chains) > 0 && !slices.Contains(ns.Chains, chain) {
		return fmt.Errorf("%w: want %s, proposed %s", ErrUnsupportedChains, chain, strings.Join(ns.Chains, ","))
	}
	return nil
}

// Approver answers session proposals. *pairing.Client implements it.
type Approver interface {
	ApproveSession(ctx context.Context, proposalID int64, namespaces map[string]relay.Namespace) (pairing.Session, error)
	RejectSession(ctx context.Context, proposalID int64, reason relay.SDKError) error
}

// Selection reports the stealth address offered to dApps.
// *registry.Registry implements it.
type Selection interface {
	Selected() (registry.Detail, error)
}

// Negotiator approves or rejects proposals on behalf of the selected
// stealth address.
type Negotiator struct {
	approver  Approver
	selection Selection
	chainID   uint64
	policy    Policy
}

// NewNegotiator creates a negotiator for chainID.
func NewNegotiator(approver Approver, selection Selection, chainID uint64, policy Policy) *Negotiator {
	return &Negotiator{approver: approver, selection: selection, chainID: chainID, policy: policy}
}

// HandleProposal builds the namespaces for p and approves the session, or
// rejects the proposal. Every proposal gets exactly one answer; the
// returned error describes why it was not approved.
func (n *Negotiator) HandleProposal(ctx context.Context, p pairing.Proposal) (pairing.Session, error) {
	logger := ulog.WithTopic("pairing", p.PairingTopic).With().
		Int64("proposal", p.ID).
		Str("peer", p.Proposer.Metadata.Name).
		Logger()

	var addr common.Address
	detail, err := n.selection.Selected()
	if err == nil {
		addr = detail.StealthAddress
	}

	namespaces, err := n.policy.Build(p, n.chainID, addr)
	if err != nil {
		reason := rejectReason(err)
		logger.Warn().Err(err).Int("code", reason.Code).Msg("Rejecting session proposal")
		if rerr := n.approver.RejectSession(ctx, p.ID, reason); rerr != nil {
			logger.Error().Err(rerr).Msg("Failed to reject session proposal")
		}
		return pairing.Session{}, err
	}

	s, err := n.approver.ApproveSession(ctx, p.ID, namespaces)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to approve session")
		if rerr := n.approver.RejectSession(ctx, p.ID, relay.SDKUserRejected); rerr != nil {
			logger.Error().Err(rerr).Msg("Failed to reject session proposal")
		}
		return pairing.Session{}, err
	}
	logger.Info().Str("account", addr.Hex()).Msg("Session proposal approved")
	return s, nil
}

// rejectReason maps a build failure to the code sent to the dApp.
func rejectReason(err error) relay.SDKError {
	switch {
	case errors.Is(err, ErrUnsupportedChains):
		return relay.SDKUnsupportedChains
	case errors.Is(err, ErrUnsupportedNamespace):
		return relay.SDKUnsupportedNamespaceKey
	default:
		return relay.SDKUserRejected
	}
}
