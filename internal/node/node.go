// Package node wires the stealth wallet together: keystore, stealth
// registry, pairing client, proposal negotiator, approval engine, funding
// client and the control API. It can be embedded in any binary.
package node

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/ScopeLift/umbra-v2-experimental/config"
	"github.com/ScopeLift/umbra-v2-experimental/internal/approval"
	"github.com/ScopeLift/umbra-v2-experimental/internal/funding"
	ulog "github.com/ScopeLift/umbra-v2-experimental/internal/log"
	"github.com/ScopeLift/umbra-v2-experimental/internal/namespace"
	"github.com/ScopeLift/umbra-v2-experimental/internal/pairing"
	"github.com/ScopeLift/umbra-v2-experimental/internal/registry"
	"github.com/ScopeLift/umbra-v2-experimental/internal/relay"
	"github.com/ScopeLift/umbra-v2-experimental/internal/rpc"
	"github.com/ScopeLift/umbra-v2-experimental/internal/signer"
	"github.com/ScopeLift/umbra-v2-experimental/internal/stealth"
	"github.com/ScopeLift/umbra-v2-experimental/internal/wallet"
)

// PassphraseEnv names the environment variable Start unlocks
// wallet.name with. When unset the daemon waits for auth_authenticate.
const PassphraseEnv = "STEALTHWALLET_PASSPHRASE"

// proposalTimeout bounds the approve or reject of one session proposal.
const proposalTimeout = 30 * time.Second

var (
	// ErrFundingDisabled is returned by Fund when no funder URL is set.
	ErrFundingDisabled = errors.New("funding disabled: funding.url not set")

	// ErrNoAddresses is returned by Fund before any address is generated.
	ErrNoAddresses = errors.New("no stealth addresses to fund")

	// ErrNoWallet is returned by Authenticate without a wallet name.
	ErrNoWallet = errors.New("no wallet name given and wallet.name not set")
)

var _ rpc.Service = (*Node)(nil)

// Node is a fully-initialized stealth wallet.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	// Core
	keystore *wallet.Keystore
	backend  *ethclient.Client
	registry *registry.Registry
	funding  *funding.Client

	// RPC
	rpcServer *rpc.Server

	// Per-login pairing state. A torn down pairing client cannot be
	// reused, so Logout drops it and the next login builds a new one.
	mu      sync.Mutex
	account string
	address common.Address
	pairing *pairing.Client
	engine  *approval.Engine
	subs    []*pairing.Subscription

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates and initializes a new Node. It performs all setup steps
// (logger, keystore, chain backend, registry, funding, RPC) but does NOT
// unlock a wallet or connect to the relay. Call Start() and Authenticate()
// for that.
func New(cfg *config.Config) (*Node, error) {
	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := config.ExpandPath(cfg.Log.File)
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(logsDir, "stealthwallet.log")
	}
	if err := ulog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := ulog.WithComponent("node")

	chainParams := cfg.Chain.Params()
	logger.Info().
		Uint64("chain_id", cfg.Chain.ID).
		Str("chain", chainParams.Name).
		Str("network", string(cfg.Network)).
		Str("relay", cfg.Relay.URL).
		Msg("Starting stealth wallet")

	// ── 2. Keystore ─────────────────────────────────────────────────
	ks, err := wallet.NewKeystore(cfg.KeystoreDir())
	if err != nil {
		return nil, fmt.Errorf("open keystore at %s: %w", cfg.KeystoreDir(), err)
	}

	// ── 3. Chain backend ────────────────────────────────────────────
	var backend *ethclient.Client
	if cfg.Chain.RPCURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		backend, err = signer.Dial(ctx, cfg.Chain.RPCURL)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("dial chain rpc %s: %w", cfg.Chain.RPCURL, err)
		}
		logger.Info().Str("url", cfg.Chain.RPCURL).Msg("Chain backend connected")
	} else {
		logger.Warn().Msg("chain.rpc not set, transactions are signed but not sent")
	}

	// ── 4. Stealth registry ─────────────────────────────────────────
	var chainBackend signer.Backend
	if backend != nil {
		chainBackend = backend
	}
	reg := registry.New(stealth.NewGenerator(rand.Reader), cfg.Chain.ID, chainBackend)

	// ── 5. Funding client ───────────────────────────────────────────
	var fundClient *funding.Client
	if cfg.Funding.URL != "" {
		fundClient = funding.NewClient(cfg.Funding.URL)
		logger.Info().Str("url", cfg.Funding.URL).Str("amount", cfg.Funding.Amount).Msg("Funding enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:      cfg,
		logger:   logger,
		keystore: ks,
		backend:  backend,
		registry: reg,
		funding:  fundClient,
		ctx:      ctx,
		cancel:   cancel,
	}

	// ── 6. Control API ──────────────────────────────────────────────
	if cfg.RPC.Enabled {
		addr := fmt.Sprintf("%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
		n.rpcServer = rpc.New(addr, n, cfg.RPC)
		if err := n.rpcServer.Start(); err != nil {
			cancel()
			n.closeBackend()
			return nil, fmt.Errorf("start rpc: %w", err)
		}
	}

	return n, nil
}

// Start unlocks the configured wallet when a passphrase is supplied
// through the environment and logs the node as ready. Without one the
// wallet waits for auth_authenticate.
func (n *Node) Start() error {
	if pass := os.Getenv(PassphraseEnv); pass != "" && n.cfg.Wallet.Name != "" {
		if _, err := n.Authenticate(n.ctx, n.cfg.Wallet.Name, []byte(pass)); err != nil {
			return fmt.Errorf("authenticate %q: %w", n.cfg.Wallet.Name, err)
		}
	}

	n.logger.Info().
		Str("rpc", n.RPCAddr()).
		Bool("authenticated", n.authenticated()).
		Msg("Stealth wallet started successfully")
	return nil
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	n.cancel()

	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	n.mu.Lock()
	n.dropPairingLocked()
	n.mu.Unlock()
	n.registry.Reset()
	n.closeBackend()

	n.logger.Info().Msg("Goodbye!")
}

// RPCAddr returns the address the RPC server is listening on.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

func (n *Node) closeBackend() {
	if n.backend != nil {
		n.backend.Close()
	}
}

// ── Authentication ──────────────────────────────────────────────────

// Authenticate unlocks name, signs the chain-scoped auth message with the
// wallet account and derives the stealth key bundle from the signature.
// It then connects to the relay and, when enabled, generates the first
// batch of stealth addresses. A relay failure does not fail the login;
// pairing_connect retries it.
func (n *Node) Authenticate(ctx context.Context, name string, password []byte) (rpc.AuthStatus, error) {
	if name == "" {
		name = n.cfg.Wallet.Name
	}
	if name == "" {
		return rpc.AuthStatus{}, ErrNoWallet
	}

	acct, err := n.keystore.Unlock(name, password)
	if err != nil {
		return rpc.AuthStatus{}, err
	}
	sig, err := acct.Authenticate(n.cfg.Chain.ID)
	if err != nil {
		return rpc.AuthStatus{}, fmt.Errorf("sign auth message: %w", err)
	}
	bundle, err := stealth.DeriveKeyBundle(sig)
	if err != nil {
		return rpc.AuthStatus{}, err
	}
	meta := bundle.MetaAddress()

	n.mu.Lock()
	if n.account != "" && n.address != acct.Address() {
		// Switching wallets: sessions belong to the previous identity.
		n.dropPairingLocked()
	}
	if err := n.registry.SetKeys(bundle, meta); err != nil {
		n.mu.Unlock()
		return rpc.AuthStatus{}, err
	}
	n.account = name
	n.address = acct.Address()
	if n.pairing == nil {
		n.newPairingLocked()
	}
	pc := n.pairing
	n.mu.Unlock()

	n.logger.Info().
		Str("wallet", name).
		Str("address", acct.Address().Hex()).
		Msg("Wallet authenticated")

	if err := pc.Init(ctx); err != nil {
		n.logger.Warn().Err(err).Msg("Relay unavailable, pairing disabled until retried")
	}

	if n.cfg.Wallet.AutoGenerate && len(n.registry.List()) == 0 {
		if _, err := n.GenerateAddresses(ctx, n.cfg.Wallet.BatchSize); err != nil {
			n.logger.Warn().Err(err).Msg("Initial stealth address batch failed")
		}
	}
	return n.AuthStatus(), nil
}

// AuthStatus reports the login and relay state.
func (n *Node) AuthStatus() rpc.AuthStatus {
	n.mu.Lock()
	defer n.mu.Unlock()

	st := rpc.AuthStatus{
		ChainID: n.cfg.Chain.ID,
		Pairing: pairing.StateUninitialized.String(),
	}
	if n.pairing != nil {
		st.Pairing = n.pairing.State().String()
	}
	if n.account == "" {
		return st
	}
	st.Authenticated = true
	st.Wallet = n.account
	addr := n.address
	st.Address = &addr
	if _, meta, err := n.registry.Keys(); err == nil {
		st.MetaAddress = meta.String()
	}
	return st
}

// Logout disconnects every session, tears the relay client down and
// forgets the keys and generated addresses.
func (n *Node) Logout(ctx context.Context) error {
	n.mu.Lock()
	pc := n.pairing
	n.mu.Unlock()

	if pc != nil && pc.State() == pairing.StateReady {
		for _, s := range pc.ActiveSessions() {
			if err := pc.Disconnect(ctx, s.Topic); err != nil {
				n.logger.Warn().Err(err).Str("topic", s.Topic).Msg("Failed to disconnect session")
			}
		}
	}

	n.mu.Lock()
	n.dropPairingLocked()
	n.account = ""
	n.address = common.Address{}
	n.mu.Unlock()

	n.registry.Reset()
	n.logger.Info().Msg("Logged out")
	return nil
}

func (n *Node) authenticated() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.account != ""
}

// ── Stealth addresses ───────────────────────────────────────────────

// GenerateAddresses generates count stealth addresses (the configured
// batch size when count is zero). The last generated address becomes the
// selection offered to dApps.
func (n *Node) GenerateAddresses(ctx context.Context, count int) ([]registry.Detail, error) {
	_, meta, err := n.registry.Keys()
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = n.cfg.Wallet.BatchSize
	}
	if count > config.MaxBatchSize {
		count = config.MaxBatchSize
	}

	details, err := n.registry.GenerateBatch(ctx, meta, count)
	if len(details) > 0 {
		last := details[len(details)-1].StealthAddress
		if _, serr := n.registry.Select(last.Hex()); serr != nil {
			n.logger.Warn().Err(serr).Msg("Failed to select generated address")
		}
	}
	if err != nil {
		return details, err
	}
	n.logger.Info().Int("count", len(details)).Int("total", len(n.registry.List())).Msg("Stealth addresses generated")
	return details, nil
}

// Addresses lists the generated addresses and the selection.
func (n *Node) Addresses() rpc.AddressList {
	list := rpc.AddressList{
		Addresses:  n.registry.List(),
		Generating: n.registry.IsGenerating(),
	}
	if d, err := n.registry.Selected(); err == nil {
		addr := d.StealthAddress
		list.Selected = &addr
	}
	return list
}

// SelectAddress makes addr the address offered to new sessions.
func (n *Node) SelectAddress(addr string) (registry.Detail, error) {
	return n.registry.Select(addr)
}

// ── Pairing ─────────────────────────────────────────────────────────

// Pair connects to a dApp from a wc: URI. The relay connection is retried
// first when an earlier attempt failed.
func (n *Node) Pair(ctx context.Context, uri string) error {
	n.mu.Lock()
	pc := n.pairing
	n.mu.Unlock()
	if pc == nil {
		return registry.ErrKeysNotSet
	}
	if err := pc.Init(ctx); err != nil {
		return err
	}
	return pc.Connect(ctx, uri)
}

// Sessions lists the active sessions, soonest expiry first.
func (n *Node) Sessions() []pairing.Session {
	n.mu.Lock()
	pc := n.pairing
	n.mu.Unlock()
	if pc == nil {
		return nil
	}
	sessions := pc.ActiveSessions()
	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].Expiry.Before(sessions[j].Expiry) })
	return sessions
}

// Disconnect ends the session on topic.
func (n *Node) Disconnect(ctx context.Context, topic string) error {
	n.mu.Lock()
	pc := n.pairing
	n.mu.Unlock()
	if pc == nil {
		return pairing.ErrNotReady
	}
	return pc.Disconnect(ctx, topic)
}

// newPairingLocked builds the relay client and the handlers bound to it.
// It must be called with mu held.
func (n *Node) newPairingLocked() {
	meta := relay.Metadata{
		Name:        n.cfg.Relay.Name,
		Description: "Stealth address wallet",
		URL:         n.cfg.Relay.AppURL,
		Icons:       []string{},
	}
	pc := pairing.New(
		pairing.RelayDialer(n.cfg.Relay.URL, n.cfg.Relay.ProjectID),
		meta,
		pairing.WithSessionTTL(n.cfg.Relay.SessionTTL),
	)
	negotiator := namespace.NewNegotiator(pc, n.registry, n.cfg.Chain.ID, namespace.DefaultPolicy())
	engine := approval.New(pc, n.registry, n.cfg.Chain.ID, n.cfg.Chain.ExplorerURL)

	n.subs = append(n.subs,
		pc.OnProposal(func(p pairing.Proposal) {
			ctx, cancel := context.WithTimeout(n.ctx, proposalTimeout)
			defer cancel()
			negotiator.HandleProposal(ctx, p)
		}),
		pc.OnRequest(func(r pairing.Request) {
			engine.HandleRequest(n.ctx, r)
		}),
	)

	n.pairing = pc
	n.engine = engine
}

// dropPairingLocked tears the relay client down. It must be called with
// mu held.
func (n *Node) dropPairingLocked() {
	for _, s := range n.subs {
		s.Close()
	}
	n.subs = nil
	if n.pairing != nil {
		if err := n.pairing.Teardown(); err != nil {
			n.logger.Debug().Err(err).Msg("Relay close")
		}
	}
	n.pairing = nil
	n.engine = nil
}

// ── Requests ────────────────────────────────────────────────────────

func (n *Node) currentEngine() *approval.Engine {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine
}

// PendingRequest returns the request awaiting a decision.
func (n *Node) PendingRequest() (pairing.Request, bool) {
	e := n.currentEngine()
	if e == nil {
		return pairing.Request{}, false
	}
	return e.Pending()
}

// ApproveRequest executes and answers the pending request.
func (n *Node) ApproveRequest(ctx context.Context) (approval.Response, error) {
	e := n.currentEngine()
	if e == nil {
		return approval.Response{}, approval.ErrNoPendingRequest
	}
	return e.Approve(ctx)
}

// RejectRequest answers the pending request with a user rejection.
func (n *Node) RejectRequest(ctx context.Context) (approval.Response, error) {
	e := n.currentEngine()
	if e == nil {
		return approval.Response{}, approval.ErrNoPendingRequest
	}
	return e.Reject(ctx)
}

// LastResponse returns the last answer sent to a dApp.
func (n *Node) LastResponse() (approval.Response, bool) {
	e := n.currentEngine()
	if e == nil {
		return approval.Response{}, false
	}
	return e.LastResponse()
}

// ── Funding ─────────────────────────────────────────────────────────

// Fund asks the funder to send funding.amount ether to every generated
// address. Funding is attempted once per process; later calls report the
// earlier outcome.
func (n *Node) Fund(ctx context.Context) (rpc.FundResult, error) {
	if n.funding == nil {
		return rpc.FundResult{}, ErrFundingDisabled
	}
	if _, _, err := n.registry.Keys(); err != nil {
		return rpc.FundResult{}, err
	}
	details := n.registry.List()
	if len(details) == 0 {
		return rpc.FundResult{}, ErrNoAddresses
	}

	reqs := make([]funding.BatchFundRequest, 0, len(details))
	for _, d := range details {
		reqs = append(reqs, funding.BatchFundRequest{
			To:             d.StealthAddress,
			FormattedValue: n.cfg.Funding.Amount,
		})
	}

	hashes, err := n.funding.BatchSendEthUsingFunder(ctx, reqs)
	res := rpc.FundResult{
		Attempted: n.funding.HasAttemptedFunding(),
		Funded:    n.funding.IsFunded(),
		Hashes:    hashes,
	}
	if res.Hashes == nil {
		res.Hashes = []common.Hash{}
	}
	return res, err
}
