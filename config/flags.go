package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Flags holds command-line flags. Each binary binds the groups it needs
// onto its cobra command; ApplyFlags only applies flags that were set.
type Flags struct {
	fs *pflag.FlagSet

	// listenFor names the section --listen applies to.
	listenFor string

	// Core
	Network string
	DataDir string
	Config  string

	// Chain
	ChainID     uint64
	ChainRPC    string
	ExplorerURL string

	// Relay client
	RelayURL  string
	ProjectID string

	// RPC
	RPC        bool
	RPCAddr    string
	RPCPort    int
	RPCAllowed []string
	RPCCORS    []string

	// Wallet
	Wallet       string
	BatchSize    int
	AutoGenerate bool

	// Funding
	FundingURL    string
	FundingAmount string

	// relayd and funderd
	Listen string

	// Relay server
	Mailbox    string
	RedisAddr  string
	ProjectIDs []string

	// Federation
	P2P        bool
	P2PPort    int
	Seeds      []string
	MaxPeers   int
	NoDiscover bool
	NetworkID  string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool
}

// NewFlags binds the core and logging flags onto fs.
func NewFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}

	fs.StringVar(&f.Network, "network", "", "Network: testnet (Sepolia, default) or mainnet")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVarP(&f.Config, "config", "c", "", "Config file path (default: <datadir>/stealthwallet.conf)")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")
	return f
}

// BindWallet binds the wallet daemon flags.
func (f *Flags) BindWallet() *Flags {
	fs := f.fs
	fs.Uint64Var(&f.ChainID, "chain-id", 0, "Chain id (default: from network)")
	fs.StringVar(&f.ChainRPC, "chain-rpc", "", "Ethereum JSON-RPC endpoint for broadcasting")
	fs.StringVar(&f.ExplorerURL, "explorer", "", "Block explorer base URL")

	fs.StringVar(&f.RelayURL, "relay-url", "", "Relay websocket URL")
	fs.StringVar(&f.ProjectID, "project-id", "", "Relay project id")

	fs.BoolVar(&f.RPC, "rpc", true, "Enable the control API")
	fs.StringVar(&f.RPCAddr, "rpc-addr", "", "Control API listen address")
	fs.IntVar(&f.RPCPort, "rpc-port", 0, "Control API port (testnet: 8645, mainnet: 8545)")
	fs.StringSliceVar(&f.RPCAllowed, "rpc-allowed", nil, "Allowed IPs for the control API")
	fs.StringSliceVar(&f.RPCCORS, "rpc-cors", nil, "Allowed CORS origins for the control API")

	fs.StringVar(&f.Wallet, "wallet", "", "Keystore wallet name")
	fs.IntVar(&f.BatchSize, "batch-size", 0, "Stealth addresses per batch (default: 5)")
	fs.BoolVar(&f.AutoGenerate, "autogenerate", true, "Generate a batch right after authentication")

	fs.StringVar(&f.FundingURL, "funding-url", "", "Funder base URL")
	fs.StringVar(&f.FundingAmount, "funding-amount", "", "Ether sent to each address when funding")
	return f
}

// BindRelay binds the relay server and federation flags.
func (f *Flags) BindRelay() *Flags {
	fs := f.fs
	f.listenFor = "relayd"
	fs.StringVar(&f.Listen, "listen", "", "Relay listen address (default: 0.0.0.0:5555)")
	fs.StringVar(&f.Mailbox, "mailbox", "", "Mailbox backend: memory, badger or redis")
	fs.StringVar(&f.RedisAddr, "redis-addr", "", "Redis address for the redis mailbox")
	fs.StringSliceVar(&f.ProjectIDs, "project-ids", nil, "Accepted project ids (empty accepts any)")

	fs.BoolVar(&f.P2P, "p2p", false, "Federate with other relays over libp2p")
	fs.IntVar(&f.P2PPort, "p2p-port", 0, "Federation listen port")
	fs.StringSliceVar(&f.Seeds, "seeds", nil, "Federation seeds as libp2p multiaddrs")
	fs.IntVar(&f.MaxPeers, "maxpeers", 0, "Maximum federation peers")
	fs.BoolVar(&f.NoDiscover, "nodiscover", false, "Disable mDNS discovery")
	fs.StringVar(&f.NetworkID, "network-id", "", "Federation network id")
	return f
}

// BindFunder binds the funder flags.
func (f *Flags) BindFunder() *Flags {
	fs := f.fs
	fs.Uint64Var(&f.ChainID, "chain-id", 0, "Chain id (default: from network)")
	fs.StringVar(&f.ChainRPC, "chain-rpc", "", "Ethereum JSON-RPC endpoint")
	f.listenFor = "funding"
	fs.StringVar(&f.Listen, "listen", "", "Funder listen address (default: 127.0.0.1:3001)")
	return f
}

// ApplyFlags applies explicitly set flags to cfg.
func ApplyFlags(cfg *Config, f *Flags) {
	set := f.fs.Changed

	// Core
	if set("network") {
		cfg.Network = NetworkType(f.Network)
	}
	if set("datadir") {
		cfg.DataDir = f.DataDir
	}

	// Chain
	if set("chain-id") {
		cfg.Chain.ID = f.ChainID
	}
	if set("chain-rpc") {
		cfg.Chain.RPCURL = f.ChainRPC
	}
	if set("explorer") {
		cfg.Chain.ExplorerURL = f.ExplorerURL
	}

	// Relay client
	if set("relay-url") {
		cfg.Relay.URL = f.RelayURL
	}
	if set("project-id") {
		cfg.Relay.ProjectID = f.ProjectID
	}

	// RPC
	if set("rpc") {
		cfg.RPC.Enabled = f.RPC
	}
	if set("rpc-addr") {
		cfg.RPC.Addr = f.RPCAddr
	}
	if set("rpc-port") {
		cfg.RPC.Port = f.RPCPort
	}
	if set("rpc-allowed") {
		cfg.RPC.AllowedIPs = f.RPCAllowed
	}
	if set("rpc-cors") {
		cfg.RPC.CORSOrigins = f.RPCCORS
	}

	// Wallet
	if set("wallet") {
		cfg.Wallet.Name = f.Wallet
	}
	if set("batch-size") {
		cfg.Wallet.BatchSize = f.BatchSize
	}
	if set("autogenerate") {
		cfg.Wallet.AutoGenerate = f.AutoGenerate
	}

	// Funding
	if set("funding-url") {
		cfg.Funding.URL = f.FundingURL
	}
	if set("funding-amount") {
		cfg.Funding.Amount = f.FundingAmount
	}
	if set("listen") {
		switch f.listenFor {
		case "relayd":
			cfg.RelayServer.Listen = f.Listen
		case "funding":
			cfg.Funding.Listen = f.Listen
		}
	}

	// Relay server
	if set("mailbox") {
		cfg.RelayServer.Mailbox = MailboxBackend(f.Mailbox)
	}
	if set("redis-addr") {
		cfg.RelayServer.RedisAddr = f.RedisAddr
	}
	if set("project-ids") {
		cfg.RelayServer.ProjectIDs = f.ProjectIDs
	}

	// Federation
	if set("p2p") {
		cfg.P2P.Enabled = f.P2P
	}
	if set("p2p-port") {
		cfg.P2P.Port = f.P2PPort
	}
	if set("seeds") {
		cfg.P2P.Seeds = f.Seeds
	}
	if set("maxpeers") {
		cfg.P2P.MaxPeers = f.MaxPeers
	}
	if set("nodiscover") {
		cfg.P2P.NoDiscover = f.NoDiscover
	}
	if set("network-id") {
		cfg.P2P.NetworkID = f.NetworkID
	}

	// Logging
	if set("log-level") {
		cfg.Log.Level = f.LogLevel
	}
	if set("log-file") {
		cfg.Log.File = f.LogFile
	}
	if set("log-json") {
		cfg.Log.JSON = f.LogJSON
	}
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load(f *Flags) (*Config, error) {
	network := Testnet
	if f.Network == string(Mainnet) {
		network = Mainnet
	}

	cfg := Default(network)
	if f.DataDir != "" {
		cfg.DataDir = ExpandPath(f.DataDir)
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := f.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, fmt.Errorf("applying config file: %w", err)
	}

	// Flags have the highest precedence.
	ApplyFlags(cfg, f)
	cfg.Log.File = ExpandPath(cfg.Log.File)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. Safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDataDir(),
		cfg.KeystoreDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
