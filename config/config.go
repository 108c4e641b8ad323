// Package config handles application configuration for the wallet daemon,
// the relay and the funder. All three read the same conf file; each uses
// the sections it needs.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// NetworkType selects the chain defaults.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet" // Sepolia
)

// Chain ids per network.
const (
	MainnetChainID uint64 = 1
	TestnetChainID uint64 = 11155111
)

// FundingKeyEnv names the environment variable holding the funder's key.
// The key is never read from the conf file.
const FundingKeyEnv = "FUNDING_ACCOUNT_PRIVATE_KEY"

// MailboxBackend selects the relay mailbox store.
type MailboxBackend string

const (
	MailboxMemory MailboxBackend = "memory"
	MailboxBadger MailboxBackend = "badger"
	MailboxRedis  MailboxBackend = "redis"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Chain the stealth addresses live on.
	Chain ChainConfig

	// Relay the wallet pairs through.
	Relay RelayConfig

	// Control API of the wallet daemon.
	RPC RPCConfig

	// Wallet and stealth address generation.
	Wallet WalletConfig

	// Funding collaborator (client side in the wallet, server side in funderd).
	Funding FundingConfig

	// Relay server (relayd).
	RelayServer RelayServerConfig

	// Relay federation (relayd).
	P2P P2PConfig

	// Logging
	Log LogConfig
}

// ChainConfig holds chain settings.
type ChainConfig struct {
	ID          uint64 `conf:"chain.id"`
	RPCURL      string `conf:"chain.rpc"`      // Ethereum JSON-RPC endpoint; empty = no broadcast.
	ExplorerURL string `conf:"chain.explorer"` // Transaction links in responses.
}

// RelayConfig holds the wallet's relay client settings.
type RelayConfig struct {
	URL        string        `conf:"relay.url"`
	ProjectID  string        `conf:"relay.projectid"`
	SessionTTL time.Duration `conf:"relay.sessionttl"`
	Name       string        `conf:"relay.name"` // Wallet metadata shown to dApps.
	AppURL     string        `conf:"relay.appurl"`
}

// RPCConfig holds control API settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// WalletConfig holds wallet settings.
type WalletConfig struct {
	Name         string `conf:"wallet.name"`      // Keystore entry used by default.
	BatchSize    int    `conf:"wallet.batchsize"` // Addresses generated per batch.
	AutoGenerate bool   `conf:"wallet.autogenerate"`
}

// FundingConfig holds funding settings.
type FundingConfig struct {
	URL    string `conf:"funding.url"`    // Funder base URL used by the wallet.
	Amount string `conf:"funding.amount"` // Ether per address.
	Listen string `conf:"funding.listen"` // funderd listen address.
}

// RelayServerConfig holds relayd settings.
type RelayServerConfig struct {
	Listen        string         `conf:"relayd.listen"`
	Mailbox       MailboxBackend `conf:"relayd.mailbox"`
	MailboxLimit  int            `conf:"relayd.mailboxlimit"`
	DefaultTTL    time.Duration  `conf:"relayd.defaultttl"`
	MaxTTL        time.Duration  `conf:"relayd.maxttl"`
	ProjectIDs    []string       `conf:"relayd.projectids"`
	RedisAddr     string         `conf:"relayd.redis.addr"`
	RedisPassword string         `conf:"relayd.redis.password"`
	RedisDB       int            `conf:"relayd.redis.db"`
}

// P2PConfig holds relay federation settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
	NoDiscover bool     `conf:"p2p.nodiscover"`
	NetworkID  string   `conf:"p2p.networkid"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.stealthwallet
//	macOS:   ~/Library/Application Support/StealthWallet
//	Windows: %APPDATA%\StealthWallet
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stealthwallet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "StealthWallet")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "StealthWallet")
		}
		return filepath.Join(home, "AppData", "Roaming", "StealthWallet")
	default:
		return filepath.Join(home, ".stealthwallet")
	}
}

// ExpandPath replaces a leading "~/" with the user's home directory.
// Other paths, including "~user/...", are returned unchanged.
func ExpandPath(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok && path != "~" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.NetworkDataDir(), "keystore")
}

// MailboxDir returns the relay's badger mailbox directory.
func (c *Config) MailboxDir() string {
	return filepath.Join(c.DataDir, "relayd", "mailbox")
}

// FederationDir returns the federation identity and peer store directory.
func (c *Config) FederationDir() string {
	return filepath.Join(c.DataDir, "relayd", "p2p")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "stealthwallet.conf")
}
