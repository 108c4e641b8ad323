package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MaxBatchSize bounds wallet.batchsize.
const MaxBatchSize = 50

// Validate checks config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Testnet, Mainnet)
	}
	if cfg.Chain.ID == 0 {
		return fmt.Errorf("chain.id must be set")
	}
	if cfg.Chain.ExplorerURL == "" {
		cfg.Chain.ExplorerURL = cfg.Chain.Params().ExplorerURL
	}
	if err := validateURL(cfg.Chain.RPCURL, "chain.rpc", "http", "https", "ws", "wss"); err != nil {
		return err
	}
	if err := validateURL(cfg.Chain.ExplorerURL, "chain.explorer", "http", "https"); err != nil {
		return err
	}
	if err := validateURL(cfg.Relay.URL, "relay.url", "ws", "wss"); err != nil {
		return err
	}
	if cfg.Relay.SessionTTL < time.Minute {
		return fmt.Errorf("relay.sessionttl must be at least 1m")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}

	if cfg.Wallet.BatchSize < 1 || cfg.Wallet.BatchSize > MaxBatchSize {
		return fmt.Errorf("wallet.batchsize must be in range [1, %d]", MaxBatchSize)
	}
	if err := validateURL(cfg.Funding.URL, "funding.url", "http", "https"); err != nil {
		return err
	}

	if cfg.RelayServer.Mailbox == "" {
		cfg.RelayServer.Mailbox = MailboxMemory
	}
	switch cfg.RelayServer.Mailbox {
	case MailboxMemory, MailboxBadger:
	case MailboxRedis:
		if cfg.RelayServer.RedisAddr == "" {
			return fmt.Errorf("relayd.mailbox=redis requires relayd.redis.addr")
		}
	default:
		return fmt.Errorf("relayd.mailbox must be memory, badger or redis")
	}
	if cfg.RelayServer.MaxTTL > 0 && cfg.RelayServer.DefaultTTL > cfg.RelayServer.MaxTTL {
		return fmt.Errorf("relayd.defaultttl exceeds relayd.maxttl")
	}

	seen := make(map[string]struct{}, len(cfg.P2P.Seeds))
	for i, s := range cfg.P2P.Seeds {
		if !strings.Contains(s, "/p2p/") {
			return fmt.Errorf("p2p.seeds[%d] must be a multiaddr ending in /p2p/<peer id>", i)
		}
		if _, ok := seen[s]; ok {
			return fmt.Errorf("p2p.seeds has duplicate entry %q", s)
		}
		seen[s] = struct{}{}
	}

	return nil
}

// validateURL accepts an empty value or an absolute URL with one of schemes.
func validateURL(raw, field string, schemes ...string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", field)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s scheme must be one of %s", field, strings.Join(schemes, ", "))
}
