package config

import "time"

// DefaultTestnet returns the default configuration for Sepolia.
func DefaultTestnet() *Config {
	return &Config{
		Network: Testnet,
		DataDir: DefaultDataDir(),
		Chain: ChainConfig{
			ID:          TestnetChainID,
			ExplorerURL: "https://sepolia.etherscan.io",
		},
		Relay: RelayConfig{
			URL:        "ws://127.0.0.1:5555",
			SessionTTL: 7 * 24 * time.Hour,
			Name:       "Demo Umbra V2",
			AppURL:     "https://demo-umbra-v2.vercel.app",
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8645,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Wallet: WalletConfig{
			Name:         "default",
			BatchSize:    5,
			AutoGenerate: true,
		},
		Funding: FundingConfig{
			Amount: "0.001",
			Listen: "127.0.0.1:3001",
		},
		RelayServer: RelayServerConfig{
			Listen:       "0.0.0.0:5555",
			Mailbox:      MailboxBadger,
			MailboxLimit: 100,
			DefaultTTL:   5 * time.Minute,
			MaxTTL:       30 * 24 * time.Hour,
			RedisAddr:    "127.0.0.1:6379",
		},
		P2P: P2PConfig{
			Enabled:    false,
			ListenAddr: "0.0.0.0",
			Port:       30304,
			MaxPeers:   25,
			// Seeds are multiaddr strings, e.g.:
			//   "/ip4/203.0.113.1/tcp/30304/p2p/12D3KooW..."
			Seeds: []string{},
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultMainnet returns the default configuration for Ethereum mainnet.
func DefaultMainnet() *Config {
	cfg := DefaultTestnet()
	cfg.Network = Mainnet
	cfg.Chain.ID = MainnetChainID
	cfg.Chain.ExplorerURL = "https://etherscan.io"
	cfg.RPC.Port = 8545
	cfg.P2P.Port = 30303
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Mainnet:
		return DefaultMainnet()
	default:
		return DefaultTestnet()
	}
}
