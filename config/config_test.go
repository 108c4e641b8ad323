package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestDefaults_Valid(t *testing.T) {
	for _, network := range []NetworkType{Testnet, Mainnet} {
		cfg := Default(network)
		if err := Validate(cfg); err != nil {
			t.Errorf("%s defaults invalid: %v", network, err)
		}
	}
	if got := DefaultTestnet().Chain.ID; got != 11155111 {
		t.Errorf("testnet chain id = %d, want 11155111", got)
	}
	if got := Default("").Network; got != Testnet {
		t.Errorf("default network = %s, want testnet", got)
	}
}

func TestLoadFile_ApplyFileConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.conf")
	content := `# comment
chain.id = 17000
relay.url = "wss://relay.example.com"
relay.sessionttl = 24h
rpc.allowed = 127.0.0.1, 10.0.0.0/8
wallet.batchsize = 3
relayd.mailbox = REDIS
relayd.redis.addr = redis:6379
p2p.seeds = /ip4/1.2.3.4/tcp/30304/p2p/12D3KooWabc
unknown.key = ignored
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	cfg := DefaultTestnet()
	cfg.Chain.ExplorerURL = ""
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig() error: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	if cfg.Chain.ID != 17000 || cfg.Chain.ExplorerURL != "https://holesky.etherscan.io" {
		t.Errorf("chain = %+v", cfg.Chain)
	}
	if cfg.Relay.URL != "wss://relay.example.com" || cfg.Relay.SessionTTL != 24*time.Hour {
		t.Errorf("relay = %+v", cfg.Relay)
	}
	if len(cfg.RPC.AllowedIPs) != 2 || cfg.RPC.AllowedIPs[1] != "10.0.0.0/8" {
		t.Errorf("rpc.allowed = %v", cfg.RPC.AllowedIPs)
	}
	if cfg.Wallet.BatchSize != 3 || cfg.RelayServer.Mailbox != MailboxRedis {
		t.Errorf("wallet = %+v, mailbox = %s", cfg.Wallet, cfg.RelayServer.Mailbox)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "absent.conf"))
	if err != nil || len(values) != 0 {
		t.Errorf("LoadFile(missing) = %v, %v", values, err)
	}
}

func TestLoadFile_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.conf")
	os.WriteFile(path, []byte("no equals sign\n"), 0644)
	if _, err := LoadFile(path); err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Errorf("LoadFile() error = %v", err)
	}
}

func TestApplyFileConfig_BadValue(t *testing.T) {
	cfg := DefaultTestnet()
	if err := ApplyFileConfig(cfg, map[string]string{"rpc.port": "abc"}); err == nil {
		t.Error("expected error for non-numeric port")
	}
	if err := ApplyFileConfig(cfg, map[string]string{"relay.sessionttl": "1 week"}); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"network", func(c *Config) { c.Network = "goerli" }, "network"},
		{"chain id", func(c *Config) { c.Chain.ID = 0 }, "chain.id"},
		{"relay scheme", func(c *Config) { c.Relay.URL = "http://relay" }, "relay.url"},
		{"chain rpc", func(c *Config) { c.Chain.RPCURL = "not a url" }, "chain.rpc"},
		{"session ttl", func(c *Config) { c.Relay.SessionTTL = time.Second }, "sessionttl"},
		{"batch size", func(c *Config) { c.Wallet.BatchSize = 0 }, "batchsize"},
		{"batch too big", func(c *Config) { c.Wallet.BatchSize = MaxBatchSize + 1 }, "batchsize"},
		{"mailbox", func(c *Config) { c.RelayServer.Mailbox = "etcd" }, "relayd.mailbox"},
		{"redis addr", func(c *Config) {
			c.RelayServer.Mailbox = MailboxRedis
			c.RelayServer.RedisAddr = ""
		}, "redis.addr"},
		{"ttl order", func(c *Config) { c.RelayServer.DefaultTTL = 2 * c.RelayServer.MaxTTL }, "defaultttl"},
		{"seed", func(c *Config) { c.P2P.Seeds = []string{"1.2.3.4:30304"} }, "p2p.seeds"},
		{"rpc port", func(c *Config) { c.RPC.Port = 70000 }, "rpc.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTestnet()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestApplyFlags_OnlyChanged(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f := NewFlags(fs).BindWallet()
	if err := fs.Parse([]string{"--relay-url", "wss://other", "--rpc-port=9000", "--autogenerate=false"}); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultTestnet()
	cfg.Wallet.Name = "from-file"
	ApplyFlags(cfg, f)

	if cfg.Relay.URL != "wss://other" || cfg.RPC.Port != 9000 || cfg.Wallet.AutoGenerate {
		t.Errorf("flags not applied: relay %s port %d autogen %v", cfg.Relay.URL, cfg.RPC.Port, cfg.Wallet.AutoGenerate)
	}
	if cfg.Wallet.Name != "from-file" || !cfg.RPC.Enabled {
		t.Error("unset flags overrode config")
	}
}

func TestApplyFlags_ListenPerBinary(t *testing.T) {
	relayFS := pflag.NewFlagSet("relayd", pflag.ContinueOnError)
	rf := NewFlags(relayFS).BindRelay()
	relayFS.Parse([]string{"--listen", ":7000", "--mailbox", "memory"})

	funderFS := pflag.NewFlagSet("funderd", pflag.ContinueOnError)
	ff := NewFlags(funderFS).BindFunder()
	funderFS.Parse([]string{"--listen", ":7001"})

	cfg := DefaultTestnet()
	ApplyFlags(cfg, rf)
	ApplyFlags(cfg, ff)
	if cfg.RelayServer.Listen != ":7000" || cfg.Funding.Listen != ":7001" {
		t.Errorf("listen: relay %q funder %q", cfg.RelayServer.Listen, cfg.Funding.Listen)
	}
	if cfg.RelayServer.Mailbox != MailboxMemory {
		t.Errorf("mailbox = %s", cfg.RelayServer.Mailbox)
	}
}

func TestLoad_CreatesDataDir(t *testing.T) {
	dir := t.TempDir()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f := NewFlags(fs).BindWallet()
	if err := fs.Parse([]string{"--datadir", dir, "--network", "mainnet"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(f)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Chain.ID != MainnetChainID || cfg.Network != Mainnet {
		t.Errorf("chain = %d network = %s", cfg.Chain.ID, cfg.Network)
	}
	if _, err := os.Stat(cfg.ConfigFile()); err != nil {
		t.Errorf("default config not written: %v", err)
	}
	if _, err := os.Stat(cfg.KeystoreDir()); err != nil {
		t.Errorf("keystore dir not created: %v", err)
	}

	// The written default file loads back cleanly.
	values, err := LoadFile(cfg.ConfigFile())
	if err != nil {
		t.Fatal(err)
	}
	check := DefaultMainnet()
	if err := ApplyFileConfig(check, values); err != nil {
		t.Fatalf("default file: %v", err)
	}
	if err := Validate(check); err != nil {
		t.Errorf("default file invalid: %v", err)
	}
}

func TestChainParams(t *testing.T) {
	c := ChainConfig{ID: 11155111}
	if p := c.Params(); p.Name != "Sepolia" || p.ExplorerURL != "https://sepolia.etherscan.io" {
		t.Errorf("sepolia params = %+v", p)
	}
	c = ChainConfig{ID: 999, ExplorerURL: "https://scan.local"}
	if p := c.Params(); p.ExplorerURL != "https://scan.local" || p.ID != 999 {
		t.Errorf("unknown chain params = %+v", p)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	tests := map[string]string{
		"~":                     home,
		"~/.stealthwallet/logs": filepath.Join(home, ".stealthwallet", "logs"),
		"~alice/wallet":         "~alice/wallet",
		"/var/lib/relayd":       "/var/lib/relayd",
		"data":                  "data",
		"":                      "",
	}
	for in, want := range tests {
		if got := ExpandPath(in); got != want {
			t.Errorf("ExpandPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteDefaultConfig_Layout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stealthwallet.conf")
	if err := WriteDefaultConfig(path, Testnet); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		"network = testnet\n",
		"chain.id = 11155111\n",
		"relay.sessionttl = 168h0m0s\n",
		"rpc.allowed = 127.0.0.1\n",
		"# funding.url = \n",
		"# relayd.redis.password = \n",
		"# Relay federation (relayd)\n",
		FundingKeyEnv,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("generated file lacks %q", want)
		}
	}
	if strings.Contains(text, "\ndatadir =") {
		t.Error("datadir should be left commented out")
	}
}

func TestApplyFileConfig_Aliases(t *testing.T) {
	cfg := DefaultTestnet()
	err := ApplyFileConfig(cfg, map[string]string{"rpc": "off", "p2p": "yes", "wallet": "savings", "network": "MAINNET"})
	if err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}
	if cfg.RPC.Enabled || !cfg.P2P.Enabled || cfg.Wallet.Name != "savings" || cfg.Network != Mainnet {
		t.Errorf("rpc=%v p2p=%v wallet=%q network=%s", cfg.RPC.Enabled, cfg.P2P.Enabled, cfg.Wallet.Name, cfg.Network)
	}
}
