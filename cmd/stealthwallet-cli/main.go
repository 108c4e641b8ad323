// stealthwallet-cli manages keystore wallets and drives a running
// stealthwalletd through its control API.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ScopeLift/umbra-v2-experimental/config"
	"github.com/ScopeLift/umbra-v2-experimental/internal/rpcclient"
)

var (
	rpcURL  string
	dataDir string
	network string
	timeout time.Duration

	client *rpcclient.Client
	cfg    *config.Config
)

func main() {
	root := &cobra.Command{
		Use:           "stealthwallet-cli",
		Short:         "Command-line client for stealthwalletd",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if network != string(config.Mainnet) && network != string(config.Testnet) {
				return fmt.Errorf("--network must be %s or %s", config.Testnet, config.Mainnet)
			}
			cfg = config.Default(config.NetworkType(network))
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if rpcURL == "" {
				rpcURL = fmt.Sprintf("http://%s:%d", cfg.RPC.Addr, cfg.RPC.Port)
			}
			client = rpcclient.NewWithTimeout(rpcURL, timeout)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&rpcURL, "rpc", "", "Control API endpoint (default: http://127.0.0.1:8645 on testnet)")
	pf.StringVar(&dataDir, "datadir", "", "Data directory (default: ~/.stealthwallet)")
	pf.StringVar(&network, "network", string(config.Testnet), "testnet (default) or mainnet")
	pf.DurationVar(&timeout, "timeout", 4*time.Minute, "Control API call timeout (funding waits for receipts)")

	root.AddCommand(
		walletCmd(),
		authCmd(),
		addressesCmd(),
		pairCmd(),
		sessionsCmd(),
		disconnectCmd(),
		requestCmd(),
		fundCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// ── Helpers ─────────────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

// readNewPassword prompts twice and checks both entries match.
func readNewPassword() ([]byte, error) {
	password, err := readPassword("Enter password: ")
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	if string(password) != string(confirm) {
		return nil, fmt.Errorf("passwords do not match")
	}
	clear(confirm)
	return password, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
