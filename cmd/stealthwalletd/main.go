// Stealth wallet daemon.
//
// Usage:
//
//	stealthwalletd [--wallet=<name> --relay-url=<ws url>]  Run the wallet
//	stealthwalletd --help                                  Show help
//
// Set STEALTHWALLET_PASSPHRASE to unlock --wallet at startup; otherwise
// log in through stealthwallet-cli auth.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ScopeLift/umbra-v2-experimental/config"
	"github.com/ScopeLift/umbra-v2-experimental/internal/node"
)

func main() {
	root := &cobra.Command{
		Use:           "stealthwalletd",
		Short:         "Stealth address wallet daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
	}
	flags := config.NewFlags(root.Flags()).BindWallet()

	root.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flags)
		if err != nil {
			return err
		}

		n, err := node.New(cfg)
		if err != nil {
			return err
		}
		defer n.Stop()
		if err := n.Start(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		return nil
	}

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
