// funderd sends ether from a funding account to stealth addresses on
// request.
//
// Usage:
//
//	FUNDING_ACCOUNT_PRIVATE_KEY=0x... funderd --chain-rpc=<url> [--listen=127.0.0.1:3001]
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/ScopeLift/umbra-v2-experimental/config"
	"github.com/ScopeLift/umbra-v2-experimental/internal/funding"
	ulog "github.com/ScopeLift/umbra-v2-experimental/internal/log"
	"github.com/ScopeLift/umbra-v2-experimental/internal/signer"
)

func main() {
	root := &cobra.Command{
		Use:           "funderd",
		Short:         "Batch funding service for stealth addresses",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
	}
	flags := config.NewFlags(root.Flags()).BindFunder()

	root.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flags)
		if err != nil {
			return err
		}
		return run(cfg)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = filepath.Join(cfg.LogsDir(), "funderd.log")
	}
	if err := ulog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	logger := ulog.WithComponent("funderd")

	if cfg.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc is required")
	}

	// ── 2. Chain backend ────────────────────────────────────────────
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	backend, err := signer.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		cancel()
		return fmt.Errorf("dial chain rpc %s: %w", cfg.Chain.RPCURL, err)
	}
	defer backend.Close()
	remoteID, err := backend.ChainID(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("query chain id: %w", err)
	}
	if remoteID.Uint64() != cfg.Chain.ID {
		return fmt.Errorf("chain.rpc serves chain %s, configured chain.id is %d", remoteID, cfg.Chain.ID)
	}

	// ── 3. Funding account ──────────────────────────────────────────
	// A missing key still starts the server; every request then fails.
	var sender funding.Sender
	if raw := strings.TrimSpace(os.Getenv(config.FundingKeyEnv)); raw != "" {
		key := common.FromHex(raw)
		s, err := signer.New(key, cfg.Chain.ID, backend)
		clear(key)
		if err != nil {
			return fmt.Errorf("%s: %w", config.FundingKeyEnv, err)
		}
		sender = s
		logger.Info().Str("address", s.Address().Hex()).Uint64("chain_id", cfg.Chain.ID).Msg("Funding account loaded")
	} else {
		logger.Warn().Msgf("%s not set, funding requests will fail", config.FundingKeyEnv)
	}

	// ── 4. Serve ────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              cfg.Funding.Listen,
		Handler:           funding.NewServer(sender, backend).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info().Str("addr", cfg.Funding.Listen).Str("path", funding.BatchFundPath).Msg("Funder listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		return fmt.Errorf("funder listen: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	logger.Info().Msg("Goodbye!")
	return nil
}
