// relayd is the store-and-forward relay wallets and dApps pair through.
//
// Usage:
//
//	relayd [--listen=0.0.0.0:5555 --mailbox=badger]   Run the relay
//	relayd --p2p --seeds=/ip4/.../p2p/<id>            Federate with other relays
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ScopeLift/umbra-v2-experimental/config"
	ulog "github.com/ScopeLift/umbra-v2-experimental/internal/log"
	"github.com/ScopeLift/umbra-v2-experimental/internal/p2p"
	"github.com/ScopeLift/umbra-v2-experimental/internal/relayserver"
	"github.com/ScopeLift/umbra-v2-experimental/internal/storage"
)

// statsInterval is how often relay counters are logged.
const statsInterval = 5 * time.Minute

func main() {
	root := &cobra.Command{
		Use:           "relayd",
		Short:         "Pairing relay with optional libp2p federation",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
	}
	flags := config.NewFlags(root.Flags()).BindRelay()

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
		logFile = filepath.Join(cfg.LogsDir(), "relayd.log")
	}
	if err := ulog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	logger := ulog.WithComponent("relayd")

	// ── 2. Mailbox storage ──────────────────────────────────────────
	db, err := openMailbox(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info().Str("backend", string(cfg.RelayServer.Mailbox)).Msg("Mailbox opened")

	// ── 3. Relay server ─────────────────────────────────────────────
	srv := relayserver.New(relayserver.Config{
		DefaultTTL:   cfg.RelayServer.DefaultTTL,
		MaxTTL:       cfg.RelayServer.MaxTTL,
		MailboxLimit: cfg.RelayServer.MailboxLimit,
		ProjectIDs:   cfg.RelayServer.ProjectIDs,
	}, storage.NewPrefixDB(db, []byte("mailbox/")))

	// ── 4. Federation ───────────────────────────────────────────────
	var fed *p2p.Node
	if cfg.P2P.Enabled {
		if err := os.MkdirAll(cfg.FederationDir(), 0700); err != nil {
			return fmt.Errorf("creating federation dir: %w", err)
		}
		fed = p2p.New(p2p.Config{
			ListenAddr: cfg.P2P.ListenAddr,
			Port:       cfg.P2P.Port,
			Seeds:      cfg.P2P.Seeds,
			MaxPeers:   cfg.P2P.MaxPeers,
			NoDiscover: cfg.P2P.NoDiscover,
			DB:         storage.NewPrefixDB(db, []byte("p2p/")),
			NetworkID:  cfg.P2P.NetworkID,
			DataDir:    cfg.FederationDir(),
		})
		srv.AttachFederation(fed)
		if err := fed.Start(); err != nil {
			return fmt.Errorf("start federation: %w", err)
		}
		defer fed.Stop()
		logger.Info().
			Str("id", fed.ID().String()).
			Strs("addrs", fed.Addrs()).
			Int("seeds", len(cfg.P2P.Seeds)).
			Msg("Federation started")
	}

	// ── 5. Serve ────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)
	go housekeeping(ctx, srv, db, logger)

	httpSrv := &http.Server{
		Addr:              cfg.RelayServer.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info().Str("addr", cfg.RelayServer.Listen).Msg("Relay listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		return fmt.Errorf("relay listen: %w", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	logger.Info().Msg("Goodbye!")
	return nil
}

// openMailbox opens the configured mailbox backend.
func openMailbox(cfg *config.Config) (storage.DB, error) {
	rs := cfg.RelayServer
	switch rs.Mailbox {
	case config.MailboxBadger:
		db, err := storage.NewBadger(cfg.MailboxDir())
		if err != nil {
			return nil, fmt.Errorf("open mailbox at %s: %w", cfg.MailboxDir(), err)
		}
		return db, nil
	case config.MailboxRedis:
		db, err := storage.NewRedis(rs.RedisAddr, rs.RedisPassword, rs.RedisDB, "relayd")
		if err != nil {
			return nil, fmt.Errorf("open redis mailbox: %w", err)
		}
		return db, nil
	default:
		return storage.NewMemory(), nil
	}
}

// housekeeping logs relay stats and compacts the Badger value log.
func housekeeping(ctx context.Context, srv *relayserver.Server, db storage.DB, logger zerolog.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	gc, _ := db.(interface{ RunGC() error })
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := srv.Stats()
			logger.Info().
				Int("connections", st.Connections).
				Int("topics", st.Topics).
				Int("mailbox", st.MailboxMessages).
				Int("peers", st.FederationPeers).
				Msg("Relay stats")
			if gc != nil {
				if err := gc.RunGC(); err != nil {
					logger.Warn().Err(err).Msg("Mailbox GC failed")
				}
			}
		}
	}
}
