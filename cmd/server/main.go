package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hperssn/focuswatch/internal/account"
	"github.com/hperssn/focuswatch/internal/config"
	httpapi "github.com/hperssn/focuswatch/internal/http"
	"github.com/hperssn/focuswatch/internal/ledger"
	"github.com/hperssn/focuswatch/internal/metrics"
	"github.com/hperssn/focuswatch/internal/runner"
	"github.com/hperssn/focuswatch/internal/signal"
	"github.com/hperssn/focuswatch/internal/stats"
	"github.com/hperssn/focuswatch/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "focuswatch",
		Short:         "Focus monitoring backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newReplayCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down>",
		Short:     "Apply or roll back the Postgres schema",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DBDriver != storage.DriverPostgres {
				return fmt.Errorf("migrate: DB_DRIVER is %q, migrations only apply to postgres (sqlite creates its schema on open)", cfg.DBDriver)
			}
			if err := storage.Migrate(cfg.DatabaseURL, args[0]); err != nil {
				return err
			}
			log.Printf("migrate: %s complete", args[0])
			return nil
		},
	}
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := ossignal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	repo, err := storage.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}
	defer repo.Close()

	l := ledger.New(repo, nil)
	if cfg.RecoverOrphans {
		n, err := l.RecoverOrphans(ctx)
		if err != nil {
			return fmt.Errorf("recover orphaned sessions: %w", err)
		}
		if n > 0 {
			log.Printf("recovered %d orphaned sessions", n)
		}
	}

	accounts, err := account.NewService(repo, l, cfg.DefaultSettings())
	if err != nil {
		return err
	}

	m := metrics.New()
	hub := signal.NewHub(nil)
	manager := runner.NewManager(l, hub.Open, runner.Options{
		IdleTimeout: cfg.IdleTimeout,
		Metrics:     m,
	})

	api := &httpapi.Server{
		Accounts: accounts,
		Manager:  manager,
		Hub:      hub,
		Stats:    stats.NewEngine(repo, cfg.RecentEventsLimit),
	}
	if cfg.MetricsEnabled {
		api.Metrics = m
	}

	// Event streams follow this context so shutdown does not wait on them.
	streams, closeStreams := context.WithCancel(context.Background())
	defer closeStreams()

	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     api.Routes(),
		BaseContext: func(net.Listener) context.Context { return streams },
	}
	srv.RegisterOnShutdown(closeStreams)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s (store: %s)", cfg.HTTPAddr, cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			manager.Shutdown(context.Background())
			return err
		}
	case <-ctx.Done():
	}

	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Printf("stop monitoring runs: %v", err)
	}
	return srv.Shutdown(shutdownCtx)
}
