// Command driftlane-server runs the Platform and Service Dispatchers over
// a shared relational Store, plus the environment TTL reaper.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/driftlane/driftlane/internal/config"
	"github.com/driftlane/driftlane/internal/dbstore"
	"github.com/driftlane/driftlane/internal/differ"
	"github.com/driftlane/driftlane/internal/isolation"
	"github.com/driftlane/driftlane/internal/platformapi"
	"github.com/driftlane/driftlane/internal/platformdb"
	"github.com/driftlane/driftlane/internal/servicerouter"
	"github.com/driftlane/driftlane/internal/token"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:   "driftlane-server",
		Short: "Isolation/Differ/Assertion platform server",
	}

	fs := pflag.NewFlagSet("serve", pflag.ExitOnError)
	config.BindFlags(fs)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the platform and service dispatchers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(fs, logger)
		},
	}
	serve.Flags().AddFlagSet(fs)
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		logger.Error("driftlane-server exited with error", "error", err)
		os.Exit(1)
	}
}

func runServe(fs *pflag.FlagSet, logger *slog.Logger) error {
	cfg, err := config.Load(fs)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	pool, err := dbstore.Open(cfg.DatabaseType, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open namespace-scoped pool: %w", err)
	}
	defer pool.Close()

	gormDB, err := platformdb.Open(cfg.DatabaseType, cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("open platform metadata database: %w", err)
	}

	locker := platformdb.NewMigrationLocker(gormDB, "platform-metadata", platformdb.LockOptions{
		AcquireTimeout: cfg.MigrationLockTimeout,
		PollInterval:   cfg.MigrationLockPollInterval,
		StaleAfter:     cfg.MigrationLockStaleAfter,
	})
	if err := platformdb.Migrate(ctx, cfg.DatabaseType, pool.DB, locker); err != nil {
		return fmt.Errorf("apply platform migrations: %w", err)
	}

	store := platformdb.NewStore(gormDB)
	router := dbstore.NewRouter(pool)
	reflector := dbstore.NewReflector(pool, 256, 10*time.Minute)
	eng := isolation.New(pool, router, store, logger)
	d := differ.New(reflector)
	tokens := token.New(cfg.TokenSecret)

	platform := platformapi.NewServer(store, eng, router, reflector, d, tokens,
		platformapi.WithLogger(logger),
		platformapi.WithTTLBounds(cfg.DefaultTTL, cfg.MaxTTL),
	)

	agentRouter := servicerouter.New(store, router, tokens, logger)
	// Fake service handlers are registered by their own packages (out of
	// scope here); agentRouter.MountRoutes still exposes the dispatch
	// surface with zero handlers registered, returning not_found for every
	// {svc} until one is.

	reaper := isolation.NewReaper(eng, cfg.ReaperInterval, logger)
	go reaper.Run(ctx)

	top := chi.NewRouter()
	top.Mount("/", platform.MountRoutes())
	agentRouter.MountRoutes(top)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: top}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during graceful shutdown", "error", err)
		}
	}()

	logger.Info("driftlane-server ready", "addr", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
