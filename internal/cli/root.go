// Package cli implements the command-line interface for AgroSync.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kalnberzina/agrosync/internal/config"
	"github.com/kalnberzina/agrosync/internal/handler"
	"github.com/kalnberzina/agrosync/internal/remote"
	"github.com/kalnberzina/agrosync/internal/resolver"
	"github.com/kalnberzina/agrosync/internal/store"
	"github.com/kalnberzina/agrosync/internal/syncer"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "agrosync",
	Short: "Offline-capable sync client for agricultural-commodity trade records",
	Long: `AgroSync queues record mutations locally while offline and reconciles
them with the authoritative server once connectivity returns.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(actorCmd)
	rootCmd.AddCommand(transactionCmd)
	rootCmd.AddCommand(documentCmd)
	rootCmd.AddCommand(outboxCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(discardCmd)
}

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config       *config.Config
	Store        *store.Store
	Resolver     *resolver.Resolver
	Orchestrator *syncer.Orchestrator
	Logger       *slog.Logger
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Store != nil {
		c.Store.Close()
	}
}

// initContext initializes config and store
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		exitError("failed to open store: %v", err)
	}

	res, err := resolver.New(st)
	if err != nil {
		st.Close()
		exitError("failed to load identifier mappings: %v", err)
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return &cmdContext{
		Config:   cfg,
		Store:    st,
		Resolver: res,
		Logger:   logger,
	}
}

// initFullContext additionally wires the remote client and orchestrator
func initFullContext() *cmdContext {
	c := initContext()

	client := remote.NewHTTPClient(c.Config.ServerURL, c.Config.Token)
	registry := handler.NewRegistry(c.Resolver, client, c.Logger)
	c.Orchestrator = syncer.New(c.Store, c.Resolver, registry, client, c.Config.UserID,
		syncConfigFrom(c.Config), c.Logger)

	return c
}

func syncConfigFrom(cfg *config.Config) *syncer.Config {
	sc := syncer.DefaultConfig()
	if cfg.Sync.MaxRetries > 0 {
		sc.MaxRetries = cfg.Sync.MaxRetries
	}
	if cfg.Sync.InitialBackoffMs > 0 {
		sc.InitialBackoff = time.Duration(cfg.Sync.InitialBackoffMs) * time.Millisecond
	}
	if cfg.Sync.MaxBackoffMs > 0 {
		sc.MaxBackoff = time.Duration(cfg.Sync.MaxBackoffMs) * time.Millisecond
	}
	if cfg.Sync.JitterFraction > 0 {
		sc.JitterFraction = cfg.Sync.JitterFraction
	}
	if cfg.Sync.RequestTimeoutMs > 0 {
		sc.RequestTimeout = time.Duration(cfg.Sync.RequestTimeoutMs) * time.Millisecond
	}
	if cfg.Sync.MaxRequeuePasses > 0 {
		sc.MaxRequeuePasses = cfg.Sync.MaxRequeuePasses
	}
	return sc
}

// exitError prints an error message and exits
func exitError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
