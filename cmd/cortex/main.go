// Command cortex runs the platform-diagnostics daemon: fleet discovery,
// the health monitor, and the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cortex-ops/cortex/internal/ai/providers"
	"github.com/cortex-ops/cortex/internal/api"
	"github.com/cortex-ops/cortex/internal/brain"
	"github.com/cortex-ops/cortex/internal/codehost"
	"github.com/cortex-ops/cortex/internal/config"
	"github.com/cortex-ops/cortex/internal/discovery"
	"github.com/cortex-ops/cortex/internal/docs"
	"github.com/cortex-ops/cortex/internal/knowledge"
	"github.com/cortex-ops/cortex/internal/logging"
	"github.com/cortex-ops/cortex/internal/monitoring"
	"github.com/cortex-ops/cortex/internal/notifications"
	"github.com/cortex-ops/cortex/internal/platform"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "cortex",
		Short: "Autonomous platform diagnostics daemon",
		Long: `Cortex discovers a service fleet on Railway, keeps a knowledge base of
services, dependencies, variables, and deploys, and investigates failures
with an LLM-driven diagnosis loop gated by per-service autonomy policy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		Component: "cortex",
	})
	log.Info().Str("version", Version).Msg("Cortex starting")

	store, err := knowledge.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open knowledge store: %w", err)
	}
	defer store.Close()
	log.Info().Str("path", cfg.DBPath).Msg("Knowledge base initialized")

	policy := config.LoadPolicy(cfg.ConfigDir)
	library := docs.NewLibrary(cfg.DocsDir)

	railway := platform.New(cfg.RailwayToken, store)
	github := codehost.New(cfg.GitHubToken)
	llm := providers.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.ClaudeModel, 0)

	engine := brain.New(store, railway, github, library, policy, llm, cfg.MaxTurns)
	pipeline := discovery.New(store, railway, github, cfg.ProjectID, cfg.EnvironmentID)
	notifier := notifications.New(cfg.NotifyURLs)
	scheduler := monitoring.New(store, railway, engine, pipeline, notifier,
		cfg.MonitorInterval, cfg.DiscoveryInterval)

	router := api.New(store, engine, pipeline, notifier, library, cfg.APIToken, Version)
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute, // investigations run inside request handlers
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// Initial discovery runs in the background so /health answers
	// immediately after startup.
	g.Go(func() error {
		scheduler.InitialDiscovery(gctx)
		return nil
	})

	g.Go(func() error {
		err := scheduler.MonitorLoop(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := scheduler.DiscoveryLoop(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := policy.Watch(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("Cortex stopped")
	return nil
}
