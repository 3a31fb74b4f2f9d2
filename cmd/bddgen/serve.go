package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/bddgen/internal/api"
	"github.com/MikeSquared-Agency/bddgen/internal/hermes"
	"github.com/MikeSquared-Agency/bddgen/internal/processor"
	"github.com/MikeSquared-Agency/bddgen/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, when NATS_URL is set, the event handlers",
	RunE:  runServe,
}

// artifactStore is satisfied by both the Postgres and the in-memory store.
type artifactStore interface {
	api.ArtifactStore
	processor.ArtifactSaver
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	logger.Info("bddgen starting", "port", cfg.Port)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	orch, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	// Artifact store
	var artifacts artifactStore
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		artifacts = db
		logger.Info("database connected")
	} else {
		artifacts = store.NewMemory()
		logger.Warn("DATABASE_URL not set, keeping artifacts in memory")
	}

	// NATS/Hermes (optional)
	var proc *processor.Processor
	var hermesClient *hermes.Client
	if cfg.NatsURL != "" {
		// The bus outlives the signal so in-flight runs can still publish.
		busCtx, stopBus := context.WithCancel(context.Background())
		defer stopBus()
		hermesClient, err = hermes.NewClient(busCtx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			return err
		}
		defer hermesClient.Close()
		logger.Info("NATS connected", "url", cfg.NatsURL)

		proc = processor.New(orch, artifacts, hermesClient, runTimeout(cfg), logger)
		handlers := map[string]hermes.Handler{
			hermes.SubjectTestCasesRequested: proc.HandleTestCasesRequested,
			hermes.SubjectCodeRequested:      proc.HandleCodeRequested,
			hermes.SubjectRunRequested:       proc.HandleRunRequested,
		}
		for subject, handle := range handlers {
			if err := hermesClient.QueueSubscribe(subject, hermes.QueueGroup, proc.Go(handle)); err != nil {
				return err
			}
		}

		if err := hermesClient.Publish(hermes.SubjectAgentRegistered, hermes.AgentRegistered{
			Agent:     "bddgen",
			Model:     cfg.LLMModel,
			Port:      cfg.Port,
			Stages:    cfg.ExampleStages,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			logger.Warn("failed to publish registration", "error", err)
		}
	} else {
		logger.Warn("NATS_URL not set, running without event handlers")
	}

	// HTTP API
	srv := api.NewServer(orch, artifacts, api.Options{
		Port:           cfg.Port,
		Users:          cfg.Users,
		AuthDisabled:   cfg.AuthDisabled,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("bddgen ready", "port", cfg.Port)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	if proc != nil {
		if err := hermesClient.DrainSubscriptions(); err != nil {
			logger.Warn("NATS subscription drain", "error", err)
		}
		waited := make(chan struct{})
		go func() {
			proc.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-shutdownCtx.Done():
			logger.Warn("in-flight requests still running at shutdown")
		}
		if err := hermesClient.Drain(); err != nil {
			logger.Warn("NATS drain", "error", err)
		}
	}
	logger.Info("bddgen stopped")
	return nil
}

