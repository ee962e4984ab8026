package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/recallhq/recall/internal/blob"
	"github.com/recallhq/recall/internal/config"
	"github.com/recallhq/recall/internal/delivery"
	"github.com/recallhq/recall/internal/gateway"
	"github.com/recallhq/recall/internal/ingest"
	"github.com/recallhq/recall/internal/intent"
	"github.com/recallhq/recall/internal/memsvc"
	"github.com/recallhq/recall/internal/observability"
	"github.com/recallhq/recall/internal/reminder"
	"github.com/recallhq/recall/internal/storage"
	"github.com/recallhq/recall/internal/transcribe"
)

// buildServeCmd creates the "serve" command that runs the full service:
// webhook gateway, ingestion pipeline, and reminder scheduler.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Recall server",
		Long: `Start the Recall server.

The server will:
1. Load configuration from the specified file
2. Open the SQLite database and media store
3. Start the reminder scheduler
4. Start the HTTP server (webhook, REST API, health, metrics)

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  recall serve

  # Start with custom config
  recall serve --config /etc/recall/production.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "recall.yaml",
		"Path to YAML configuration file")

	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger.Info("starting recall",
		"version", version,
		"commit", commit,
		"config", configPath,
	)

	metrics := observability.NewMetrics(nil)

	stores, err := storage.NewSQLite(storage.SQLiteConfig{Path: cfg.Database.Path})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer stores.Close()

	blobs, err := blob.NewStore(cfg.Media.Root, stores.Media, blob.WithLogger(logger), blob.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("failed to open media store: %w", err)
	}

	if cfg.MemoryService.BaseURL == "" {
		return fmt.Errorf("memory_service.base_url is required")
	}
	remote, err := memsvc.NewClient(memsvc.Config{
		BaseURL: cfg.MemoryService.BaseURL,
		APIKey:  cfg.MemoryService.APIKey,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build memory service client: %w", err)
	}

	sender, err := delivery.NewTwilioSender(delivery.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		From:       cfg.Twilio.From,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build twilio sender: %w", err)
	}

	scheduler := reminder.NewScheduler(stores.Reminders, stores.Users, sender,
		reminder.WithLogger(logger),
		reminder.WithMetrics(metrics),
		reminder.WithTickInterval(cfg.Reminders.TickInterval),
		reminder.WithMaxAttempts(cfg.Reminders.MaxAttempts),
		reminder.WithPastTolerance(cfg.Reminders.PastTolerance),
	)

	classifier, err := buildClassifier(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build classifier: %w", err)
	}

	router := intent.NewRouter(classifier, stores.Memories, stores.Interactions, stores.Media, remote, scheduler,
		intent.WithLogger(logger),
		intent.WithThreshold(cfg.Classifier.ConfidenceThreshold),
	)

	fetcher := ingest.NewHTTPFetcher(ingest.HTTPFetcherConfig{
		Username: cfg.Twilio.AccountSID,
		Password: cfg.Twilio.AuthToken,
	})
	ingestOpts := []ingest.CoordinatorOption{ingest.WithLogger(logger)}
	if cfg.OpenAI.APIKey != "" {
		transcriber, err := transcribe.NewOpenAITranscriber(transcribe.OpenAIConfig{
			APIKey: cfg.OpenAI.APIKey,
			Model:  cfg.OpenAI.WhisperModel,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("failed to build transcriber: %w", err)
		}
		ingestOpts = append(ingestOpts, ingest.WithTranscriber(transcriber))
	} else {
		logger.Warn("no OpenAI API key configured, voice notes will not be transcribed")
	}
	coordinator := ingest.NewCoordinator(stores.Users, stores.Interactions, blobs, fetcher, ingestOpts...)

	server := gateway.New(gateway.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, gateway.Deps{
		Stores:    stores,
		Ingestor:  coordinator,
		Router:    router,
		Scheduler: scheduler,
		Metrics:   metrics,
		Logger:    logger,
	})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown failed", "error", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// loadConfig reads the config file, falling back to built-in defaults
// when the default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == "recall.yaml" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildClassifier prefers the OpenAI model and falls back to keyword
// heuristics when no API key is configured.
func buildClassifier(cfg *config.Config, logger *slog.Logger) (intent.Classifier, error) {
	if cfg.OpenAI.APIKey == "" {
		logger.Warn("no OpenAI API key configured, using heuristic intent classification")
		return intent.HeuristicClassifier{}, nil
	}
	return intent.NewOpenAIClassifier(intent.OpenAIConfig{
		APIKey: cfg.OpenAI.APIKey,
		Model:  cfg.OpenAI.Model,
		Logger: logger,
	})
}
