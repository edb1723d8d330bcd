// Finsight server — runs the multi-agent financial-insights pipeline,
// the scheduled alert sweep, and the HTTP API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/finsight-ai/finsight/pkg/agent"
	"github.com/finsight-ai/finsight/pkg/alert"
	"github.com/finsight-ai/finsight/pkg/api"
	"github.com/finsight-ai/finsight/pkg/cleanup"
	"github.com/finsight-ai/finsight/pkg/config"
	"github.com/finsight-ai/finsight/pkg/database"
	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/orchestrator"
	"github.com/finsight-ai/finsight/pkg/services"
	"github.com/finsight-ai/finsight/pkg/sqlguard"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting finsight", "http_port", cfg.HTTPPort, "model", cfg.ModelIdentifier)

	// 2. Databases
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL databases")

	// 3. Domain services
	insightService := services.NewInsightService(dbClient.Accounts(), cfg.MaxInsightsPerUser)
	preferenceService := services.NewPreferenceService(dbClient.Accounts())
	interactionService := services.NewInteractionService(dbClient.Accounts())
	alertConfigService := services.NewAlertConfigService(dbClient.Accounts())
	slog.Info("Services initialized")

	// 4. Model gateway and agents
	llmClient := llm.NewClient(llm.Config{
		Endpoint:      cfg.ModelEndpoint,
		Model:         cfg.ModelIdentifier,
		APIKey:        cfg.ModelAPIKey,
		Timeout:       cfg.ModelTimeout,
		MaxConcurrent: cfg.ModelMaxConcurrent,
	})

	guard := sqlguard.New(cfg.RowLimit)
	understanding := agent.NewUnderstandingAgent(llmClient)
	analyst := agent.NewAnalystAgent(llmClient, dbClient, guard, cfg.RowLimit)
	insightAgent := agent.NewInsightAgent(llmClient, logger, agent.InsightConfig{
		AnomalyVarianceMultiple: cfg.AnomalyVarianceMultiple,
		LowVolumeFloor:          cfg.LowVolumeFloor,
		MaxPerRun:               cfg.MaxInsightsPerRun,
		Retention:               cfg.InsightRetention(),
	})
	preferenceAgent := agent.NewPreferenceAgent(preferenceService, interactionService)

	// 5. Orchestrator
	pipeline := orchestrator.New(orchestrator.Deps{
		Parser:      understanding,
		Analyst:     analyst,
		Synthesizer: insightAgent,
		Preferences: preferenceAgent,
		Insights:    insightService,
		Alerts:      alertConfigService,
	}, cfg, logger)

	// 6. Background tasks
	evaluator := alert.New(analyst, alertConfigService, insightService,
		cfg.AlertSweepInterval, cfg.AlertWorkerCount, cfg.InsightRetention(), logger)
	evaluator.Start(ctx)
	defer evaluator.Stop()

	cleanupService := cleanup.NewService(insightService, cfg.CleanupInterval)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// 7. Auth and HTTP server
	validator, err := api.NewJWTValidator(cfg.JWTPublicKeyPath)
	if err != nil {
		slog.Error("Failed to load JWT public key", "path", cfg.JWTPublicKeyPath, "error", err)
		os.Exit(1)
	}

	httpServer := api.NewServer(api.Deps{
		Pipeline:    pipeline,
		Insights:    insightService,
		Preferences: preferenceAgent,
		Alerts:      alertConfigService,
		Health:      dbClient,
		Auth:        validator,
	}, cfg.HTTPPort, logger)
	httpServer.Start()

	// 8. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	slog.Info("Shutdown complete")
}
