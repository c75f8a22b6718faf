// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/specforge/specforge/internal/credits"
	"github.com/specforge/specforge/internal/llm"
	"github.com/specforge/specforge/internal/monitoring"
	"github.com/specforge/specforge/internal/postgres"
	"github.com/specforge/specforge/internal/services"
)

func main() {
	// A missing .env file is fine; the flags read the real environment too.
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:    "specforged",
		Usage:   "AI provider gateway daemon",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "PostgreSQL database connection URL",
				Sources:  cli.EnvVars("DATABASE_URL"),
				Required: true,
			},
			&cli.StringFlag{
				Name:    "anthropic-api-key",
				Usage:   "API key for the Anthropic provider",
				Sources: cli.EnvVars("ANTHROPIC_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "openrouter-api-key",
				Usage:   "API key for the OpenRouter provider",
				Sources: cli.EnvVars("OPENROUTER_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "llm-provider",
				Value:   llm.ProviderAnthropic,
				Usage:   "Preferred provider (anthropic or openrouter)",
				Sources: cli.EnvVars("SPECFORGE_LLM_PROVIDER"),
			},
			&cli.BoolFlag{
				Name:    "llm-failover",
				Value:   true,
				Usage:   "Try the remaining providers when the preferred one cannot initialize",
				Sources: cli.EnvVars("SPECFORGE_LLM_FAILOVER"),
			},
			&cli.StringFlag{
				Name:    "llm-model",
				Usage:   "Default model for requests that do not name one",
				Sources: cli.EnvVars("SPECFORGE_LLM_MODEL"),
			},
			&cli.IntFlag{
				Name:    "llm-max-output-tokens",
				Usage:   "Default output token limit",
				Sources: cli.EnvVars("SPECFORGE_LLM_MAX_OUTPUT_TOKENS"),
			},
			&cli.BoolFlag{
				Name:    "credit-checks",
				Value:   true,
				Usage:   "Enable pre-flight credit admission checks",
				Sources: cli.EnvVars("SPECFORGE_CREDIT_CHECKS"),
			},
			&cli.DurationFlag{
				Name:    "reconcile-interval",
				Value:   time.Hour,
				Usage:   "How often the monthly usage aggregates are rebuilt from the ledger",
				Sources: cli.EnvVars("SPECFORGE_RECONCILE_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "usage-cache-ttl",
				Value:   5 * time.Minute,
				Usage:   "TTL for cached monthly usage reads",
				Sources: cli.EnvVars("SPECFORGE_USAGE_CACHE_TTL"),
			},
			&cli.StringFlag{
				Name:    "otlp-endpoint",
				Usage:   "OTLP gRPC endpoint for metrics export (empty disables export)",
				Sources: cli.EnvVars("OTEL_EXPORTER_OTLP_ENDPOINT"),
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("SPECFORGE_DEBUG"),
			},
		},
		Action: runDaemon,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("Failed to run command", "error", err)
		os.Exit(1)
	}
}

func runDaemon(ctx context.Context, c *cli.Command) error {
	// Setup logger
	logLevel := slog.LevelInfo
	if c.Bool("debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Setup telemetry
	monitor, err := monitoring.NewManager(monitoring.Config{
		ServiceName:    "specforged",
		ServiceVersion: c.Version,
		OTLPEndpoint:   c.String("otlp-endpoint"),
	})
	if err != nil {
		return fmt.Errorf("failed to set up monitoring: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := monitor.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down monitoring", "error", err)
		}
	}()
	gatewayMetrics := monitor.GetGatewayMetrics()

	// Connect to database
	dbURL := c.String("database-url")
	logger.Info("Connecting to database")

	dbPool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Database connection established")

	// Run database migrations
	if err := postgres.RunMigrations(logger, dbURL); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}

	// Create repositories
	usageRepo, err := postgres.NewUsageRepository(
		postgres.WithUsageRepositoryLogger(logger),
		postgres.WithUsageRepositoryDb(dbPool),
	)
	if err != nil {
		return fmt.Errorf("failed to create usage repository: %w", err)
	}

	balanceRepo, err := postgres.NewBalanceRepository(
		postgres.WithBalanceRepositoryLogger(logger),
		postgres.WithBalanceRepositoryDb(dbPool),
	)
	if err != nil {
		return fmt.Errorf("failed to create balance repository: %w", err)
	}

	cachedUsageRepo := postgres.NewCachedUsageRepository(usageRepo, c.Duration("usage-cache-ttl"))
	defer cachedUsageRepo.Close()

	// Create credit ledger
	ledger := credits.NewLedger(balanceRepo, usageRepo,
		credits.WithLedgerLogger(logger),
		credits.WithLedgerMetrics(gatewayMetrics),
	)

	// Select provider client and compose the gateway
	providerClient := llm.NewClient(llm.FactoryConfig{
		Preferred:        c.String("llm-provider"),
		FailoverEnabled:  c.Bool("llm-failover"),
		AnthropicAPIKey:  c.String("anthropic-api-key"),
		OpenRouterAPIKey: c.String("openrouter-api-key"),
		DefaultModel:     c.String("llm-model"),
		MaxOutputTokens:  int(c.Int("llm-max-output-tokens")),
	}, logger)

	gateway, err := llm.NewGateway(
		llm.WithGatewayLogger(logger),
		llm.WithGatewayClient(providerClient),
		llm.WithGatewayLedger(ledger),
		llm.WithGatewayMetrics(gatewayMetrics),
		llm.WithGatewayCreditChecks(c.Bool("credit-checks")),
	)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	logger.Info("Gateway ready",
		"provider", gateway.Provider(),
		"available", gateway.Available(),
		"creditChecks", c.Bool("credit-checks"))

	// Start background aggregation
	aggregator := services.NewAggregator(cachedUsageRepo,
		services.WithAggregatorLogger(logger),
	)
	scheduler := services.NewScheduler(aggregator,
		services.WithSchedulerLogger(logger),
		services.WithReconcileInterval(c.Duration("reconcile-interval")),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scheduler.Start(ctx)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, shutting down", "signal", sig)

	cancel()
	scheduler.Stop()

	logger.Info("Shutdown complete")
	return nil
}
