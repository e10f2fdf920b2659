package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"carsales-dashboard/internal/config"
	"carsales-dashboard/internal/middleware"
	"carsales-dashboard/internal/observability"
	"carsales-dashboard/internal/server"
)

func runServe(cmd *cobra.Command, configFile string) error {
	cfg, err := config.Load(cmd.Flags(), configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Logger)
	slog.SetDefault(logger)

	logger.Info("starting application",
		"version", version,
		"config_file", cfg.ConfigFile,
		"addr", cfg.Address(),
		"csv_file", cfg.Data.CSVFile,
		"geojson_file", cfg.Data.GeoJSONFile,
	)

	dashboard, err := loadDashboard(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error("failed to load dataset", "error", err)
		return err
	}

	srv := server.NewServer(dashboard, logger, &server.TemplateHandlers{
		Dashboard: handleDashboard,
	})

	rateLimiter := middleware.NewRateLimiter(cfg.Security)

	middlewareChain := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Tracing(logger),
		middleware.SecurityHeaders(),
		middleware.CORS(cfg.Security),
		middleware.TrustedProxy(cfg.Security),
		middleware.RateLimit(rateLimiter, logger),
	)

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      middlewareChain(srv),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	gracefulServer := server.NewGracefulServer(httpServer, logger, cfg.Server)

	gracefulServer.RegisterShutdownHook(func(ctx context.Context) error {
		stats := dashboard.Stats()
		logger.Info("shutting down dashboard service",
			"views_rendered", stats["views_rendered"],
			"selections_rejected", stats["selections_rejected"],
			"rate_limited_clients", rateLimiter.Clients(),
		)
		return nil
	})

	logger.Info("starting graceful server")
	if err := gracefulServer.Run(cmd.Context()); err != nil {
		logger.Error("server failed", "error", err)
		return err
	}

	logger.Info("application stopped gracefully")
	return nil
}
