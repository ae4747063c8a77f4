package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/app"
	"github.com/amerfu/pguard/internal/config"
	"github.com/amerfu/pguard/internal/logger"
	"github.com/amerfu/pguard/internal/router"
	"github.com/amerfu/pguard/internal/services/worker"
)

func main() {
	configPath := flag.String("config", "", "Path to config file or directory")
	flag.Parse()

	// Load .env file if exists
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize validator", zap.Error(err))
	}
	defer a.Close()

	// Periodic trace export keeps the in-memory buffer bounded
	var exporter *worker.TraceExporter
	if a.Sink != nil && cfg.Audit.ExportInterval > 0 {
		exporter = worker.NewTraceExporter(&worker.TraceExporterConfig{
			Flusher:  a.Validator,
			Sink:     a.Sink,
			Logger:   log,
			Interval: cfg.Audit.ExportInterval,
		})
		exporter.Start(ctx)
	} else if cfg.Audit.ExportInterval > 0 {
		log.Warn("audit.export_interval is set but no audit sink is configured")
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router.NewRouter(&router.RouterConfig{
			Config:    cfg,
			Logger:    log,
			Validator: a.Validator,
			Registry:  a.Registry,
			Review:    a.Review,
			Sink:      a.Sink,
			DB:        a.DB,
			Redis:     a.Redis,
			Presidio:  a.Factory.Presidio(),
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("pguard server starting",
			zap.String("address", srv.Addr),
			zap.Int("guardrails", a.Registry.Len()),
			zap.Bool("auth_required", cfg.Auth.RequireAuth))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// Stop after the server so in-flight validations reach the final flush
	if exporter != nil {
		exporter.Stop()
	}
	if n := a.Validator.TraceLen(); n > 0 {
		log.Warn("Trace entries were not exported", zap.Int("records", n))
	}

	log.Info("Server shutdown complete")
}
