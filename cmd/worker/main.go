package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/amerfu/pguard/internal/config"
	"github.com/amerfu/pguard/internal/database"
	"github.com/amerfu/pguard/internal/logger"
	"github.com/amerfu/pguard/internal/services/audit"
	"github.com/amerfu/pguard/internal/services/worker"
)

// The worker archives the Redis audit stream the server writes to into
// Postgres
func main() {
	var (
		configPath = flag.String("config", "", "Path to config file")
		batchSize  = flag.Int64("batch-size", 100, "Stream messages archived per batch")
		block      = flag.Duration("block", 5*time.Second, "How long a read waits for new messages")
		consumer   = flag.String("consumer", "", "Consumer name within the archiver group (default: hostname)")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Redis.URL == "" || cfg.Database.URL == "" {
		fmt.Println("The archiver needs both redis.url and database.url")
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

	db, err := database.Initialize(&database.Config{
		DSN:             cfg.Database.URL,
		MaxConnections:  cfg.Database.MaxConnections,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		Writer:          logger.NewGormLogger(log.Named("gorm")),
	})
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	redisClient, err := database.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer redisClient.Close()

	if *consumer == "" {
		*consumer, _ = os.Hostname()
	}

	archiver := worker.NewStreamArchiver(&worker.StreamArchiverConfig{
		Client:    redisClient,
		Sink:      audit.NewPostgresSink(db),
		Logger:    log,
		Stream:    cfg.Audit.Stream,
		Consumer:  *consumer,
		BatchSize: *batchSize,
		Block:     *block,
	})

	done := make(chan error, 1)
	go func() { done <- archiver.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutdown signal received, stopping archiver...")
	cancel()

	select {
	case err := <-done:
		if err != nil {
			log.Error("Archiver stopped with error", zap.Error(err))
		}
	case <-time.After(30 * time.Second):
		log.Warn("Archiver shutdown timeout reached")
	}

	log.Info("Archiver shutdown complete")
}
