// Package app wires configuration into the validator, its guardrail
// registry and the backends they write to. Both binaries start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/amerfu/pguard/internal/config"
	"github.com/amerfu/pguard/internal/database"
	"github.com/amerfu/pguard/internal/logger"
	"github.com/amerfu/pguard/internal/services/audit"
	"github.com/amerfu/pguard/internal/services/guardrails"
	"github.com/amerfu/pguard/internal/services/retry"
	"github.com/amerfu/pguard/internal/services/review"
)

type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Factory   *guardrails.Factory
	Registry  *guardrails.Registry
	Validator *guardrails.Validator
	Review    review.Queue

	// Sink is nil when audit.sink is "none"
	Sink  audit.Sink
	DB    *gorm.DB
	Redis *redis.Client
}

// New connects only the backends the configuration asks for
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	factory, err := guardrails.NewFactoryFromConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	registry, err := factory.CreateRegistry(&cfg.Guardrails)
	if err != nil {
		return nil, err
	}
	a.Factory = factory
	a.Registry = registry

	if needsDatabase(cfg) {
		db, err := database.Initialize(&database.Config{
			DSN:             cfg.Database.URL,
			MaxConnections:  cfg.Database.MaxConnections,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			Writer:          logger.NewGormLogger(log.Named("gorm")),
		})
		if err != nil {
			return nil, err
		}
		a.DB = db
	}

	if needsRedis(cfg) {
		client, err := database.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = client
	}

	a.Sink, err = a.newSink()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Review = a.newReviewQueue()

	a.Validator = guardrails.NewValidator(log, guardrails.Options{
		StopOnFirstError: cfg.Validator.StopOnFirstError,
		ExcerptLength:    cfg.Validator.ExcerptLength,
		CheckTimeout:     cfg.Validator.CheckTimeout,
		Workers:          cfg.Validator.Workers,
		Correctors:       factory.Correctors(),
		Review:           a.Review,
	})

	sinkName := config.SinkNone
	if a.Sink != nil {
		sinkName = a.Sink.Name()
	}
	log.Info("Validator ready",
		zap.Int("guardrails", registry.Len()),
		zap.String("audit_sink", sinkName),
		zap.String("review_backend", cfg.Review.Backend),
		zap.Bool("database", a.DB != nil),
		zap.Bool("redis", a.Redis != nil))

	return a, nil
}

func (a *App) newSink() (audit.Sink, error) {
	sink, err := a.baseSink()
	if err != nil || sink == nil {
		return sink, err
	}
	if a.Config.Audit.RetryAttempts > 1 {
		return audit.WithRetry(sink, &retry.Config{
			MaxAttempts:  a.Config.Audit.RetryAttempts,
			InitialDelay: a.Config.Audit.RetryDelay,
			MaxDelay:     10 * a.Config.Audit.RetryDelay,
			Multiplier:   2.0,
			Jitter:       true,
		}, a.Logger), nil
	}
	return sink, nil
}

func (a *App) baseSink() (audit.Sink, error) {
	switch a.Config.Audit.Sink {
	case config.SinkNone, "":
		return nil, nil
	case config.SinkStdout:
		return audit.NewWriterSink(os.Stdout), nil
	case config.SinkFile:
		return audit.NewFileSink(a.Config.Audit.FilePath), nil
	case config.SinkRedis:
		return audit.NewRedisStreamSink(a.Redis, a.Config.Audit.Stream, a.Config.Audit.StreamMaxLen, a.Logger), nil
	case config.SinkPostgres:
		return audit.NewPostgresSink(a.DB), nil
	default:
		return nil, fmt.Errorf("unknown audit sink %q", a.Config.Audit.Sink)
	}
}

func (a *App) newReviewQueue() review.Queue {
	switch a.Config.Review.Backend {
	case config.ReviewRedis:
		return review.NewRedisQueue(a.Redis, a.Config.Review.QueueName, a.Logger)
	case config.ReviewPostgres:
		return review.NewPostgresQueue(a.DB)
	default:
		return review.NewMemoryQueue()
	}
}

// Close releases the backend connections
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, fmt.Errorf("database: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

func needsDatabase(cfg *config.Config) bool {
	return cfg.Audit.Sink == config.SinkPostgres || cfg.Review.Backend == config.ReviewPostgres
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Audit.Sink == config.SinkRedis || cfg.Review.Backend == config.ReviewRedis
}
