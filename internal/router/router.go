package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/amerfu/pguard/internal/auth"
	"github.com/amerfu/pguard/internal/config"
	"github.com/amerfu/pguard/internal/handlers"
	"github.com/amerfu/pguard/internal/middleware"
	"github.com/amerfu/pguard/internal/services/audit"
	"github.com/amerfu/pguard/internal/services/guardrails"
	"github.com/amerfu/pguard/internal/services/guardrails/providers"
	"github.com/amerfu/pguard/internal/services/review"
)

// RouterConfig carries everything the HTTP surface needs. DB, Redis,
// Presidio and Sink are optional.
type RouterConfig struct {
	Config    *config.Config
	Logger    *zap.Logger
	Validator *guardrails.Validator
	Registry  *guardrails.Registry
	Review    review.Queue
	Sink      audit.Sink
	DB        *gorm.DB
	Redis     *redis.Client
	Presidio  *providers.Presidio
}

func NewRouter(rc *RouterConfig) http.Handler {
	cfg := rc.Config
	logger := rc.Logger
	r := chi.NewRouter()

	// Basic middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Logger(logger))
	if cfg.Monitoring.EnableMetrics {
		r.Use(middleware.MetricsMiddleware(logger))
	}

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	healthHandler := handlers.NewHealthHandler(&handlers.HealthConfig{
		Logger:   logger,
		Registry: rc.Registry,
		DB:       rc.DB,
		Redis:    rc.Redis,
		Presidio: rc.Presidio,
	})
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	if cfg.Monitoring.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	var tokens *auth.TokenService
	if cfg.Auth.JWT.SecretKey != "" {
		tokens = auth.NewTokenService(cfg.Auth.JWT.SecretKey, cfg.Auth.JWT.Issuer)
	}
	authMiddleware := middleware.NewAuthMiddleware(&middleware.AuthConfig{
		Logger:      logger,
		Tokens:      tokens,
		MasterKey:   cfg.Auth.MasterKey,
		RequireAuth: cfg.Auth.RequireAuth,
	})

	guardrailHandler := handlers.NewGuardrailHandler(&handlers.GuardrailHandlerConfig{
		Logger:       logger,
		Validator:    rc.Validator,
		Registry:     rc.Registry,
		MaxBatchSize: cfg.Server.MaxBatchSize,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
	traceHandler := handlers.NewTraceHandler(logger, rc.Validator, rc.Sink)
	reviewHandler := handlers.NewReviewHandler(logger, rc.Review)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Route("/guardrails", func(r chi.Router) {
			r.Get("/", guardrailHandler.List)
			r.Route("/{name}", func(r chi.Router) {
				r.Post("/validate", guardrailHandler.Validate)
				r.Post("/validate/batch", guardrailHandler.ValidateBatch)
				r.Post("/enforce", guardrailHandler.Enforce)
				r.Get("/document", guardrailHandler.Document)
			})
		})

		r.Route("/trace", func(r chi.Router) {
			r.Get("/", traceHandler.Get)
			r.With(authMiddleware.RequireAdmin).Post("/export", traceHandler.Export)
			r.With(authMiddleware.RequireAdmin).Delete("/", traceHandler.Delete)
		})

		r.Route("/review", func(r chi.Router) {
			r.Use(authMiddleware.RequireAdmin)
			r.Get("/", reviewHandler.Pending)
			r.Post("/dequeue", reviewHandler.Dequeue)
		})
	})

	return r
}
