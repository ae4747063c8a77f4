package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/amerfu/pguard/internal/database"
	"github.com/amerfu/pguard/internal/services/guardrails"
	"github.com/amerfu/pguard/internal/services/guardrails/providers"
)

const healthTimeout = 2 * time.Second

type HealthResponse struct {
	Status     string                   `json:"status"`
	Guardrails int                      `json:"guardrails"`
	Services   map[string]ServiceHealth `json:"services"`

	CircuitBreakers map[string]map[string]interface{} `json:"circuit_breakers,omitempty"`
}

type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthHandler checks the backends the server was started with. Nil
// backends are not reported.
type HealthHandler struct {
	logger   *zap.Logger
	registry *guardrails.Registry
	db       *gorm.DB
	redis    *redis.Client
	presidio *providers.Presidio
}

type HealthConfig struct {
	Logger   *zap.Logger
	Registry *guardrails.Registry
	DB       *gorm.DB
	Redis    *redis.Client
	Presidio *providers.Presidio
}

func NewHealthHandler(cfg *HealthConfig) *HealthHandler {
	return &HealthHandler{
		logger:   cfg.Logger.Named("health"),
		registry: cfg.Registry,
		db:       cfg.DB,
		redis:    cfg.Redis,
		presidio: cfg.Presidio,
	}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	response := HealthResponse{
		Status:   "ok",
		Services: make(map[string]ServiceHealth),
	}
	if h.registry != nil {
		response.Guardrails = h.registry.Len()
	}

	check := func(name string, err error) {
		if err == nil {
			response.Services[name] = ServiceHealth{Status: "healthy"}
			return
		}
		h.logger.Warn("Health check failed", zap.String("service", name), zap.Error(err))
		response.Services[name] = ServiceHealth{Status: "unhealthy", Message: err.Error()}
		response.Status = "degraded"
	}

	if h.db != nil {
		check("database", database.Ping(ctx, h.db))
	}
	if h.redis != nil {
		check("redis", h.redis.Ping(ctx).Err())
	}
	if h.presidio != nil {
		check("presidio", h.presidio.HealthCheck(ctx))
		if states := h.presidio.BreakerStates(); len(states) > 0 {
			response.CircuitBreakers = states
		}
	}

	status := http.StatusOK
	if response.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	sendJSON(h.logger, w, status, response)
}

// Ready reports whether any guardrail is loaded
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil || h.registry.Len() == 0 {
		sendJSON(h.logger, w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  "No guardrails loaded",
		})
		return
	}
	sendJSON(h.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}
