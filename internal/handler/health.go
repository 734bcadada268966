package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db          *sql.DB
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(db *sql.DB, redisClient *redis.Client, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{db: db, redisClient: redisClient, logger: logger}
}

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse is the readiness body with per-dependency detail.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health handles GET /healthz. Returns 200 while the process is serving.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// Ready handles GET /readyz. Returns 200 only when all dependencies answer.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)

	postgresOK := false
	if h.db != nil {
		if err := h.db.PingContext(ctx); err == nil {
			checks["postgres"] = "ok"
			postgresOK = true
		} else {
			checks["postgres"] = "error: " + err.Error()
		}
	} else {
		checks["postgres"] = "not configured"
	}

	redisOK := false
	if h.redisClient != nil {
		if err := h.redisClient.Ping(ctx).Err(); err == nil {
			checks["redis"] = "ok"
			redisOK = true
		} else {
			checks["redis"] = "error: " + err.Error()
		}
	} else {
		// Redis is optional; the idempotency store falls back to memory.
		checks["redis"] = "not configured"
		redisOK = true
	}

	status := "ready"
	statusCode := http.StatusOK
	if !postgresOK || !redisOK {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ReadinessResponse{Status: status, Checks: checks})

	h.logger.Info("readiness check",
		slog.String("status", status),
		slog.String("postgres", checks["postgres"]),
		slog.String("redis", checks["redis"]),
	)
}
