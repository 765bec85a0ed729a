package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/notblessy/cryptodash/logger"
	"github.com/notblessy/cryptodash/store"
)

type StatsReader interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (store.Stats, error)
}

type CacheChecker interface {
	Health(ctx context.Context) error
}

type HealthHandler struct {
	store   StatsReader
	cache   CacheChecker
	backend string
	log     *logger.Logger
}

// NewHealthHandler reports on s. backend names the store in the response.
func NewHealthHandler(s StatsReader, backend string, log *logger.Logger) *HealthHandler {
	return &HealthHandler{store: s, backend: backend, log: log}
}

// SetCache adds the query cache to the report. A failing cache degrades the
// status but does not fail the check.
func (h *HealthHandler) SetCache(c CacheChecker) {
	h.cache = c
}

type DatabaseHealth struct {
	Status string      `json:"status"`
	Type   string      `json:"type"`
	Stats  store.Stats `json:"stats"`
}

type HealthStatus struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Service   string         `json:"service"`
	Database  DatabaseHealth `json:"database"`
	Cache     string         `json:"cache,omitempty"`
}

// Health checks the store and returns row counts
// GET /api/health
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	stats, err := h.check(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Health check failed")
		return fail(c, http.StatusServiceUnavailable, "Health check failed", map[string]string{
			"database": "disconnected",
			"error":    err.Error(),
		})
	}

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Service:   "Cryptocurrency Price Dashboard API",
		Database: DatabaseHealth{
			Status: "connected",
			Type:   h.backend,
			Stats:  stats,
		},
	}
	if h.cache != nil {
		status.Cache = "connected"
		if err := h.cache.Health(ctx); err != nil {
			h.log.Warn().Err(err).Msg("Cache unhealthy")
			status.Cache = "unavailable"
		}
	}

	return success(c, http.StatusOK, status, "System is healthy")
}

func (h *HealthHandler) check(ctx context.Context) (store.Stats, error) {
	if err := h.store.Ping(ctx); err != nil {
		return store.Stats{}, err
	}
	return h.store.Stats(ctx)
}
