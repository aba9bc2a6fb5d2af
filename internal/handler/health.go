package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"prefix-gateway/internal/config"
	"prefix-gateway/internal/routestore"
)

const readyTimeout = 2 * time.Second

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	store   routestore.Store
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, store routestore.Store) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, store: store}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Readyz reports whether the route store answers a ping.
func (h *HealthHandler) Readyz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readyTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns gateway status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":          "ok",
		"version":         string(h.version),
		"store_backend":   h.store.Backend(),
		"hash_key":        h.cfg.Store.HashKey,
		"overflow_policy": h.cfg.Rewrite.OverflowPolicy,
	})
}
