package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"prefix-gateway/internal/config"
	"prefix-gateway/internal/metrics"
	"prefix-gateway/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Gateway
// endpoints are single-segment paths and never shadow a route prefix; every
// other path goes to the proxy.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) {
	access := middleware.RequestLogger(logger)

	e.GET("/healthz", health.Healthz, access)
	e.GET("/readyz", health.Readyz, access)
	e.GET("/statusz", health.Status, access)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})), access)
	}

	// Any only covers echo's fixed method list. The not-found handler on the
	// same node catches extension methods such as MKCOL, which would otherwise
	// get a 405 from the router.
	e.Any("/*", proxy.Handle)
	e.RouteNotFound("/*", proxy.Handle)
}
