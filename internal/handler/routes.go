package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"broker-proxy-go/internal/config"
	"broker-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// The docs handler and metrics are optional.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, broker *BrokerHandler, health *HealthHandler, docs *DocsHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	for _, p := range []string{"/Broker", "/broker"} {
		e.GET(p, broker.HandleGet)
		e.POST(p, broker.HandlePost)
	}

	if cfg.Docs.Enabled && docs != nil {
		e.GET("/openapi.yaml", docs.OpenAPI)
	}

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
