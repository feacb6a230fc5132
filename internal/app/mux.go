package app

import (
	"net/http"

	"github.com/centrifugal/gocomet/internal/config"
	"github.com/centrifugal/gocomet/internal/health"
	"github.com/centrifugal/gocomet/internal/middleware"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Mux returns handler of internal HTTP endpoints enabled in config.
func Mux(cfg config.Config, source health.Source, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	if cfg.Prometheus.Enabled {
		mux.Handle(cfg.Prometheus.HandlerPrefix, middleware.LogRequest(middleware.Get(
			promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		)))
	}
	if cfg.Health.Enabled {
		mux.Handle(cfg.Health.HandlerPrefix, middleware.LogRequest(middleware.Get(
			health.NewHandler(source),
		)))
	}
	return mux
}
