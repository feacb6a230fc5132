package app

import (
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/centrifugal/gocomet/internal/config"
	"github.com/centrifugal/gocomet/internal/metrics/graphite"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

func graphiteExporter(cfg config.Config, gatherer prometheus.Gatherer) *graphite.Exporter {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	return graphite.New(graphite.Config{
		Address:  net.JoinHostPort(cfg.Graphite.Host, strconv.Itoa(cfg.Graphite.Port)),
		Gatherer: gatherer,
		Prefix:   strings.TrimSuffix(cfg.Graphite.Prefix, ".") + "." + graphite.PreparePathComponent(hostname),
		Interval: cfg.Graphite.Interval.ToDuration(),
		Tags:     cfg.Graphite.Tags,
		Logger:   log.Logger.With().Str("component", "graphite").Logger(),
	})
}
