package app

import (
	"github.com/centrifugal/gocomet"
	"github.com/centrifugal/gocomet/internal/config"
	"github.com/centrifugal/gocomet/internal/sink"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// clientConfig builds gocomet.Config which forwards updates to forwarder.
func clientConfig(cfg config.Config, forwarder *sink.Forwarder, registerer prometheus.Registerer, logger zerolog.Logger) gocomet.Config {
	c := cfg.Client
	conf := gocomet.Config{
		Host:               c.Host,
		UseSSL:             c.UseSSL,
		Channels:           c.Channels,
		DisableReconnect:   c.DisableReconnect,
		DisableCrossDomain: c.DisableCrossDomain,
		ForceLongPoll:      c.ForceLongPoll,
		Debug:              c.Debug,
		Retry:              c.Retry.Policy(),
		KeepAliveInterval:  c.KeepAliveInterval.ToDuration(),
		SendRetryDelay:     c.SendRetryDelay.ToDuration(),
		WriteTimeout:       c.WriteTimeout.ToDuration(),
		PollTimeout:        c.PollTimeout.ToDuration(),
		PollInterval:       c.PollInterval.ToDuration(),
		PollErrorDelay:     c.PollErrorDelay.ToDuration(),
		PollRateLimit:      rate.Limit(c.PollRateLimit),
		PollBurst:          c.PollBurst,
		Logger:             &logger,
		OnData: func(update gocomet.Update) {
			forwarder.Enqueue(update)
		},
		OnSubscribed: func(subscriberID string) {
			logger.Info().Str("subscriber_id", subscriberID).Strs("channels", c.Channels).Msg("subscribed")
		},
		OnClosed: func(err error) {
			logger.Warn().Err(err).Msg("connection closed")
		},
	}
	if metricsEnabled(cfg) {
		conf.MetricsRegisterer = registerer
		conf.MetricsNamespace = cfg.Prometheus.Namespace
	}
	return conf
}

// PublisherConfig builds gocomet.PublisherConfig from CLI config.
func PublisherConfig(cfg config.Config, logger zerolog.Logger) gocomet.PublisherConfig {
	conf := gocomet.PublisherConfig{
		Host:    cfg.Client.Host,
		UseSSL:  cfg.Client.UseSSL,
		Timeout: cfg.Publisher.Timeout.ToDuration(),
		Logger:  &logger,
	}
	if cfg.Publisher.Retry.MaxAttempts > 0 {
		policy := cfg.Publisher.Retry.Policy()
		conf.Retry = &policy
	}
	return conf
}

func metricsEnabled(cfg config.Config) bool {
	return cfg.Prometheus.Enabled || cfg.Graphite.Enabled
}
