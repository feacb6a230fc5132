package app

import (
	"strings"

	"github.com/centrifugal/gocomet/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func logStartWarnings(cfg config.Config, cfgMeta config.Meta) {
	if cfg.Client.Debug {
		log.Warn().Msg("DEBUG logging of client internals enabled")
	}
	if cfg.Client.DisableReconnect {
		log.Warn().Msg("reconnects disabled, process will stay disconnected after first connection loss")
	}
	for _, key := range cfgMeta.UnknownKeys {
		log.Warn().Str("key", key).Msg("unknown key in configuration file")
	}
	for _, key := range cfgMeta.UnknownEnvs {
		log.Warn().Str("var", key).Msg("unknown var in environment")
	}
}

type httpErrorLogWriter struct {
	zerolog.Logger
}

func (w *httpErrorLogWriter) Write(data []byte) (int, error) {
	w.Logger.Warn().Msg(strings.TrimSpace(string(data)))
	return len(data), nil
}
