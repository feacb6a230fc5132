package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/centrifugal/gocomet/internal/configtypes"
	"github.com/centrifugal/gocomet/internal/protocol"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATS publishes updates to subject built from prefix and channel name.
type NATS struct {
	nc     *nats.Conn
	prefix string
	now    func() time.Time
}

// NewNATS connects to NATS server.
func NewNATS(cfg configtypes.NATSSink, logger zerolog.Logger) (*NATS, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	log := logger.With().Str("sink", "nats").Logger()
	opts := []nats.Option{
		nats.Name("gocomet"),
		nats.MaxReconnects(-1),
		nats.ConnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("connected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("reconnected")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected")
			}
		}),
	}
	switch {
	case cfg.Username != "":
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	case cfg.Token != "":
		opts = append(opts, nats.Token(cfg.Token))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATS{nc: nc, prefix: cfg.SubjectPrefix, now: time.Now}, nil
}

func (s *NATS) Name() string {
	return "nats"
}

func (s *NATS) Subject(channel string) string {
	return s.prefix + channel
}

func (s *NATS) Publish(_ context.Context, update protocol.Update) error {
	if update.Channel == "" {
		return errors.New("update without channel")
	}
	data, err := Encode(update, s.now())
	if err != nil {
		return err
	}
	return s.nc.Publish(s.Subject(update.Channel), data)
}

// Close flushes buffered messages and closes connection.
func (s *NATS) Close() error {
	return s.nc.Drain()
}
