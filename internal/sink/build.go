package sink

import (
	"fmt"
	"io"

	"github.com/centrifugal/gocomet/internal/configtypes"

	"github.com/rs/zerolog"
)

// Build creates sinks enabled in configuration. Already created sinks are
// closed if one of them fails.
func Build(cfg configtypes.Sinks, stdout io.Writer, logger zerolog.Logger) ([]Sink, error) {
	var sinks []Sink
	fail := func(err error) ([]Sink, error) {
		for _, s := range sinks {
			_ = s.Close()
		}
		return nil, err
	}
	if cfg.Writer.Enabled {
		sinks = append(sinks, NewWriter(stdout))
	}
	if cfg.NATS.Enabled {
		s, err := NewNATS(cfg.NATS, logger)
		if err != nil {
			return fail(fmt.Errorf("nats sink: %w", err))
		}
		sinks = append(sinks, s)
	}
	if cfg.Redis.Enabled {
		s, err := NewRedis(cfg.Redis)
		if err != nil {
			return fail(fmt.Errorf("redis sink: %w", err))
		}
		sinks = append(sinks, s)
	}
	if cfg.Kafka.Enabled {
		s, err := NewKafka(cfg.Kafka)
		if err != nil {
			return fail(fmt.Errorf("kafka sink: %w", err))
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}
