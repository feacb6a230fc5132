package sink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/centrifugal/gocomet/internal/configtypes"
	"github.com/centrifugal/gocomet/internal/protocol"

	"github.com/redis/rueidis"
)

// redisDataField is a stream entry field holding encoded update.
const redisDataField = "data"

// Redis appends updates to per-channel Redis streams.
type Redis struct {
	client    rueidis.Client
	prefix    string
	maxLength int64
	now       func() time.Time
}

// NewRedis creates Redis sink.
func NewRedis(cfg configtypes.RedisSink) (*Redis, error) {
	if len(cfg.Address) == 0 {
		cfg.Address = []string{"127.0.0.1:6379"}
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: cfg.Address,
		Username:    cfg.Username,
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating Redis client: %w", err)
	}
	return &Redis{
		client:    client,
		prefix:    cfg.StreamPrefix,
		maxLength: cfg.StreamMaxLength,
		now:       time.Now,
	}, nil
}

func (s *Redis) Name() string {
	return "redis"
}

func (s *Redis) Stream(channel string) string {
	return s.prefix + channel
}

func (s *Redis) Publish(ctx context.Context, update protocol.Update) error {
	if update.Channel == "" {
		return errors.New("update without channel")
	}
	data, err := Encode(update, s.now())
	if err != nil {
		return err
	}
	return s.client.Do(ctx, s.buildXAdd(update.Channel, data)).Error()
}

func (s *Redis) buildXAdd(channel string, data []byte) rueidis.Completed {
	cmd := s.client.B().Arbitrary("XADD").Keys(s.Stream(channel))
	if s.maxLength > 0 {
		cmd = cmd.Args("MAXLEN", "~", strconv.FormatInt(s.maxLength, 10))
	}
	return cmd.Args("*").Args(redisDataField, string(data)).Build()
}

func (s *Redis) Close() error {
	s.client.Close()
	return nil
}
