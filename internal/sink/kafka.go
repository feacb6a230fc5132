package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/centrifugal/gocomet/internal/configtypes"
	"github.com/centrifugal/gocomet/internal/protocol"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

const kafkaClientID = "gocomet"

// Kafka produces updates to a topic keyed by channel name, so updates of
// one channel keep their order within a partition.
type Kafka struct {
	client *kgo.Client
	topic  string
	now    func() time.Time
}

func kafkaOpts(cfg configtypes.KafkaSink) ([]kgo.Opt, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no Kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("no Kafka topic configured")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(kafkaClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
	}
	if cfg.SASLMechanism != "" {
		if cfg.SASLMechanism != "plain" {
			return nil, fmt.Errorf("only plain SASL auth mechanism is supported")
		}
		opts = append(opts, kgo.SASL(plain.Auth{
			User: cfg.SASLUser,
			Pass: cfg.SASLPassword,
		}.AsMechanism()))
	}
	return opts, nil
}

// NewKafka creates Kafka sink.
func NewKafka(cfg configtypes.KafkaSink) (*Kafka, error) {
	opts, err := kafkaOpts(cfg)
	if err != nil {
		return nil, err
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing client: %w", err)
	}
	return &Kafka{client: client, topic: cfg.Topic, now: time.Now}, nil
}

func (s *Kafka) Name() string {
	return "kafka"
}

func (s *Kafka) Publish(ctx context.Context, update protocol.Update) error {
	data, err := Encode(update, s.now())
	if err != nil {
		return err
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(update.Channel),
		Value: data,
	}
	return s.client.ProduceSync(ctx, record).FirstErr()
}

func (s *Kafka) Close() error {
	s.client.Close()
	return nil
}
