// Package retry describes how a disconnected client retries connecting.
package retry

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultDelay is the reconnect delay used when Policy.Delay is not set.
const DefaultDelay = 500 * time.Millisecond

// Stop is returned by BackOff.NextBackOff when attempts are exhausted.
const Stop = backoff.Stop

// Policy is a reconnect retry policy. The zero value retries forever with a
// constant DefaultDelay and no jitter.
type Policy struct {
	// Delay before the first retry.
	Delay time.Duration `mapstructure:"delay" json:"delay" yaml:"delay" toml:"delay"`
	// MaxDelay caps the delay when Multiplier grows it. Zero means no cap.
	MaxDelay time.Duration `mapstructure:"max_delay" json:"max_delay" yaml:"max_delay" toml:"max_delay"`
	// Multiplier grows the delay after each attempt. Values <= 1 keep the delay constant.
	Multiplier float64 `mapstructure:"multiplier" json:"multiplier" yaml:"multiplier" toml:"multiplier"`
	// Jitter is a randomization factor in [0, 1).
	Jitter float64 `mapstructure:"jitter" json:"jitter" yaml:"jitter" toml:"jitter"`
	// MaxAttempts limits the number of retries. Zero means unbounded.
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`
}

// Validate checks policy values.
func (p Policy) Validate() error {
	if p.Delay < 0 || p.MaxDelay < 0 {
		return errors.New("retry delays must not be negative")
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return errors.New("retry jitter must be in [0, 1)")
	}
	if p.MaxAttempts < 0 {
		return errors.New("retry max attempts must not be negative")
	}
	return nil
}

// BackOff yields delays between attempts.
type BackOff = backoff.BackOff

// NewBackOff creates a fresh BackOff following the policy.
func (p Policy) NewBackOff() BackOff {
	delay := p.Delay
	if delay == 0 {
		delay = DefaultDelay
	}
	var b backoff.BackOff
	if p.Multiplier <= 1 && p.Jitter == 0 {
		b = backoff.NewConstantBackOff(delay)
	} else {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = delay
		eb.Multiplier = p.Multiplier
		if eb.Multiplier < 1 {
			eb.Multiplier = 1
		}
		eb.RandomizationFactor = p.Jitter
		eb.MaxInterval = p.MaxDelay
		if eb.MaxInterval == 0 {
			eb.MaxInterval = time.Duration(1<<63 - 1)
		}
		// Never give up because of elapsed time, only MaxAttempts can stop retries.
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	}
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts))
	}
	b.Reset()
	return b
}
