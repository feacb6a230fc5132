package gocomet

import (
	"time"

	"github.com/centrifugal/gocomet/internal/protocol"
	"github.com/centrifugal/gocomet/internal/retry"
	"github.com/centrifugal/gocomet/internal/transport"
)

// connect starts a connection attempt. Must be called on loop.
func (c *Client) connect() {
	if c.closed {
		return
	}
	c.reconnectTimer = nil
	c.setState(StateConnecting)
	if !c.transport.Connect() {
		// Handshake already in flight, its outcome drives the state.
		return
	}
	if c.poll {
		// Nothing to establish for request/response exchanges.
		c.onOpen()
	}
}

func (c *Client) onOpen() {
	if c.closed {
		return
	}
	c.attempt++
	c.subscriberID = ""
	c.setState(StateConnected)
	c.subscribe()
}

func (c *Client) subscribe() {
	attempt := c.attempt
	c.logger.Debug().Strs("channels", c.channels).Msg("subscribing")
	c.transport.Send(protocol.CommandSubscribe, transport.Params{
		protocol.ParamChannels: protocol.JoinChannels(c.channels),
	}, func(data []byte) {
		if c.closed || attempt != c.attempt {
			return
		}
		id, err := protocol.DecodeSubscribeResult(data)
		if err != nil {
			c.onSubscribeError(attempt, err)
			return
		}
		c.onSubscribed(id)
	}, func(err error) {
		c.onSubscribeError(attempt, err)
	})
}

func (c *Client) onSubscribed(id string) {
	c.subscriberID = id
	c.versions = map[string]int64{}
	c.setState(StateSubscribed)
	c.backoff.Reset()
	c.logger.Info().Str("subscriber", id).Msg("subscribed")
	if c.config.OnSubscribed != nil {
		c.config.OnSubscribed(id)
	}
	if c.poll {
		c.schedulePoll(c.config.PollInterval)
	}
}

func (c *Client) onSubscribeError(attempt uint64, err error) {
	if c.closed || attempt != c.attempt {
		return
	}
	c.logger.Warn().Err(err).Msg("subscribe failed")
	if c.poll {
		c.subscribe()
		return
	}
	c.scheduleReconnect()
}

// scheduleReconnect arms reconnect timer according to retry policy unless
// one is pending already.
func (c *Client) scheduleReconnect() {
	if c.closed || c.reconnectTimer != nil {
		return
	}
	if c.config.DisableReconnect {
		c.setState(StateDisconnected)
		return
	}
	delay := c.backoff.NextBackOff()
	if delay == retry.Stop {
		c.logger.Warn().Msg("giving up reconnecting")
		c.setState(StateDisconnected)
		return
	}
	c.metrics.IncReconnect(c.transport.Name())
	c.logger.Debug().Str("delay", delay.String()).Msg("reconnect scheduled")
	c.setState(StateConnecting)
	c.reconnectTimer = c.loop.AfterFunc(delay, c.connect)
}

func (c *Client) onClose(err error) {
	if c.closed {
		return
	}
	c.attempt++
	c.subscriberID = ""
	c.metrics.IncDisconnect(c.transport.Name())
	c.logger.Info().Err(err).Msg("connection closed")
	c.setState(StateDisconnected)
	if c.config.OnClosed != nil {
		c.config.OnClosed(err)
	}
	c.scheduleReconnect()
}

func (c *Client) onUnavailable(err error) {
	if c.closed {
		return
	}
	c.logger.Debug().Err(err).Msg("transport unavailable")
	c.scheduleReconnect()
}

func (c *Client) dispatch(updates []Update) {
	if c.closed || len(updates) == 0 {
		return
	}
	for _, u := range updates {
		c.versions[u.Channel] = u.Version
	}
	c.updateSnapshot()
	c.metrics.AddUpdates(c.transport.Name(), len(updates))
	if c.config.OnData == nil {
		return
	}
	for _, u := range updates {
		c.config.OnData(u)
	}
}

func (c *Client) addChannels(channels []string) {
	c.transport.Send(protocol.CommandAddChannels, transport.Params{
		protocol.ParamID:       c.subscriberID,
		protocol.ParamChannels: protocol.JoinChannels(channels),
	}, func([]byte) {
		c.channels = append(c.channels, channels...)
		c.updateSnapshot()
		c.logger.Debug().Strs("channels", channels).Msg("channels added")
	}, func(err error) {
		c.logger.Warn().Err(err).Strs("channels", channels).Msg("add channels failed")
	})
}

func (c *Client) removeChannels(channels []string) {
	c.transport.Send(protocol.CommandRemoveChannels, transport.Params{
		protocol.ParamID:       c.subscriberID,
		protocol.ParamChannels: protocol.JoinChannels(channels),
	}, func([]byte) {
		// Channel set is left as is, removed channels are requested again
		// on resubscribe.
		c.logger.Debug().Strs("channels", channels).Msg("channels removed")
	}, func(err error) {
		c.logger.Warn().Err(err).Strs("channels", channels).Msg("remove channels failed")
	})
}

func (c *Client) schedulePoll(delay time.Duration) {
	if c.limiter != nil {
		if d := c.limiter.Reserve().Delay(); d > delay {
			delay = d
		}
	}
	attempt := c.attempt
	c.pollTimer.Stop()
	c.pollTimer = c.loop.AfterFunc(delay, func() {
		c.pollTimer = nil
		c.fetchData(attempt)
	})
}

// fetchData issues one data request and decides what to do next by its
// status. Next request is scheduled only from completion of current one.
func (c *Client) fetchData(attempt uint64) {
	if c.closed || attempt != c.attempt || c.state != StateSubscribed {
		return
	}
	c.transport.Send(protocol.CommandData, transport.Params{
		protocol.ParamID: c.subscriberID,
	}, func(data []byte) {
		if c.closed || attempt != c.attempt {
			return
		}
		result, err := protocol.DecodeDataResult(data)
		if err != nil {
			c.metrics.IncPollResult("error")
			c.logger.Warn().Err(err).Msg("bad data response")
			c.schedulePoll(c.config.PollErrorDelay)
			return
		}
		c.metrics.IncPollResult(string(result.Status))
		switch result.Status {
		case protocol.StatusData:
			c.dispatch(result.Commands)
			c.schedulePoll(c.config.PollInterval)
		case protocol.StatusUnknownSubscriber:
			c.logger.Info().Str("subscriber", c.subscriberID).Msg("subscriber unknown to server, resubscribing")
			c.attempt++
			c.subscriberID = ""
			c.setState(StateConnected)
			c.subscribe()
		default:
			c.schedulePoll(c.config.PollInterval)
		}
	}, func(err error) {
		if c.closed || attempt != c.attempt {
			return
		}
		c.metrics.IncPollResult("error")
		c.logger.Debug().Err(err).Msg("data request failed")
		c.schedulePoll(c.config.PollErrorDelay)
	})
}
