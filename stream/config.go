package stream

import (
	"errors"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config configures the push connection.
type Config struct {
	URL              string          `mapstructure:"url"`
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout"`
	PingPeriod       time.Duration   `mapstructure:"ping_period"`
	PongWait         time.Duration   `mapstructure:"pong_wait"`
	WriteWait        time.Duration   `mapstructure:"write_wait"`
	MaxMessageSize   int64           `mapstructure:"max_message_size"`
	Reconnect        ReconnectConfig `mapstructure:"reconnect"`
}

// ReconnectConfig is the reconnect backoff policy.
type ReconnectConfig struct {
	InitialInterval     time.Duration `mapstructure:"initial_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval"`
	Multiplier          float64       `mapstructure:"multiplier"`
	RandomizationFactor float64       `mapstructure:"randomization_factor"`
}

// DefaultConfig returns defaults for a backend on localhost.
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:8000/ws",
		HandshakeTimeout: 10 * time.Second,
		PingPeriod:       54 * time.Second,
		PongWait:         60 * time.Second,
		WriteWait:        10 * time.Second,
		MaxMessageSize:   1 << 20,
		Reconnect: ReconnectConfig{
			InitialInterval:     500 * time.Millisecond,
			MaxInterval:         30 * time.Second,
			Multiplier:          2,
			RandomizationFactor: 0.5,
		},
	}
}

// Validate checks if the stream configuration is valid
func (c Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("stream URL scheme must be ws or wss")
	}
	if c.PingPeriod <= 0 || c.PongWait <= 0 {
		return errors.New("ping period and pong wait must be greater than 0")
	}
	if c.PingPeriod >= c.PongWait {
		return errors.New("ping period must be shorter than pong wait")
	}
	if c.MaxMessageSize <= 0 {
		return errors.New("max message size must be greater than 0")
	}
	r := c.Reconnect
	if r.InitialInterval <= 0 || r.MaxInterval < r.InitialInterval {
		return errors.New("reconnect intervals must be positive with max >= initial")
	}
	if r.Multiplier < 1 {
		return errors.New("reconnect multiplier must be at least 1")
	}
	if r.RandomizationFactor < 0 || r.RandomizationFactor > 1 {
		return errors.New("reconnect randomization factor must be within [0, 1]")
	}
	return nil
}

// newBackOff builds an unbounded exponential backoff with jitter.
func (r ReconnectConfig) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.InitialInterval
	b.MaxInterval = r.MaxInterval
	b.Multiplier = r.Multiplier
	b.RandomizationFactor = r.RandomizationFactor
	b.MaxElapsedTime = 0 // never give up
	b.Reset()
	return b
}
