// Package config loads Vigil's configuration. VIGIL_* environment variables
// override config.yaml, which overrides the built-in defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"vigil/api"
	"vigil/backend"
	"vigil/core"
	"vigil/mutation"
	"vigil/poller"
	"vigil/store"
	"vigil/stream"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "VIGIL"

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`
	// Development switches to zap's development settings (stack traces on warn)
	Development bool `mapstructure:"development"`
}

// ErrorsConfig sizes the recent-error ring.
type ErrorsConfig struct {
	RecentCapacity int `mapstructure:"recent_capacity"`
}

// Config holds all configuration for a Vigil session
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Backend   backend.Config  `mapstructure:"backend"`
	Stream    stream.Config   `mapstructure:"stream"`
	Poller    poller.Config   `mapstructure:"poller"`
	Store     store.Config    `mapstructure:"store"`
	Mutations mutation.Config `mapstructure:"mutations"`
	API       api.Config      `mapstructure:"api"`
	Errors    ErrorsConfig    `mapstructure:"errors"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	b := backend.DefaultConfig()
	v.SetDefault("backend.base_url", b.BaseURL)
	v.SetDefault("backend.timeout", b.Timeout)
	v.SetDefault("backend.requests_per_second", b.RequestsPerSecond)
	v.SetDefault("backend.burst", b.Burst)
	v.SetDefault("backend.max_body_bytes", b.MaxBodyBytes)
	v.SetDefault("backend.circuit_breaker.max_failures", b.CircuitBreaker.MaxFailures)
	v.SetDefault("backend.circuit_breaker.open_timeout", b.CircuitBreaker.OpenTimeout)
	v.SetDefault("backend.circuit_breaker.max_half_open_requests", b.CircuitBreaker.MaxHalfOpenRequests)

	s := stream.DefaultConfig()
	v.SetDefault("stream.url", s.URL)
	v.SetDefault("stream.handshake_timeout", s.HandshakeTimeout)
	v.SetDefault("stream.ping_period", s.PingPeriod)
	v.SetDefault("stream.pong_wait", s.PongWait)
	v.SetDefault("stream.write_wait", s.WriteWait)
	v.SetDefault("stream.max_message_size", s.MaxMessageSize)
	v.SetDefault("stream.reconnect.initial_interval", s.Reconnect.InitialInterval)
	v.SetDefault("stream.reconnect.max_interval", s.Reconnect.MaxInterval)
	v.SetDefault("stream.reconnect.multiplier", s.Reconnect.Multiplier)
	v.SetDefault("stream.reconnect.randomization_factor", s.Reconnect.RandomizationFactor)

	p := poller.DefaultConfig()
	v.SetDefault("poller.interval", p.Interval)
	v.SetDefault("poller.fetch_timeout", p.FetchTimeout)

	st := store.DefaultConfig()
	v.SetDefault("store.threat_window", st.ThreatWindow)
	v.SetDefault("store.alert_window", st.AlertWindow)
	v.SetDefault("store.log_window", st.LogWindow)
	v.SetDefault("store.tombstone_size", st.TombstoneSize)
	v.SetDefault("store.queue_size", st.QueueSize)

	m := mutation.DefaultConfig()
	v.SetDefault("mutations.rollback_on_failure", m.RollbackOnFailure)
	v.SetDefault("mutations.timeout", m.Timeout)
	v.SetDefault("mutations.default_action", m.DefaultAction)

	a := api.DefaultConfig()
	v.SetDefault("api.enabled", a.Enabled)
	v.SetDefault("api.listen", a.Listen)
	v.SetDefault("api.requests_per_second", a.RequestsPerSecond)
	v.SetDefault("api.burst", a.Burst)

	v.SetDefault("errors.recent_capacity", 100)
}

func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Shorter names for the settings operators change most
	_ = v.BindEnv("log.level", "VIGIL_LOG_LEVEL")
	_ = v.BindEnv("backend.base_url", "VIGIL_BACKEND_URL")
	_ = v.BindEnv("stream.url", "VIGIL_STREAM_URL")
	_ = v.BindEnv("poller.interval", "VIGIL_POLL_INTERVAL")
	_ = v.BindEnv("api.listen", "VIGIL_API_LISTEN")
}

// LoadConfig reads configuration. An empty path searches for config.yaml in
// the working directory and ./config; a missing file there is not an error.
// An explicit path must exist.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)
	loadFromEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Log:       LogConfig{Level: "info"},
		Backend:   backend.DefaultConfig(),
		Stream:    stream.DefaultConfig(),
		Poller:    poller.DefaultConfig(),
		Store:     store.DefaultConfig(),
		Mutations: mutation.DefaultConfig(),
		API:       api.DefaultConfig(),
		Errors:    ErrorsConfig{RecentCapacity: 100},
	}
}

func validateConfig(config *Config) error {
	switch strings.ToLower(config.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q: must be debug, info, warn or error", config.Log.Level)
	}

	u, err := url.Parse(config.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid backend base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid backend base_url %q: scheme must be http or https", config.Backend.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid backend base_url %q: missing host", config.Backend.BaseURL)
	}
	if config.Backend.Timeout <= 0 {
		return errors.New("backend timeout must be greater than 0")
	}
	if config.Backend.RequestsPerSecond <= 0 || config.Backend.Burst <= 0 {
		return errors.New("backend requests_per_second and burst must be greater than 0")
	}
	if err := config.Backend.CircuitBreaker.Validate(); err != nil {
		return fmt.Errorf("invalid backend circuit_breaker: %w", err)
	}

	if err := config.Stream.Validate(); err != nil {
		return fmt.Errorf("invalid stream config: %w", err)
	}

	if config.Poller.Interval < 100*time.Millisecond {
		return fmt.Errorf("poller interval %s is too short (minimum 100ms)", config.Poller.Interval)
	}
	if config.Poller.FetchTimeout <= 0 {
		return errors.New("poller fetch_timeout must be greater than 0")
	}

	if err := config.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}

	if config.Mutations.Timeout <= 0 {
		return errors.New("mutations timeout must be greater than 0")
	}
	if config.Mutations.DefaultAction != "" && !mutation.ValidAction(config.Mutations.DefaultAction) {
		return fmt.Errorf("invalid mutations default_action %q: must be one of %s, %s, %s",
			config.Mutations.DefaultAction, core.ActionAutoMitigate, core.ActionInvestigate, core.ActionContain)
	}

	if config.API.Enabled && config.API.Listen == "" {
		return errors.New("api listen address cannot be empty when the api is enabled")
	}

	if config.Errors.RecentCapacity <= 0 {
		return errors.New("errors recent_capacity must be greater than 0")
	}
	return nil
}
