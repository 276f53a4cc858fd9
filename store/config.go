package store

import "errors"

// Config sizes the store's windows and update queue.
type Config struct {
	// ThreatWindow is the number of threats retained (newest first).
	ThreatWindow int `mapstructure:"threat_window"`
	// AlertWindow is the number of alerts retained.
	AlertWindow int `mapstructure:"alert_window"`
	// LogWindow is the number of log entries retained.
	LogWindow int `mapstructure:"log_window"`
	// TombstoneSize bounds how many evicted ids per window are remembered.
	TombstoneSize int `mapstructure:"tombstone_size"`
	// QueueSize is the update queue buffer.
	QueueSize int `mapstructure:"queue_size"`
}

// DefaultConfig returns the console defaults.
func DefaultConfig() Config {
	return Config{
		ThreatWindow:  20,
		AlertWindow:   10,
		LogWindow:     200,
		TombstoneSize: 1024,
		QueueSize:     64,
	}
}

// Validate checks if the store configuration is valid
func (c Config) Validate() error {
	if c.ThreatWindow <= 0 || c.AlertWindow <= 0 || c.LogWindow <= 0 {
		return errors.New("window sizes must be greater than 0")
	}
	if c.TombstoneSize <= 0 {
		return errors.New("TombstoneSize must be greater than 0")
	}
	if c.QueueSize < 0 {
		return errors.New("QueueSize cannot be negative")
	}
	return nil
}
