package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*BreakerConfig)
		wantErr bool
	}{
		{"defaults", func(*BreakerConfig) {}, false},
		{"zero failures", func(c *BreakerConfig) { c.MaxFailures = 0 }, true},
		{"zero timeout", func(c *BreakerConfig) { c.OpenTimeout = 0 }, true},
		{"zero probes", func(c *BreakerConfig) { c.MaxHalfOpenRequests = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultBreakerConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBreaker_Lifecycle(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b, err := NewBreaker(BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute, MaxHalfOpenRequests: 1})
	require.NoError(t, err)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Allow())
	b.Record(false)
	assert.Equal(t, BreakerClosed, b.State())

	require.NoError(t, b.Allow())
	before, after := b.Record(false)
	assert.Equal(t, BreakerClosed, before)
	assert.Equal(t, BreakerOpen, after)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrTooManyProbes)

	_, after = b.Record(false)
	assert.Equal(t, BreakerOpen, after)

	now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	_, after = b.Record(true)
	assert.Equal(t, BreakerClosed, after)
	assert.NoError(t, b.Allow())
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, err := NewBreaker(BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute, MaxHalfOpenRequests: 1})
	require.NoError(t, err)

	b.Record(false)
	b.Record(true)
	b.Record(false)
	assert.Equal(t, BreakerClosed, b.State())
}
