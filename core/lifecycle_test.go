package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreatStatus_CanAdvanceTo(t *testing.T) {
	testCases := []struct {
		name    string
		from    ThreatStatus
		to      ThreatStatus
		allowed bool
	}{
		{"Active to Active", ThreatStatusActive, ThreatStatusActive, true},
		{"Active to Mitigating", ThreatStatusActive, ThreatStatusMitigating, true},
		{"Active to Resolved", ThreatStatusActive, ThreatStatusResolved, true},
		{"Mitigating to Resolved", ThreatStatusMitigating, ThreatStatusResolved, true},
		{"Mitigating to Active", ThreatStatusMitigating, ThreatStatusActive, false},
		{"Resolved to Active", ThreatStatusResolved, ThreatStatusActive, false},
		{"Resolved to Mitigating", ThreatStatusResolved, ThreatStatusMitigating, false},
		{"Resolved to Resolved", ThreatStatusResolved, ThreatStatusResolved, true},
		{"Active to unknown", ThreatStatusActive, ThreatStatus("exploded"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, tc.from.CanAdvanceTo(tc.to))
		})
	}
}

func TestThreatStatus_IsFinal(t *testing.T) {
	assert.False(t, ThreatStatusActive.IsFinal())
	assert.False(t, ThreatStatusMitigating.IsFinal())
	assert.True(t, ThreatStatusResolved.IsFinal())
}

func TestSeverity_Ordering(t *testing.T) {
	ordered := []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, ordered[i].Rank(), ordered[i-1].Rank())
		assert.True(t, ordered[i].AtLeast(ordered[i-1]))
		assert.False(t, ordered[i-1].AtLeast(ordered[i]))
	}
	assert.Equal(t, -1, Severity("catastrophic").Rank())
}

func TestLogLevel_Ordering(t *testing.T) {
	assert.Less(t, LogLevelInfo.Rank(), LogLevelWarn.Rank())
	assert.Less(t, LogLevelWarn.Rank(), LogLevelError.Rank())
	assert.Less(t, LogLevelError.Rank(), LogLevelCritical.Rank())
	assert.False(t, LogLevel("TRACE").IsValid())
}

func TestCanAdvanceReadTo(t *testing.T) {
	assert.True(t, CanAdvanceReadTo(false, false))
	assert.True(t, CanAdvanceReadTo(false, true))
	assert.True(t, CanAdvanceReadTo(true, true))
	assert.False(t, CanAdvanceReadTo(true, false))
}

func TestLogEntry_IsAnomalous(t *testing.T) {
	assert.False(t, (&LogEntry{AnomalyScore: 0.69}).IsAnomalous())
	assert.True(t, (&LogEntry{AnomalyScore: 0.7}).IsAnomalous())
	assert.True(t, (&LogEntry{AnomalyScore: 1.0}).IsAnomalous())
}

func TestThreat_CloneIsDeep(t *testing.T) {
	original := &Threat{ID: "t1", ResponseActions: []string{"block"}}
	clone := original.Clone()
	clone.ResponseActions[0] = "isolate"
	assert.Equal(t, "block", original.ResponseActions[0])
}
