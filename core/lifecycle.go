package core

// threatStatusRank orders threat statuses. A status may only move to an equal
// or higher rank.
var threatStatusRank = map[ThreatStatus]int{
	ThreatStatusActive:     0,
	ThreatStatusMitigating: 1,
	ThreatStatusResolved:   2,
}

// severityRank orders severities for sorting and comparisons.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// logLevelRank orders log levels.
var logLevelRank = map[LogLevel]int{
	LogLevelInfo:     0,
	LogLevelWarn:     1,
	LogLevelError:    2,
	LogLevelCritical: 3,
}

// Rank returns the status position, or -1 for an unknown status.
func (s ThreatStatus) Rank() int {
	if r, ok := threatStatusRank[s]; ok {
		return r
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle
// monotonic. Staying put counts as allowed.
func (s ThreatStatus) CanAdvanceTo(next ThreatStatus) bool {
	if !next.IsValid() {
		return false
	}
	return next.Rank() >= s.Rank()
}

// IsFinal reports whether no further transition is possible.
func (s ThreatStatus) IsFinal() bool {
	return s == ThreatStatusResolved
}

// Rank returns the severity position, or -1 for an unknown severity.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Rank returns the level position, or -1 for an unknown level.
func (l LogLevel) Rank() int {
	if r, ok := logLevelRank[l]; ok {
		return r
	}
	return -1
}

// IsValid checks if the level is one of the known levels
func (l LogLevel) IsValid() bool {
	return l.Rank() >= 0
}

// CanAdvanceReadTo reports whether the read flag may move from current to next.
// The flag only moves false to true.
func CanAdvanceReadTo(current, next bool) bool {
	return next || !current
}
