package store

import (
	"maps"

	"vigil/core"
)

// applyStats records the backend counters. Requires the write lock.
func (s *Store) applyStats(p *core.StatsPatch) bool {
	changed := s.backendStats == nil ||
		!sameCount(s.backendStats.ActiveThreats, p.ActiveThreats) ||
		!sameCount(s.backendStats.TotalLogs, p.TotalLogs) ||
		!sameCount(s.backendStats.UnreadAlerts, p.UnreadAlerts) ||
		!maps.Equal(s.backendStats.ThreatLevels, p.ThreatLevels)

	s.backendStats = p
	// the step being applied; steps is incremented after apply returns
	s.statsStep = s.steps + 1
	return changed
}

func sameCount(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// derivedStatsLocked computes the counters from the stored collections.
func (s *Store) derivedStatsLocked() core.Stats {
	d := core.Stats{ThreatLevels: make(map[core.Severity]int, len(core.Severities))}
	for _, sev := range core.Severities {
		d.ThreatLevels[sev] = 0
	}
	s.threats.each(func(t *core.Threat) {
		if !t.IsActive() {
			return
		}
		d.ActiveThreats++
		if _, ok := d.ThreatLevels[t.Severity]; ok {
			d.ThreatLevels[t.Severity]++
		}
	})
	s.alerts.each(func(a *core.Alert) {
		if !a.Read {
			d.UnreadAlerts++
		}
	})
	d.TotalLogs = s.logs.len()
	return d
}

// statsLocked resolves each counter: the backend value when reported,
// otherwise the derived one. A nonzero backend value that contradicts an
// empty derived value is only trusted until another step is applied.
func (s *Store) statsLocked() core.Stats {
	derived := s.derivedStatsLocked()
	if s.backendStats == nil {
		return derived
	}
	fresh := s.steps <= s.statsStep

	pick := func(reported *int, derived int) int {
		if reported == nil {
			return derived
		}
		if *reported > 0 && derived == 0 && !fresh {
			return derived
		}
		return *reported
	}

	levels := make(map[core.Severity]int, len(derived.ThreatLevels))
	for sev, n := range derived.ThreatLevels {
		var reported *int
		if v, ok := s.backendStats.ThreatLevels[sev]; ok {
			reported = &v
		}
		levels[sev] = pick(reported, n)
	}

	return core.Stats{
		ActiveThreats: pick(s.backendStats.ActiveThreats, derived.ActiveThreats),
		TotalLogs:     pick(s.backendStats.TotalLogs, derived.TotalLogs),
		UnreadAlerts:  pick(s.backendStats.UnreadAlerts, derived.UnreadAlerts),
		ThreatLevels:  levels,
	}
}
