package store

import (
	"vigil/core"
)

// View is a consistent copy of the whole store.
type View struct {
	Threats    []core.Threat        `json:"threats" yaml:"threats"`
	Alerts     []core.Alert         `json:"alerts" yaml:"alerts"`
	Logs       []core.LogEntry      `json:"logs" yaml:"logs"`
	Stats      core.Stats           `json:"stats" yaml:"stats"`
	Connection core.ConnectionState `json:"connection,omitempty" yaml:"connection,omitempty"`
	// Stale is set while the push connection is not open.
	Stale   bool   `json:"stale" yaml:"stale"`
	Version uint64 `json:"version" yaml:"version"`
}

// View returns a deep copy of the store, newest entries first.
func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		Threats: s.threatsLocked(),
		Alerts:  s.alertsLocked(),
		Logs:    s.logsLocked(),
		Stats:   s.statsLocked(),
		Version: s.version,
	}
	if s.connection != nil {
		v.Connection = s.connection.State()
		v.Stale = v.Connection != core.ConnectionOpen
	}
	return v
}

// Threats returns copies of the stored threats, newest first.
func (s *Store) Threats() []core.Threat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threatsLocked()
}

// Alerts returns copies of the stored alerts, newest first.
func (s *Store) Alerts() []core.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alertsLocked()
}

// Logs returns copies of the stored log entries, newest first.
func (s *Store) Logs() []core.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logsLocked()
}

// Stats returns the effective dashboard counters.
func (s *Store) Stats() core.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statsLocked()
}

// Threat returns a copy of one threat.
func (s *Store) Threat(id core.ID) (core.Threat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threats.get(id)
	if !ok {
		return core.Threat{}, false
	}
	return t.Clone(), true
}

// Alert returns a copy of one alert.
func (s *Store) Alert(id core.ID) (core.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts.get(id)
	if !ok {
		return core.Alert{}, false
	}
	return a.Clone(), true
}

func (s *Store) threatsLocked() []core.Threat {
	stored := s.threats.newestFirst()
	out := make([]core.Threat, 0, len(stored))
	for _, t := range stored {
		out = append(out, t.Clone())
	}
	return out
}

func (s *Store) alertsLocked() []core.Alert {
	stored := s.alerts.newestFirst()
	out := make([]core.Alert, 0, len(stored))
	for _, a := range stored {
		out = append(out, a.Clone())
	}
	return out
}

func (s *Store) logsLocked() []core.LogEntry {
	stored := s.logs.newestFirst()
	out := make([]core.LogEntry, 0, len(stored))
	for _, l := range stored {
		out = append(out, l.Clone())
	}
	return out
}
