package store

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"vigil/core"
)

// assign copies *src into *dst when src is present and differs.
func assign[T comparable](dst *T, src *T) bool {
	if src == nil || *dst == *src {
		return false
	}
	*dst = *src
	return true
}

// upsertThreat inserts an unknown threat or merges into the stored one.
// batch is the admitted id set of a snapshot, nil for a single pushed threat;
// unknown ids outside it are dropped. Requires the write lock.
func (s *Store) upsertThreat(p *core.ThreatPatch, batch map[core.ID]struct{}) bool {
	if p.Status != nil && p.Status.Rank() > core.ThreatStatusActive.Rank() {
		// server truth at or past the optimistic value confirms it
		delete(s.optimisticThreats, p.ID)
	}

	if t, ok := s.threats.get(p.ID); ok {
		changed, stale := mergeThreat(t, p)
		if stale != nil {
			s.report(stale)
		}
		return changed
	}

	if s.threats.evicted(p.ID) {
		s.logger.Debugw("Ignoring evicted threat", "threat_id", p.ID)
		return false
	}
	if batch == nil {
		return s.threats.push(p.ID, newThreat(p))
	}
	if _, ok := batch[p.ID]; !ok {
		return false
	}
	return s.threats.pushKeeping(p.ID, newThreat(p), batch)
}

func newThreat(p *core.ThreatPatch) *core.Threat {
	t := &core.Threat{ID: p.ID, Status: core.ThreatStatusActive}
	mergeThreat(t, p)
	return t
}

// mergeThreat applies p field by field. Status only moves forward; a
// regression is returned as a stale update and the rest of the patch still
// applies.
func mergeThreat(t *core.Threat, p *core.ThreatPatch) (bool, *core.StaleUpdateError) {
	changed := false
	changed = assign(&t.Category, p.CategoryValue()) || changed
	changed = assign(&t.Source, p.Source) || changed
	changed = assign(&t.Severity, p.Severity) || changed
	changed = assign(&t.Confidence, p.Confidence) || changed
	changed = assign(&t.LogID, p.LogID) || changed
	changed = assign(&t.RiskLevel, p.RiskLevel) || changed
	changed = assign(&t.Description, p.Description) || changed
	changed = assign(&t.ResponseType, p.ResponseType) || changed

	if p.Timestamp != nil && !p.Timestamp.IsZero() && !p.Timestamp.Equal(t.Timestamp.Time) {
		t.Timestamp = *p.Timestamp
		changed = true
	}
	if p.ResponseActions != nil && !slices.Equal(t.ResponseActions, p.ResponseActions) {
		t.ResponseActions = slices.Clone(p.ResponseActions)
		changed = true
	}

	var stale *core.StaleUpdateError
	if p.Status != nil && *p.Status != t.Status {
		if t.Status.CanAdvanceTo(*p.Status) {
			t.Status = *p.Status
			changed = true
		} else {
			stale = &core.StaleUpdateError{
				Kind:     core.KindThreat,
				ID:       t.ID,
				Field:    "status",
				Current:  t.Status.String(),
				Incoming: p.Status.String(),
			}
		}
	}
	return changed, stale
}

// upsertAlert inserts an unknown alert or merges into the stored one, with
// batch as in upsertThreat. Requires the write lock.
func (s *Store) upsertAlert(p *core.AlertPatch, batch map[core.ID]struct{}) bool {
	if p.Read != nil && *p.Read {
		delete(s.optimisticAlerts, p.ID)
	}

	if a, ok := s.alerts.get(p.ID); ok {
		changed, stale := mergeAlert(a, p)
		if stale != nil {
			s.report(stale)
		}
		return changed
	}

	if s.alerts.evicted(p.ID) {
		s.logger.Debugw("Ignoring evicted alert", "alert_id", p.ID)
		return false
	}
	a := &core.Alert{ID: p.ID}
	mergeAlert(a, p)
	if batch == nil {
		return s.alerts.push(p.ID, a)
	}
	if _, ok := batch[p.ID]; !ok {
		return false
	}
	return s.alerts.pushKeeping(p.ID, a, batch)
}

// mergeAlert applies p field by field. The read flag never goes back to false.
func mergeAlert(a *core.Alert, p *core.AlertPatch) (bool, *core.StaleUpdateError) {
	changed := false
	changed = assign(&a.ThreatID, p.ThreatID) || changed
	changed = assign(&a.Severity, p.Severity) || changed
	changed = assign(&a.Message, p.Message) || changed
	changed = assign(&a.ActionsRequired, p.ActionsRequired) || changed

	if p.Timestamp != nil && !p.Timestamp.IsZero() && !p.Timestamp.Equal(a.Timestamp.Time) {
		a.Timestamp = *p.Timestamp
		changed = true
	}

	var stale *core.StaleUpdateError
	if p.Read != nil && *p.Read != a.Read {
		if core.CanAdvanceReadTo(a.Read, *p.Read) {
			a.Read = *p.Read
			changed = true
		} else {
			stale = &core.StaleUpdateError{
				Kind:     core.KindAlert,
				ID:       a.ID,
				Field:    "read",
				Current:  strconv.FormatBool(a.Read),
				Incoming: strconv.FormatBool(*p.Read),
			}
		}
	}
	return changed, stale
}

// synthesizeAlert builds the alert for a detection that arrived without one.
// Returns nil if the threat is not stored.
func (s *Store) synthesizeAlert(threatID core.ID) *core.AlertPatch {
	t, ok := s.threats.get(threatID)
	if !ok {
		return nil
	}
	id := core.ID("threat-" + threatID.String())
	if _, known := s.alerts.get(id); known {
		// never reset a read flag through a synthesized alert
		return nil
	}

	read := false
	severity := t.Severity
	message := fmt.Sprintf("%s detected from %s", t.Category, t.Source)
	patch := &core.AlertPatch{
		ID:       id,
		ThreatID: &threatID,
		Message:  &message,
		Read:     &read,
	}
	if severity != "" {
		patch.Severity = &severity
	}
	if !t.Timestamp.IsZero() {
		ts := t.Timestamp
		patch.Timestamp = &ts
	}
	return patch
}

// logNamespace scopes the content-derived ids of logs served without one.
var logNamespace = uuid.MustParse("8f0c5a3e-6f4b-4d2a-9c1e-3b7d2e5a9f10")

func newLogEntry(p *core.LogPatch) *core.LogEntry {
	id := p.ID
	if id.IsZero() {
		id = contentLogID(p)
	}
	level := p.Level
	if level == "" {
		level = core.LogLevelInfo
	}
	return &core.LogEntry{
		ID:           id,
		Timestamp:    p.Timestamp,
		Level:        level,
		Source:       p.Source,
		Message:      p.Message,
		AnomalyScore: p.AnomalyScore,
		Metadata:     p.Metadata,
	}
}

// contentLogID names a log entry by what it says, so the same line served in
// successive snapshots maps to one entry and new lines get new ids.
func contentLogID(p *core.LogPatch) core.ID {
	key := strings.Join([]string{
		p.Timestamp.UTC().Format(time.RFC3339Nano),
		string(p.Level),
		p.Source,
		p.Message,
	}, "\x00")
	return core.ID("log-" + uuid.NewSHA1(logNamespace, []byte(key)).String())
}

// insertLog stores a log entry once. Known, evicted and unadmitted ids are
// ignored.
func (s *Store) insertLog(e *core.LogEntry, batch map[core.ID]struct{}) bool {
	if _, ok := s.logs.get(e.ID); ok {
		return false
	}
	if _, ok := batch[e.ID]; !ok {
		return false
	}
	return s.logs.pushKeeping(e.ID, e, batch)
}
