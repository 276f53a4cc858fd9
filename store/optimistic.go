package store

import (
	"context"

	"vigil/core"
)

// MarkThreatMitigating optimistically moves a threat to mitigating. It
// returns the status held before the call and whether anything changed; a
// threat already mitigating or resolved is left alone.
func (s *Store) MarkThreatMitigating(ctx context.Context, id core.ID) (core.ThreatStatus, bool, error) {
	var (
		prior   core.ThreatStatus
		changed bool
	)
	err := s.submit(ctx, "mutation", func() (bool, error) {
		t, ok := s.threats.get(id)
		if !ok {
			return false, &core.UnknownEntityError{Kind: core.KindThreat, ID: id, Op: "respond"}
		}
		prior = t.Status
		if t.Status.Rank() >= core.ThreatStatusMitigating.Rank() {
			return false, nil
		}
		t.Status = core.ThreatStatusMitigating
		s.optimisticThreats[id] = prior
		changed = true
		return true, nil
	})
	return prior, changed, err
}

// RevertThreatStatus undoes MarkThreatMitigating. Nothing happens if the
// server has since confirmed or advanced the status, or the threat is gone.
func (s *Store) RevertThreatStatus(ctx context.Context, id core.ID) (bool, error) {
	var reverted bool
	err := s.submit(ctx, "rollback", func() (bool, error) {
		prior, ok := s.optimisticThreats[id]
		if !ok {
			return false, nil
		}
		delete(s.optimisticThreats, id)

		t, ok := s.threats.get(id)
		if !ok || t.Status != core.ThreatStatusMitigating {
			return false, nil
		}
		t.Status = prior
		reverted = true
		s.logger.Debugw("Reverted optimistic threat status", "threat_id", id, "status", prior)
		return true, nil
	})
	return reverted, err
}

// MarkAlertRead optimistically sets an alert's read flag.
func (s *Store) MarkAlertRead(ctx context.Context, id core.ID) (bool, error) {
	var changed bool
	err := s.submit(ctx, "mutation", func() (bool, error) {
		a, ok := s.alerts.get(id)
		if !ok {
			return false, &core.UnknownEntityError{Kind: core.KindAlert, ID: id, Op: "acknowledge"}
		}
		if a.Read {
			return false, nil
		}
		a.Read = true
		s.optimisticAlerts[id] = struct{}{}
		changed = true
		return true, nil
	})
	return changed, err
}

// RevertAlertRead undoes MarkAlertRead unless the server confirmed it.
func (s *Store) RevertAlertRead(ctx context.Context, id core.ID) (bool, error) {
	var reverted bool
	err := s.submit(ctx, "rollback", func() (bool, error) {
		if _, ok := s.optimisticAlerts[id]; !ok {
			return false, nil
		}
		delete(s.optimisticAlerts, id)

		a, ok := s.alerts.get(id)
		if !ok || !a.Read {
			return false, nil
		}
		a.Read = false
		reverted = true
		s.logger.Debugw("Reverted optimistic alert read", "alert_id", id)
		return true, nil
	})
	return reverted, err
}
