package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"vigil/core"
)

// ApplySnapshot merges a polled collection payload into the store. Threat,
// alert and log payloads are objects holding an array under the collection
// name ({"threats": [...]}); stats is a flat object.
//
// A payload that cannot be parsed as a whole is rejected and nothing is
// applied. Individual malformed items are reported and skipped. Entities
// missing from the snapshot are kept.
func (s *Store) ApplySnapshot(ctx context.Context, collection core.Collection, payload []byte) error {
	source := "snapshot:" + collection.String()

	switch collection {
	case core.CollectionStats:
		patch, err := core.DecodeStatsPatch(payload)
		if err != nil {
			return &core.MalformedPayloadError{Source: source, Index: -1, Err: err}
		}
		return s.submit(ctx, source, func() (bool, error) {
			return s.applyStats(patch), nil
		})

	case core.CollectionThreats:
		items, err := splitItems(payload, collection)
		if err != nil {
			return &core.MalformedPayloadError{Source: source, Index: -1, Err: err}
		}
		patches := make([]*core.ThreatPatch, 0, len(items))
		for i, raw := range items {
			p, err := core.DecodeThreatPatch(raw)
			if err != nil {
				s.report(&core.MalformedPayloadError{Source: source, Index: i, Err: err})
				continue
			}
			patches = append(patches, p)
		}
		return s.submit(ctx, source, func() (bool, error) {
			ids := make([]core.ID, len(patches))
			for i, p := range patches {
				ids[i] = p.ID
			}
			batch := s.threats.admit(ids)
			changed := false
			for _, p := range patches {
				if s.upsertThreat(p, batch) {
					changed = true
				}
			}
			s.logger.Debugw("Snapshot applied", "collection", collection, "items", len(patches), "changed", changed)
			return changed, nil
		})

	case core.CollectionAlerts:
		items, err := splitItems(payload, collection)
		if err != nil {
			return &core.MalformedPayloadError{Source: source, Index: -1, Err: err}
		}
		patches := make([]*core.AlertPatch, 0, len(items))
		for i, raw := range items {
			p, err := core.DecodeAlertPatch(raw)
			if err != nil {
				s.report(&core.MalformedPayloadError{Source: source, Index: i, Err: err})
				continue
			}
			patches = append(patches, p)
		}
		return s.submit(ctx, source, func() (bool, error) {
			ids := make([]core.ID, len(patches))
			for i, p := range patches {
				ids[i] = p.ID
			}
			batch := s.alerts.admit(ids)
			changed := false
			for _, p := range patches {
				if s.upsertAlert(p, batch) {
					changed = true
				}
			}
			s.logger.Debugw("Snapshot applied", "collection", collection, "items", len(patches), "changed", changed)
			return changed, nil
		})

	case core.CollectionLogs:
		items, err := splitItems(payload, collection)
		if err != nil {
			return &core.MalformedPayloadError{Source: source, Index: -1, Err: err}
		}
		entries := make([]*core.LogEntry, 0, len(items))
		for i, raw := range items {
			p, err := core.DecodeLogPatch(raw)
			if err != nil {
				s.report(&core.MalformedPayloadError{Source: source, Index: i, Err: err})
				continue
			}
			entries = append(entries, newLogEntry(p))
		}
		return s.submit(ctx, source, func() (bool, error) {
			ids := make([]core.ID, len(entries))
			for i, e := range entries {
				ids[i] = e.ID
			}
			batch := s.logs.admit(ids)
			changed := false
			for _, e := range entries {
				if s.insertLog(e, batch) {
					changed = true
				}
			}
			s.logger.Debugw("Snapshot applied", "collection", collection, "items", len(entries), "changed", changed)
			return changed, nil
		})

	default:
		return fmt.Errorf("unknown collection %q", collection)
	}
}

// splitItems extracts the raw items of a collection payload. A null array
// counts as empty.
func splitItems(payload []byte, collection core.Collection) ([]json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	raw, ok := envelope[collection.String()]
	if !ok {
		return nil, fmt.Errorf("missing %q array", collection)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode %q array: %w", collection, err)
	}
	return items, nil
}

// eventBody is the payload of a push event after the type tag is removed.
type eventBody struct {
	Threat json.RawMessage `json:"threat"`
	Alert  json.RawMessage `json:"alert"`
}

// ApplyEvent merges one push event. Unknown event types are ignored. Events
// for threats the store does not hold return a core.UnknownEntityError and
// change nothing.
func (s *Store) ApplyEvent(ctx context.Context, eventType string, payload []byte) error {
	if !core.IsKnownEvent(eventType) {
		s.logger.Debugw("Ignoring unknown event type", "type", eventType)
		return nil
	}
	source := "event:" + eventType

	var body eventBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return &core.MalformedPayloadError{Source: source, Index: -1, Err: err}
	}
	if isAbsent(body.Threat) {
		return &core.MalformedPayloadError{Source: source, Index: -1, Err: errors.New("missing threat")}
	}
	threat, err := core.DecodeThreatPatch(body.Threat)
	if err != nil {
		return &core.MalformedPayloadError{Source: source, Index: -1, Err: err}
	}

	switch eventType {
	case core.EventThreatDetected:
		var alert *core.AlertPatch
		if !isAbsent(body.Alert) {
			alert, err = core.DecodeAlertPatch(body.Alert)
			if err != nil {
				return &core.MalformedPayloadError{Source: source, Index: -1, Err: err}
			}
		}
		return s.submit(ctx, source, func() (bool, error) {
			if _, ok := s.threats.get(threat.ID); !ok && s.threats.evicted(threat.ID) {
				// no alert for a threat the store will never hold
				s.logger.Debugw("Ignoring detection of evicted threat", "threat_id", threat.ID)
				return false, nil
			}
			changed := s.upsertThreat(threat, nil)
			if alert == nil {
				alert = s.synthesizeAlert(threat.ID)
			}
			if alert != nil && s.upsertAlert(alert, nil) {
				changed = true
			}
			return changed, nil
		})

	case core.EventResponseInitiated, core.EventThreatResolved:
		if threat.Status == nil {
			implied := core.ThreatStatusMitigating
			if eventType == core.EventThreatResolved {
				implied = core.ThreatStatusResolved
			}
			threat.Status = &implied
		}
		return s.submit(ctx, source, func() (bool, error) {
			if _, ok := s.threats.get(threat.ID); !ok {
				return false, &core.UnknownEntityError{Kind: core.KindThreat, ID: threat.ID, Op: eventType}
			}
			return s.upsertThreat(threat, nil), nil
		})
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
