package core

import (
	"encoding/json"
	"strings"
)

// Severity ranks a threat or alert: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is one of the known levels
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// UnmarshalJSON lower-cases the wire value. Unknown values are kept so that
// validation can reject them.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Severity(strings.ToLower(strings.TrimSpace(str)))
	return nil
}

// ThreatStatus is a threat's lifecycle position: active < mitigating < resolved.
type ThreatStatus string

const (
	ThreatStatusActive     ThreatStatus = "active"
	ThreatStatusMitigating ThreatStatus = "mitigating"
	ThreatStatusResolved   ThreatStatus = "resolved"

	// threatStatusResponding is what the backend reports between accepting a
	// respond request and starting its playbook. It is stored as mitigating.
	threatStatusResponding ThreatStatus = "responding"
)

// String returns the string representation
func (s ThreatStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid
func (s ThreatStatus) IsValid() bool {
	switch s {
	case ThreatStatusActive, ThreatStatusMitigating, ThreatStatusResolved:
		return true
	default:
		return false
	}
}

// UnmarshalJSON normalizes case and folds "responding" into mitigating.
func (s *ThreatStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	status := ThreatStatus(strings.ToLower(strings.TrimSpace(str)))
	if status == threatStatusResponding {
		status = ThreatStatusMitigating
	}
	*s = status
	return nil
}

// LogLevel orders log severities: INFO < WARN < ERROR < CRITICAL.
type LogLevel string

const (
	LogLevelInfo     LogLevel = "INFO"
	LogLevelWarn     LogLevel = "WARN"
	LogLevelError    LogLevel = "ERROR"
	LogLevelCritical LogLevel = "CRITICAL"
)

// String returns the string representation
func (l LogLevel) String() string {
	return string(l)
}

// UnmarshalJSON upper-cases the wire value and accepts WARNING for WARN.
func (l *LogLevel) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	level := LogLevel(strings.ToUpper(strings.TrimSpace(str)))
	if level == "WARNING" {
		level = LogLevelWarn
	}
	*l = level
	return nil
}

// ConnectionState is the push connection's lifecycle state.
type ConnectionState string

const (
	ConnectionConnecting ConnectionState = "connecting"
	ConnectionOpen       ConnectionState = "open"
	ConnectionClosed     ConnectionState = "closed"
)

// String returns the string representation
func (c ConnectionState) String() string {
	return string(c)
}

// Collection names one of the polled snapshot endpoints.
type Collection string

const (
	CollectionStats   Collection = "stats"
	CollectionThreats Collection = "threats"
	CollectionLogs    Collection = "logs"
	CollectionAlerts  Collection = "alerts"
)

// Collections lists every polled collection in fetch order.
var Collections = []Collection{CollectionStats, CollectionThreats, CollectionLogs, CollectionAlerts}

// String returns the string representation
func (c Collection) String() string {
	return string(c)
}

// IsValid checks if the collection is one of the polled endpoints
func (c Collection) IsValid() bool {
	switch c {
	case CollectionStats, CollectionThreats, CollectionLogs, CollectionAlerts:
		return true
	default:
		return false
	}
}

// Push event types understood by the store. Anything else is ignored.
const (
	EventThreatDetected    = "threat_detected"
	EventResponseInitiated = "response_initiated"
	EventThreatResolved    = "threat_resolved"
)

// IsKnownEvent reports whether the store handles the event type.
func IsKnownEvent(eventType string) bool {
	switch eventType {
	case EventThreatDetected, EventResponseInitiated, EventThreatResolved:
		return true
	default:
		return false
	}
}

// EntityKind names an entity type for errors, logs and metric labels.
type EntityKind string

const (
	KindThreat EntityKind = "threat"
	KindAlert  EntityKind = "alert"
	KindLog    EntityKind = "log"
	KindStats  EntityKind = "stats"
)

// AnomalyThreshold is the score at or above which a log entry is anomalous.
const AnomalyThreshold = 0.7

// Response actions accepted by the backend's respond endpoint.
const (
	ActionAutoMitigate = "auto_mitigate"
	ActionInvestigate  = "investigate"
	ActionContain      = "contain"
)
