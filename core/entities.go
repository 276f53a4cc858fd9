package core

// Threat is a detection tracked by the console.
type Threat struct {
	ID              ID           `json:"id" yaml:"id"`
	Category        string       `json:"category" yaml:"category"`
	Source          string       `json:"source" yaml:"source"`
	Severity        Severity     `json:"severity" yaml:"severity"`
	Confidence      float64      `json:"confidence" yaml:"confidence"`
	Status          ThreatStatus `json:"status" yaml:"status"`
	Timestamp       Timestamp    `json:"timestamp" yaml:"timestamp"`
	LogID           ID           `json:"log_id,omitempty" yaml:"log_id,omitempty"`
	RiskLevel       int          `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
	Description     string       `json:"description,omitempty" yaml:"description,omitempty"`
	ResponseType    string       `json:"response_type,omitempty" yaml:"response_type,omitempty"`
	ResponseActions []string     `json:"response_actions,omitempty" yaml:"response_actions,omitempty"`
}

// Clone returns a deep copy.
func (t *Threat) Clone() Threat {
	c := *t
	if t.ResponseActions != nil {
		c.ResponseActions = append([]string(nil), t.ResponseActions...)
	}
	return c
}

// IsActive reports whether the threat still needs a response.
func (t *Threat) IsActive() bool {
	return t.Status == ThreatStatusActive
}

// Alert is an operator notification, usually correlated with a threat.
type Alert struct {
	ID              ID        `json:"id" yaml:"id"`
	ThreatID        ID        `json:"threat_id,omitempty" yaml:"threat_id,omitempty"`
	Severity        Severity  `json:"severity" yaml:"severity"`
	Message         string    `json:"message" yaml:"message"`
	Timestamp       Timestamp `json:"timestamp" yaml:"timestamp"`
	Read            bool      `json:"read" yaml:"read"`
	ActionsRequired bool      `json:"actions_required,omitempty" yaml:"actions_required,omitempty"`
}

// Clone returns a copy.
func (a *Alert) Clone() Alert {
	return *a
}

// LogEntry is an immutable log observation.
type LogEntry struct {
	ID           ID                     `json:"id" yaml:"id"`
	Timestamp    Timestamp              `json:"timestamp" yaml:"timestamp"`
	Level        LogLevel               `json:"level" yaml:"level"`
	Source       string                 `json:"source" yaml:"source"`
	Message      string                 `json:"message" yaml:"message"`
	AnomalyScore float64                `json:"anomaly_score" yaml:"anomaly_score"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Clone returns a copy. Metadata values are shared; entries are never
// mutated after creation.
func (l *LogEntry) Clone() LogEntry {
	c := *l
	if l.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(l.Metadata))
		for k, v := range l.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// IsAnomalous reports whether the anomaly score crosses AnomalyThreshold.
func (l *LogEntry) IsAnomalous() bool {
	return l.AnomalyScore >= AnomalyThreshold
}

// Stats holds the dashboard counters shown to the operator.
type Stats struct {
	ActiveThreats int `json:"active_threats" yaml:"active_threats"`
	TotalLogs     int `json:"total_logs" yaml:"total_logs"`
	UnreadAlerts  int `json:"unread_alerts" yaml:"unread_alerts"`
	// ThreatLevels counts active threats per severity. Every severity is
	// present.
	ThreatLevels map[Severity]int `json:"threat_levels" yaml:"threat_levels"`
}

// Severities lists every severity from lowest to highest.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
