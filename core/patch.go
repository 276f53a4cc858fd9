package core

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is shared; validator caches struct metadata per type.
var validate = validator.New()

// ThreatPatch is a partial threat as carried by a snapshot item or event.
// Nil fields were absent on the wire and leave the stored value untouched.
type ThreatPatch struct {
	ID              ID            `json:"id" validate:"required"`
	Category        *string       `json:"category"`
	Type            *string       `json:"type"`
	Source          *string       `json:"source"`
	Severity        *Severity     `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Confidence      *float64      `json:"confidence" validate:"omitempty,min=0,max=100"`
	Status          *ThreatStatus `json:"status" validate:"omitempty,oneof=active mitigating resolved"`
	Timestamp       *Timestamp    `json:"timestamp"`
	LogID           *ID           `json:"log_id"`
	RiskLevel       *int          `json:"risk_level" validate:"omitempty,min=0,max=5"`
	Description     *string       `json:"description"`
	ResponseType    *string       `json:"response_type"`
	ResponseActions []string      `json:"response_actions"`
}

// CategoryValue returns the category, falling back to the "type" alias.
func (p *ThreatPatch) CategoryValue() *string {
	if p.Category != nil {
		return p.Category
	}
	return p.Type
}

// AlertPatch is a partial alert.
type AlertPatch struct {
	ID              ID         `json:"id" validate:"required"`
	ThreatID        *ID        `json:"threat_id"`
	Severity        *Severity  `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Message         *string    `json:"message"`
	Timestamp       *Timestamp `json:"timestamp"`
	Read            *bool      `json:"read"`
	ActionsRequired *bool      `json:"actions_required"`
}

// LogPatch is a log entry as delivered by the logs snapshot. The id is
// optional; the store falls back to the item's position.
type LogPatch struct {
	ID           ID                     `json:"id"`
	Timestamp    Timestamp              `json:"timestamp"`
	Level        LogLevel               `json:"level" validate:"omitempty,oneof=INFO WARN ERROR CRITICAL"`
	Source       string                 `json:"source"`
	Message      string                 `json:"message"`
	AnomalyScore float64                `json:"anomaly_score"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// StatsPatch is the backend's dashboard counters. Nil means the backend did
// not report the field.
type StatsPatch struct {
	ActiveThreats *int `json:"active_threats" validate:"omitempty,min=0"`
	TotalLogs     *int `json:"total_logs" validate:"omitempty,min=0"`
	UnreadAlerts  *int `json:"unread_alerts" validate:"omitempty,min=0"`
	// ThreatLevels is the per-severity breakdown of active threats. Severities
	// the backend omits are derived.
	ThreatLevels map[Severity]int `json:"threat_levels" validate:"omitempty,dive,keys,oneof=low medium high critical,endkeys,min=0"`
}

// DecodeThreatPatch decodes and validates one threat item.
func DecodeThreatPatch(raw []byte) (*ThreatPatch, error) {
	var p ThreatPatch
	if err := decodeAndValidate(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeAlertPatch decodes and validates one alert item.
func DecodeAlertPatch(raw []byte) (*AlertPatch, error) {
	var p AlertPatch
	if err := decodeAndValidate(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeLogPatch decodes and validates one log item.
func DecodeLogPatch(raw []byte) (*LogPatch, error) {
	var p LogPatch
	if err := decodeAndValidate(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeStatsPatch decodes and validates the stats object.
func DecodeStatsPatch(raw []byte) (*StatsPatch, error) {
	var p StatsPatch
	if err := decodeAndValidate(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func decodeAndValidate(raw []byte, dst interface{}) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}
