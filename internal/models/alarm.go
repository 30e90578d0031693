package models

import "time"

// Severity orders alarm levels for display and sorting. Stale is not a
// severity: it is an overlay flag driven by elapsed time since last update.
type Severity int

const (
	SeverityNominal Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityNominal:
		return "nominal"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a bus severity string to a Severity. Unrecognized
// values map to critical so a malformed alarm is never silently downgraded.
func ParseSeverity(s string) Severity {
	switch s {
	case "nominal":
		return SeverityNominal
	case "warning":
		return SeverityWarning
	case "critical":
		return SeverityCritical
	default:
		return SeverityCritical
	}
}

// AlarmState is a snapshot of one alarm source.
type AlarmState struct {
	Source   string   `json:"source"`
	Severity Severity `json:"severity"`
	Reason   string   `json:"reason"`

	Acknowledged bool   `json:"acknowledged"`
	AckedBy      string `json:"acked_by,omitempty"`

	Muted      bool      `json:"muted"`
	MutedBy    string    `json:"muted_by,omitempty"`
	MuteExpiry time.Time `json:"mute_expiry,omitempty"`

	Stale     bool      `json:"stale"`
	UpdatedAt time.Time `json:"updated_at"`
}
