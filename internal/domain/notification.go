package domain

import "time"

// Severity is notification colour/importance level.
type Severity string

const (
	// SeverityInfo marks lifecycle messages.
	SeverityInfo Severity = "info"
	// SeverityWarning marks impacts and recoverable failures.
	SeverityWarning Severity = "warning"
	// SeverityCritical marks aborted events.
	SeverityCritical Severity = "critical"
)

// Color returns embed colour for severity.
func (s Severity) Color() int {
	switch s {
	case SeverityWarning:
		return 0xFFA500
	case SeverityCritical:
		return 0xFF0000
	default:
		return 0x3498DB
	}
}

// NotificationKind identifies what produced a notification.
type NotificationKind string

const (
	// KindEventStarted is sent when an event enters Active.
	KindEventStarted NotificationKind = "event_started"
	// KindEventEnded is sent when an event reaches Ended.
	KindEventEnded NotificationKind = "event_ended"
	// KindEventSkipped is sent when preconditions fail or an event aborts.
	KindEventSkipped NotificationKind = "event_skipped"
	// KindImpact is sent for each reported impact.
	KindImpact NotificationKind = "impact"
)

// Field is one named value in structured payload.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Notification contains outbound structured payload.
// Params: rate-limit category, kind, title/description, severity, fields and timestamp.
// Returns: one notification request for the dispatcher.
type Notification struct {
	Category    string           `json:"category"`
	Kind        NotificationKind `json:"kind"`
	EventID     string           `json:"event_id,omitempty"`
	Intensity   IntensityName    `json:"intensity,omitempty"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Severity    Severity         `json:"severity"`
	Fields      []Field          `json:"fields,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Field returns value of named field or empty string.
func (n Notification) Field(name string) string {
	for _, field := range n.Fields {
		if field.Name == name {
			return field.Value
		}
	}
	return ""
}
