package models

import "time"

// SecurityEventType classifies operator-facing security events
type SecurityEventType string

const (
	EventSuspiciousLogin      SecurityEventType = "suspicious_login"
	EventMultipleFailedLogins SecurityEventType = "multiple_failed_logins"
	EventPasswordChanged      SecurityEventType = "password_changed"
	EventTwoFactorDisabled    SecurityEventType = "two_factor_disabled"
	EventAccountLocked        SecurityEventType = "account_locked"
	EventUnusualActivity      SecurityEventType = "unusual_activity"
	EventDataExport           SecurityEventType = "data_export"
	EventPermissionEscalation SecurityEventType = "permission_escalation"
)

// Valid reports whether t is a known event type
func (t SecurityEventType) Valid() bool {
	switch t {
	case EventSuspiciousLogin, EventMultipleFailedLogins, EventPasswordChanged, EventTwoFactorDisabled,
		EventAccountLocked, EventUnusualActivity, EventDataExport, EventPermissionEscalation:
		return true
	}
	return false
}

// Severity of a security event
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// RequiresAlert reports whether events of this severity go to the critical-event handler
func (s Severity) RequiresAlert() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// SecurityEvent is a higher-severity record that stays open until resolved
type SecurityEvent struct {
	ID          string            `db:"id" json:"id"`
	UserID      string            `db:"user_id" json:"userId"`
	Type        SecurityEventType `db:"type" json:"type"`
	Description string            `db:"description" json:"description"`
	Severity    Severity          `db:"severity" json:"severity"`
	IPAddress   string            `db:"ip_address" json:"ipAddress"`
	UserAgent   string            `db:"user_agent" json:"userAgent"`
	Location    string            `db:"location" json:"location,omitempty"`
	Metadata    Metadata          `db:"metadata" json:"metadata"`
	Resolved    bool              `db:"resolved" json:"resolved"`
	ResolvedAt  *time.Time        `db:"resolved_at" json:"resolvedAt,omitempty"`
	ResolvedBy  string            `db:"resolved_by" json:"resolvedBy,omitempty"`
	CreatedAt   time.Time         `db:"created_at" json:"createdAt"`
}

// Clone returns a copy with its own metadata map
func (e *SecurityEvent) Clone() *SecurityEvent {
	c := *e
	c.Metadata = e.Metadata.Clone()
	if e.ResolvedAt != nil {
		at := *e.ResolvedAt
		c.ResolvedAt = &at
	}
	return &c
}

// SecurityEventFilter selects security events. Zero values match everything.
type SecurityEventFilter struct {
	UserID   string
	Type     SecurityEventType
	Severity Severity
	Resolved *bool
	From     time.Time
	To       time.Time
	Limit    int
}

// Matches reports whether event satisfies every set field of the filter
func (f SecurityEventFilter) Matches(event *SecurityEvent) bool {
	if f.UserID != "" && event.UserID != f.UserID {
		return false
	}
	if f.Type != "" && event.Type != f.Type {
		return false
	}
	if f.Severity != "" && event.Severity != f.Severity {
		return false
	}
	if f.Resolved != nil && event.Resolved != *f.Resolved {
		return false
	}
	if !f.From.IsZero() && event.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && event.CreatedAt.After(f.To) {
		return false
	}
	return true
}
