package models

import "time"

// Audit actions recorded by the convenience wrappers
const (
	AuditActionLogin           = "user_login"
	AuditActionPermissionCheck = "permission_check"
	AuditActionPasswordChange  = "password_change"
	AuditActionAccountLock     = "account_locked"
	AuditActionDataExport      = "data_export"
)

// Audit resources recorded by the convenience wrappers
const (
	AuditResourceAuth    = "auth"
	AuditResourceAccount = "user_account"
	AuditResourceAudit   = "audit_logs"
)

// AuditResult is the outcome of an audited action
type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
	AuditResultBlocked AuditResult = "blocked"
)

// ResultFromBool maps a success flag to success/failure
func ResultFromBool(success bool) AuditResult {
	if success {
		return AuditResultSuccess
	}
	return AuditResultFailure
}

// Valid reports whether r is a known result
func (r AuditResult) Valid() bool {
	switch r {
	case AuditResultSuccess, AuditResultFailure, AuditResultBlocked:
		return true
	}
	return false
}

// SecurityAuditLog is an append-only audit trail entry
type SecurityAuditLog struct {
	ID        string      `db:"id" json:"id"`
	UserID    string      `db:"user_id" json:"userId,omitempty"`
	SessionID string      `db:"session_id" json:"sessionId,omitempty"`
	Action    string      `db:"action" json:"action"`
	Resource  string      `db:"resource" json:"resource"`
	Result    AuditResult `db:"result" json:"result"`
	RiskLevel RiskLevel   `db:"risk_level" json:"riskLevel"`
	IPAddress string      `db:"ip_address" json:"ipAddress"`
	UserAgent string      `db:"user_agent" json:"userAgent"`
	Location  string      `db:"location" json:"location,omitempty"`
	Metadata  Metadata    `db:"metadata" json:"metadata"`
	Timestamp time.Time   `db:"timestamp" json:"timestamp"`
}

// Clone returns a copy with its own metadata map
func (l *SecurityAuditLog) Clone() *SecurityAuditLog {
	c := *l
	c.Metadata = l.Metadata.Clone()
	return &c
}

// AuditLogFilter selects audit log entries. Zero values match everything.
type AuditLogFilter struct {
	UserID   string
	Action   string
	Resource string
	Result   AuditResult
	From     time.Time
	To       time.Time
	Limit    int
}

// Matches reports whether log satisfies every set field of the filter
func (f AuditLogFilter) Matches(log *SecurityAuditLog) bool {
	if f.UserID != "" && log.UserID != f.UserID {
		return false
	}
	if f.Action != "" && log.Action != f.Action {
		return false
	}
	if f.Resource != "" && log.Resource != f.Resource {
		return false
	}
	if f.Result != "" && log.Result != f.Result {
		return false
	}
	if !f.From.IsZero() && log.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && log.Timestamp.After(f.To) {
		return false
	}
	return true
}

// CountEntry is one row of a top-N breakdown
type CountEntry struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// AuditStats aggregates audit logs and security events over a time range
type AuditStats struct {
	Since            time.Time    `json:"since"`
	TotalLogs        int          `json:"totalLogs"`
	SuccessLogs      int          `json:"successLogs"`
	FailureLogs      int          `json:"failureLogs"`
	BlockedLogs      int          `json:"blockedLogs"`
	TotalEvents      int          `json:"totalEvents"`
	UnresolvedEvents int          `json:"unresolvedEvents"`
	CriticalEvents   int          `json:"criticalEvents"`
	HighEvents       int          `json:"highEvents"`
	TopActions       []CountEntry `json:"topActions"`
	TopUsers         []CountEntry `json:"topUsers"`
	TopIPs           []CountEntry `json:"topIps"`
}
