package logger

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/aegis/internal/models"
)

// AuditLogger writes the structured log half of the audit dual-write
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogEntry emits an audit log entry. Failed and blocked results log at warn.
func (al *AuditLogger) LogEntry(ctx context.Context, entry *models.SecurityAuditLog) {
	attrs := []slog.Attr{
		slog.String("audit_type", "entry"),
		slog.String("audit_id", entry.ID),
		slog.String("action", entry.Action),
		slog.String("resource", entry.Resource),
		slog.String("result", string(entry.Result)),
		slog.String("risk_level", string(entry.RiskLevel)),
		slog.String("ip_address", entry.IPAddress),
		slog.String("timestamp", entry.Timestamp.UTC().Format(time.RFC3339)),
	}

	if entry.UserID != "" {
		attrs = append(attrs, slog.String("user_id", entry.UserID))
	}
	if entry.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", entry.SessionID))
	}
	if entry.Location != "" {
		attrs = append(attrs, slog.String("location", entry.Location))
	}

	level := slog.LevelInfo
	if entry.Result != models.AuditResultSuccess {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogEvent emits a security event. Severity maps onto the log level.
func (al *AuditLogger) LogEvent(ctx context.Context, event *models.SecurityEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security_event"),
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.String("severity", string(event.Severity)),
		slog.String("description", event.Description),
		slog.String("ip_address", event.IPAddress),
		slog.String("timestamp", event.CreatedAt.UTC().Format(time.RFC3339)),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}

	level := slog.LevelInfo
	switch event.Severity {
	case models.SeverityCritical:
		level = slog.LevelError
	case models.SeverityHigh, models.SeverityMedium:
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "security event", attrs...)
}

// LogResolution records an operator closing a security event
func (al *AuditLogger) LogResolution(ctx context.Context, eventID, resolvedBy string) {
	al.logger.LogAttrs(ctx, slog.LevelInfo, "security event resolved",
		slog.String("audit_type", "resolution"),
		slog.String("event_id", eventID),
		slog.String("resolved_by", resolvedBy),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	)
}
