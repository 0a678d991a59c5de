package audit

import (
	"context"
	"fmt"

	"github.com/BradenHooton/aegis/internal/models"
)

// LogLogin records a login attempt. A failed attempt also raises a medium
// multiple_failed_logins event.
func (l *Logger) LogLogin(ctx context.Context, userID string, success bool, client RequestInfo, metadata models.Metadata) *models.SecurityAuditLog {
	entry := l.Log(ctx, Entry{
		UserID:   userID,
		Action:   models.AuditActionLogin,
		Resource: models.AuditResourceAuth,
		Result:   models.ResultFromBool(success),
		Metadata: metadata,
		Client:   client,
	})

	if !success {
		l.LogSecurityEvent(ctx, EventInput{
			UserID:      userID,
			Type:        models.EventMultipleFailedLogins,
			Description: "failed login attempt",
			Severity:    models.SeverityMedium,
			Metadata:    metadata,
			Client:      client,
		})
	}
	return entry
}

// LogPermissionCheck records an authorisation decision. Denials are recorded as blocked.
func (l *Logger) LogPermissionCheck(ctx context.Context, userID, permission, resource string, granted bool, client RequestInfo) *models.SecurityAuditLog {
	result := models.AuditResultSuccess
	if !granted {
		result = models.AuditResultBlocked
	}
	return l.Log(ctx, Entry{
		UserID:   userID,
		Action:   models.AuditActionPermissionCheck,
		Resource: resource,
		Result:   result,
		Metadata: models.Metadata{"permission": permission, "granted": granted},
		Client:   client,
	})
}

// LogDataAccess records a successful read or write of resource
func (l *Logger) LogDataAccess(ctx context.Context, userID, resource, action string, client RequestInfo, metadata models.Metadata) *models.SecurityAuditLog {
	return l.Log(ctx, Entry{
		UserID:   userID,
		Action:   action,
		Resource: resource,
		Result:   models.AuditResultSuccess,
		Metadata: metadata,
		Client:   client,
	})
}

// SensitiveOperation describes an operation that always raises a high severity event
type SensitiveOperation struct {
	UserID    string
	Operation string
	Resource  string
	Success   bool
	Metadata  models.Metadata
	Client    RequestInfo

	// EventType defaults to data_export
	EventType models.SecurityEventType
}

// LogSensitiveOperation records the operation flagged sensitive, which makes its risk level
// high, and raises one high severity event for it.
func (l *Logger) LogSensitiveOperation(ctx context.Context, op SensitiveOperation) (*models.SecurityAuditLog, *models.SecurityEvent) {
	metadata := op.Metadata.Clone()
	metadata["sensitive"] = true

	entry := l.Log(ctx, Entry{
		UserID:   op.UserID,
		Action:   op.Operation,
		Resource: op.Resource,
		Result:   models.ResultFromBool(op.Success),
		Metadata: metadata,
		Client:   op.Client,
	})

	eventType := op.EventType
	if eventType == "" {
		eventType = models.EventDataExport
	}
	event := l.LogSecurityEvent(ctx, EventInput{
		UserID:      op.UserID,
		Type:        eventType,
		Description: fmt.Sprintf("sensitive operation %s on %s", op.Operation, op.Resource),
		Severity:    models.SeverityHigh,
		Metadata:    models.Metadata{"operation": op.Operation, "resource": op.Resource, "success": op.Success, "audit_id": entry.ID},
		Client:      op.Client,
	})
	return entry, event
}

// LogPasswordChange records a password change. A successful change also raises a
// password_changed event.
func (l *Logger) LogPasswordChange(ctx context.Context, userID string, success bool, client RequestInfo) *models.SecurityAuditLog {
	entry := l.Log(ctx, Entry{
		UserID:   userID,
		Action:   models.AuditActionPasswordChange,
		Resource: models.AuditResourceAccount,
		Result:   models.ResultFromBool(success),
		Client:   client,
	})

	if success {
		l.LogSecurityEvent(ctx, EventInput{
			UserID:      userID,
			Type:        models.EventPasswordChanged,
			Description: "password changed",
			Severity:    models.SeverityMedium,
			Client:      client,
		})
	}
	return entry
}

// LogAccountLock records an account lock and raises a high severity account_locked event
func (l *Logger) LogAccountLock(ctx context.Context, userID, reason string, client RequestInfo) *models.SecurityAuditLog {
	metadata := models.Metadata{"reason": reason}
	entry := l.Log(ctx, Entry{
		UserID:   userID,
		Action:   models.AuditActionAccountLock,
		Resource: models.AuditResourceAccount,
		Result:   models.AuditResultSuccess,
		Metadata: metadata,
		Client:   client,
	})

	l.LogSecurityEvent(ctx, EventInput{
		UserID:      userID,
		Type:        models.EventAccountLocked,
		Description: fmt.Sprintf("account locked: %s", reason),
		Severity:    models.SeverityHigh,
		Metadata:    metadata,
		Client:      client,
	})
	return entry
}
