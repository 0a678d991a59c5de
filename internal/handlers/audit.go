package handlers

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/aegis/internal/audit"
	"github.com/BradenHooton/aegis/internal/auth"
	"github.com/BradenHooton/aegis/internal/counter"
	"github.com/BradenHooton/aegis/internal/models"
	pkghttp "github.com/BradenHooton/aegis/pkg/http"
)

const (
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	defaultStatsSince = 24 * time.Hour
)

// AuditHandler serves audit trail writes, queries and export
type AuditHandler struct {
	audit    *audit.Logger
	counters counter.Counter
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuditHandler creates a new AuditHandler. counters receives permission denials so
// behavior assessments can count them.
func NewAuditHandler(auditLogger *audit.Logger, counters counter.Counter, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:    auditLogger,
		counters: counters,
		logger:   logger,
		now:      time.Now,
	}
}

// LogEntryRequest is a free-form audit entry
type LogEntryRequest struct {
	UserID    string             `json:"user_id" validate:"max=128"`
	SessionID string             `json:"session_id" validate:"max=128"`
	Action    string             `json:"action" validate:"required,max=128"`
	Resource  string             `json:"resource" validate:"required,max=256"`
	Result    models.AuditResult `json:"result" validate:"required,oneof=success failure blocked"`
	Metadata  models.Metadata    `json:"metadata"`
	ClientFields
}

// SecurityEventRequest raises a security event
type SecurityEventRequest struct {
	UserID      string                   `json:"user_id" validate:"max=128"`
	Type        models.SecurityEventType `json:"type" validate:"required,oneof=suspicious_login multiple_failed_logins password_changed two_factor_disabled account_locked unusual_activity data_export permission_escalation"`
	Description string                   `json:"description" validate:"required,max=1024"`
	Severity    models.Severity          `json:"severity" validate:"required,oneof=low medium high critical"`
	Metadata    models.Metadata          `json:"metadata"`
	ClientFields
}

// ResolveEventRequest closes a security event
type ResolveEventRequest struct {
	Resolution string `json:"resolution" validate:"max=2048"`
}

// PermissionCheckRequest reports an authorisation decision
type PermissionCheckRequest struct {
	UserID     string `json:"user_id" validate:"required,max=128"`
	Permission string `json:"permission" validate:"required,max=128"`
	Resource   string `json:"resource" validate:"required,max=256"`
	Granted    *bool  `json:"granted" validate:"required"`
	ClientFields
}

// PasswordChangeRequest reports a password change attempt
type PasswordChangeRequest struct {
	UserID  string `json:"user_id" validate:"required,max=128"`
	Success *bool  `json:"success" validate:"required"`
	ClientFields
}

// AccountLockRequest reports an account being locked
type AccountLockRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
	Reason string `json:"reason" validate:"required,max=512"`
	ClientFields
}

// SensitiveOperationRequest reports an operation that always raises a high severity event
type SensitiveOperationRequest struct {
	UserID    string                   `json:"user_id" validate:"max=128"`
	Operation string                   `json:"operation" validate:"required,max=128"`
	Resource  string                   `json:"resource" validate:"required,max=256"`
	Success   *bool                    `json:"success" validate:"required"`
	EventType models.SecurityEventType `json:"event_type" validate:"omitempty,oneof=suspicious_login multiple_failed_logins password_changed two_factor_disabled account_locked unusual_activity data_export permission_escalation"`
	Metadata  models.Metadata          `json:"metadata"`
	ClientFields
}

// SensitiveOperationResponse carries both records raised by a sensitive operation
type SensitiveOperationResponse struct {
	AuditLog *models.SecurityAuditLog `json:"auditLog"`
	Event    *models.SecurityEvent    `json:"event"`
}

// DataAccessRequest reports a read or write of a resource
type DataAccessRequest struct {
	UserID   string          `json:"user_id" validate:"required,max=128"`
	Resource string          `json:"resource" validate:"required,max=256"`
	Action   string          `json:"action" validate:"required,max=128"`
	Metadata models.Metadata `json:"metadata"`
	ClientFields
}

// CreateLog handles POST /v1/audit/logs
func (h *AuditHandler) CreateLog(w http.ResponseWriter, r *http.Request) {
	var req LogEntryRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	entry := h.audit.Log(r.Context(), audit.Entry{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Action:    req.Action,
		Resource:  req.Resource,
		Result:    req.Result,
		Metadata:  req.Metadata,
		Client:    req.info(r),
	})
	pkghttp.WriteJSON(w, http.StatusCreated, entry)
}

// CreateEvent handles POST /v1/audit/events
func (h *AuditHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req SecurityEventRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	event := h.audit.LogSecurityEvent(r.Context(), audit.EventInput{
		UserID:      req.UserID,
		Type:        req.Type,
		Description: req.Description,
		Severity:    req.Severity,
		Metadata:    req.Metadata,
		Client:      req.info(r),
	})
	pkghttp.WriteJSON(w, http.StatusCreated, event)
}

// CreatePermissionCheck handles POST /v1/audit/permission-checks. Denials also feed the
// per-user permission denied counter.
func (h *AuditHandler) CreatePermissionCheck(w http.ResponseWriter, r *http.Request) {
	var req PermissionCheckRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	granted := *req.Granted
	if !granted {
		if err := h.counters.Add(ctx, counter.ActionKey(req.UserID, actionPermissionDenied), h.now()); err != nil {
			h.logger.WarnContext(ctx, "counter write failed", slog.Any("error", err))
		}
	}

	entry := h.audit.LogPermissionCheck(ctx, req.UserID, req.Permission, req.Resource, granted, req.info(r))
	pkghttp.WriteJSON(w, http.StatusCreated, entry)
}

// CreatePasswordChange handles POST /v1/audit/password-changes
func (h *AuditHandler) CreatePasswordChange(w http.ResponseWriter, r *http.Request) {
	var req PasswordChangeRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	entry := h.audit.LogPasswordChange(r.Context(), req.UserID, *req.Success, req.info(r))
	pkghttp.WriteJSON(w, http.StatusCreated, entry)
}

// CreateAccountLock handles POST /v1/audit/account-locks
func (h *AuditHandler) CreateAccountLock(w http.ResponseWriter, r *http.Request) {
	var req AccountLockRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	entry := h.audit.LogAccountLock(r.Context(), req.UserID, req.Reason, req.info(r))
	pkghttp.WriteJSON(w, http.StatusCreated, entry)
}

// CreateSensitiveOperation handles POST /v1/audit/sensitive-operations
func (h *AuditHandler) CreateSensitiveOperation(w http.ResponseWriter, r *http.Request) {
	var req SensitiveOperationRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	entry, event := h.audit.LogSensitiveOperation(r.Context(), audit.SensitiveOperation{
		UserID:    req.UserID,
		Operation: req.Operation,
		Resource:  req.Resource,
		Success:   *req.Success,
		Metadata:  req.Metadata,
		Client:    req.info(r),
		EventType: req.EventType,
	})
	pkghttp.WriteJSON(w, http.StatusCreated, SensitiveOperationResponse{AuditLog: entry, Event: event})
}

// CreateDataAccess handles POST /v1/audit/data-access
func (h *AuditHandler) CreateDataAccess(w http.ResponseWriter, r *http.Request) {
	var req DataAccessRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	entry := h.audit.LogDataAccess(r.Context(), req.UserID, req.Resource, req.Action, req.info(r), req.Metadata)
	pkghttp.WriteJSON(w, http.StatusCreated, entry)
}

func logFilter(r *http.Request) (models.AuditLogFilter, error) {
	q := r.URL.Query()
	filter := models.AuditLogFilter{
		UserID:   q.Get("user_id"),
		Action:   q.Get("action"),
		Resource: q.Get("resource"),
		Result:   models.AuditResult(q.Get("result")),
	}
	if filter.Result != "" && !filter.Result.Valid() {
		return filter, fmt.Errorf("result must be success, failure or blocked")
	}

	var err error
	if filter.From, err = queryTime(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		return filter, err
	}
	if filter.Limit, err = queryLimit(r); err != nil {
		return filter, err
	}
	return filter, nil
}

func eventFilter(r *http.Request) (models.SecurityEventFilter, error) {
	q := r.URL.Query()
	filter := models.SecurityEventFilter{
		UserID:   q.Get("user_id"),
		Type:     models.SecurityEventType(q.Get("type")),
		Severity: models.Severity(q.Get("severity")),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return filter, fmt.Errorf("unknown event type")
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return filter, fmt.Errorf("unknown severity")
	}

	var err error
	if filter.Resolved, err = queryBool(r, "resolved"); err != nil {
		return filter, err
	}
	if filter.From, err = queryTime(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = queryTime(r, "to"); err != nil {
		return filter, err
	}
	if filter.Limit, err = queryLimit(r); err != nil {
		return filter, err
	}
	return filter, nil
}

// ListLogs handles GET /v1/audit/logs
func (h *AuditHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := logFilter(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	logs, err := h.audit.GetAuditLogs(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit log query failed", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
		"limit": filter.Limit,
	})
}

// ExportLogs handles GET /v1/audit/logs/export. The workbook is built in memory so a failure
// still answers with a JSON error.
func (h *AuditHandler) ExportLogs(w http.ResponseWriter, r *http.Request) {
	filter, err := logFilter(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	var buf bytes.Buffer
	rows, err := h.audit.ExportAuditLogs(r.Context(), &buf, filter, auth.Subject(r), audit.FromRequest(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit log export failed", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}

	filename := fmt.Sprintf("audit-logs-%s.xlsx", h.now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Total-Count", strconv.Itoa(rows))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// ListEvents handles GET /v1/audit/events
func (h *AuditHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := eventFilter(r)
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.audit.GetSecurityEvents(r.Context(), filter)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "security event query failed", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
	})
}

// ResolveEvent handles POST /v1/audit/events/{id}/resolve. The resolver is the token subject.
func (h *AuditHandler) ResolveEvent(w http.ResponseWriter, r *http.Request) {
	var req ResolveEventRequest
	if r.ContentLength != 0 && !decodeRequest(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	ok, err := h.audit.ResolveSecurityEvent(r.Context(), id, auth.Subject(r), req.Resolution)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "resolve security event failed", slog.String("event_id", id), slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}
	if !ok {
		pkghttp.WriteNotFound(w, "security event not found")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "resolved": true})
}

// Stats handles GET /v1/audit/stats. ?since= takes an RFC 3339 time or a Go duration
// such as 72h; the default is the last 24 hours.
func (h *AuditHandler) Stats(w http.ResponseWriter, r *http.Request) {
	since := h.now().Add(-defaultStatsSince)
	if raw := r.URL.Query().Get("since"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			since = h.now().Add(-d)
		} else if t, err := time.Parse(time.RFC3339, raw); err == nil {
			since = t
		} else {
			pkghttp.WriteBadRequest(w, "since must be an RFC 3339 time or a positive duration")
			return
		}
	}

	stats, err := h.audit.GetStats(r.Context(), since)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit stats failed", slog.Any("error", err))
		pkghttp.WriteModelError(w, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, stats)
}
