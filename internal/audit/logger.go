// Package audit records audit trail entries and security events. Writes are buffered and
// flushed to the store in batches, either when a buffer fills or on a timer.
package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/aegis/internal/metrics"
	"github.com/BradenHooton/aegis/internal/models"
	pkghttp "github.com/BradenHooton/aegis/pkg/http"
	"github.com/BradenHooton/aegis/pkg/logger"
)

const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 5 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryInterval = 100 * time.Millisecond

	unknown = "unknown"
)

// Store persists audit logs and security events. Inserts must be idempotent by id so a
// retried batch cannot duplicate rows.
type Store interface {
	InsertLogs(ctx context.Context, logs []*models.SecurityAuditLog) error
	InsertEvents(ctx context.Context, events []*models.SecurityEvent) error
	QueryLogs(ctx context.Context, filter models.AuditLogFilter) ([]*models.SecurityAuditLog, error)
	QueryEvents(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error)
	ResolveEvent(ctx context.Context, id, resolvedBy, resolution string, at time.Time) (bool, error)
	Stats(ctx context.Context, since time.Time) (models.AuditStats, error)
}

// AlertHandler is notified synchronously of high and critical security events
type AlertHandler interface {
	HandleCriticalEvent(ctx context.Context, event *models.SecurityEvent) error
}

// Config tunes buffering. Zero fields take the defaults.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	return c
}

// RequestInfo identifies the client behind an audited action. Explicit IPAddress and
// UserAgent win over whatever the request carries.
type RequestInfo struct {
	Request   *http.Request
	IPAddress string
	UserAgent string
	Location  string
}

// FromRequest wraps an inbound request
func FromRequest(r *http.Request) RequestInfo {
	return RequestInfo{Request: r}
}

func (c RequestInfo) resolve() (ip, ua string) {
	ip, ua = c.IPAddress, c.UserAgent
	if c.Request != nil {
		if ip == "" {
			ip = pkghttp.ForwardedIP(c.Request)
		}
		if ua == "" {
			ua = c.Request.UserAgent()
		}
	}
	if ip == "" {
		ip = unknown
	}
	if ua == "" {
		ua = unknown
	}
	return ip, ua
}

// Entry is the input to Log
type Entry struct {
	UserID    string
	SessionID string
	Action    string
	Resource  string
	Result    models.AuditResult
	Metadata  models.Metadata
	Client    RequestInfo
}

// EventInput is the input to LogSecurityEvent
type EventInput struct {
	UserID      string
	Type        models.SecurityEventType
	Description string
	Severity    models.Severity
	Metadata    models.Metadata
	Client      RequestInfo
}

// Logger buffers audit writes in front of a Store. It never returns store errors to writers;
// failed flushes are retried and the batch re-queued.
type Logger struct {
	store  Store
	alerts AlertHandler
	audit  *logger.AuditLogger
	logger *slog.Logger
	cfg    Config
	now    func() time.Time

	logs   *buffer[*models.SecurityAuditLog]
	events *buffer[*models.SecurityEvent]

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewLogger creates a Logger. A nil alert handler logs critical events through slog.
func NewLogger(store Store, alerts AlertHandler, cfg Config, log *slog.Logger) *Logger {
	if alerts == nil {
		alerts = NewLogAlertHandler(log)
	}
	l := &Logger{
		store:  store,
		alerts: alerts,
		audit:  logger.NewAuditLogger(log),
		logger: log,
		cfg:    cfg.withDefaults(),
		now:    func() time.Time { return time.Now().UTC() },
		stopCh: make(chan struct{}),
	}
	l.logs = newBuffer("logs", l.cfg, log, withRetry(l.cfg, store.InsertLogs))
	l.events = newBuffer("events", l.cfg, log, withRetry(l.cfg, store.InsertEvents))
	return l
}

// Log records an audit entry and returns it. Risk level is derived from result, action and
// the metadata "sensitive" flag.
func (l *Logger) Log(ctx context.Context, e Entry) *models.SecurityAuditLog {
	ip, ua := e.Client.resolve()
	metadata := e.Metadata.Clone()

	entry := &models.SecurityAuditLog{
		ID:        uuid.New().String(),
		UserID:    e.UserID,
		SessionID: e.SessionID,
		Action:    e.Action,
		Resource:  e.Resource,
		Result:    e.Result,
		RiskLevel: riskLevel(e.Action, e.Result, metadata),
		IPAddress: ip,
		UserAgent: ua,
		Location:  e.Client.Location,
		Metadata:  metadata,
		Timestamp: l.now(),
	}

	l.audit.LogEntry(ctx, entry)
	metrics.AuditEntriesTotal.WithLabelValues(string(entry.Result)).Inc()
	l.logs.add(ctx, entry.Clone())
	return entry
}

// LogSecurityEvent records a security event. High and critical events are handed to the
// alert handler before returning; alert failures are logged, not returned.
func (l *Logger) LogSecurityEvent(ctx context.Context, in EventInput) *models.SecurityEvent {
	ip, ua := in.Client.resolve()

	event := &models.SecurityEvent{
		ID:          uuid.New().String(),
		UserID:      in.UserID,
		Type:        in.Type,
		Description: in.Description,
		Severity:    in.Severity,
		IPAddress:   ip,
		UserAgent:   ua,
		Location:    in.Client.Location,
		Metadata:    in.Metadata.Clone(),
		CreatedAt:   l.now(),
	}

	l.audit.LogEvent(ctx, event)
	metrics.SecurityEventsTotal.WithLabelValues(string(event.Type), string(event.Severity)).Inc()
	l.events.add(ctx, event.Clone())

	if event.Severity.RequiresAlert() {
		if err := l.alerts.HandleCriticalEvent(ctx, event.Clone()); err != nil {
			l.logger.ErrorContext(ctx, "critical event alert failed",
				slog.String("event_id", event.ID),
				slog.String("event_type", string(event.Type)),
				slog.Any("error", err),
			)
		}
	}
	return event
}

// riskLevel applies the rules in order, later matches overriding earlier ones
func riskLevel(action string, result models.AuditResult, metadata models.Metadata) models.RiskLevel {
	level := models.RiskLevelLow
	if result == models.AuditResultFailure || result == models.AuditResultBlocked {
		level = models.RiskLevelMedium
	}

	action = strings.ToLower(action)
	switch {
	case metadata.Bool("sensitive"), strings.Contains(action, "delete"), strings.Contains(action, "admin"):
		level = models.RiskLevelHigh
	case strings.Contains(action, "permission"), strings.Contains(action, "role"):
		level = models.RiskLevelMedium
	}
	return level
}
