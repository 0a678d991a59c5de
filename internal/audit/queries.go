package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/aegis/internal/models"
)

// Flush writes both buffers to the store
func (l *Logger) Flush(ctx context.Context) error {
	return errors.Join(l.logs.flush(ctx), l.events.flush(ctx))
}

// Pending reports how many entries and events are waiting to be flushed
func (l *Logger) Pending() (logs, events int) {
	return l.logs.size(), l.events.size()
}

// Run flushes on every tick until ctx is cancelled or Close is called
func (l *Logger) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	l.logger.Info("audit flusher started", slog.Duration("interval", l.cfg.FlushInterval))

	for {
		select {
		case <-ticker.C:
			if err := l.Flush(ctx); err != nil {
				l.logger.ErrorContext(ctx, "periodic audit flush failed", slog.Any("error", err))
			}
		case <-l.stopCh:
			l.logger.Info("audit flusher stopped")
			return nil
		case <-ctx.Done():
			l.logger.Info("audit flusher context cancelled")
			return nil
		}
	}
}

// Close stops Run and drains both buffers
func (l *Logger) Close(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	if err := l.Flush(ctx); err != nil {
		logs, events := l.Pending()
		l.logger.ErrorContext(ctx, "audit buffers not drained on close",
			slog.Int("pending_logs", logs),
			slog.Int("pending_events", events),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

// flushBefore makes a caller's own buffered writes visible to its next read. A failure is
// logged and the read goes ahead against what the store already holds.
func (l *Logger) flushBefore(ctx context.Context, flush func(context.Context) error) {
	if err := flush(ctx); err != nil {
		l.logger.WarnContext(ctx, "audit flush before query failed", slog.Any("error", err))
	}
}

// GetAuditLogs returns matching entries newest first
func (l *Logger) GetAuditLogs(ctx context.Context, filter models.AuditLogFilter) ([]*models.SecurityAuditLog, error) {
	l.flushBefore(ctx, l.logs.flush)
	logs, err := l.store.QueryLogs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	return logs, nil
}

// GetSecurityEvents returns matching events newest first
func (l *Logger) GetSecurityEvents(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	l.flushBefore(ctx, l.events.flush)
	events, err := l.store.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	return events, nil
}

// ResolveSecurityEvent closes an event. It reports false when no event has that id.
func (l *Logger) ResolveSecurityEvent(ctx context.Context, id, resolvedBy, resolution string) (bool, error) {
	l.flushBefore(ctx, l.events.flush)
	ok, err := l.store.ResolveEvent(ctx, id, resolvedBy, resolution, l.now())
	if err != nil {
		return false, fmt.Errorf("resolve security event: %w", err)
	}
	if ok {
		l.audit.LogResolution(ctx, id, resolvedBy)
	}
	return ok, nil
}

// GetStats aggregates entries and events recorded at or after since
func (l *Logger) GetStats(ctx context.Context, since time.Time) (models.AuditStats, error) {
	l.flushBefore(ctx, l.Flush)
	stats, err := l.store.Stats(ctx, since)
	if err != nil {
		return models.AuditStats{}, fmt.Errorf("audit stats: %w", err)
	}
	return stats, nil
}
