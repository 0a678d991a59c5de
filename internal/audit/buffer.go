package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/BradenHooton/aegis/internal/metrics"
	"github.com/BradenHooton/aegis/internal/telemetry"
)

// buffer is a FIFO of pending writes. A failed flush puts its batch back at the front so
// ordering survives store outages.
type buffer[T any] struct {
	name      string
	batchSize int
	interval  time.Duration
	write     func(context.Context, []T) error
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.Mutex
	items []T
	// inline flushes are skipped until then after a failed flush; the ticker keeps trying
	pausedUntil time.Time

	flushMu sync.Mutex
}

func newBuffer[T any](name string, cfg Config, logger *slog.Logger, write func(context.Context, []T) error) *buffer[T] {
	return &buffer[T]{
		name:      name,
		batchSize: cfg.BatchSize,
		interval:  cfg.FlushInterval,
		write:     write,
		logger:    logger,
		now:       time.Now,
	}
}

// add appends item and flushes inline once the batch size is reached
func (b *buffer[T]) add(ctx context.Context, item T) {
	b.mu.Lock()
	b.items = append(b.items, item)
	n := len(b.items)
	full := n >= b.batchSize && !b.now().Before(b.pausedUntil)
	b.mu.Unlock()
	metrics.AuditBufferSize.WithLabelValues(b.name).Set(float64(n))

	if !full || !b.flushMu.TryLock() {
		return
	}
	defer b.flushMu.Unlock()
	// the write outlives the request that happened to fill the buffer
	if err := b.flushLocked(context.WithoutCancel(ctx)); err != nil {
		b.logger.ErrorContext(ctx, "inline audit flush failed",
			slog.String("buffer", b.name),
			slog.Any("error", err),
		)
	}
}

func (b *buffer[T]) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *buffer[T]) flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	return b.flushLocked(ctx)
}

func (b *buffer[T]) flushLocked(ctx context.Context) error {
	b.mu.Lock()
	batch := b.items
	b.items = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "audit.flush", telemetry.Buffer(b.name))
	defer span.End()

	if err := b.write(ctx, batch); err != nil {
		b.mu.Lock()
		b.items = append(batch, b.items...)
		b.pausedUntil = b.now().Add(b.interval)
		n := len(b.items)
		b.mu.Unlock()

		span.RecordError(err)
		metrics.AuditFlushesTotal.WithLabelValues(b.name, "requeued").Inc()
		metrics.AuditBufferSize.WithLabelValues(b.name).Set(float64(n))
		return fmt.Errorf("flush %s (%d requeued): %w", b.name, len(batch), err)
	}

	b.mu.Lock()
	b.pausedUntil = time.Time{}
	n := len(b.items)
	b.mu.Unlock()

	metrics.AuditFlushesTotal.WithLabelValues(b.name, "ok").Inc()
	metrics.AuditBufferSize.WithLabelValues(b.name).Set(float64(n))
	return nil
}

// withRetry wraps a batch write with capped exponential backoff
func withRetry[T any](cfg Config, write func(context.Context, []T) error) func(context.Context, []T) error {
	return func(ctx context.Context, batch []T) error {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.RetryInterval
		policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.MaxRetries)), ctx)

		return backoff.Retry(func() error {
			return write(ctx, batch)
		}, policy)
	}
}
