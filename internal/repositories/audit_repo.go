package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/BradenHooton/aegis/internal/database"
	"github.com/BradenHooton/aegis/internal/models"
)

const topN = 10

const auditLogColumns = `id, user_id, session_id, action, resource, result, risk_level,
	ip_address, user_agent, location, metadata, "timestamp"`

const securityEventColumns = `id, user_id, type, description, severity, ip_address, user_agent,
	location, metadata, resolved, resolved_at, resolved_by, created_at`

// AuditRepository stores audit logs and security events. Batch inserts are idempotent by id.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func scanAuditLogRow(row rowScanner) (*models.SecurityAuditLog, error) {
	var log models.SecurityAuditLog

	err := row.Scan(
		&log.ID, &log.UserID, &log.SessionID, &log.Action, &log.Resource, &log.Result, &log.RiskLevel,
		&log.IPAddress, &log.UserAgent, &log.Location, &log.Metadata, &log.Timestamp,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &log, nil
}

func scanSecurityEventRow(row rowScanner) (*models.SecurityEvent, error) {
	var e models.SecurityEvent

	err := row.Scan(
		&e.ID, &e.UserID, &e.Type, &e.Description, &e.Severity, &e.IPAddress, &e.UserAgent,
		&e.Location, &e.Metadata, &e.Resolved, &e.ResolvedAt, &e.ResolvedBy, &e.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &e, nil
}

// InsertLogs writes the batch in one transaction, skipping ids already stored
func (r *AuditRepository) InsertLogs(ctx context.Context, logs []*models.SecurityAuditLog) error {
	if len(logs) == 0 {
		return nil
	}

	query := `
		INSERT INTO security_audit_logs (` + auditLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, log := range logs {
		batch.Queue(query,
			log.ID, log.UserID, log.SessionID, log.Action, log.Resource, string(log.Result), string(log.RiskLevel),
			log.IPAddress, log.UserAgent, log.Location, log.Metadata, log.Timestamp,
		)
	}

	if err := r.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to insert audit logs: %w", err)
	}
	return nil
}

// InsertEvents writes the batch in one transaction, skipping ids already stored
func (r *AuditRepository) InsertEvents(ctx context.Context, events []*models.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO security_events (` + securityEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(query,
			e.ID, e.UserID, string(e.Type), e.Description, string(e.Severity), e.IPAddress, e.UserAgent,
			e.Location, e.Metadata, e.Resolved, e.ResolvedAt, e.ResolvedBy, e.CreatedAt,
		)
	}

	if err := r.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to insert security events: %w", err)
	}
	return nil
}

func (r *AuditRepository) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return database.MapPostgresError(err)
			}
		}
		return database.MapPostgresError(br.Close())
	})
}

// where accumulates AND-ed conditions with numbered placeholders
type where struct {
	conditions []string
	args       []interface{}
}

func (w *where) add(condition string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conditions = append(w.conditions, fmt.Sprintf(condition, len(w.args)))
}

func (w *where) String() string {
	if len(w.conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conditions, " AND ")
}

func (w *where) limit(n int) string {
	if n <= 0 {
		return ""
	}
	w.args = append(w.args, n)
	return fmt.Sprintf(" LIMIT $%d", len(w.args)) //nolint:gosec // placeholder index, not user input
}

// QueryLogs returns matching logs newest first
func (r *AuditRepository) QueryLogs(ctx context.Context, filter models.AuditLogFilter) ([]*models.SecurityAuditLog, error) {
	var w where
	if filter.UserID != "" {
		w.add("user_id = $%d", filter.UserID)
	}
	if filter.Action != "" {
		w.add("action = $%d", filter.Action)
	}
	if filter.Resource != "" {
		w.add("resource = $%d", filter.Resource)
	}
	if filter.Result != "" {
		w.add("result = $%d", string(filter.Result))
	}
	if !filter.From.IsZero() {
		w.add(`"timestamp" >= $%d`, filter.From)
	}
	if !filter.To.IsZero() {
		w.add(`"timestamp" <= $%d`, filter.To)
	}

	query := `SELECT ` + auditLogColumns + ` FROM security_audit_logs` + w.String() + ` ORDER BY "timestamp" DESC, id DESC`
	query += w.limit(filter.Limit)

	rows, err := r.db.Pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	logs := make([]*models.SecurityAuditLog, 0)
	for rows.Next() {
		log, err := scanAuditLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}
	return logs, nil
}

// QueryEvents returns matching events newest first
func (r *AuditRepository) QueryEvents(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	var w where
	if filter.UserID != "" {
		w.add("user_id = $%d", filter.UserID)
	}
	if filter.Type != "" {
		w.add("type = $%d", string(filter.Type))
	}
	if filter.Severity != "" {
		w.add("severity = $%d", string(filter.Severity))
	}
	if filter.Resolved != nil {
		w.add("resolved = $%d", *filter.Resolved)
	}
	if !filter.From.IsZero() {
		w.add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		w.add("created_at <= $%d", filter.To)
	}

	query := `SELECT ` + securityEventColumns + ` FROM security_events` + w.String() + ` ORDER BY created_at DESC, id DESC`
	query += w.limit(filter.Limit)

	rows, err := r.db.Pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		e, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}
	return events, nil
}

// ResolveEvent marks the event resolved and records the resolution note in its metadata
func (r *AuditRepository) ResolveEvent(ctx context.Context, id, resolvedBy, resolution string, at time.Time) (bool, error) {
	query := `
		UPDATE security_events
		SET resolved = TRUE,
		    resolved_at = $2,
		    resolved_by = $3,
		    metadata = CASE WHEN $4 = '' THEN metadata
		                    ELSE metadata || jsonb_build_object('resolution', $4::text) END
		WHERE id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, id, at, resolvedBy, resolution)
	if err != nil {
		return false, fmt.Errorf("failed to resolve security event: %w", database.MapPostgresError(err))
	}
	return result.RowsAffected() > 0, nil
}

// Stats aggregates logs and events at or after since
func (r *AuditRepository) Stats(ctx context.Context, since time.Time) (models.AuditStats, error) {
	stats := models.AuditStats{Since: since}

	logQuery := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE result = 'success'),
			COUNT(*) FILTER (WHERE result = 'failure'),
			COUNT(*) FILTER (WHERE result = 'blocked')
		FROM security_audit_logs
		WHERE "timestamp" >= $1
	`
	err := r.db.Pool.QueryRow(ctx, logQuery, since).Scan(
		&stats.TotalLogs, &stats.SuccessLogs, &stats.FailureLogs, &stats.BlockedLogs,
	)
	if err != nil {
		return models.AuditStats{}, fmt.Errorf("failed to count audit logs: %w", database.MapPostgresError(err))
	}

	eventQuery := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT resolved),
			COUNT(*) FILTER (WHERE severity = 'critical'),
			COUNT(*) FILTER (WHERE severity = 'high')
		FROM security_events
		WHERE created_at >= $1
	`
	err = r.db.Pool.QueryRow(ctx, eventQuery, since).Scan(
		&stats.TotalEvents, &stats.UnresolvedEvents, &stats.CriticalEvents, &stats.HighEvents,
	)
	if err != nil {
		return models.AuditStats{}, fmt.Errorf("failed to count security events: %w", database.MapPostgresError(err))
	}

	if stats.TopActions, err = r.top(ctx, "action", since); err != nil {
		return models.AuditStats{}, err
	}
	if stats.TopUsers, err = r.top(ctx, "user_id", since); err != nil {
		return models.AuditStats{}, err
	}
	if stats.TopIPs, err = r.top(ctx, "ip_address", since); err != nil {
		return models.AuditStats{}, err
	}
	return stats, nil
}

// top groups audit logs by column, which must be a trusted column name
func (r *AuditRepository) top(ctx context.Context, column string, since time.Time) ([]models.CountEntry, error) {
	query := fmt.Sprintf(`
		SELECT %[1]s, COUNT(*) AS n
		FROM security_audit_logs
		WHERE "timestamp" >= $1 AND %[1]s <> ''
		GROUP BY %[1]s
		ORDER BY n DESC, %[1]s ASC
		LIMIT %[2]d
	`, column, topN) //nolint:gosec // column is one of three constants

	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query top %s: %w", column, database.MapPostgresError(err))
	}
	defer rows.Close()

	out := make([]models.CountEntry, 0, topN)
	for rows.Next() {
		var entry models.CountEntry
		if err := rows.Scan(&entry.Key, &entry.Count); err != nil {
			return nil, fmt.Errorf("failed to scan top %s: %w", column, err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating top %s rows: %w", column, err)
	}
	return out, nil
}
