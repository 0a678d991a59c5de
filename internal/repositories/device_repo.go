package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BradenHooton/aegis/internal/database"
	"github.com/BradenHooton/aegis/internal/models"
)

// rowScanner covers both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const deviceColumns = `id, user_id, fingerprint, components, risk_score, device_type, os, browser,
	first_seen, last_seen, seen_count, trusted, blocked`

// DeviceRepository stores device fingerprints in Postgres
type DeviceRepository struct {
	pool *pgxpool.Pool
}

// NewDeviceRepository creates a new DeviceRepository
func NewDeviceRepository(db *database.DB) *DeviceRepository {
	return &DeviceRepository{pool: db.Pool}
}

func scanDeviceRow(row rowScanner) (*models.DeviceFingerprint, error) {
	var d models.DeviceFingerprint

	err := row.Scan(
		&d.ID, &d.UserID, &d.Fingerprint, &d.Components, &d.RiskScore,
		&d.DeviceType, &d.OS, &d.Browser,
		&d.FirstSeen, &d.LastSeen, &d.SeenCount, &d.Trusted, &d.Blocked,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &d, nil
}

func scanDeviceRows(rows pgx.Rows) ([]*models.DeviceFingerprint, error) {
	defer rows.Close()

	devices := make([]*models.DeviceFingerprint, 0)
	for rows.Next() {
		d, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating device rows: %w", err)
	}

	return devices, nil
}

// Get returns the device with the given fingerprint or ErrNotFound
func (r *DeviceRepository) Get(ctx context.Context, fingerprint string) (*models.DeviceFingerprint, error) {
	query := `SELECT ` + deviceColumns + ` FROM device_fingerprints WHERE fingerprint = $1`

	d, err := scanDeviceRow(r.pool.QueryRow(ctx, query, fingerprint))
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Upsert inserts the device or overwrites the mutable columns of an existing one. A user id
// already on the row is never replaced.
func (r *DeviceRepository) Upsert(ctx context.Context, d *models.DeviceFingerprint) error {
	query := `
		INSERT INTO device_fingerprints (` + deviceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (fingerprint) DO UPDATE SET
			user_id    = CASE WHEN device_fingerprints.user_id = '' THEN EXCLUDED.user_id ELSE device_fingerprints.user_id END,
			last_seen  = EXCLUDED.last_seen,
			seen_count = EXCLUDED.seen_count,
			trusted    = EXCLUDED.trusted,
			blocked    = EXCLUDED.blocked
	`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.UserID, d.Fingerprint, d.Components, d.RiskScore,
		d.DeviceType, d.OS, d.Browser,
		d.FirstSeen, d.LastSeen, d.SeenCount, d.Trusted, d.Blocked,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", database.MapPostgresError(err))
	}
	return nil
}

// ListByUser returns the user's devices, most recently seen first
func (r *DeviceRepository) ListByUser(ctx context.Context, userID string) ([]*models.DeviceFingerprint, error) {
	query := `
		SELECT ` + deviceColumns + `
		FROM device_fingerprints
		WHERE user_id = $1
		ORDER BY last_seen DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", database.MapPostgresError(err))
	}
	return scanDeviceRows(rows)
}

func (r *DeviceRepository) Stats(ctx context.Context) (models.DeviceStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE trusted),
			COUNT(*) FILTER (WHERE blocked),
			COUNT(*) FILTER (WHERE risk_score >= $1),
			COUNT(*) FILTER (WHERE user_id <> '')
		FROM device_fingerprints
	`

	var s models.DeviceStats
	err := r.pool.QueryRow(ctx, query, models.HighRiskDeviceScore).Scan(
		&s.Total, &s.Trusted, &s.Blocked, &s.HighRisk, &s.WithUser,
	)
	if err != nil {
		return models.DeviceStats{}, fmt.Errorf("failed to count devices: %w", database.MapPostgresError(err))
	}
	return s, nil
}

// DeleteInactive removes untrusted devices last seen before cutoff
func (r *DeviceRepository) DeleteInactive(ctx context.Context, cutoff time.Time) (int, error) {
	query := `DELETE FROM device_fingerprints WHERE NOT trusted AND last_seen < $1`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup devices: %w", database.MapPostgresError(err))
	}
	return int(result.RowsAffected()), nil
}
