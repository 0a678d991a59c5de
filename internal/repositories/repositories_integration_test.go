//go:build integration

package repositories

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/aegis/internal/database"
	"github.com/BradenHooton/aegis/internal/models"
)

var testDB *database.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("aegis"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		panic(err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		panic(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		panic(err)
	}

	testDB = database.NewFromPool(pool, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := database.Migrate(ctx, testDB); err != nil {
		panic(err)
	}

	code := m.Run()

	pool.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func truncate(t *testing.T) {
	t.Helper()
	_, err := testDB.Pool.Exec(context.Background(),
		`TRUNCATE TABLE device_fingerprints, security_audit_logs, security_events`)
	require.NoError(t, err)
}

func TestDeviceRepository_UpsertKeepsFirstUser(t *testing.T) {
	truncate(t)
	repo := NewDeviceRepository(testDB)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	d := &models.DeviceFingerprint{
		ID:          uuid.New().String(),
		UserID:      "",
		Fingerprint: "fp-1",
		Components:  models.Metadata{"timezone": "UTC"},
		RiskScore:   0.3,
		FirstSeen:   now,
		LastSeen:    now,
		SeenCount:   1,
	}
	require.NoError(t, repo.Upsert(ctx, d))

	d.UserID = "u1"
	d.SeenCount = 2
	require.NoError(t, repo.Upsert(ctx, d))

	d.UserID = "u2"
	d.SeenCount = 3
	d.Trusted = true
	require.NoError(t, repo.Upsert(ctx, d))

	got, err := repo.Get(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, 3, got.SeenCount)
	assert.True(t, got.Trusted)
	assert.Equal(t, "UTC", got.Components["timezone"])

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDeviceRepository_StatsAndCleanup(t *testing.T) {
	truncate(t)
	repo := NewDeviceRepository(testDB)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, d := range []*models.DeviceFingerprint{
		{ID: uuid.New().String(), Fingerprint: "old", LastSeen: now.AddDate(0, 0, -120), FirstSeen: now.AddDate(0, 0, -120), RiskScore: 0.9},
		{ID: uuid.New().String(), Fingerprint: "old-trusted", Trusted: true, LastSeen: now.AddDate(0, 0, -120), FirstSeen: now.AddDate(0, 0, -120)},
		{ID: uuid.New().String(), Fingerprint: "fresh", UserID: "u1", LastSeen: now, FirstSeen: now},
	} {
		require.NoError(t, repo.Upsert(ctx, d))
	}

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DeviceStats{Total: 3, Trusted: 1, HighRisk: 1, WithUser: 1}, stats)

	removed, err := repo.DeleteInactive(ctx, now.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	devices, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "fresh", devices[0].Fingerprint)
}

func TestAuditRepository_InsertIsIdempotentAndOrdered(t *testing.T) {
	truncate(t)
	repo := NewAuditRepository(testDB)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	logs := []*models.SecurityAuditLog{
		{ID: uuid.New().String(), UserID: "u1", Action: "user_login", Resource: "auth", Result: models.AuditResultSuccess, RiskLevel: models.RiskLevelLow, IPAddress: "10.0.0.1", UserAgent: "ua", Metadata: models.Metadata{}, Timestamp: base},
		{ID: uuid.New().String(), UserID: "u1", Action: "user_login", Resource: "auth", Result: models.AuditResultFailure, RiskLevel: models.RiskLevelMedium, IPAddress: "10.0.0.1", UserAgent: "ua", Metadata: models.Metadata{"reason": "bad password"}, Timestamp: base.Add(time.Second)},
		{ID: uuid.New().String(), UserID: "u2", Action: "user_delete", Resource: "admin_users", Result: models.AuditResultSuccess, RiskLevel: models.RiskLevelHigh, IPAddress: "10.0.0.2", UserAgent: "ua", Metadata: models.Metadata{"sensitive": true}, Timestamp: base.Add(2 * time.Second)},
	}
	require.NoError(t, repo.InsertLogs(ctx, logs))
	require.NoError(t, repo.InsertLogs(ctx, logs[:2]), "retried batch must not fail or duplicate")

	got, err := repo.QueryLogs(ctx, models.AuditLogFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "user_delete", got[0].Action)
	assert.Equal(t, true, got[0].Metadata["sensitive"])

	got, err = repo.QueryLogs(ctx, models.AuditLogFilter{UserID: "u1", Result: models.AuditResultFailure, Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bad password", got[0].Metadata["reason"])

	stats, err := repo.Stats(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalLogs)
	assert.Equal(t, 1, stats.FailureLogs)
	assert.Equal(t, models.CountEntry{Key: "user_login", Count: 2}, stats.TopActions[0])
	assert.Equal(t, models.CountEntry{Key: "10.0.0.1", Count: 2}, stats.TopIPs[0])
}

func TestAuditRepository_ResolveEvent(t *testing.T) {
	truncate(t)
	repo := NewAuditRepository(testDB)
	ctx := context.Background()
	now := time.Now().UTC()

	event := &models.SecurityEvent{
		ID: uuid.New().String(), UserID: "u1", Type: models.EventAccountLocked, Description: "locked",
		Severity: models.SeverityHigh, IPAddress: "10.0.0.1", UserAgent: "ua", Metadata: models.Metadata{}, CreatedAt: now,
	}
	require.NoError(t, repo.InsertEvents(ctx, []*models.SecurityEvent{event}))

	ok, err := repo.ResolveEvent(ctx, event.ID, "admin-1", "unlocked after review", now)
	require.NoError(t, err)
	assert.True(t, ok)

	resolved := true
	events, err := repo.QueryEvents(ctx, models.SecurityEventFilter{Resolved: &resolved})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "admin-1", events[0].ResolvedBy)
	assert.NotNil(t, events[0].ResolvedAt)
	assert.Equal(t, "unlocked after review", events[0].Metadata["resolution"])

	ok, err = repo.ResolveEvent(ctx, uuid.New().String(), "admin-1", "", now)
	require.NoError(t, err)
	assert.False(t, ok)
}
