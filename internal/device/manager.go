// Package device recognises returning client devices and scores new ones for bot likelihood.
package device

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/aegis/internal/metrics"
	"github.com/BradenHooton/aegis/internal/models"
	"github.com/BradenHooton/aegis/internal/telemetry"
)

// DefaultCleanupDays is the inactivity age after which untrusted devices are removed
const DefaultCleanupDays = 90

const lockStripes = 64

// Store persists device fingerprints keyed by fingerprint
type Store interface {
	Get(ctx context.Context, fingerprint string) (*models.DeviceFingerprint, error)
	Upsert(ctx context.Context, device *models.DeviceFingerprint) error
	ListByUser(ctx context.Context, userID string) ([]*models.DeviceFingerprint, error)
	Stats(ctx context.Context) (models.DeviceStats, error)
	DeleteInactive(ctx context.Context, cutoff time.Time) (int, error)
}

// Manager records device sightings and operator trust decisions
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	// record-or-create is serialised per fingerprint stripe
	locks [lockStripes]sync.Mutex
}

func NewManager(store Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) lockFor(fingerprint string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(fingerprint))
	return &m.locks[h.Sum32()%lockStripes]
}

// RecordFingerprint registers a sighting. A known fingerprint gets lastSeen and seenCount bumped
// and its user backfilled; its risk score is never recomputed. An empty fingerprint is derived
// from the components.
func (m *Manager) RecordFingerprint(ctx context.Context, fingerprint, userID string, components models.Metadata) (*models.DeviceFingerprint, error) {
	if fingerprint == "" {
		if len(components) == 0 {
			return nil, fmt.Errorf("%w: fingerprint or components required", models.ErrBadRequest)
		}
		derived, err := HashComponents(components)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
		}
		fingerprint = derived
	}

	ctx, span := telemetry.StartSpan(ctx, "device.record", telemetry.Fingerprint(fingerprint))
	defer span.End()

	mu := m.lockFor(fingerprint)
	mu.Lock()
	defer mu.Unlock()

	now := m.now()
	existing, err := m.store.Get(ctx, fingerprint)
	switch {
	case err == nil:
		existing.LastSeen = now
		existing.SeenCount++
		if existing.UserID == "" && userID != "" {
			existing.UserID = userID
		}
		if err := m.store.Upsert(ctx, existing); err != nil {
			return nil, fmt.Errorf("update device: %w", err)
		}
		metrics.DevicesRecordedTotal.WithLabelValues("returning").Inc()
		return existing, nil

	case !errors.Is(err, models.ErrNotFound):
		return nil, fmt.Errorf("get device: %w", err)
	}

	if components == nil {
		components = models.Metadata{}
	}
	ua, _ := components[models.ComponentUserAgent].(string)
	info := parseUserAgent(ua)

	device := &models.DeviceFingerprint{
		ID:          uuid.New().String(),
		UserID:      userID,
		Fingerprint: fingerprint,
		Components:  components.Clone(),
		RiskScore:   CalculateRiskScore(components),
		DeviceType:  info.DeviceType,
		OS:          info.OS,
		Browser:     info.Browser,
		FirstSeen:   now,
		LastSeen:    now,
		SeenCount:   1,
	}
	if err := m.store.Upsert(ctx, device); err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}
	metrics.DevicesRecordedTotal.WithLabelValues("new").Inc()

	if device.RiskScore >= models.HighRiskDeviceScore {
		m.logger.WarnContext(ctx, "high risk device registered",
			slog.String("fingerprint", fingerprint),
			slog.String("user_id", userID),
			slog.Float64("risk_score", device.RiskScore),
		)
	}
	return device, nil
}

// GetFingerprint returns the device or ErrNotFound
func (m *Manager) GetFingerprint(ctx context.Context, fingerprint string) (*models.DeviceFingerprint, error) {
	return m.store.Get(ctx, fingerprint)
}

func (m *Manager) GetUserFingerprints(ctx context.Context, userID string) ([]*models.DeviceFingerprint, error) {
	devices, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user devices: %w", err)
	}
	return devices, nil
}

// TrustDevice marks the device trusted, exempting it from cleanup. It reports false for an unknown fingerprint.
func (m *Manager) TrustDevice(ctx context.Context, fingerprint string) (bool, error) {
	return m.setFlag(ctx, fingerprint, "trust", func(d *models.DeviceFingerprint) { d.Trusted = true })
}

// BlockDevice marks the device blocked. It reports false for an unknown fingerprint.
func (m *Manager) BlockDevice(ctx context.Context, fingerprint string) (bool, error) {
	return m.setFlag(ctx, fingerprint, "block", func(d *models.DeviceFingerprint) { d.Blocked = true })
}

func (m *Manager) setFlag(ctx context.Context, fingerprint, op string, apply func(*models.DeviceFingerprint)) (bool, error) {
	mu := m.lockFor(fingerprint)
	mu.Lock()
	defer mu.Unlock()

	device, err := m.store.Get(ctx, fingerprint)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get device: %w", err)
	}

	apply(device)
	if err := m.store.Upsert(ctx, device); err != nil {
		return false, fmt.Errorf("%s device: %w", op, err)
	}
	m.logger.InfoContext(ctx, "device flag updated",
		slog.String("fingerprint", fingerprint),
		slog.String("operation", op),
	)
	return true, nil
}

func (m *Manager) GetStats(ctx context.Context) (models.DeviceStats, error) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return models.DeviceStats{}, fmt.Errorf("device stats: %w", err)
	}
	return stats, nil
}

// Cleanup removes untrusted devices not seen for daysOld days and returns how many were removed.
// A non-positive daysOld uses DefaultCleanupDays.
func (m *Manager) Cleanup(ctx context.Context, daysOld int) (int, error) {
	if daysOld <= 0 {
		daysOld = DefaultCleanupDays
	}
	cutoff := m.now().AddDate(0, 0, -daysOld)

	removed, err := m.store.DeleteInactive(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup devices: %w", err)
	}
	metrics.DevicesCleanedTotal.Add(float64(removed))
	m.logger.InfoContext(ctx, "device cleanup completed",
		slog.Int("removed", removed),
		slog.Int("days_old", daysOld),
	)
	return removed, nil
}
