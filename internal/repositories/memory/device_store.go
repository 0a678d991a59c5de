// Package memory provides process-local stores for tests and single-instance deployments
// running without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/aegis/internal/models"
)

// DeviceStore keeps device fingerprints in a map keyed by fingerprint
type DeviceStore struct {
	mu      sync.RWMutex
	devices map[string]*models.DeviceFingerprint
}

func NewDeviceStore() *DeviceStore {
	return &DeviceStore{devices: make(map[string]*models.DeviceFingerprint)}
}

func (s *DeviceStore) Get(_ context.Context, fingerprint string) (*models.DeviceFingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devices[fingerprint]
	if !ok {
		return nil, models.ErrNotFound
	}
	return device.Clone(), nil
}

func (s *DeviceStore) Upsert(_ context.Context, device *models.DeviceFingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.devices[device.Fingerprint] = device.Clone()
	return nil
}

// ListByUser returns the user's devices, most recently seen first
func (s *DeviceStore) ListByUser(_ context.Context, userID string) ([]*models.DeviceFingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.DeviceFingerprint, 0)
	for _, device := range s.devices {
		if device.UserID == userID {
			out = append(out, device.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeen.After(out[j].LastSeen) })
	return out, nil
}

func (s *DeviceStore) Stats(_ context.Context) (models.DeviceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats models.DeviceStats
	for _, device := range s.devices {
		stats.Total++
		if device.Trusted {
			stats.Trusted++
		}
		if device.Blocked {
			stats.Blocked++
		}
		if device.RiskScore >= models.HighRiskDeviceScore {
			stats.HighRisk++
		}
		if device.UserID != "" {
			stats.WithUser++
		}
	}
	return stats, nil
}

// DeleteInactive removes untrusted devices last seen before cutoff
func (s *DeviceStore) DeleteInactive(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for fp, device := range s.devices {
		if !device.Trusted && device.LastSeen.Before(cutoff) {
			delete(s.devices, fp)
			removed++
		}
	}
	return removed, nil
}
