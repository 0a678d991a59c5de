package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/aegis/internal/models"
)

const topN = 10

// AuditStore keeps audit logs and security events in memory. Inserts are idempotent by id.
type AuditStore struct {
	mu     sync.RWMutex
	logs   map[string]*models.SecurityAuditLog
	events map[string]*models.SecurityEvent

	// insertion order, so equal timestamps still list newest first
	logOrder   []string
	eventOrder []string
}

func NewAuditStore() *AuditStore {
	return &AuditStore{
		logs:   make(map[string]*models.SecurityAuditLog),
		events: make(map[string]*models.SecurityEvent),
	}
}

func (s *AuditStore) InsertLogs(_ context.Context, logs []*models.SecurityAuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, log := range logs {
		if _, exists := s.logs[log.ID]; exists {
			continue
		}
		s.logs[log.ID] = log.Clone()
		s.logOrder = append(s.logOrder, log.ID)
	}
	return nil
}

func (s *AuditStore) InsertEvents(_ context.Context, events []*models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range events {
		if _, exists := s.events[event.ID]; exists {
			continue
		}
		s.events[event.ID] = event.Clone()
		s.eventOrder = append(s.eventOrder, event.ID)
	}
	return nil
}

// QueryLogs returns matching logs newest first
func (s *AuditStore) QueryLogs(_ context.Context, filter models.AuditLogFilter) ([]*models.SecurityAuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.SecurityAuditLog, 0)
	for i := len(s.logOrder) - 1; i >= 0; i-- {
		log := s.logs[s.logOrder[i]]
		if filter.Matches(log) {
			out = append(out, log.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// QueryEvents returns matching events newest first
func (s *AuditStore) QueryEvents(_ context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.SecurityEvent, 0)
	for i := len(s.eventOrder) - 1; i >= 0; i-- {
		event := s.events[s.eventOrder[i]]
		if filter.Matches(event) {
			out = append(out, event.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *AuditStore) ResolveEvent(_ context.Context, id, resolvedBy, resolution string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return false, nil
	}
	event.Resolved = true
	event.ResolvedAt = &at
	event.ResolvedBy = resolvedBy
	if resolution != "" {
		if event.Metadata == nil {
			event.Metadata = models.Metadata{}
		}
		event.Metadata["resolution"] = resolution
	}
	return true, nil
}

// Stats aggregates logs and events at or after since
func (s *AuditStore) Stats(_ context.Context, since time.Time) (models.AuditStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.AuditStats{Since: since}
	actions := make(map[string]int)
	users := make(map[string]int)
	ips := make(map[string]int)

	for _, log := range s.logs {
		if log.Timestamp.Before(since) {
			continue
		}
		stats.TotalLogs++
		switch log.Result {
		case models.AuditResultSuccess:
			stats.SuccessLogs++
		case models.AuditResultFailure:
			stats.FailureLogs++
		case models.AuditResultBlocked:
			stats.BlockedLogs++
		}
		actions[log.Action]++
		if log.UserID != "" {
			users[log.UserID]++
		}
		if log.IPAddress != "" {
			ips[log.IPAddress]++
		}
	}

	for _, event := range s.events {
		if event.CreatedAt.Before(since) {
			continue
		}
		stats.TotalEvents++
		if !event.Resolved {
			stats.UnresolvedEvents++
		}
		switch event.Severity {
		case models.SeverityCritical:
			stats.CriticalEvents++
		case models.SeverityHigh:
			stats.HighEvents++
		}
	}

	stats.TopActions = top(actions)
	stats.TopUsers = top(users)
	stats.TopIPs = top(ips)
	return stats, nil
}

// top returns the ten largest counts, ties broken by key
func top(counts map[string]int) []models.CountEntry {
	out := make([]models.CountEntry, 0, len(counts))
	for k, n := range counts {
		out = append(out, models.CountEntry{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}
