package counter

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryCounter is a process-local Counter used when no Redis is configured
type MemoryCounter struct {
	mu        sync.Mutex
	events    map[string][]time.Time
	retention time.Duration
	now       func() time.Time
}

func NewMemoryCounter(retention time.Duration) *MemoryCounter {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryCounter{
		events:    make(map[string][]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

func (c *MemoryCounter) Add(_ context.Context, key string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := append(c.events[key], at)
	sort.Slice(events, func(i, j int) bool { return events[i].Before(events[j]) })

	cutoff := c.now().Add(-c.retention)
	first := sort.Search(len(events), func(i int) bool { return !events[i].Before(cutoff) })
	c.events[key] = events[first:]
	return nil
}

func (c *MemoryCounter) Count(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	from := now.Add(-window)
	var n int64
	for _, at := range c.events[key] {
		if !at.Before(from) && !at.After(now) {
			n++
		}
	}
	return n, nil
}

func (c *MemoryCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.events, key)
	return nil
}
