package counter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

type fixedClock struct{ t time.Time }

func (c *fixedClock) now() time.Time { return c.t }

// counterSuite runs the same behavior checks against every Counter implementation
func counterSuite(t *testing.T, newCounter func(clock *fixedClock) Counter) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("counts within window", func(t *testing.T) {
		clock := &fixedClock{t: base}
		c := newCounter(clock)
		key := FailedLoginKey("alice@example.com")

		for _, ago := range []time.Duration{30 * time.Second, 2 * time.Minute, 4 * time.Minute, 10 * time.Minute, 50 * time.Minute} {
			require.NoError(t, c.Add(ctx, key, base.Add(-ago)))
		}

		n, err := c.Count(ctx, key, 5*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		n, err = c.Count(ctx, key, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)
	})

	t.Run("window slides with time", func(t *testing.T) {
		clock := &fixedClock{t: base}
		c := newCounter(clock)
		key := IPRegistrationKey("203.0.113.7")

		require.NoError(t, c.Add(ctx, key, base))
		require.NoError(t, c.Add(ctx, key, base))

		clock.t = base.Add(6 * time.Minute)
		n, err := c.Count(ctx, key, 5*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		n, err = c.Count(ctx, key, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("same instant counted twice", func(t *testing.T) {
		clock := &fixedClock{t: base}
		c := newCounter(clock)
		key := ActionKey("u1", "export")

		for i := 0; i < 4; i++ {
			require.NoError(t, c.Add(ctx, key, base))
		}
		n, err := c.Count(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})

	t.Run("reset clears key", func(t *testing.T) {
		clock := &fixedClock{t: base}
		c := newCounter(clock)
		key := FailedLoginKey("bob")

		require.NoError(t, c.Add(ctx, key, base))
		require.NoError(t, c.Reset(ctx, key))

		n, err := c.Count(ctx, key, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("unknown key is zero", func(t *testing.T) {
		c := newCounter(&fixedClock{t: base})
		n, err := c.Count(ctx, "nope", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("entries past retention are trimmed", func(t *testing.T) {
		clock := &fixedClock{t: base}
		c := newCounter(clock)
		key := FailedLoginKey("carol")

		require.NoError(t, c.Add(ctx, key, base.Add(-3*time.Hour)))
		require.NoError(t, c.Add(ctx, key, base))

		n, err := c.Count(ctx, key, 48*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestRedisCounter(t *testing.T) {
	client, _ := setupTestRedis(t)
	counterSuite(t, func(clock *fixedClock) Counter {
		client.FlushAll(context.Background())
		c := NewRedisCounter(client, 2*time.Hour)
		c.now = clock.now
		return c
	})
}

func TestMemoryCounter(t *testing.T) {
	counterSuite(t, func(clock *fixedClock) Counter {
		c := NewMemoryCounter(2 * time.Hour)
		c.now = clock.now
		return c
	})
}

func TestRedisCounter_SetsTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := NewRedisCounter(client, time.Hour)

	key := FailedLoginKey("dave")
	require.NoError(t, c.Add(context.Background(), key, time.Now()))

	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	mr.FastForward(2 * time.Hour)
	assert.False(t, mr.Exists(key))
}

func TestRedisCounter_ErrorsWhenRedisDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := NewRedisCounter(client, time.Hour)
	mr.Close()

	assert.Error(t, c.Add(context.Background(), "k", time.Now()))
	_, err := c.Count(context.Background(), "k", time.Minute)
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "aegis:counter:login_failed:alice@example.com", FailedLoginKey("  Alice@Example.com "))
	assert.Equal(t, "aegis:counter:registration_ip:10.0.0.1", IPRegistrationKey("10.0.0.1"))
	assert.Equal(t, "aegis:counter:action:u1:data_export", ActionKey("u1", "data_export"))
}
