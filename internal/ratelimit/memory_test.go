package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is advanced by hand so refill tests never sleep.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newLimiter(t *testing.T, rps float64, burst int, clock *fakeClock) *MemoryLimiter {
	t.Helper()
	m := NewMemoryLimiter(rps, burst, WithClock(clock.Now))
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m
}

func allowN(t *testing.T, m *MemoryLimiter, key string, n int) int {
	t.Helper()
	allowed := 0
	for range n {
		ok, err := m.Allow(context.Background(), key)
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	return allowed
}

func TestMemoryLimiterBurstThenDeny(t *testing.T) {
	m := newLimiter(t, 10, 3, newFakeClock())

	assert.Equal(t, 3, allowN(t, m, "ip:10.0.0.1", 3))
	assert.Equal(t, 0, allowN(t, m, "ip:10.0.0.1", 1))
}

func TestMemoryLimiterRefill(t *testing.T) {
	clock := newFakeClock()
	m := newLimiter(t, 2, 1, clock)

	assert.Equal(t, 1, allowN(t, m, "k", 2))

	clock.Advance(250 * time.Millisecond)
	assert.Equal(t, 0, allowN(t, m, "k", 1), "half a token is not enough")

	clock.Advance(250 * time.Millisecond)
	assert.Equal(t, 1, allowN(t, m, "k", 1))
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	m := newLimiter(t, 1, 1, newFakeClock())

	assert.Equal(t, 1, allowN(t, m, "ip:a", 2))
	assert.Equal(t, 1, allowN(t, m, "ip:b", 2))
	assert.Equal(t, 2, m.Len())
}

func TestMemoryLimiterRetryAfter(t *testing.T) {
	clock := newFakeClock()
	m := newLimiter(t, 4, 1, clock)

	assert.Zero(t, m.RetryAfter("k"))
	allowN(t, m, "k", 1)
	assert.Equal(t, 250*time.Millisecond, m.RetryAfter("k"))

	clock.Advance(100 * time.Millisecond)
	assert.InDelta(t, 150*time.Millisecond, m.RetryAfter("k"), float64(time.Microsecond))

	zero := newLimiter(t, 0, 1, clock)
	assert.Equal(t, time.Minute, zero.RetryAfter("k"))
}

func TestMemoryLimiterEvictsIdleKeys(t *testing.T) {
	clock := newFakeClock()
	m := newLimiter(t, 1, 1, clock)

	allowN(t, m, "old", 1)
	clock.Advance(staleAfter - time.Minute)
	allowN(t, m, "recent", 1)
	clock.Advance(2 * time.Minute)

	m.evictStale()
	assert.Equal(t, 1, m.Len())

	// An evicted key starts again with a full bucket.
	assert.Equal(t, 1, allowN(t, m, "old", 1))
}

func TestMemoryLimiterConcurrentCallers(t *testing.T) {
	m := newLimiter(t, 1, 50, newFakeClock())

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			for range 10 {
				ok, err := m.Allow(context.Background(), "shared")
				if err == nil && ok {
					allowed.Add(1)
				}
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load())
}

func TestMemoryLimiterCloseTwice(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestNoopLimiter(t *testing.T) {
	var l NoopLimiter
	for range 100 {
		ok, err := l.Allow(context.Background(), "any")
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.NoError(t, l.Close())
}

func TestIPKeyFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.7:51234"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	assert.Equal(t, "10.0.0.7", IPKeyFunc(r, false))
	assert.Equal(t, "203.0.113.9", IPKeyFunc(r, true))

	r.Header.Del("X-Forwarded-For")
	assert.Equal(t, "10.0.0.7", IPKeyFunc(r, true))

	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", IPKeyFunc(r, false))

	r.RemoteAddr = "unix-socket"
	assert.Equal(t, "unix-socket", IPKeyFunc(r, false))
}
