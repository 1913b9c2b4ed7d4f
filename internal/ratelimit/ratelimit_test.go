package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httptestRequest(t *testing.T, headers map[string]string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestAdvance(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	policy := Policy{MaxAttempts: 5, LockWindow: 15 * time.Minute}

	tests := []struct {
		name         string
		rec          *Record
		wantAttempts int
		wantLock     bool
		wantJust     bool
	}{
		{"first failure", nil, 1, false, false},
		{"accumulating", &Record{FailedAttempts: 2}, 3, false, false},
		{"one below threshold", &Record{FailedAttempts: 3}, 4, false, false},
		{"crosses threshold", &Record{FailedAttempts: 4}, 5, true, true},
		{
			"failure during active lock re-extends",
			&Record{FailedAttempts: 5, LockedUntil: now.Add(5 * time.Minute)},
			6, true, false,
		},
		{
			"expired lock resets to one",
			&Record{FailedAttempts: 5, LockedUntil: now.Add(-time.Minute)},
			1, false, false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, justLocked := advance(tt.rec, now, policy)

			assert.Equal(t, tt.wantAttempts, next.FailedAttempts)
			assert.Equal(t, tt.wantJust, justLocked)
			if tt.wantLock {
				assert.Equal(t, now.Add(policy.LockWindow), next.LockedUntil)
			} else {
				assert.True(t, next.LockedUntil.IsZero())
			}
			assert.Equal(t, now, next.UpdatedAt)
		})
	}
}

func TestLimiter_LockoutSequence(t *testing.T) {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	limiter := NewLimiter(NewMemoryStore(), DefaultPolicy, logger)

	// Four failures: still open.
	for i := 0; i < 4; i++ {
		justLocked := limiter.RecordFailure(ctx, "203.0.113.7", ActionLogin)
		assert.False(t, justLocked, "failure %d must not lock", i+1)
		assert.False(t, limiter.IsLocked(ctx, "203.0.113.7", ActionLogin))
	}

	// Fifth crosses the threshold.
	assert.True(t, limiter.RecordFailure(ctx, "203.0.113.7", ActionLogin))
	assert.True(t, limiter.IsLocked(ctx, "203.0.113.7", ActionLogin))

	// Independent action and IP buckets are untouched.
	assert.False(t, limiter.IsLocked(ctx, "203.0.113.7", ActionPrivate))
	assert.False(t, limiter.IsLocked(ctx, "198.51.100.1", ActionLogin))

	// Success clears the record; the next failure starts at one.
	limiter.ClearFailures(ctx, "203.0.113.7", ActionLogin)
	assert.False(t, limiter.IsLocked(ctx, "203.0.113.7", ActionLogin))
	assert.False(t, limiter.RecordFailure(ctx, "203.0.113.7", ActionLogin))

	rec, err := limiter.store.Get(ctx, "203.0.113.7", ActionLogin)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.FailedAttempts)
}

func TestLimiter_ExpiredLockResets(t *testing.T) {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	limiter := NewLimiter(NewMemoryStore(), DefaultPolicy, logger)

	base := time.Now()
	limiter.now = func() time.Time { return base }
	for i := 0; i < 5; i++ {
		limiter.RecordFailure(ctx, "203.0.113.9", ActionAdmin)
	}
	assert.True(t, limiter.IsLocked(ctx, "203.0.113.9", ActionAdmin))

	// Past the window the lock reads open and the next failure resets.
	limiter.now = func() time.Time { return base.Add(16 * time.Minute) }
	assert.False(t, limiter.IsLocked(ctx, "203.0.113.9", ActionAdmin))
	assert.False(t, limiter.RecordFailure(ctx, "203.0.113.9", ActionAdmin))

	rec, err := limiter.store.Get(ctx, "203.0.113.9", ActionAdmin)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.FailedAttempts)
	assert.True(t, rec.LockedUntil.IsZero())
}

type failingStore struct{}

func (failingStore) Get(ctx context.Context, ip, action string) (*Record, error) {
	return nil, errors.New("redis unavailable")
}

func (failingStore) Put(ctx context.Context, ip, action string, rec Record) error {
	return errors.New("redis unavailable")
}

func (failingStore) Delete(ctx context.Context, ip, action string) error {
	return errors.New("redis unavailable")
}

func TestLimiter_FailsOpenOnStoreError(t *testing.T) {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	limiter := NewLimiter(failingStore{}, DefaultPolicy, logger)

	assert.False(t, limiter.IsLocked(ctx, "203.0.113.7", ActionLogin))
	assert.False(t, limiter.RecordFailure(ctx, "203.0.113.7", ActionLogin))
	limiter.ClearFailures(ctx, "203.0.113.7", ActionLogin) // must not panic
}

func TestClientIP(t *testing.T) {
	app := fiber.New()

	var got string
	app.Get("/", func(c *fiber.Ctx) error {
		got = ClientIP(c)
		return c.SendString("ok")
	})

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"edge header wins", map[string]string{
			"CF-Connecting-IP": "203.0.113.7",
			"X-Forwarded-For":  "198.51.100.1",
		}, "203.0.113.7"},
		{"forwarded-for fallback", map[string]string{
			"X-Forwarded-For": "198.51.100.1, 10.0.0.2",
		}, "198.51.100.1"},
		{"single forwarded-for", map[string]string{
			"X-Forwarded-For": "198.51.100.1",
		}, "198.51.100.1"},
		{"no headers", nil, UnknownIP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptestRequest(t, tt.headers)
			_, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
