package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisTestClient(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not reachable on localhost:6379: %v", err)
	}

	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client := redisTestClient(t)
	store := NewRedisStore(client)

	ip := fmt.Sprintf("192.0.2.%d", time.Now().UnixNano()%250)
	t.Cleanup(func() { client.Del(ctx, recordKey(ip, ActionLogin)) })

	// Absent key reads as no record, not an error.
	rec, err := store.Get(ctx, ip, ActionLogin)
	require.NoError(t, err)
	assert.Nil(t, rec)

	now := time.Now().Truncate(time.Second)
	lockedUntil := now.Add(15 * time.Minute)
	require.NoError(t, store.Put(ctx, ip, ActionLogin, Record{
		FailedAttempts: 5,
		LockedUntil:    lockedUntil,
		UpdatedAt:      now,
	}))

	rec, err = store.Get(ctx, ip, ActionLogin)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 5, rec.FailedAttempts)
	assert.Equal(t, lockedUntil.Unix(), rec.LockedUntil.Unix())
	assert.Equal(t, now.Unix(), rec.UpdatedAt.Unix())
	assert.True(t, rec.Locked(now))

	// Keys carry no TTL.
	ttl, err := client.TTL(ctx, recordKey(ip, ActionLogin)).Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)

	require.NoError(t, store.Delete(ctx, ip, ActionLogin))
	rec, err = store.Get(ctx, ip, ActionLogin)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRedisStore_ZeroLockStoredAsUnlocked(t *testing.T) {
	ctx := context.Background()
	client := redisTestClient(t)
	store := NewRedisStore(client)

	ip := fmt.Sprintf("192.0.2.%d", (time.Now().UnixNano()+1)%250)
	t.Cleanup(func() { client.Del(ctx, recordKey(ip, ActionPrivate)) })

	require.NoError(t, store.Put(ctx, ip, ActionPrivate, Record{
		FailedAttempts: 2,
		UpdatedAt:      time.Now(),
	}))

	rec, err := store.Get(ctx, ip, ActionPrivate)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.FailedAttempts)
	assert.True(t, rec.LockedUntil.IsZero())
	assert.False(t, rec.Locked(time.Now()))
}

func TestRedisStore_LimiterLockoutSequence(t *testing.T) {
	ctx := context.Background()
	client := redisTestClient(t)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	limiter := NewLimiter(NewRedisStore(client), DefaultPolicy, logger)

	ip := fmt.Sprintf("192.0.2.%d", (time.Now().UnixNano()+2)%250)
	t.Cleanup(func() { client.Del(ctx, recordKey(ip, ActionAdmin)) })

	for i := 0; i < 4; i++ {
		assert.False(t, limiter.RecordFailure(ctx, ip, ActionAdmin))
	}
	assert.True(t, limiter.RecordFailure(ctx, ip, ActionAdmin))
	assert.True(t, limiter.IsLocked(ctx, ip, ActionAdmin))

	limiter.ClearFailures(ctx, ip, ActionAdmin)
	assert.False(t, limiter.IsLocked(ctx, ip, ActionAdmin))
}
