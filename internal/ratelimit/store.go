package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists failure records keyed by (ip, action). Get returns
// (nil, nil) when no record exists.
type Store interface {
	Get(ctx context.Context, ip, action string) (*Record, error)
	Put(ctx context.Context, ip, action string, rec Record) error
	Delete(ctx context.Context, ip, action string) error
}

// RedisStore keeps one hash per (ip, action) pair. Keys carry no TTL:
// dormant rows persist until a success clears them, matching the original
// rate_limits table semantics.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Redis-backed record store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func recordKey(ip, action string) string {
	return fmt.Sprintf("ratelimit:%s:%s", action, ip)
}

// Get loads the record, or (nil, nil) if the key is absent.
func (s *RedisStore) Get(ctx context.Context, ip, action string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, recordKey(ip, action)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limit record: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	rec := &Record{}
	if v, err := strconv.Atoi(fields["failed_attempts"]); err == nil {
		rec.FailedAttempts = v
	}
	if v, err := strconv.ParseInt(fields["locked_until"], 10, 64); err == nil && v > 0 {
		rec.LockedUntil = time.Unix(v, 0)
	}
	if v, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil && v > 0 {
		rec.UpdatedAt = time.Unix(v, 0)
	}
	return rec, nil
}

// Put overwrites the record.
func (s *RedisStore) Put(ctx context.Context, ip, action string, rec Record) error {
	var lockedUntil int64
	if !rec.LockedUntil.IsZero() {
		lockedUntil = rec.LockedUntil.Unix()
	}

	err := s.client.HSet(ctx, recordKey(ip, action),
		"failed_attempts", rec.FailedAttempts,
		"locked_until", lockedUntil,
		"updated_at", rec.UpdatedAt.Unix(),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to write rate limit record: %w", err)
	}
	return nil
}

// Delete removes the record.
func (s *RedisStore) Delete(ctx context.Context, ip, action string) error {
	if err := s.client.Del(ctx, recordKey(ip, action)).Err(); err != nil {
		return fmt.Errorf("failed to delete rate limit record: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store for tests and single-node
// development runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(ctx context.Context, ip, action string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey(ip, action)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) Put(ctx context.Context, ip, action string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey(ip, action)] = rec
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, ip, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey(ip, action))
	return nil
}
