// Package ratelimit tracks failed attempts per (client IP, action) pair
// and locks an IP out of an action after too many failures. State lives in
// Redis; the transition rules are a pure function so they can be tested
// without a store.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/zhizuo588/nav-api/internal/metrics"
)

// Action labels. The set is open: each endpoint category gets an
// independent counter per IP.
const (
	ActionLogin   = "login"
	ActionPrivate = "private"
	ActionAdmin   = "admin"
)

// UnknownIP is the shared bucket for clients whose address could not be
// resolved from the edge headers.
const UnknownIP = "unknown"

// Policy is the lockout tuning for one limiter.
type Policy struct {
	MaxAttempts int
	LockWindow  time.Duration
}

// DefaultPolicy matches the original deployment: five failures, fifteen
// minute lockout.
var DefaultPolicy = Policy{MaxAttempts: 5, LockWindow: 15 * time.Minute}

// Record is the accumulated failure state for one (IP, action) pair.
// A zero LockedUntil means no lock is active.
type Record struct {
	FailedAttempts int
	LockedUntil    time.Time
	UpdatedAt      time.Time
}

// Locked reports whether the record holds an active lock at now.
func (r *Record) Locked(now time.Time) bool {
	return r != nil && !r.LockedUntil.IsZero() && r.LockedUntil.After(now)
}

// advance computes the successor record for one failure event.
//
//	CLEAN -> ACCUMULATING(1)
//	ACCUMULATING(n<max) -> ACCUMULATING(n+1) | LOCKED when n+1 >= max
//	LOCKED(past) -> ACCUMULATING(1)   (expired windows never accumulate)
//
// Success is not an input here: it deletes the record entirely.
func advance(rec *Record, now time.Time, p Policy) (Record, bool) {
	if rec == nil {
		return Record{FailedAttempts: 1, UpdatedAt: now}, false
	}

	// A lock that has already elapsed starts a fresh window.
	if !rec.LockedUntil.IsZero() && !rec.LockedUntil.After(now) {
		return Record{FailedAttempts: 1, UpdatedAt: now}, false
	}

	next := Record{FailedAttempts: rec.FailedAttempts + 1, UpdatedAt: now}
	if next.FailedAttempts >= p.MaxAttempts {
		next.LockedUntil = now.Add(p.LockWindow)
		return next, !rec.Locked(now)
	}
	return next, false
}

// Limiter gates sensitive endpoints on accumulated failures. Storage
// errors never block the legitimate request path: checks fail open and the
// underlying credential check still runs.
type Limiter struct {
	store  Store
	policy Policy
	logger *logrus.Logger
	now    func() time.Time
}

// NewLimiter creates a limiter over the given store.
func NewLimiter(store Store, policy Policy, logger *logrus.Logger) *Limiter {
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy
	}
	return &Limiter{store: store, policy: policy, logger: logger, now: time.Now}
}

// IsLocked reports whether the (ip, action) pair is inside a lockout
// window. Store errors read as "not locked".
func (l *Limiter) IsLocked(ctx context.Context, ip, action string) bool {
	rec, err := l.store.Get(ctx, ip, action)
	if err != nil {
		l.logger.WithError(err).WithFields(logrus.Fields{
			"ip":     ip,
			"action": action,
		}).Error("Rate limit check failed, failing open")
		return false
	}
	return rec.Locked(l.now())
}

// RecordFailure counts one failed attempt and reports whether this
// failure crossed the lockout threshold.
func (l *Limiter) RecordFailure(ctx context.Context, ip, action string) bool {
	now := l.now()

	rec, err := l.store.Get(ctx, ip, action)
	if err != nil {
		l.logger.WithError(err).WithFields(logrus.Fields{
			"ip":     ip,
			"action": action,
		}).Error("Failed to read rate limit record")
		return false
	}

	next, justLocked := advance(rec, now, l.policy)
	if err := l.store.Put(ctx, ip, action, next); err != nil {
		l.logger.WithError(err).WithFields(logrus.Fields{
			"ip":     ip,
			"action": action,
		}).Error("Failed to persist rate limit record")
		return false
	}

	if justLocked {
		metrics.RecordLockout(action)
		l.logger.WithFields(logrus.Fields{
			"ip":           ip,
			"action":       action,
			"attempts":     next.FailedAttempts,
			"locked_until": next.LockedUntil,
		}).Warn("Client locked out")
	}
	return justLocked
}

// ClearFailures removes the record after a successful attempt so the next
// failure starts a fresh count.
func (l *Limiter) ClearFailures(ctx context.Context, ip, action string) {
	if err := l.store.Delete(ctx, ip, action); err != nil {
		l.logger.WithError(err).WithFields(logrus.Fields{
			"ip":     ip,
			"action": action,
		}).Error("Failed to clear rate limit record")
	}
}

// ClientIP resolves the client address for rate limiting. The edge's
// CF-Connecting-IP header is authoritative in production; X-Forwarded-For
// is a fallback for other proxies. Without either, all clients share the
// "unknown" bucket.
func ClientIP(c *fiber.Ctx) string {
	if ip := c.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		if first, _, found := strings.Cut(xff, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	return UnknownIP
}
