// Package session manages bearer-token sessions. Only a digest of each
// token is persisted; the plaintext token exists server-side for the
// duration of the create call and never again.
package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhizuo588/nav-api/internal/auth"
	"github.com/zhizuo588/nav-api/internal/metrics"
	"github.com/zhizuo588/nav-api/internal/models"
)

// DefaultValidity is the absolute session lifetime from issuance.
const DefaultValidity = 30 * 24 * time.Hour

// Store is the session persistence contract. Validate and Revoke treat
// storage errors as "no session" / "not revoked": auth fails closed.
type Store interface {
	// Create issues a new session and returns the plaintext token, the
	// only time it is ever available.
	Create(ctx context.Context, accountID int64, validity time.Duration) (string, error)
	// Validate resolves a bearer token to an identity, touching the
	// session's last-used time. Expiry is absolute: last-used never
	// extends it. Returns nil for unknown, expired, or unreadable
	// sessions.
	Validate(ctx context.Context, token string) *models.Identity
	// Revoke deletes the session for a token and reports whether a row
	// was actually removed.
	Revoke(ctx context.Context, token string) bool
	// RevokeAll deletes every session belonging to an account.
	RevokeAll(ctx context.Context, accountID int64) error
	// SweepExpired removes expired rows and returns how many died.
	// Correctness does not depend on it; Validate re-checks expiry.
	SweepExpired(ctx context.Context) int
}

// SQLStore is the Postgres-backed Store.
type SQLStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewSQLStore creates a Postgres-backed session store.
func NewSQLStore(db *sql.DB, logger *logrus.Logger) *SQLStore {
	return &SQLStore{db: db, logger: logger}
}

func (s *SQLStore) Create(ctx context.Context, accountID int64, validity time.Duration) (string, error) {
	token, err := auth.GenerateSessionToken()
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().Add(validity)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, token_hash, expires_at) VALUES ($1, $2, $3)`,
		accountID, auth.HashToken(token), expiresAt,
	)
	if err != nil {
		return "", err
	}

	metrics.RecordSessionCreated()
	s.logger.WithFields(logrus.Fields{
		"user_id":    accountID,
		"expires_at": expiresAt,
	}).Info("Session created")

	return token, nil
}

func (s *SQLStore) Validate(ctx context.Context, token string) *models.Identity {
	tokenHash := auth.HashToken(token)

	// Duplicate hashes cannot happen on the create path (unique
	// constraint), but pick the most recently used row anyway.
	var identity models.Identity
	err := s.db.QueryRowContext(ctx,
		`SELECT s.id, s.user_id, u.username, s.expires_at
		 FROM sessions s
		 JOIN users u ON s.user_id = u.id
		 WHERE s.token_hash = $1 AND s.expires_at > now()
		 ORDER BY s.last_used_at DESC
		 LIMIT 1`,
		tokenHash,
	).Scan(&identity.SessionID, &identity.AccountID, &identity.Username, &identity.ExpiresAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.WithError(err).Error("Session lookup failed, failing closed")
		}
		return nil
	}

	// Informational only: expiry stays absolute from issuance.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_used_at = now() WHERE id = $1`, identity.SessionID,
	); err != nil {
		s.logger.WithError(err).Warn("Failed to touch session last-used time")
	}

	return &identity
}

func (s *SQLStore) Revoke(ctx context.Context, token string) bool {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE token_hash = $1`, auth.HashToken(token),
	)
	if err != nil {
		s.logger.WithError(err).Error("Session revoke failed")
		return false
	}

	affected, err := result.RowsAffected()
	if err != nil {
		s.logger.WithError(err).Error("Session revoke rows-affected failed")
		return false
	}

	if affected > 0 {
		metrics.RecordSessionRevoked()
	}
	return affected > 0
}

func (s *SQLStore) RevokeAll(ctx context.Context, accountID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1`, accountID,
	)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", accountID).Error("Bulk session revoke failed")
		return err
	}

	s.logger.WithField("user_id", accountID).Info("All sessions revoked for account")
	return nil
}

func (s *SQLStore) SweepExpired(ctx context.Context) int {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= now()`,
	)
	if err != nil {
		s.logger.WithError(err).Error("Session sweep failed")
		return 0
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0
	}

	metrics.RecordSessionsSwept(int(affected))
	if affected > 0 {
		s.logger.WithField("count", affected).Info("Swept expired sessions")
	}
	return int(affected)
}
