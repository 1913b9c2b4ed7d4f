// Package accounts persists user accounts.
package accounts

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/zhizuo588/nav-api/internal/models"
)

var (
	// ErrNotFound means no account matches the lookup.
	ErrNotFound = errors.New("account not found")
	// ErrUsernameTaken means the username is already registered. The
	// database unique constraint is authoritative; concurrent registers
	// for the same name race down to exactly one winner.
	ErrUsernameTaken = errors.New("username already taken")
)

// Store is the account persistence contract.
type Store interface {
	ByUsername(ctx context.Context, username string) (*models.Account, error)
	Create(ctx context.Context, username, passwordHash string) (*models.Account, error)
	UpdatePasswordHash(ctx context.Context, accountID int64, passwordHash string) error
}

// SQLStore is the Postgres-backed Store.
type SQLStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewSQLStore creates a Postgres-backed account store.
func NewSQLStore(db *sql.DB, logger *logrus.Logger) *SQLStore {
	return &SQLStore{db: db, logger: logger}
}

func (s *SQLStore) ByUsername(ctx context.Context, username string) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = $1`,
		username,
	).Scan(&account.ID, &account.Username, &account.PasswordHash, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *SQLStore) Create(ctx context.Context, username, passwordHash string) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, $2)
		 RETURNING id, username, password_hash, created_at`,
		username, passwordHash,
	).Scan(&account.ID, &account.Username, &account.PasswordHash, &account.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":  account.ID,
		"username": account.Username,
	}).Info("Account created")
	return &account, nil
}

func (s *SQLStore) UpdatePasswordHash(ctx context.Context, accountID int64, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1 WHERE id = $2`,
		passwordHash, accountID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
