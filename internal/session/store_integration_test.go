package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhizuo588/nav-api/internal/auth"
	"github.com/zhizuo588/nav-api/internal/db"
)

func postgresTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/nav?sslmode=disable"
	}

	conn, err := sql.Open("pgx", dsn)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		t.Skipf("postgres not reachable at %s: %v", dsn, err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	require.NoError(t, db.Migrate(ctx, conn, logger))

	t.Cleanup(func() { conn.Close() })
	return conn
}

// seedUser inserts a throwaway account and schedules its removal. Session
// rows cascade away with it.
func seedUser(t *testing.T, conn *sql.DB) (int64, string) {
	t.Helper()
	ctx := context.Background()

	username := fmt.Sprintf("itest_sess_%d", time.Now().UnixNano())
	var id int64
	err := conn.QueryRowContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, 'hash') RETURNING id`,
		username,
	).Scan(&id)
	require.NoError(t, err)

	t.Cleanup(func() { conn.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id) })
	return id, username
}

func sqlTestStore(t *testing.T, conn *sql.DB) *SQLStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewSQLStore(conn, logger)
}

func TestSQLStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	conn := postgresTestDB(t)
	store := sqlTestStore(t, conn)
	userID, username := seedUser(t, conn)

	token, err := store.Create(ctx, userID, time.Hour)
	require.NoError(t, err)
	assert.Len(t, token, 64)

	identity := store.Validate(ctx, token)
	require.NotNil(t, identity)
	assert.Equal(t, userID, identity.AccountID)
	assert.Equal(t, username, identity.Username)

	// Only the digest is persisted.
	var stored int
	err = conn.QueryRowContext(ctx,
		`SELECT count(*) FROM sessions WHERE token_hash = $1`, auth.HashToken(token),
	).Scan(&stored)
	require.NoError(t, err)
	assert.Equal(t, 1, stored)

	assert.True(t, store.Revoke(ctx, token))
	assert.False(t, store.Revoke(ctx, token))
	assert.Nil(t, store.Validate(ctx, token))
}

func TestSQLStore_ValidateTouchesLastUsed(t *testing.T) {
	ctx := context.Background()
	conn := postgresTestDB(t)
	store := sqlTestStore(t, conn)
	userID, _ := seedUser(t, conn)

	token, err := store.Create(ctx, userID, time.Hour)
	require.NoError(t, err)

	// Backdate last_used_at so the touch is observable.
	_, err = conn.ExecContext(ctx,
		`UPDATE sessions SET last_used_at = now() - interval '1 hour' WHERE token_hash = $1`,
		auth.HashToken(token),
	)
	require.NoError(t, err)

	require.NotNil(t, store.Validate(ctx, token))

	var seconds float64
	err = conn.QueryRowContext(ctx,
		`SELECT extract(epoch FROM now() - last_used_at) FROM sessions WHERE token_hash = $1`,
		auth.HashToken(token),
	).Scan(&seconds)
	require.NoError(t, err)
	assert.Less(t, time.Duration(seconds*float64(time.Second)), time.Minute)
}

func TestSQLStore_ExpiredSessionRejectedAndSwept(t *testing.T) {
	ctx := context.Background()
	conn := postgresTestDB(t)
	store := sqlTestStore(t, conn)
	userID, _ := seedUser(t, conn)

	token, err := store.Create(ctx, userID, time.Hour)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx,
		`UPDATE sessions SET expires_at = now() - interval '1 minute' WHERE token_hash = $1`,
		auth.HashToken(token),
	)
	require.NoError(t, err)

	assert.Nil(t, store.Validate(ctx, token))
	assert.GreaterOrEqual(t, store.SweepExpired(ctx), 1)
	assert.False(t, store.Revoke(ctx, token))
}

func TestSQLStore_RevokeAll(t *testing.T) {
	ctx := context.Background()
	conn := postgresTestDB(t)
	store := sqlTestStore(t, conn)
	userID, _ := seedUser(t, conn)

	first, err := store.Create(ctx, userID, time.Hour)
	require.NoError(t, err)
	second, err := store.Create(ctx, userID, time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.RevokeAll(ctx, userID))
	assert.Nil(t, store.Validate(ctx, first))
	assert.Nil(t, store.Validate(ctx, second))
}
