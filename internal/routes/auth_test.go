package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhizuo588/nav-api/internal/accounts"
	"github.com/zhizuo588/nav-api/internal/auth"
	"github.com/zhizuo588/nav-api/internal/middleware"
	"github.com/zhizuo588/nav-api/internal/ratelimit"
	"github.com/zhizuo588/nav-api/internal/session"
)

type authFixture struct {
	app      *fiber.App
	accounts *accounts.MemoryStore
	sessions *session.MemoryStore
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	accountStore := accounts.NewMemoryStore()
	sessionStore := session.NewMemoryStore(accountStore.Username)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.DefaultPolicy, logger)
	guard := middleware.NewSessionGuard(sessionStore, logger)

	handler := NewAuthHandler(accountStore, sessionStore, limiter, session.DefaultValidity, logger)

	app := fiber.New()
	app.Post("/api/auth/register", handler.Register)
	app.Post("/api/auth/login", handler.Login)
	app.Post("/api/auth/logout", handler.Logout)
	app.Get("/api/whoami", guard.RequireSession(), func(c *fiber.Ctx) error {
		identity := middleware.Identity(c)
		return c.JSON(fiber.Map{
			"userId":   identity.AccountID,
			"username": identity.Username,
		})
	})

	return &authFixture{app: app, accounts: accountStore, sessions: sessionStore}
}

func (f *authFixture) post(t *testing.T, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(http.MethodPost, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (f *authFixture) get(t *testing.T, path, token string) (*http.Response, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestRegisterThenAccessProtected(t *testing.T) {
	f := newAuthFixture(t)

	resp, body := f.post(t, "/api/auth/register",
		map[string]string{"username": "alice", "password": "secret1"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "注册成功", body["message"])
	assert.Equal(t, "alice", body["username"])

	token, _ := body["token"].(string)
	require.Len(t, token, 64)

	resp, body = f.get(t, "/api/whoami", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", body["username"])
}

func TestRegisterValidation(t *testing.T) {
	f := newAuthFixture(t)

	tests := []struct {
		name     string
		username string
		password string
		wantMsg  string
	}{
		{"empty username", "", "secret1", "用户名和密码不能为空"},
		{"empty password", "alice", "", "用户名和密码不能为空"},
		{"short username", "ab", "secret1", "用户名至少需要 3 个字符"},
		{"short password", "alice", "12345", "密码至少需要 6 个字符"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.post(t, "/api/auth/register",
				map[string]string{"username": tt.username, "password": tt.password}, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.wantMsg, body["error"])
		})
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	f := newAuthFixture(t)

	resp, _ := f.post(t, "/api/auth/register",
		map[string]string{"username": "alice", "password": "secret1"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.post(t, "/api/auth/register",
		map[string]string{"username": "alice", "password": "other-secret"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "用户名已存在", body["error"])
}

func TestLoginUnknownUserIsGeneric(t *testing.T) {
	f := newAuthFixture(t)

	resp, body := f.post(t, "/api/auth/login",
		map[string]string{"username": "nobody", "password": "whatever"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "用户名或密码错误", body["error"])
}

func TestLoginLockoutSequence(t *testing.T) {
	f := newAuthFixture(t)
	headers := map[string]string{"X-Forwarded-For": "203.0.113.9"}

	resp, _ := f.post(t, "/api/auth/register",
		map[string]string{"username": "alice", "password": "secret1"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// First four wrong passwords: plain 401s.
	for i := 0; i < 4; i++ {
		resp, body := f.post(t, "/api/auth/login",
			map[string]string{"username": "alice", "password": "wrong"}, headers)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "用户名或密码错误", body["error"])
	}

	// The fifth failure crosses the threshold.
	resp, body := f.post(t, "/api/auth/login",
		map[string]string{"username": "alice", "password": "wrong"}, headers)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, true, body["locked"])

	// Even the correct password is refused while locked.
	resp, body = f.post(t, "/api/auth/login",
		map[string]string{"username": "alice", "password": "secret1"}, headers)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, true, body["locked"])

	// A different IP is unaffected.
	resp, _ = f.post(t, "/api/auth/login",
		map[string]string{"username": "alice", "password": "secret1"},
		map[string]string{"X-Forwarded-For": "198.51.100.7"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	f := newAuthFixture(t)

	account, err := f.accounts.Create(context.Background(), "bob", auth.LegacyHash("secret1"))
	require.NoError(t, err)
	require.True(t, auth.IsLegacyFormat(account.PasswordHash))

	resp, body := f.post(t, "/api/auth/login",
		map[string]string{"username": "bob", "password": "secret1"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["passwordUpgraded"])

	stored, err := f.accounts.ByUsername(context.Background(), "bob")
	require.NoError(t, err)
	assert.False(t, auth.IsLegacyFormat(stored.PasswordHash))
	assert.True(t, auth.VerifyPassword("secret1", stored.PasswordHash))

	// Second login sees the current format; the flag is always present
	// and now reports false.
	resp, body = f.post(t, "/api/auth/login",
		map[string]string{"username": "bob", "password": "secret1"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["passwordUpgraded"])
}

func TestTwoSessionsAreIndependent(t *testing.T) {
	f := newAuthFixture(t)

	resp, body := f.post(t, "/api/auth/register",
		map[string]string{"username": "alice", "password": "secret1"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token1, _ := body["token"].(string)

	resp, body = f.post(t, "/api/auth/login",
		map[string]string{"username": "alice", "password": "secret1"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token2, _ := body["token"].(string)
	require.NotEqual(t, token1, token2)

	resp, _ = f.post(t, "/api/auth/logout", nil,
		map[string]string{"Authorization": "Bearer " + token1})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.get(t, "/api/whoami", token1)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = f.get(t, "/api/whoami", token2)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogoutWithoutToken(t *testing.T) {
	f := newAuthFixture(t)

	resp, body := f.post(t, "/api/auth/logout", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "未提供认证令牌", body["error"])
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newAuthFixture(t)

	resp, body := f.post(t, "/api/auth/register",
		map[string]string{"username": "alice", "password": "secret1"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)

	headers := map[string]string{"Authorization": "Bearer " + token}
	for i := 0; i < 2; i++ {
		resp, body := f.post(t, "/api/auth/logout", nil, headers)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "已成功登出", body["message"])
	}
}

func TestLoginFailsClosedOnStoreError(t *testing.T) {
	f := newAuthFixture(t)

	resp, _ := f.post(t, "/api/auth/register",
		map[string]string{"username": "alice", "password": "secret1"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f.accounts.FailNext(assert.AnError)
	resp, body := f.post(t, "/api/auth/login",
		map[string]string{"username": "alice", "password": "secret1"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "用户名或密码错误", body["error"])
}
