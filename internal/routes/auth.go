package routes

import (
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/zhizuo588/nav-api/internal/accounts"
	"github.com/zhizuo588/nav-api/internal/auth"
	"github.com/zhizuo588/nav-api/internal/logging"
	"github.com/zhizuo588/nav-api/internal/metrics"
	"github.com/zhizuo588/nav-api/internal/middleware"
	"github.com/zhizuo588/nav-api/internal/models"
	"github.com/zhizuo588/nav-api/internal/ratelimit"
	"github.com/zhizuo588/nav-api/internal/session"
)

const (
	minUsernameLength = 3
	minPasswordLength = 6
)

// AuthHandler handles registration, login, and logout.
type AuthHandler struct {
	accounts accounts.Store
	sessions session.Store
	limiter  *ratelimit.Limiter
	validity time.Duration
	logger   *logrus.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(accountStore accounts.Store, sessionStore session.Store, limiter *ratelimit.Limiter, validity time.Duration, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		accounts: accountStore,
		sessions: sessionStore,
		limiter:  limiter,
		validity: validity,
		logger:   logger,
	}
}

// Register creates an account and logs it straight in.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req models.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "用户名和密码不能为空",
		})
	}

	if req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "用户名和密码不能为空",
		})
	}
	if utf8.RuneCountInString(req.Username) < minUsernameLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "用户名至少需要 3 个字符",
		})
	}
	if utf8.RuneCountInString(req.Password) < minPasswordLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "密码至少需要 6 个字符",
		})
	}

	// Fast duplicate check before the expensive hash. Not
	// authoritative: the unique constraint below settles races.
	if _, err := h.accounts.ByUsername(c.UserContext(), req.Username); err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "用户名已存在",
		})
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.WithError(err).Error("Password hashing failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "注册失败",
		})
	}

	account, err := h.accounts.Create(c.UserContext(), req.Username, passwordHash)
	if err != nil {
		if err == accounts.ErrUsernameTaken {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "用户名已存在",
			})
		}
		h.logger.WithError(err).WithField("username", req.Username).Error("Account insert failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "注册失败",
		})
	}

	token, err := h.sessions.Create(c.UserContext(), account.ID, h.validity)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", account.ID).Error("Session create failed after register")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "注册失败",
		})
	}

	h.logger.WithFields(logrus.Fields{
		"user_id":  account.ID,
		"username": account.Username,
	}).Info("User registered")

	return c.JSON(models.AuthResponse{
		Success:  true,
		Message:  "注册成功",
		Token:    token,
		UserID:   account.ID,
		Username: account.Username,
	})
}

// Login verifies credentials under the login rate limit and issues a
// fresh session. Existing sessions for the account stay valid.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "用户名和密码不能为空",
		})
	}

	if req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "用户名和密码不能为空",
		})
	}

	// Lockout check runs before any credential work so a locked
	// client cannot probe passwords.
	ip := ratelimit.ClientIP(c)
	if h.limiter.IsLocked(c.UserContext(), ip, ratelimit.ActionLogin) {
		return h.lockedResponse(c)
	}

	// Credential verification dominates login latency (PBKDF2), so it
	// gets its own span.
	spanCtx, span := middleware.StartSpan(c.UserContext(), "auth.verify_credentials")
	defer span.End()

	account, err := h.accounts.ByUsername(spanCtx, req.Username)
	if err != nil {
		if err != accounts.ErrNotFound {
			h.logger.WithError(err).Error("Account lookup failed, failing closed")
		}
		// Same response as a wrong password: no account enumeration.
		return h.failLogin(c, ip, req.Username)
	}

	verified := auth.VerifyPassword(req.Password, account.PasswordHash)
	middleware.AddSpanAttributes(span, map[string]interface{}{
		"auth.user_id":     account.ID,
		"auth.legacy_hash": auth.IsLegacyFormat(account.PasswordHash),
		"auth.verified":    verified,
	})
	if !verified {
		return h.failLogin(c, ip, req.Username)
	}

	passwordUpgraded := h.maybeUpgradeHash(c, account, req.Password)

	token, err := h.sessions.Create(c.UserContext(), account.ID, h.validity)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", account.ID).Error("Session create failed after login")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "登录失败",
		})
	}

	h.limiter.ClearFailures(c.UserContext(), ip, ratelimit.ActionLogin)
	metrics.RecordLoginAttempt("success")

	h.logger.WithFields(logrus.Fields{
		"user_id":           account.ID,
		"username":          account.Username,
		"password_upgraded": passwordUpgraded,
	}).Info("User logged in")

	message := "登录成功"
	if passwordUpgraded {
		message = "登录成功（密码安全已升级）"
	}

	return c.JSON(models.AuthResponse{
		Success:          true,
		Message:          message,
		Token:            token,
		UserID:           account.ID,
		Username:         account.Username,
		PasswordUpgraded: passwordUpgraded,
	})
}

// Logout revokes the presented session. Revocation is idempotent: the
// response is success whether or not a session actually died.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	token := middleware.ExtractToken(c)
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "未提供认证令牌",
		})
	}

	if h.sessions.Revoke(c.UserContext(), token) {
		h.logger.Info("User logged out")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "已成功登出",
	})
}

// failLogin records the failed attempt and answers 401, or 429 when
// this exact attempt crossed the lockout threshold.
func (h *AuthHandler) failLogin(c *fiber.Ctx, ip, username string) error {
	metrics.RecordLoginAttempt("failure")
	h.logger.WithFields(logrus.Fields{
		"username": username,
		"ip":       ip,
	}).Warn("Login failed")

	if h.limiter.RecordFailure(c.UserContext(), ip, ratelimit.ActionLogin) {
		return h.lockedResponse(c)
	}
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "用户名或密码错误",
	})
}

func (h *AuthHandler) lockedResponse(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":  "密码尝试次数过多，请15分钟后再试",
		"locked": true,
	})
}

// maybeUpgradeHash rewrites a legacy unsalted hash as the current
// format, best effort: an upgrade failure never blocks the login.
func (h *AuthHandler) maybeUpgradeHash(c *fiber.Ctx, account *models.Account, password string) bool {
	if !auth.IsLegacyFormat(account.PasswordHash) {
		return false
	}

	log := logging.WithAccountID(h.logger, account.ID)

	newHash, err := auth.HashPassword(password)
	if err != nil {
		log.WithError(err).Error("Hash upgrade derivation failed")
		return false
	}
	if err := h.accounts.UpdatePasswordHash(c.UserContext(), account.ID, newHash); err != nil {
		log.WithError(err).Error("Hash upgrade persist failed")
		return false
	}

	metrics.RecordPasswordUpgrade()
	log.Info("Legacy password hash upgraded")
	return true
}
