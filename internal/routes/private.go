package routes

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/zhizuo588/nav-api/internal/ratelimit"
)

// PrivateHandler verifies the private-category password.
type PrivateHandler struct {
	password string
	limiter  *ratelimit.Limiter
	logger   *logrus.Logger
}

// NewPrivateHandler creates a new private-password handler.
func NewPrivateHandler(password string, limiter *ratelimit.Limiter, logger *logrus.Logger) *PrivateHandler {
	return &PrivateHandler{password: password, limiter: limiter, logger: logger}
}

// Verify checks a candidate password against the configured one, under
// the private-action brute-force limit.
func (h *PrivateHandler) Verify(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "缺少密码",
		})
	}

	if h.password == "" {
		h.logger.Error("Private password is not configured")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "服务器配置错误：密码未设置",
		})
	}

	ip := ratelimit.ClientIP(c)
	if h.limiter.IsLocked(c.UserContext(), ip, ratelimit.ActionPrivate) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":  "密码尝试次数过多，请15分钟后再试",
			"locked": true,
		})
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.password)) != 1 {
		h.limiter.RecordFailure(c.UserContext(), ip, ratelimit.ActionPrivate)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "密码错误",
		})
	}

	h.limiter.ClearFailures(c.UserContext(), ip, ratelimit.ActionPrivate)
	return c.JSON(fiber.Map{"success": true})
}
