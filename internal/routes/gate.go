package routes

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/zhizuo588/nav-api/internal/middleware"
	"github.com/zhizuo588/nav-api/internal/ratelimit"
)

// passwordGate guards maintenance endpoints with a shared password
// carried as a bearer credential, brute-force limited per client IP.
type passwordGate struct {
	password   string
	action     string
	limiter    *ratelimit.Limiter
	logger     *logrus.Logger
	msgMissing string
	msgWrong   string
	msgLocked  string
}

func newPrivateGate(password string, limiter *ratelimit.Limiter, logger *logrus.Logger) *passwordGate {
	return &passwordGate{
		password:   password,
		action:     ratelimit.ActionPrivate,
		limiter:    limiter,
		logger:     logger,
		msgMissing: "需要密码验证",
		msgWrong:   "密码错误",
		msgLocked:  "密码尝试次数过多，请15分钟后再试",
	}
}

func newAdminGate(password string, limiter *ratelimit.Limiter, logger *logrus.Logger) *passwordGate {
	return &passwordGate{
		password:   password,
		action:     ratelimit.ActionAdmin,
		limiter:    limiter,
		logger:     logger,
		msgMissing: "需要管理员密码",
		msgWrong:   "管理员密码错误",
		msgLocked:  "尝试次数过多，请15分钟后再试",
	}
}

// Handle checks the lockout before comparing the password, so a locked
// client learns nothing about the credential.
func (g *passwordGate) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		supplied := middleware.ExtractToken(c)
		if supplied == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": g.msgMissing,
			})
		}

		ip := ratelimit.ClientIP(c)
		if g.limiter.IsLocked(c.UserContext(), ip, g.action) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":  g.msgLocked,
				"locked": true,
			})
		}

		if g.password == "" ||
			subtle.ConstantTimeCompare([]byte(supplied), []byte(g.password)) != 1 {
			g.limiter.RecordFailure(c.UserContext(), ip, g.action)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": g.msgWrong,
			})
		}

		g.limiter.ClearFailures(c.UserContext(), ip, g.action)
		return c.Next()
	}
}
