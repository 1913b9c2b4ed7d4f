package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/zhizuo588/nav-api/internal/models"
	"github.com/zhizuo588/nav-api/internal/session"
)

const identityKey = "identity"

// SessionGuard authenticates requests carrying a bearer session token.
type SessionGuard struct {
	sessions session.Store
	logger   *logrus.Logger
}

// NewSessionGuard creates the bearer-token authentication middleware.
func NewSessionGuard(sessions session.Store, logger *logrus.Logger) *SessionGuard {
	return &SessionGuard{sessions: sessions, logger: logger}
}

// ExtractToken pulls the bearer token out of the Authorization header.
// Anything other than exactly "Bearer <token>" yields "".
func ExtractToken(c *fiber.Ctx) string {
	header := c.Get("Authorization")
	if header == "" {
		return ""
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return token
}

// Authenticate resolves the request's bearer token to an identity, or
// nil when the request carries no valid session.
func (g *SessionGuard) Authenticate(c *fiber.Ctx) *models.Identity {
	token := ExtractToken(c)
	if token == "" {
		return nil
	}
	return g.sessions.Validate(c.UserContext(), token)
}

// RequireSession rejects unauthenticated requests with 401 and stashes
// the identity in locals for handlers downstream.
func (g *SessionGuard) RequireSession() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if ExtractToken(c) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "未提供认证令牌",
			})
		}

		identity := g.Authenticate(c)
		if identity == nil {
			g.logger.WithFields(logrus.Fields{
				"path": c.Path(),
				"ip":   c.IP(),
			}).Warn("Rejected request with invalid or expired session")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "未授权，请先登录",
			})
		}

		c.Locals(identityKey, identity)
		return c.Next()
	}
}

// Identity returns the authenticated identity stashed by
// RequireSession, or nil on unguarded routes.
func Identity(c *fiber.Ctx) *models.Identity {
	identity, _ := c.Locals(identityKey).(*models.Identity)
	return identity
}
