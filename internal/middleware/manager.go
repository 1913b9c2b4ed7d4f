package middleware

import (
	"fmt"

	"github.com/zhizuo588/nav-api/internal/config"
	"github.com/zhizuo588/nav-api/internal/ratelimit"
	"github.com/zhizuo588/nav-api/internal/session"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Manager holds all middleware instances
type Manager struct {
	Guard       *SessionGuard
	Limiter     *ratelimit.Limiter
	RedisClient *redis.Client
	Config      *config.Config
	Logger      *logrus.Logger
}

// NewManager creates a new middleware manager with all middleware initialized
func NewManager(cfg *config.Config, logger *logrus.Logger, sessions session.Store) (*Manager, error) {
	redisClient, err := NewRedisClient(&cfg.Redis, &cfg.AWS, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	limiter := ratelimit.NewLimiter(
		ratelimit.NewRedisStore(redisClient),
		ratelimit.Policy{
			MaxAttempts: cfg.Auth.MaxAttempts,
			LockWindow:  cfg.Auth.LockWindow,
		},
		logger,
	)

	return &Manager{
		Guard:       NewSessionGuard(sessions, logger),
		Limiter:     limiter,
		RedisClient: redisClient,
		Config:      cfg,
		Logger:      logger,
	}, nil
}

// Close closes all middleware resources
func (m *Manager) Close() error {
	if m.RedisClient != nil {
		return m.RedisClient.Close()
	}
	return nil
}
