package http

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/learnhub/messaging-service/internal/auth"
	apperrors "github.com/learnhub/messaging-service/pkg/util"
)

const limiterIdleTTL = 5 * time.Minute

// UserRateLimiter throttles writes per authenticated user.
type UserRateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rps       rate.Limit
	burst     int
	lastSweep time.Time
	log       *zap.Logger
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewUserRateLimiter builds a limiter allowing ratePerSec sustained requests
// with the given burst. A non-positive rate disables limiting.
func NewUserRateLimiter(ratePerSec float64, burst int, logger *zap.Logger) *UserRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &UserRateLimiter{
		visitors:  make(map[string]*visitor),
		rps:       rate.Limit(ratePerSec),
		burst:     burst,
		lastSweep: time.Now(),
		log:       logger,
	}
}

func (l *UserRateLimiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > time.Minute {
		for k, v := range l.visitors {
			if now.Sub(v.lastSeen) > limiterIdleTTL {
				delete(l.visitors, k)
			}
		}
		l.lastSweep = now
	}

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Handler must run after authentication.
func (l *UserRateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if l.rps <= 0 {
			return c.Next()
		}
		key := c.IP()
		if principal, ok := auth.PrincipalFromContext(c); ok {
			key = principal.UserID
		}
		if !l.getLimiter(key).Allow() {
			l.log.Warn("rate limit exceeded", zap.String("key", key), zap.String("path", c.Path()))
			return apperrors.NewRateLimited("too many messages, slow down")
		}
		return c.Next()
	}
}
