package security

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

type RateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(redisClient *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{redis: redisClient, limit: limit, window: window}
}

// ScanRateLimit caps scan requests per client IP inside a rolling
// window. Redis being down fails open: a gate that cannot rate limit
// must still admit people.
func (r *RateLimiter) ScanRateLimit() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if !r.Allow(e.Request.Context(), e.RealIP()) {
			return e.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}
		return e.Next()
	}
}

// Allow counts one request for ip and reports whether it is under the
// window limit.
func (r *RateLimiter) Allow(ctx context.Context, ip string) bool {
	if r.redis == nil {
		return true
	}

	key := fmt.Sprintf("ratelimit:scan:%s", ip)

	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		return true
	}
	if count == 1 {
		r.redis.Expire(ctx, key, r.window)
	}
	return count <= r.limit
}

// AdminGuard rejects requests whose X-Admin-Password header does not
// match the configured bcrypt hash.
func AdminGuard(passwordHash string) func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if !VerifyAdminPassword(passwordHash, e.Request.Header.Get("X-Admin-Password")) {
			return e.JSON(http.StatusUnauthorized, map[string]string{
				"error": "Invalid admin credentials",
			})
		}
		return e.Next()
	}
}

func VerifyAdminPassword(hash, password string) bool {
	if hash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashAdminPassword generates the bcrypt hash stored in configuration.
func HashAdminPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
