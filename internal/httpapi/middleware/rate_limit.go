package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-chat/internal/common"
	"github.com/suPer8Hu/ai-chat/internal/store/redisstore"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, qps int) (redisstore.RateDecision, error)
}

// RateLimit applies a per-user token bucket. It must run after AuthRequired.
// A nil limiter or qps <= 0 disables it; limiter errors let the request through.
func RateLimit(limiter RateLimiter, qps int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || qps <= 0 {
			c.Next()
			return
		}

		key := "user:" + strconv.FormatUint(c.GetUint64(UserIDKey), 10)
		d, err := limiter.Allow(c.Request.Context(), key, qps)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", slog.String("error", err.Error()))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(d.RetryAfter))
			common.Fail(c, http.StatusTooManyRequests, 42901, "too many requests, please retry later")
			c.Abort()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Next()
	}
}
