package handler

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pairchat/backend/internal/apperr"
)

// RateLimit allows perMinute requests per caller for the named bucket.
// Limiter failures let the request through.
func (h *Handler) RateLimit(bucket string, perMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Limiter == nil {
			c.Next()
			return
		}

		res, err := h.Limiter.Allow(c.Request.Context(), bucket+":"+currentUser(c), perMinute, time.Minute)
		if err != nil {
			h.log.Warn("rate limiter unavailable", "bucket", bucket, "err", err)
			c.Next()
			return
		}
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			h.renderError(c, apperr.New(apperr.RateLimited, "too many requests"))
			return
		}
		c.Next()
	}
}
