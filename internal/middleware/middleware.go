package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter allows limit requests per window for each caller, with bursts
// up to limit. Callers are keyed by X-Account-ID, or by client IP when the
// header is absent.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	limit   int
	window  time.Duration
	every   rate.Limit
	now     func() time.Time
	sweepAt int
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(limit int, per time.Duration) *RateLimiter {
	r := &RateLimiter{
		clients: make(map[string]*client),
		limit:   limit,
		window:  per,
		now:     time.Now,
		sweepAt: 10_000,
	}
	if limit > 0 {
		r.every = rate.Every(per / time.Duration(limit))
	}
	return r
}

func (r *RateLimiter) allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	c, ok := r.clients[key]
	if !ok {
		if len(r.clients) >= r.sweepAt {
			r.sweep(now)
		}
		c = &client{limiter: rate.NewLimiter(r.every, r.limit)}
		r.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// sweep drops callers idle for a full window; their buckets are full again.
func (r *RateLimiter) sweep(now time.Time) {
	for k, c := range r.clients {
		if now.Sub(c.lastSeen) >= r.window {
			delete(r.clients, k)
		}
	}
}

func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if r.limit <= 0 {
			c.Next()
			return
		}
		key := c.GetHeader("X-Account-ID")
		if key == "" {
			key = c.ClientIP()
		}
		if !r.allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// Logger writes one access log line per request.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if acct := c.GetHeader("X-Account-ID"); acct != "" {
			fields = append(fields, zap.String("account_id", acct))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Info("request", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}
