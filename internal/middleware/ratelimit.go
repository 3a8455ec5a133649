package middleware

import (
	"net/http"
	"strings"
	"sync"

	"commentflow/internal/config"
	"commentflow/internal/metrics"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// newBucket 每分钟 rpm 个令牌，burst 默认为一分钟的量
func newBucket(rpm, burst int) *rate.Limiter {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = rpm
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
}

// limiterSet 按 key（客户端 IP）维护令牌桶
type limiterSet struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	cfg     config.PathRateLimitConfig
}

func newLimiterSet(cfg config.PathRateLimitConfig) *limiterSet {
	return &limiterSet{buckets: make(map[string]*rate.Limiter), cfg: cfg}
}

func (l *limiterSet) allow(key string) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = newBucket(l.cfg.RequestsPerMinute, l.cfg.Burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

// RateLimitMiddlewareFromConfig 按路径前缀优先匹配限流，其余请求走全局限流。
// whitelist_ips 中的地址（如平台 webhook 出口）不限流。
func RateLimitMiddlewareFromConfig(cfg *config.Config, m *metrics.Metrics) gin.HandlerFunc {
	rl := cfg.Security.RateLimiting
	if !rl.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	var pathLimiters []*limiterSet
	for _, p := range rl.Paths {
		if !p.Enabled || p.RequestsPerMinute <= 0 || p.Prefix == "" {
			continue
		}
		pathLimiters = append(pathLimiters, newLimiterSet(p))
	}
	var global *limiterSet
	if rl.RequestsPerMinute > 0 {
		global = newLimiterSet(config.PathRateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: rl.RequestsPerMinute,
			Burst:             rl.Burst,
		})
	}

	whitelist := make(map[string]struct{}, len(rl.WhitelistIPs))
	for _, ip := range rl.WhitelistIPs {
		whitelist[ip] = struct{}{}
	}

	reject := func(c *gin.Context, prefix, msg string) {
		m.IncRateLimitDrop(prefix)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":   "Too Many Requests",
			"message": msg,
		})
	}

	return func(c *gin.Context) {
		key := c.ClientIP()
		if key == "" {
			key = "unknown"
		}
		if _, ok := whitelist[key]; ok {
			c.Next()
			return
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		for _, pl := range pathLimiters {
			if !strings.HasPrefix(path, pl.cfg.Prefix) {
				continue
			}
			if !pl.allow(key) {
				reject(c, pl.cfg.Prefix, "rate limit exceeded (path)")
				return
			}
			c.Next()
			return
		}

		if global != nil && !global.allow(key) {
			reject(c, "", "rate limit exceeded")
			return
		}
		c.Next()
	}
}
