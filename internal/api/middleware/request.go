package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RateLimiter gates repeated signing attempts per client. Passed as an
// explicit dependency so handlers never reach for module-level state.
type RateLimiter interface {
	Allow(clientIP string) bool
}

type IPAttemptTracker struct {
	attempts     map[string]*ipAttemptInfo
	mu           sync.Mutex
	maxAttempts  int
	window       time.Duration
	cleanupEvery time.Duration
}

type ipAttemptInfo struct {
	count       int
	lastAttempt time.Time
}

func NewIPAttemptTracker(maxAttempts int, window time.Duration) *IPAttemptTracker {
	tracker := &IPAttemptTracker{
		attempts:     make(map[string]*ipAttemptInfo),
		maxAttempts:  maxAttempts,
		window:       window,
		cleanupEvery: 5 * time.Minute,
	}

	go tracker.startCleanup()

	return tracker
}

func (t *IPAttemptTracker) startCleanup() {
	ticker := time.NewTicker(t.cleanupEvery)
	defer ticker.Stop()

	for range ticker.C {
		t.cleanOldEntries()
	}
}

func (t *IPAttemptTracker) cleanOldEntries() {
	t.mu.Lock()
	defer t.mu.Unlock()

	expiry := time.Now().Add(-t.window)
	for ip, info := range t.attempts {
		if info.lastAttempt.Before(expiry) {
			delete(t.attempts, ip)
		}
	}
}

func (t *IPAttemptTracker) Allow(clientIP string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	info, exists := t.attempts[clientIP]
	if !exists || now.Sub(info.lastAttempt) > t.window {
		t.attempts[clientIP] = &ipAttemptInfo{count: 1, lastAttempt: now}
		return true
	}

	info.count++
	info.lastAttempt = now
	return info.count <= t.maxAttempts
}

type RequestMiddleware struct {
	logger  *zap.Logger
	limiter RateLimiter
}

func NewRequestMiddleware(logger *zap.Logger, limiter RateLimiter) *RequestMiddleware {
	return &RequestMiddleware{
		logger:  logger,
		limiter: limiter,
	}
}

func (rm *RequestMiddleware) ProcessRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		rm.logger.Info("Request completed",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}

// LimitSigningAttempts throttles the token-bearing signing endpoints.
func (rm *RequestMiddleware) LimitSigningAttempts() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rm.limiter.Allow(c.ClientIP()) {
			rm.logger.Warn("Signing attempt rate limited",
				zap.String("client_ip", c.ClientIP()),
				zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many attempts, slow down",
			})
			return
		}
		c.Next()
	}
}

func (rm *RequestMiddleware) RecoverPanic() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID := c.GetString("request_id")
				rm.logger.Error("Panic recovered",
					zap.String("request_id", requestID),
					zap.Any("error", err),
					zap.Stack("stack"))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
