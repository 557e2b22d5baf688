package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "hubcom/pkg/errors"
	"hubcom/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// rateLimiterStore stores per-IP rate limiters and forgets idle ones.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	rate      rate.Limit
	burstSize int
	idleTTL   time.Duration
	now       func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*limiterEntry),
		rate:      r,
		burstSize: burst,
		idleTTL:   10 * time.Minute,
		now:       time.Now,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, exists := s.limiters[key]
	if !exists {
		if len(s.limiters) > 1024 {
			s.evictIdleLocked(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(s.rate, s.burstSize)}
		s.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (s *rateLimiterStore) evictIdleLocked(now time.Time) {
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > s.idleTTL {
			delete(s.limiters, key)
		}
	}
}

// clientIP extracts the IP part from the request's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware returns Gin middleware that applies IP-based
// rate limiting. WebSocket upgrades are rate limited but never hold a
// concurrency slot, since the relay socket outlives the request.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	store := newRateLimiterStore(rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond), cfg.RateLimiting.HTTP.Burst)

	var globalSem chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		globalSem = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if globalSem != nil && !websocket.IsWebSocketUpgrade(c.Request) {
			select {
			case globalSem <- struct{}{}:
				defer func() { <-globalSem }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error":   "SERVICE_BUSY",
					"message": "too many concurrent requests",
				})
				return
			}
		}

		if !store.getLimiter(clientIP(c.Request)).Allow() {
			appErr := apperrors.NewRateLimitError()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
			})
			return
		}
		c.Next()
	}
}
