// Package identity resolves the requesting party for every API call.
//
// The engine trusts an upstream gateway to authenticate users; here we only
// need a stable requester id to enforce ownership rules. A Bearer token's
// subject claim is used when present, otherwise the X-User-ID header.
package identity

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const contextKey = "requester_id"

// Middleware extracts the requester id and aborts with 401 when none can
// be resolved.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := resolve(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "requester identity required"})
			c.Abort()
			return
		}

		c.Set(contextKey, id)
		c.Next()
	}
}

// RequesterID returns the id set by Middleware. It is uuid.Nil only on
// routes that skip the middleware.
func RequesterID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(contextKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

func resolve(c *gin.Context) (uuid.UUID, bool) {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if id, ok := subjectFromToken(strings.TrimPrefix(auth, "Bearer ")); ok {
			return id, true
		}
	}

	if raw := c.GetHeader("X-User-ID"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			return id, true
		}
	}

	return uuid.Nil, false
}

// subjectFromToken reads the sub claim without verifying the signature; the
// gateway in front of the engine already validated the token.
func subjectFromToken(raw string) (uuid.UUID, bool) {
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return uuid.Nil, false
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return uuid.Nil, false
	}

	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

const (
	limiterIdleTTL  = 10 * time.Minute
	limiterSweepLen = 1024
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool hands out one token bucket per requester key. Entries idle
// past limiterIdleTTL are evicted once the pool passes limiterSweepLen, so
// the map does not grow with every requester ever seen.
type limiterPool struct {
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	idleTTL  time.Duration
	sweepLen int
	entries  map[string]*clientLimiter
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  limiterIdleTTL,
		sweepLen: limiterSweepLen,
		entries:  make(map[string]*clientLimiter),
	}
}

func (p *limiterPool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) >= p.sweepLen {
		for k, cl := range p.entries {
			if now.Sub(cl.lastSeen) > p.idleTTL {
				delete(p.entries, k)
			}
		}
	}

	cl, ok := p.entries[key]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(p.rps, p.burst)}
		p.entries[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// RateLimit caps each requester to rps requests per second with the given
// burst. Unidentified requests share one bucket keyed by client IP.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	pool := newLimiterPool(rps, burst)

	return func(c *gin.Context) {
		key := c.ClientIP()
		if id := RequesterID(c); id != uuid.Nil {
			key = id.String()
		}

		if !pool.get(key, time.Now()).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}

		c.Next()
	}
}
