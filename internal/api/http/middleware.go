package http

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	logx "github.com/dulus-bm/server/pkg/logger"
	"github.com/dulus-bm/server/pkg/metrics"
)

const userIDKey = "user_id"

func userIDFrom(c *app.RequestContext) string {
	return c.GetString(userIDKey)
}

// RequestLogger attaches a request-scoped logger and counts responses.
func RequestLogger() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		l := logx.With().
			Str("request_id", uuid.NewString()).
			Str("method", string(c.Method())).
			Str("path", string(c.Path())).
			Logger()
		ctx = l.WithContext(ctx)

		c.Next(ctx)

		code := c.Response.StatusCode()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
		l.Debug().Int("status", code).Msg("request served")
	}
}

// RequireUser reads the authenticated user id set by the gateway. The id is
// never taken from the request body.
func RequireUser(header string) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		uid := strings.TrimSpace(string(c.GetHeader(header)))
		if uid == "" {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, errorResponse{
				Reply:  "Please sign in to continue.",
				Failed: true,
			})
			return
		}
		c.Set(userIDKey, uid)
		c.Next(ctx)
	}
}

// UserRateLimiter hands out one token bucket per user. Buckets idle long
// enough to have refilled are dropped, since a fresh bucket behaves the same.
type UserRateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
	limiters  map[string]*userLimiter
}

type userLimiter struct {
	*rate.Limiter
	lastSeen time.Time
}

// NewUserRateLimiter allows perMinute requests per user with the given burst.
// A non-positive perMinute disables limiting.
func NewUserRateLimiter(perMinute float64, burst int) *UserRateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	if burst < 1 {
		burst = 1
	}
	idle := time.Minute
	if limit != rate.Inf {
		if refill := time.Duration(float64(burst) / float64(limit) * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return &UserRateLimiter{
		limit:    limit,
		burst:    burst,
		idle:     idle,
		now:      time.Now,
		limiters: map[string]*userLimiter{},
	}
}

func (u *UserRateLimiter) Allow(userID string) bool {
	if u.limit == rate.Inf {
		return true
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	now := u.now()
	u.sweep(now)
	l, ok := u.limiters[userID]
	if !ok {
		l = &userLimiter{Limiter: rate.NewLimiter(u.limit, u.burst)}
		u.limiters[userID] = l
	}
	l.lastSeen = now
	return l.AllowN(now, 1)
}

// sweep drops idle buckets at most once per idle period. Callers hold mu.
func (u *UserRateLimiter) sweep(now time.Time) {
	if now.Sub(u.lastSweep) < u.idle {
		return
	}
	u.lastSweep = now
	for id, l := range u.limiters {
		if now.Sub(l.lastSeen) >= u.idle {
			delete(u.limiters, id)
		}
	}
}

// Middleware rejects requests beyond the user's budget. It must run after RequireUser.
func (u *UserRateLimiter) Middleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if !u.Allow(userIDFrom(c)) {
			metrics.RateLimitedTotal.Inc()
			logx.Ctx(ctx).Warn().Str("user_id", userIDFrom(c)).Msg("rate limited")
			c.AbortWithStatusJSON(consts.StatusTooManyRequests, errorResponse{
				Reply:     "You're sending requests a little too quickly. Please wait a moment and try again.",
				Failed:    true,
				Retryable: true,
			})
			return
		}
		c.Next(ctx)
	}
}
