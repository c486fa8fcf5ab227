package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/benjamin-med/medgate/internal/config"
	"github.com/benjamin-med/medgate/internal/telemetry"
)

const (
	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
)

// Guard applies per-user, per-route request limits to protected API calls.
type Guard struct {
	limiter *Limiter
	cfg     func() config.RateLimitConfig
	metrics *telemetry.Metrics
}

func NewGuard(limiter *Limiter, cfg func() config.RateLimitConfig, metrics *telemetry.Metrics) *Guard {
	return &Guard{limiter: limiter, cfg: cfg, metrics: metrics}
}

// Check counts one request from userID against route and sets the rate limit
// headers on w. It reports whether the request may proceed and, if not, how
// many seconds the caller should wait.
func (g *Guard) Check(ctx context.Context, w http.ResponseWriter, userID string, route config.APIRouteEntry) (bool, int) {
	cfg := g.cfg()
	if !cfg.Enabled {
		return true, 0
	}
	rpm := route.RPM
	if rpm == 0 {
		rpm = cfg.DefaultRPM
	}
	if rpm <= 0 {
		return true, 0
	}

	// Aliases of one backend endpoint share a bucket.
	key := "rpm:" + userID + ":" + route.UpstreamPath
	result, _ := g.limiter.Check(ctx, key, int64(rpm), time.Minute)

	w.Header().Set(headerRateLimitRequests, strconv.Itoa(rpm))
	w.Header().Set(headerRateLimitRemainingRequests, strconv.FormatInt(result.Remaining, 10))
	w.Header().Set(headerRateLimitReset, result.ResetAt.UTC().Format(time.RFC3339))

	if result.Allowed {
		return true, 0
	}

	slog.Warn("rate limit exceeded",
		"user_id", userID,
		"route", route.Path,
		"limit", rpm,
	)
	if g.metrics != nil {
		g.metrics.RecordRateLimitHit(route.UpstreamPath)
	}
	return false, int(math.Ceil(result.RetryAfter.Seconds()))
}
