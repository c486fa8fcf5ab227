package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/benjamin-med/medgate/internal/types"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const refreshKeyPrefix = "medgate:refresh:"

// DedupRefresher collapses concurrent refreshes of the same refresh token.
// Inside one process a singleflight group shares the in-flight exchange;
// across instances the resulting session is parked in Redis for a few
// seconds so a racing request reuses it instead of spending the rotated
// token a second time.
type DedupRefresher struct {
	next  Refresher
	redis *redis.Client
	ttl   func() time.Duration
	group singleflight.Group
	now   func() time.Time
}

// NewDedupRefresher wraps next. rdb may be nil, leaving only in-process dedup.
func NewDedupRefresher(next Refresher, rdb *redis.Client, ttl func() time.Duration) *DedupRefresher {
	return &DedupRefresher{next: next, redis: rdb, ttl: ttl, now: time.Now}
}

func (d *DedupRefresher) Refresh(ctx context.Context, refreshToken string) (types.Session, error) {
	key := refreshKeyPrefix + HashToken(refreshToken)

	if s, ok := d.cached(ctx, key); ok {
		return s, nil
	}

	ch := d.group.DoChan(key, func() (any, error) {
		// The exchange outlives a single caller's cancellation but keeps its deadline.
		fctx := context.WithoutCancel(ctx)
		if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			fctx, cancel = context.WithDeadline(fctx, deadline)
			defer cancel()
		}

		s, err := d.next.Refresh(fctx, refreshToken)
		if err != nil {
			d.forget(fctx, key)
			return types.Session{}, err
		}
		d.store(fctx, key, s)
		return s, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return types.Session{}, res.Err
		}
		return res.Val.(types.Session), nil
	case <-ctx.Done():
		return types.Session{}, fmt.Errorf("%w: %v", ErrRefreshFailed, ctx.Err())
	}
}

func (d *DedupRefresher) cached(ctx context.Context, key string) (types.Session, bool) {
	if d.redis == nil {
		return types.Session{}, false
	}
	data, err := d.redis.Get(ctx, key).Bytes()
	if err != nil {
		return types.Session{}, false
	}
	var s types.Session
	if err := json.Unmarshal(data, &s); err != nil || s.AccessToken == "" {
		return types.Session{}, false
	}
	if !s.Expiry.IsZero() && !s.Expiry.After(d.now()) {
		return types.Session{}, false
	}
	return s, true
}

// store caches s for the configured TTL, never past the session's own expiry.
func (d *DedupRefresher) store(ctx context.Context, key string, s types.Session) {
	if d.redis == nil {
		return
	}
	ttl := d.ttl()
	if !s.Expiry.IsZero() {
		if remaining := s.Expiry.Sub(d.now()); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := d.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		slog.Warn("refresh cache write failed", "error", err)
	}
}

func (d *DedupRefresher) forget(ctx context.Context, key string) {
	if d.redis == nil {
		return
	}
	if err := d.redis.Del(ctx, key).Err(); err != nil {
		slog.Warn("refresh cache delete failed", "error", err)
	}
}
