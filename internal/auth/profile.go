package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
)

const profileKeyPrefix = "medgate:profile:"

// rowQuerier is the slice of *pgxpool.Pool the profile lookup needs.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProfileStore reads application roles from the users table with a Redis
// cache in front of PostgreSQL.
type ProfileStore struct {
	db    rowQuerier
	redis *redis.Client
	ttl   time.Duration
}

// NewProfileStore accepts a nil db (every lookup yields no role) and a nil
// redis client (no caching).
func NewProfileStore(db rowQuerier, rdb *redis.Client, ttl time.Duration) *ProfileStore {
	return &ProfileStore{db: db, redis: rdb, ttl: ttl}
}

// Role returns the user's role, or "" when the user has no profile row.
func (s *ProfileStore) Role(ctx context.Context, userID string) (string, error) {
	if s.redis != nil {
		if role, err := s.redis.Get(ctx, profileKeyPrefix+userID).Result(); err == nil {
			return role, nil
		}
	}

	if s.db == nil {
		return "", nil
	}

	var role string
	err := s.db.QueryRow(ctx, `SELECT role FROM users WHERE auth_id = $1`, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query users: %w", err)
	}

	if s.redis != nil && s.ttl > 0 {
		s.redis.Set(ctx, profileKeyPrefix+userID, role, s.ttl)
	}
	return role, nil
}
