package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/benjamin-med/medgate/internal/config"
	"github.com/benjamin-med/medgate/internal/types"
)

// Refresher exchanges a refresh token for a new session.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (types.Session, error)
}

// RefreshOutcome records what happened to the refresh step of a resolution.
type RefreshOutcome string

const (
	RefreshSkipped   RefreshOutcome = "skipped"
	RefreshSucceeded RefreshOutcome = "refreshed"
	RefreshFailed    RefreshOutcome = "failed"
	RefreshKept      RefreshOutcome = "kept_current"
)

// Resolution is the result of resolving one request's credentials.
type Resolution struct {
	Identity  *types.Identity
	Session   types.Session
	Refreshed bool
	Outcome   RefreshOutcome
}

// Verifier resolves a session into an identity, refreshing it at most once.
type Verifier struct {
	tokens    TokenVerifier
	refresher Refresher
	cfg       func() config.SessionConfig
	now       func() time.Time
}

func NewVerifier(tokens TokenVerifier, refresher Refresher, cfg func() config.SessionConfig) *Verifier {
	return &Verifier{tokens: tokens, refresher: refresher, cfg: cfg, now: time.Now}
}

// Resolve never fails. Any problem verifying or refreshing ends in a
// Resolution without an identity, except that a token still inside its
// validity window survives a failed early refresh.
func (v *Verifier) Resolve(ctx context.Context, s types.Session) Resolution {
	res := Resolution{Session: s, Outcome: RefreshSkipped}
	if s.Empty() {
		return res
	}
	cfg := v.cfg()

	var current *Verified
	if s.AccessToken != "" {
		vt, err := v.tokens.Verify(ctx, s.AccessToken)
		switch {
		case err != nil:
			slog.Debug("access token rejected", "token", SafePrefix(s.AccessToken), "error", err)
		case vt.Expiry.IsZero() || vt.Expiry.Sub(v.now()) > cfg.RefreshLeeway:
			res.Identity = identityFrom(vt, s)
			return res
		default:
			current = vt
		}
	}

	if s.RefreshToken == "" {
		if current != nil {
			res.Identity = identityFrom(current, s)
		}
		return res
	}

	timeout := cfg.RefreshTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	next, vt, err := v.refresh(rctx, s.RefreshToken)
	if err != nil {
		if current != nil {
			slog.Warn("session refresh failed, keeping current token", "token", SafePrefix(s.RefreshToken), "error", err)
			res.Identity = identityFrom(current, s)
			res.Outcome = RefreshKept
			return res
		}
		slog.Warn("session refresh failed", "token", SafePrefix(s.RefreshToken), "error", err)
		res.Outcome = RefreshFailed
		return res
	}

	return Resolution{
		Identity:  identityFrom(vt, next),
		Session:   next,
		Refreshed: true,
		Outcome:   RefreshSucceeded,
	}
}

func (v *Verifier) refresh(ctx context.Context, refreshToken string) (types.Session, *Verified, error) {
	next, err := v.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return types.Session{}, nil, err
	}
	vt, err := v.tokens.Verify(ctx, next.AccessToken)
	if err != nil {
		return types.Session{}, nil, err
	}
	if next.RefreshToken == "" {
		next.RefreshToken = refreshToken
	}
	if next.Expiry.IsZero() {
		next.Expiry = vt.Expiry
	}
	return next, vt, nil
}

func identityFrom(vt *Verified, s types.Session) *types.Identity {
	if s.Expiry.IsZero() {
		s.Expiry = vt.Expiry
	}
	return &types.Identity{
		UserID:  vt.UserID,
		Email:   vt.Email,
		Role:    vt.Role,
		Claims:  vt.Claims,
		Session: s,
	}
}
