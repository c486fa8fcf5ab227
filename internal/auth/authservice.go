package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benjamin-med/medgate/internal/backend"
	"github.com/benjamin-med/medgate/internal/types"
	"github.com/golang-jwt/jwt/v5"
)

var ErrRefreshFailed = errors.New("session refresh failed")

// User is the subset of the auth service's user object the gateway reads.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         User   `json:"user"`
}

// AuthService talks to a GoTrue-compatible auth API.
type AuthService struct {
	client *backend.Client
	now    func() time.Time
}

func NewAuthService(client *backend.Client) *AuthService {
	return &AuthService{client: client, now: time.Now}
}

// Refresh exchanges a refresh token for a new session.
func (a *AuthService) Refresh(ctx context.Context, refreshToken string) (types.Session, error) {
	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return types.Session{}, fmt.Errorf("marshal refresh body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.client.URL("/auth/v1/token?grant_type=refresh_token"), bytes.NewReader(body))
	if err != nil {
		return types.Session{}, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	a.setAPIKey(req)

	resp, err := a.client.Do(req, true)
	if err != nil {
		return types.Session{}, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return types.Session{}, fmt.Errorf("%w: auth service returned %d", ErrRefreshFailed, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tr); err != nil {
		return types.Session{}, fmt.Errorf("%w: decode token response: %v", ErrRefreshFailed, err)
	}
	if tr.AccessToken == "" {
		return types.Session{}, fmt.Errorf("%w: empty access token", ErrRefreshFailed)
	}

	s := types.Session{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken}
	switch {
	case tr.ExpiresAt > 0:
		s.Expiry = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		s.Expiry = a.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	default:
		s.Expiry = unverifiedExpiry(tr.AccessToken)
	}
	return s, nil
}

// GetUser returns the user owning an access token, or an error when the auth
// service does not accept it.
func (a *AuthService) GetUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.client.URL("/auth/v1/user"), nil)
	if err != nil {
		return nil, fmt.Errorf("create user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	a.setAPIKey(req)

	resp, err := a.client.Do(req, true)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("auth service returned %d", resp.StatusCode)
	}

	var u User
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	if u.ID == "" {
		return nil, errors.New("auth service returned user without id")
	}
	return &u, nil
}

func (a *AuthService) setAPIKey(req *http.Request) {
	if key := a.client.APIKey(); key != "" {
		req.Header.Set("apikey", key)
	}
}

func unverifiedExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if exp, _ := claims.GetExpirationTime(); exp != nil {
		return exp.Time
	}
	return time.Time{}
}
