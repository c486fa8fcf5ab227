package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("access token expired")
	ErrTokenInvalid = errors.New("access token invalid")
)

// Verified is what a successful access-token check yields.
type Verified struct {
	UserID string
	Email  string
	Role   string
	Claims map[string]any
	Expiry time.Time
}

// TokenVerifier checks an access token and extracts its subject.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Verified, error)
}

// JWTVerifier validates HS256 tokens signed with the auth service's shared
// secret without a network round trip.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret, issuer, audience string) *JWTVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &JWTVerifier{secret: []byte(secret), parser: jwt.NewParser(opts...)}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (*Verified, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	return verifiedFromClaims(claims)
}

// RemoteVerifier asks the auth service who owns a token. The expiry is read
// from the unverified payload only to skip the call for tokens that are
// already expired; identity always comes from the auth service.
type RemoteVerifier struct {
	auth   *AuthService
	parser *jwt.Parser
	now    func() time.Time
}

func NewRemoteVerifier(auth *AuthService) *RemoteVerifier {
	return &RemoteVerifier{auth: auth, parser: jwt.NewParser(), now: time.Now}
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*Verified, error) {
	claims := jwt.MapClaims{}
	if _, _, err := v.parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if exp, _ := claims.GetExpirationTime(); exp != nil && !exp.After(v.now()) {
		return nil, ErrTokenExpired
	}

	user, err := v.auth.GetUser(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	out, err := verifiedFromClaims(claims)
	if err != nil {
		return nil, err
	}
	if out.UserID != user.ID {
		return nil, fmt.Errorf("%w: subject does not match auth service user", ErrTokenInvalid)
	}
	if user.Email != "" {
		out.Email = user.Email
	}
	if user.Role != "" {
		out.Role = user.Role
	}
	return out, nil
}

func verifiedFromClaims(claims jwt.MapClaims) (*Verified, error) {
	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	out := &Verified{UserID: sub, Claims: map[string]any(claims)}
	if exp, _ := claims.GetExpirationTime(); exp != nil {
		out.Expiry = exp.Time
	}
	out.Email, _ = claims["email"].(string)
	out.Role, _ = claims["role"].(string)
	return out, nil
}
