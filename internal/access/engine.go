package access

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/benjamin-med/medgate/internal/config"
	"github.com/benjamin-med/medgate/internal/types"
)

// Request is the part of an inbound request the engine looks at.
type Request struct {
	Method   string
	Path     string
	RawQuery string
}

// Outcome is a decision plus what the caller needs to render it.
type Outcome struct {
	Decision types.Decision
	Status   int
	Location string
	Reason   string
}

// PolicyEvaluator narrows Allow on protected API routes.
type PolicyEvaluator interface {
	Enabled() bool
	Evaluate(ctx context.Context, input PolicyInput) (bool, string, error)
}

// RoleLookup resolves a user's application role from the data store.
type RoleLookup interface {
	Role(ctx context.Context, userID string) (string, error)
}

type Engine struct {
	routes   func() *config.RoutesConfig
	policy   PolicyEvaluator
	roles    RoleLookup
	failOpen func() bool
}

// NewEngine builds an engine. policy and roles may be nil.
func NewEngine(routes func() *config.RoutesConfig, policy PolicyEvaluator, roles RoleLookup, failOpen func() bool) *Engine {
	if failOpen == nil {
		failOpen = func() bool { return false }
	}
	return &Engine{routes: routes, policy: policy, roles: roles, failOpen: failOpen}
}

func (e *Engine) Evaluate(ctx context.Context, req Request, class types.RouteClass, id *types.Identity) Outcome {
	decision := Decide(class, id)
	routes := e.routes()

	switch decision {
	case types.DecisionRedirectToLogin:
		return Outcome{Decision: decision, Status: http.StatusFound, Location: LoginLocation(routes, req.Path, req.RawQuery)}
	case types.DecisionRedirectToApp:
		return Outcome{Decision: decision, Status: http.StatusFound, Location: routes.AppPath}
	case types.DecisionReject:
		return Outcome{Decision: decision, Status: http.StatusUnauthorized, Reason: "no valid session"}
	}

	if class != types.ClassProtectedAPI || id == nil || e.policy == nil || !e.policy.Enabled() {
		return Outcome{Decision: types.DecisionAllow, Status: http.StatusOK}
	}
	return e.applyPolicy(ctx, req, class, id)
}

// applyPolicy only ever downgrades an Allow to a Reject.
func (e *Engine) applyPolicy(ctx context.Context, req Request, class types.RouteClass, id *types.Identity) Outcome {
	role := id.Role
	if e.roles != nil {
		if r, err := e.roles.Role(ctx, id.UserID); err != nil {
			slog.Warn("role lookup failed, using token role", "user_id", id.UserID, "error", err)
		} else if r != "" {
			role = r
			id.Role = r
		}
	}

	now := time.Now().UTC()
	input := PolicyInput{
		Method: req.Method,
		Path:   req.Path,
		Class:  string(class),
		Identity: PolicyIdentity{
			UserID: id.UserID,
			Email:  id.Email,
			Role:   role,
		},
		Time: PolicyTime{
			Hour: now.Hour(),
			Day:  now.Weekday().String(),
		},
	}

	allowed, reason, err := e.policy.Evaluate(ctx, input)
	if err != nil {
		if e.failOpen() {
			slog.Warn("policy evaluation failed, failing open", "user_id", id.UserID, "path", req.Path, "error", err)
			return Outcome{Decision: types.DecisionAllow, Status: http.StatusOK}
		}
		slog.Error("policy evaluation failed", "user_id", id.UserID, "path", req.Path, "error", err)
		return Outcome{Decision: types.DecisionReject, Status: http.StatusForbidden, Reason: "policy evaluation failed"}
	}
	if !allowed {
		return Outcome{Decision: types.DecisionReject, Status: http.StatusForbidden, Reason: reason}
	}
	return Outcome{Decision: types.DecisionAllow, Status: http.StatusOK}
}

// LoginLocation builds the login redirect carrying the original path and query.
func LoginLocation(routes *config.RoutesConfig, path, rawQuery string) string {
	target := path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return routes.LoginPath + "?" + url.Values{routes.ReturnParam: {target}}.Encode()
}
