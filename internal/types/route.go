package types

type RouteClass string

const (
	ClassPublic        RouteClass = "PUBLIC"
	ClassAuthPage      RouteClass = "AUTH_PAGE"
	ClassProtectedPage RouteClass = "PROTECTED_PAGE"
	ClassProtectedAPI  RouteClass = "PROTECTED_API"
)

// RequiresIdentity reports whether requests of this class need a resolved identity to be allowed.
func (c RouteClass) RequiresIdentity() bool {
	return c == ClassProtectedPage || c == ClassProtectedAPI
}

// IsAPI reports whether rejections for this class must be machine-readable rather than redirects.
func (c RouteClass) IsAPI() bool {
	return c == ClassProtectedAPI
}

type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionRedirectToLogin Decision = "redirect_to_login"
	DecisionRedirectToApp   Decision = "redirect_to_app"
	DecisionReject          Decision = "reject"
)

// Terminal returns the lifecycle state a request ends in for this decision
// when nothing goes wrong after it.
func (d Decision) Terminal() Stage {
	switch d {
	case DecisionAllow:
		return StageResponded
	case DecisionRedirectToLogin, DecisionRedirectToApp:
		return StageRedirected
	default:
		return StageRejected
	}
}

// Stage is a step in the per-request lifecycle.
type Stage string

const (
	StageReceived   Stage = "received"
	StageClassified Stage = "classified"
	StageVerified   Stage = "verified"
	StageDecided    Stage = "decided"
	StageForwarded  Stage = "forwarded"
	StageNormalized Stage = "normalized"
	StageResponded  Stage = "responded"
	StageRedirected Stage = "redirected"
	StageRejected   Stage = "rejected"
)
