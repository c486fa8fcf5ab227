// Package access turns a route class and an optional identity into the single
// terminal decision for a request.
package access

import "github.com/benjamin-med/medgate/internal/types"

// Decide is the base decision table. It is total and pure; every class and
// identity combination maps to exactly one decision.
func Decide(class types.RouteClass, id *types.Identity) types.Decision {
	hasIdentity := id != nil
	switch class {
	case types.ClassPublic:
		return types.DecisionAllow
	case types.ClassAuthPage:
		if hasIdentity {
			return types.DecisionRedirectToApp
		}
		return types.DecisionAllow
	case types.ClassProtectedPage:
		if hasIdentity {
			return types.DecisionAllow
		}
		return types.DecisionRedirectToLogin
	case types.ClassProtectedAPI:
		if hasIdentity {
			return types.DecisionAllow
		}
		return types.DecisionReject
	default:
		// Unknown classes are treated as protected API traffic.
		if hasIdentity {
			return types.DecisionAllow
		}
		return types.DecisionReject
	}
}
