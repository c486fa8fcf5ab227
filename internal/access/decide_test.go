package access

import (
	"testing"

	"github.com/benjamin-med/medgate/internal/types"
)

func TestDecide(t *testing.T) {
	id := &types.Identity{UserID: "u-1"}

	tests := []struct {
		class types.RouteClass
		id    *types.Identity
		want  types.Decision
	}{
		{types.ClassPublic, id, types.DecisionAllow},
		{types.ClassPublic, nil, types.DecisionAllow},
		{types.ClassAuthPage, id, types.DecisionRedirectToApp},
		{types.ClassAuthPage, nil, types.DecisionAllow},
		{types.ClassProtectedPage, id, types.DecisionAllow},
		{types.ClassProtectedPage, nil, types.DecisionRedirectToLogin},
		{types.ClassProtectedAPI, id, types.DecisionAllow},
		{types.ClassProtectedAPI, nil, types.DecisionReject},
		{types.RouteClass("BOGUS"), nil, types.DecisionReject},
	}

	for _, tt := range tests {
		if got := Decide(tt.class, tt.id); got != tt.want {
			t.Errorf("Decide(%s, identity=%v) = %s, want %s", tt.class, tt.id != nil, got, tt.want)
		}
	}
}

func TestDecide_AllowRequiresIdentityOnProtectedClasses(t *testing.T) {
	classes := []types.RouteClass{types.ClassPublic, types.ClassAuthPage, types.ClassProtectedPage, types.ClassProtectedAPI}
	for _, c := range classes {
		if Decide(c, nil) == types.DecisionAllow && c.RequiresIdentity() {
			t.Errorf("class %s allowed without identity", c)
		}
	}
}

func TestDecide_ProtectedAPINeverRedirects(t *testing.T) {
	got := Decide(types.ClassProtectedAPI, nil)
	if got.Terminal() == types.StageRedirected {
		t.Errorf("protected api without session must reject, got %s", got)
	}
}
