package route

import (
	"testing"

	"github.com/benjamin-med/medgate/internal/config"
	"github.com/benjamin-med/medgate/internal/types"
)

func testClassifier() *Classifier {
	cfg := config.DefaultRoutes()
	cfg.APIRoutes = []config.APIRouteEntry{
		{Path: "/api/v1/query", Kind: types.KindChat, UpstreamPath: "/api/v1/query"},
		{Path: "/api/translate", Kind: types.KindJSON, UpstreamPath: "/api/v1/ai/translate", Fields: []string{"text", "language"}, RPM: 20},
		{Path: "/api/v1/drugs/search", Kind: types.KindPassthrough, UpstreamPath: "/api/v1/drugs/search"},
		{Path: "/api/v1/drugs", Kind: types.KindPassthrough, UpstreamPath: "/api/v1/drugs", Prefix: true},
		{Path: "/api/v1", Kind: types.KindPassthrough, UpstreamPath: "/api/v1", Prefix: true},
	}
	return NewClassifier(cfg)
}

func TestClassify(t *testing.T) {
	c := testClassifier()

	tests := []struct {
		path string
		want types.RouteClass
	}{
		{"/", types.ClassPublic},
		{"/about", types.ClassPublic},
		{"/dashboard", types.ClassProtectedPage},
		{"/dashboard/", types.ClassProtectedPage},
		{"/dashboard/chat", types.ClassProtectedPage},
		{"/dashboardx", types.ClassPublic},
		{"/api", types.ClassProtectedAPI},
		{"/api/v1/query", types.ClassProtectedAPI},
		{"/apix/v1", types.ClassPublic},
		{"/auth/login", types.ClassAuthPage},
		{"/auth/register", types.ClassAuthPage},
		{"/auth/login/extra", types.ClassPublic},
		{"/auth/callback", types.ClassPublic},
		{"/api/../dashboard/chat", types.ClassProtectedPage},
		{"/auth/../api/v1/query", types.ClassProtectedAPI},
		{"", types.ClassPublic},
	}

	for _, tt := range tests {
		if got := c.Classify(tt.path); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestClassify_Idempotent(t *testing.T) {
	c := testClassifier()
	for _, p := range []string{"/dashboard/chat", "/api/v1/query", "/auth/login", "/pricing"} {
		first := c.Classify(p)
		for i := 0; i < 3; i++ {
			if got := c.Classify(p); got != first {
				t.Fatalf("Classify(%q) changed from %s to %s", p, first, got)
			}
		}
	}
}

func TestExcluded(t *testing.T) {
	c := testClassifier()

	tests := []struct {
		path string
		want bool
	}{
		{"/_next/static/chunks/main.js", true},
		{"/_next/image", true},
		{"/favicon.ico", true},
		{"/_next/data/build.json", false},
		{"/dashboard", false},
	}

	for _, tt := range tests {
		if got := c.Excluded(tt.path); got != tt.want {
			t.Errorf("Excluded(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestRoute(t *testing.T) {
	c := testClassifier()

	r, ok := c.Route("/api/translate/")
	if !ok {
		t.Fatal("expected translate route to resolve")
	}
	if r.UpstreamPath != "/api/v1/ai/translate" || r.RPM != 20 {
		t.Errorf("unexpected route: %+v", r)
	}

	if _, ok := c.Route("/api/unknown"); ok {
		t.Error("expected unknown route not to resolve")
	}
}

func TestRoute_PrefixEntries(t *testing.T) {
	c := testClassifier()

	tests := []struct {
		path     string
		wantPath string
		upstream string
	}{
		{"/api/v1/drugs/search", "/api/v1/drugs/search", "/api/v1/drugs/search"},
		{"/api/v1/drugs/0012345", "/api/v1/drugs", "/api/v1/drugs/0012345"},
		{"/api/v1/drugs/search/../0012345", "/api/v1/drugs", "/api/v1/drugs/0012345"},
		{"/api/v1/other", "/api/v1", "/api/v1/other"},
		{"/api/v1/query", "/api/v1/query", "/api/v1/query"},
	}
	for _, tt := range tests {
		r, ok := c.Route(tt.path)
		if !ok {
			t.Errorf("Route(%q) did not resolve", tt.path)
			continue
		}
		if r.Path != tt.wantPath {
			t.Errorf("Route(%q) matched %q, want %q", tt.path, r.Path, tt.wantPath)
		}
		if got := r.UpstreamFor(CleanPath(tt.path)); got != tt.upstream {
			t.Errorf("UpstreamFor(%q) = %q, want %q", tt.path, got, tt.upstream)
		}
	}

	if _, ok := c.Route("/api/v1drugs"); ok {
		t.Error("prefix must match on a segment boundary")
	}
}

func TestCleanPath(t *testing.T) {
	tests := map[string]string{
		"":                      "/",
		"dashboard":             "/dashboard",
		"/dashboard/..":         "/",
		"/dashboard/../api/x/":  "/api/x",
		"/a//b/./c":             "/a/b/c",
	}
	for in, want := range tests {
		if got := CleanPath(in); got != want {
			t.Errorf("CleanPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLive_Swap(t *testing.T) {
	live := NewLive(testClassifier())
	if got := live.Load().Classify("/reports"); got != types.ClassPublic {
		t.Fatalf("expected public before reload, got %s", got)
	}

	cfg := config.DefaultRoutes()
	cfg.ProtectedPagePrefixes = append(cfg.ProtectedPagePrefixes, "/reports")
	live.Store(NewClassifier(cfg))

	if got := live.Load().Classify("/reports/2024"); got != types.ClassProtectedPage {
		t.Errorf("expected protected page after reload, got %s", got)
	}
}
