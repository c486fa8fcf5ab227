package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benjamin-med/medgate/internal/types"
)

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("TEST_VAR", "hello")
	defer os.Unsetenv("TEST_VAR")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"${TEST_VAR:default}", "hello"},
		{"${UNSET_VAR:fallback}", "fallback"},
		{"${UNSET_VAR}", ""},
		{"no vars here", "no vars here"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
	}

	for _, tt := range tests {
		got := expandEnvVars(tt.input)
		if got != tt.expected {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "medgate-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "0.0.0.0"
  port: 9999
session:
  refresh_leeway: 45s
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	var cfg Config
	if err := LoadFile(tmpFile.Name(), &cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Session.RefreshLeeway != 45*time.Second {
		t.Errorf("expected refresh leeway 45s, got %s", cfg.Session.RefreshLeeway)
	}
}

func TestLoadFile_WithEnvVars(t *testing.T) {
	os.Setenv("TEST_PORT", "7777")
	defer os.Unsetenv("TEST_PORT")

	tmpFile, err := os.CreateTemp("", "medgate-config-env-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "${TEST_HOST:127.0.0.1}"
  port: ${TEST_PORT}
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	var cfg Config
	if err := LoadFile(tmpFile.Name(), &cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1 (default), got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777, got %d", cfg.Server.Port)
	}
}

const testRoutesYAML = `
login_path: /auth/login
app_path: /dashboard
return_param: next
protected_page_prefixes: [/dashboard]
protected_api_prefixes: [/api]
auth_pages: [/auth/login, /auth/register]
api_routes:
  - path: /api/v1/query
    kind: chat
    upstream_path: /api/v1/query
  - path: /api/translate
    kind: json
    upstream_path: /api/v1/ai/translate
    fields: [text, language]
    rpm: 20
`

const testUpstreamsYAML = `
auth_service:
  base_url: http://auth.local
  api_key: ${MEDGATE_TEST_ANON_KEY:anon}
inference_backend:
  base_url: http://backend.local
  timeout: 10s
frontend:
  base_url: http://frontend.local
`

func writeConfigDir(t *testing.T, gateway, routes, upstreams string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"gateway.yaml":   gateway,
		"routes.yaml":    routes,
		"upstreams.yaml": upstreams,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoader_Load(t *testing.T) {
	dir := writeConfigDir(t, "server:\n  port: 8181\n", testRoutesYAML, testUpstreamsYAML)
	l := NewLoader(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := l.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := l.Config()
	if cfg.Server.Port != 8181 {
		t.Errorf("expected port 8181, got %d", cfg.Server.Port)
	}
	if cfg.Session.AccessCookie != "sb-access-token" {
		t.Errorf("expected default access cookie, got %q", cfg.Session.AccessCookie)
	}
	if cfg.Uploads.MaxBytes != 50<<20 {
		t.Errorf("expected 50MB upload ceiling, got %d", cfg.Uploads.MaxBytes)
	}

	routes := l.Routes()
	if len(routes.APIRoutes) != 2 {
		t.Fatalf("expected 2 api routes, got %d", len(routes.APIRoutes))
	}
	if routes.APIRoutes[1].Kind != types.KindJSON || routes.APIRoutes[1].RPM != 20 {
		t.Errorf("unexpected translate route: %+v", routes.APIRoutes[1])
	}
	if len(routes.ExcludedPrefixes) != 3 {
		t.Errorf("expected default excluded prefixes to survive, got %v", routes.ExcludedPrefixes)
	}

	ups := l.Upstreams()
	if ups.AuthService.APIKey != "anon" {
		t.Errorf("expected api key from env default, got %q", ups.AuthService.APIKey)
	}
	if ups.InferenceBackend.Timeout != 10*time.Second {
		t.Errorf("expected backend timeout 10s, got %s", ups.InferenceBackend.Timeout)
	}
	if ups.Frontend.Timeout != 30*time.Second || ups.Frontend.MaxConcurrent != 32 {
		t.Errorf("expected upstream defaults, got %+v", ups.Frontend)
	}
}

func TestLoader_LoadKeepsPreviousOnInvalidRoutes(t *testing.T) {
	dir := writeConfigDir(t, "", testRoutesYAML, testUpstreamsYAML)
	l := NewLoader(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := l.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	bad := testRoutesYAML + "  - path: /api/bad\n    kind: carrier-pigeon\n    upstream_path: /x\n"
	if err := os.WriteFile(filepath.Join(dir, "routes.yaml"), []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}

	err := l.Load()
	if err == nil || !strings.Contains(err.Error(), "unknown kind") {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
	if got := len(l.Routes().APIRoutes); got != 2 {
		t.Errorf("expected previous route table to remain, got %d routes", got)
	}
}

func TestRoutesConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *RoutesConfig)
		wantErr string
	}{
		{"defaults", func(r *RoutesConfig) {}, ""},
		{"relative login", func(r *RoutesConfig) { r.LoginPath = "auth/login" }, "login_path"},
		{"empty return param", func(r *RoutesConfig) { r.ReturnParam = "" }, "return_param"},
		{"json without fields", func(r *RoutesConfig) {
			r.APIRoutes = []APIRouteEntry{{Path: "/api/x", Kind: types.KindJSON, UpstreamPath: "/x"}}
		}, "needs at least one field"},
		{"duplicate path", func(r *RoutesConfig) {
			e := APIRouteEntry{Path: "/api/x", Kind: types.KindChat, UpstreamPath: "/x"}
			r.APIRoutes = []APIRouteEntry{e, e}
		}, "duplicate"},
		{"missing upstream", func(r *RoutesConfig) {
			r.APIRoutes = []APIRouteEntry{{Path: "/api/x", Kind: types.KindMultipart}}
		}, "upstream_path"},
		{"unknown response mode", func(r *RoutesConfig) {
			r.APIRoutes = []APIRouteEntry{{Path: "/api/x", Kind: types.KindMultipart, UpstreamPath: "/x", Response: "raw"}}
		}, "response mode"},
		{"unsupported method", func(r *RoutesConfig) {
			r.APIRoutes = []APIRouteEntry{{Path: "/api/x", Kind: types.KindPassthrough, UpstreamPath: "/x", Methods: []string{"TRACE"}}}
		}, "unsupported method"},
		{"shaped route without post", func(r *RoutesConfig) {
			r.APIRoutes = []APIRouteEntry{{Path: "/api/x", Kind: types.KindChat, UpstreamPath: "/x", Methods: []string{"GET"}}}
		}, "must accept POST"},
		{"passthrough prefix", func(r *RoutesConfig) {
			r.APIRoutes = []APIRouteEntry{{Path: "/api/x", Kind: types.KindPassthrough, UpstreamPath: "/x", Prefix: true}}
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := DefaultRoutes()
			tt.mutate(r)
			err := r.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAPIRouteEntry_Defaults(t *testing.T) {
	chat := APIRouteEntry{Path: "/api/chat", Kind: types.KindChat, UpstreamPath: "/api/v1/query"}
	if got := chat.ResponseMode(); got != types.ResponseNormalize {
		t.Errorf("chat response mode = %q, want normalize", got)
	}
	if !chat.AllowsMethod("POST") || chat.AllowsMethod("GET") {
		t.Error("chat route should accept only POST")
	}

	upload := APIRouteEntry{Path: "/api/up", Kind: types.KindMultipart, UpstreamPath: "/up", Response: types.ResponsePassthrough}
	if got := upload.ResponseMode(); got != types.ResponsePassthrough {
		t.Errorf("upload response mode = %q, want passthrough", got)
	}

	drugs := APIRouteEntry{Path: "/api/v1/drugs", Kind: types.KindPassthrough, UpstreamPath: "/api/v1/drugs", Prefix: true}
	if got := drugs.ResponseMode(); got != types.ResponsePassthrough {
		t.Errorf("passthrough response mode = %q", got)
	}
	if !drugs.AllowsMethod("GET") || drugs.AllowsMethod("POST") {
		t.Error("passthrough route without methods should accept only GET")
	}
	if got := drugs.UpstreamFor("/api/v1/drugs/0012345"); got != "/api/v1/drugs/0012345" {
		t.Errorf("UpstreamFor = %q", got)
	}

	vzp := APIRouteEntry{Path: "/api/v1/drugs/vzp-search", Kind: types.KindPassthrough, UpstreamPath: "/vzp", Methods: []string{"post"}}
	if !vzp.AllowsMethod("POST") {
		t.Error("methods should match case-insensitively")
	}
	if got := vzp.UpstreamFor("/api/v1/drugs/vzp-search"); got != "/vzp" {
		t.Errorf("exact UpstreamFor = %q", got)
	}
}

func TestUpstreamsConfig_ValidateRequiresBaseURL(t *testing.T) {
	u := &UpstreamsConfig{
		AuthService:      UpstreamConfig{BaseURL: "http://auth"},
		InferenceBackend: UpstreamConfig{BaseURL: "http://backend"},
	}
	if err := u.Validate(); err == nil || !strings.Contains(err.Error(), "frontend") {
		t.Fatalf("expected frontend base_url error, got %v", err)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, Name: "med", User: "u", Password: "p"}
	want := "postgres://u:p@db:5433/med?sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
