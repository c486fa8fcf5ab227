package config

import (
	"fmt"
	"strings"

	"github.com/benjamin-med/medgate/internal/types"
)

// RoutesConfig is the path layout of the application: which prefixes are
// protected, which pages are auth forms, and where API calls are forwarded.
type RoutesConfig struct {
	LoginPath             string          `yaml:"login_path"`
	AppPath               string          `yaml:"app_path"`
	ReturnParam           string          `yaml:"return_param"`
	ExcludedPrefixes      []string        `yaml:"excluded_prefixes"`
	ProtectedPagePrefixes []string        `yaml:"protected_page_prefixes"`
	ProtectedAPIPrefixes  []string        `yaml:"protected_api_prefixes"`
	AuthPages             []string        `yaml:"auth_pages"`
	APIRoutes             []APIRouteEntry `yaml:"api_routes"`
}

// APIRouteEntry maps one gateway path to a backend path. Prefix entries also
// match every path below Path, carrying the remainder to UpstreamPath.
type APIRouteEntry struct {
	Path         string             `yaml:"path"`
	Kind         types.RouteKind    `yaml:"kind"`
	UpstreamPath string             `yaml:"upstream_path"`
	Fields       []string           `yaml:"fields,omitempty"`
	RPM          int                `yaml:"rpm,omitempty"`
	Methods      []string           `yaml:"methods,omitempty"`
	Prefix       bool               `yaml:"prefix,omitempty"`
	Response     types.ResponseMode `yaml:"response,omitempty"`
}

// ResponseMode defaults to passthrough for passthrough routes and to
// normalize for everything else.
func (e APIRouteEntry) ResponseMode() types.ResponseMode {
	if e.Response != "" {
		return e.Response
	}
	if e.Kind == types.KindPassthrough {
		return types.ResponsePassthrough
	}
	return types.ResponseNormalize
}

// AllowsMethod reports whether method may be forwarded. Without an explicit
// list, passthrough routes accept GET and shaped routes accept POST.
func (e APIRouteEntry) AllowsMethod(method string) bool {
	if len(e.Methods) == 0 {
		if e.Kind == types.KindPassthrough {
			return method == "GET"
		}
		return method == "POST"
	}
	for _, m := range e.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// UpstreamFor returns the backend path for a cleaned request path this entry
// matched.
func (e APIRouteEntry) UpstreamFor(cleanPath string) string {
	if !e.Prefix {
		return e.UpstreamPath
	}
	rest := strings.TrimPrefix(cleanPath, strings.TrimSuffix(e.Path, "/"))
	return strings.TrimSuffix(e.UpstreamPath, "/") + rest
}

func DefaultRoutes() *RoutesConfig {
	return &RoutesConfig{
		LoginPath:             "/auth/login",
		AppPath:               "/dashboard",
		ReturnParam:           "next",
		ExcludedPrefixes:      []string{"/_next/static", "/_next/image", "/favicon.ico"},
		ProtectedPagePrefixes: []string{"/dashboard"},
		ProtectedAPIPrefixes:  []string{"/api"},
		AuthPages:             []string{"/auth/login", "/auth/register"},
	}
}

// Validate rejects route tables that would leave a request without a
// well-defined forwarding target.
func (r *RoutesConfig) Validate() error {
	if !strings.HasPrefix(r.LoginPath, "/") {
		return fmt.Errorf("login_path must be absolute, got %q", r.LoginPath)
	}
	if !strings.HasPrefix(r.AppPath, "/") {
		return fmt.Errorf("app_path must be absolute, got %q", r.AppPath)
	}
	if r.ReturnParam == "" {
		return fmt.Errorf("return_param must not be empty")
	}

	seen := make(map[string]bool, len(r.APIRoutes))
	for i, rt := range r.APIRoutes {
		if !strings.HasPrefix(rt.Path, "/") {
			return fmt.Errorf("api_routes[%d]: path must be absolute, got %q", i, rt.Path)
		}
		if seen[rt.Path] {
			return fmt.Errorf("api_routes[%d]: duplicate path %q", i, rt.Path)
		}
		seen[rt.Path] = true
		if _, ok := types.ParseRouteKind(string(rt.Kind)); !ok {
			return fmt.Errorf("api_routes[%d]: unknown kind %q", i, rt.Kind)
		}
		if rt.UpstreamPath == "" {
			return fmt.Errorf("api_routes[%d]: upstream_path is required", i)
		}
		if rt.Kind == types.KindJSON && len(rt.Fields) == 0 {
			return fmt.Errorf("api_routes[%d]: json route %q needs at least one field", i, rt.Path)
		}
		if rt.RPM < 0 {
			return fmt.Errorf("api_routes[%d]: rpm must not be negative", i)
		}
		switch rt.Response {
		case "", types.ResponseNormalize, types.ResponsePassthrough:
		default:
			return fmt.Errorf("api_routes[%d]: unknown response mode %q", i, rt.Response)
		}
		for _, m := range rt.Methods {
			switch strings.ToUpper(m) {
			case "GET", "POST", "PUT", "PATCH", "DELETE":
			default:
				return fmt.Errorf("api_routes[%d]: unsupported method %q", i, m)
			}
		}
		if rt.Kind != types.KindPassthrough && len(rt.Methods) > 0 && !rt.AllowsMethod("POST") {
			return fmt.Errorf("api_routes[%d]: %s route %q must accept POST", i, rt.Kind, rt.Path)
		}
	}
	return nil
}
