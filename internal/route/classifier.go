// Package route assigns every inbound path a protection class and resolves
// protected API paths to their forwarding entry.
package route

import (
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/benjamin-med/medgate/internal/config"
	"github.com/benjamin-med/medgate/internal/types"
)

// Classifier is immutable once built. Reloads build a new one and swap it in.
type Classifier struct {
	excluded       []string
	protectedPages []string
	protectedAPIs  []string
	authPages      map[string]bool
	apiRoutes      map[string]config.APIRouteEntry
	prefixRoutes   []config.APIRouteEntry
}

func NewClassifier(cfg *config.RoutesConfig) *Classifier {
	c := &Classifier{
		excluded:       normalizePrefixes(cfg.ExcludedPrefixes),
		protectedPages: normalizePrefixes(cfg.ProtectedPagePrefixes),
		protectedAPIs:  normalizePrefixes(cfg.ProtectedAPIPrefixes),
		authPages:      make(map[string]bool, len(cfg.AuthPages)),
		apiRoutes:      make(map[string]config.APIRouteEntry, len(cfg.APIRoutes)),
	}
	for _, p := range cfg.AuthPages {
		c.authPages[CleanPath(p)] = true
	}
	for _, r := range cfg.APIRoutes {
		r.Path = CleanPath(r.Path)
		c.apiRoutes[r.Path] = r
		if r.Prefix {
			c.prefixRoutes = append(c.prefixRoutes, r)
		}
	}
	// Longest prefix wins.
	sort.SliceStable(c.prefixRoutes, func(i, j int) bool {
		return len(c.prefixRoutes[i].Path) > len(c.prefixRoutes[j].Path)
	})
	return c
}

// Classify is pure: the same path always yields the same class.
func (c *Classifier) Classify(urlPath string) types.RouteClass {
	p := CleanPath(urlPath)
	switch {
	case matchAny(p, c.protectedPages):
		return types.ClassProtectedPage
	case matchAny(p, c.protectedAPIs):
		return types.ClassProtectedAPI
	case c.authPages[p]:
		return types.ClassAuthPage
	default:
		return types.ClassPublic
	}
}

// Excluded reports static and framework asset paths that bypass the pipeline.
func (c *Classifier) Excluded(urlPath string) bool {
	return matchAny(CleanPath(urlPath), c.excluded)
}

// Route resolves the API route table entry for a path. Exact entries take
// precedence over prefix entries.
func (c *Classifier) Route(urlPath string) (config.APIRouteEntry, bool) {
	p := CleanPath(urlPath)
	if r, ok := c.apiRoutes[p]; ok {
		return r, true
	}
	for _, r := range c.prefixRoutes {
		if hasSegmentPrefix(p, r.Path) {
			return r, true
		}
	}
	return config.APIRouteEntry{}, false
}

func matchAny(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if hasSegmentPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// hasSegmentPrefix matches prefix only on a path segment boundary, so
// "/dashboard" covers "/dashboard/chat" but not "/dashboardx".
func hasSegmentPrefix(p, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	return len(p) == len(prefix) || p[len(prefix)] == '/'
}

func normalizePrefixes(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		out = append(out, CleanPath(p))
	}
	return out
}

// CleanPath resolves dot segments and trailing slashes so that
// "/api/../dashboard" is classified as the page it actually names. The
// gateway forwards this form too, so what is classified is what is served.
func CleanPath(p string) string {
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

// Live holds the classifier currently in effect. Readers take a snapshot per
// request; Store swaps in a new table after a config reload.
type Live struct {
	current atomic.Pointer[Classifier]
}

func NewLive(c *Classifier) *Live {
	l := &Live{}
	l.current.Store(c)
	return l
}

func (l *Live) Load() *Classifier { return l.current.Load() }

func (l *Live) Store(c *Classifier) { l.current.Store(c) }
