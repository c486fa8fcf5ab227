package gateway

import (
	"log/slog"
	"net/http"
	stdhttputil "net/http/httputil"
	"net/url"
	"time"
)

// NewFrontendProxy forwards page and asset requests to the frontend server
// unchanged, including any cookies rewritten by a session refresh.
func NewFrontendProxy(target *url.URL, transport http.RoundTripper) http.Handler {
	proxy := &stdhttputil.ReverseProxy{
		Rewrite: func(pr *stdhttputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		Transport:     transport,
		FlushInterval: 100 * time.Millisecond,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("frontend unreachable",
				"request_id", requestID(w, r),
				"path", r.URL.Path,
				"error", err,
			)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}
	return proxy
}
