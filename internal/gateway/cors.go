package gateway

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/benjamin-med/medgate/internal/config"
)

// CORS admits credentialed cross-origin calls from the configured origins.
// The origin list is read per request so a config reload applies at once.
func CORS(cfg func() config.CORSConfig) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return OriginAllowed(cfg().AllowedOrigins, origin)
		},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After", headerLimit, headerRemaining, headerReset},
		AllowCredentials: true,
		MaxAge:           cfg().MaxAge,
	})
}

const (
	headerLimit     = "X-RateLimit-Limit-Requests"
	headerRemaining = "X-RateLimit-Remaining-Requests"
	headerReset     = "X-RateLimit-Reset-Requests"
)

func OriginAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
