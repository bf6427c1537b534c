// Package middleware provides HTTP middleware for the tutoring API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/samber/lo"
)

// allowedHeaders are the request headers browsers may send cross-origin.
var allowedHeaders = []string{"Content-Type", "Authorization", "X-Tutor-Session-ID"}

// CORS returns middleware that handles CORS headers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := lo.Contains(allowedOrigins, "*")
	explicit := lo.Without(allowedOrigins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")

			listed := origin != "" && lo.Contains(explicit, origin)
			if listed || (wildcard && origin != "") {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", strings.Join(allowedHeaders, ", "))
				w.Header().Set("Access-Control-Max-Age", "600")
				// Credentials only for explicitly listed origins. A wildcard
				// echo with credentials would let any site ride the cookie.
				if listed {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
