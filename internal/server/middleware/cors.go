package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-API-Key"
	corsMaxAge  = "600"
)

// Origins is the browser origin policy shared by the REST API and the
// WebSocket upgrade. An entry matches an origin case-insensitively; "*"
// matches every origin and "https://*.juster.fi" matches any subdomain of
// juster.fi over https. An empty policy allows every origin.
type Origins []string

// Allows reports whether a browser at origin may call the API.
func (o Origins) Allows(origin string) bool {
	if len(o) == 0 {
		return true
	}
	origin = strings.ToLower(origin)
	for _, entry := range o {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "*" || entry == origin {
			return true
		}
		scheme, host, ok := strings.Cut(entry, "://*.")
		if !ok {
			continue
		}
		rest, found := strings.CutPrefix(origin, scheme+"://")
		if found && strings.HasSuffix(rest, "."+host) {
			return true
		}
	}
	return false
}

// CheckOrigin is the upgrade check of the WebSocket hub. Requests without
// an Origin header come from non-browser clients and are accepted.
func (o Origins) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || o.Allows(origin)
}

// CORS answers preflight requests and sets the CORS headers for origins the
// policy allows. Preflights from other origins are refused with 403.
func CORS(origins Origins) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed := origin != "" && origins.Allows(origin)
			if origin != "" {
				w.Header().Add("Vary", "Origin")
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", corsMethods)
				w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
				w.Header().Set("Access-Control-Max-Age", corsMaxAge)
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if origin != "" && !allowed {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
