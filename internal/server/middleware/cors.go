package middleware

import (
	"net/http"
	"strings"
)

// corsHeaders lists the request headers the escrow API accepts cross-origin:
// the API key, the caller's wallet address, and the admin HMAC headers.
const corsHeaders = "Content-Type, Authorization, X-API-Key, X-Caller-Address, X-Escrowd-Key, X-Escrowd-Timestamp, X-Escrowd-Signature"

// CORS returns middleware that answers cross-origin requests from the
// allowed origins, including preflight. Empty allowedOrigins allows all.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(allowedOrigins, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
