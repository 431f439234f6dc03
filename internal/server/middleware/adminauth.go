package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/wagerlab/escrowd/internal/crypto"
)

// maxAdminBodySize bounds how much of an admin request body is buffered for
// signature verification.
const maxAdminBodySize = 1 << 20

// AdminHMAC returns middleware that verifies the HMAC signature headers on
// admin requests. If auth is nil, admin endpoints are open (dev mode).
func AdminHMAC(auth *crypto.HMACAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBodySize))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			err = auth.Verify(
				r.Header.Get(crypto.HeaderAPIKey),
				r.Header.Get(crypto.HeaderTimestamp),
				r.Header.Get(crypto.HeaderSignature),
				r.Method, r.URL.Path, string(body),
				time.Now(),
			)
			if err != nil {
				writeUnauthorized(w, "admin authentication failed")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
