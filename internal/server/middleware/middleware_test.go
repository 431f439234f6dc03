package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthGateAndHealthExemption(t *testing.T) {
	h := Auth("secret-key")(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bets", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/bets", nil)
	req.Header.Set("X-API-Key", "wrong")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/bets", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Probes from the load balancer carry no key.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthDisabledWhenKeyEmpty(t *testing.T) {
	h := Auth("")(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bets", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type keyRecordingLimiter struct {
	keys  []string
	allow bool
}

func (l *keyRecordingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, nil
}

func TestRateLimitBucketsByCallerAddress(t *testing.T) {
	limiter := &keyRecordingLimiter{allow: true}
	h := RateLimit(limiter, 10, time.Minute)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/bets", nil)
	req.Header.Set("X-Caller-Address", "0xAbC123")
	h.ServeHTTP(httptest.NewRecorder(), req)

	anon := httptest.NewRequest(http.MethodGet, "/api/bets", nil)
	anon.RemoteAddr = "203.0.113.7:55001"
	h.ServeHTTP(httptest.NewRecorder(), anon)

	require.Len(t, limiter.keys, 2)
	assert.Equal(t, "ratelimit:api:addr:0xabc123", limiter.keys[0])
	assert.Equal(t, "ratelimit:api:ip:203.0.113.7", limiter.keys[1])
}

func TestRateLimitRejectsWhenExhausted(t *testing.T) {
	h := RateLimit(&keyRecordingLimiter{allow: false}, 1, time.Minute)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bets", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestCORSPreflightAndOriginFilter(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(okHandler())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/bets", nil)
	req.Header.Set("Origin", "https://app.example.com")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-Caller-Address")

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/bets", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingPreservesStatusAndBody(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"bet_number":1}`))
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/bets", nil)
	req.Header.Set("X-Caller-Address", "0xabc")
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"bet_number":1}`, rec.Body.String())
}
