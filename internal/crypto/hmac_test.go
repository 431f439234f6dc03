package crypto_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagerlab/escrowd/internal/crypto"
)

func newAuth() *crypto.HMACAuth {
	return &crypto.HMACAuth{Key: "escrowd-admin", Secret: "correct-horse-battery-staple"}
}

func verifyHeaders(a *crypto.HMACAuth, h map[string]string, method, path, body string, now time.Time) error {
	return a.Verify(
		h[crypto.HeaderAPIKey],
		h[crypto.HeaderTimestamp],
		h[crypto.HeaderSignature],
		method, path, body, now,
	)
}

func TestSignAndVerify(t *testing.T) {
	auth := newAuth()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	h := auth.HeadersAt("POST", "/v1/admin/pause", `{"reason":"maintenance"}`, now.Unix())
	require.Len(t, h, 3)
	assert.Equal(t, "escrowd-admin", h[crypto.HeaderAPIKey])

	err := verifyHeaders(auth, h, "POST", "/v1/admin/pause", `{"reason":"maintenance"}`, now)
	assert.NoError(t, err)
}

func TestVerifyBindsMethodPathAndBody(t *testing.T) {
	auth := newAuth()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := auth.HeadersAt("POST", "/v1/admin/pause", "", now.Unix())

	assert.Error(t, verifyHeaders(auth, h, "DELETE", "/v1/admin/pause", "", now))
	assert.Error(t, verifyHeaders(auth, h, "POST", "/v1/admin/unpause", "", now))
	assert.Error(t, verifyHeaders(auth, h, "POST", "/v1/admin/pause", `{"x":1}`, now))
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	auth := newAuth()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := auth.HeadersAt("GET", "/v1/admin/config", "", now.Unix())

	assert.NoError(t, verifyHeaders(auth, h, "GET", "/v1/admin/config", "", now.Add(29*time.Second)))
	assert.Error(t, verifyHeaders(auth, h, "GET", "/v1/admin/config", "", now.Add(31*time.Second)))
	// Clocks may also run ahead of the signer.
	assert.Error(t, verifyHeaders(auth, h, "GET", "/v1/admin/config", "", now.Add(-31*time.Second)))
}

func TestVerifyRejectsWrongCredentials(t *testing.T) {
	auth := newAuth()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := auth.HeadersAt("GET", "/v1/admin/config", "", now.Unix())

	other := &crypto.HMACAuth{Key: "escrowd-admin", Secret: "wrong"}
	assert.Error(t, verifyHeaders(other, h, "GET", "/v1/admin/config", "", now))

	assert.Error(t, auth.Verify("unknown-key", h[crypto.HeaderTimestamp], h[crypto.HeaderSignature],
		"GET", "/v1/admin/config", "", now))
	assert.Error(t, auth.Verify(h[crypto.HeaderAPIKey], "not-a-number", h[crypto.HeaderSignature],
		"GET", "/v1/admin/config", "", now))
}

func TestStringRedactsCredentials(t *testing.T) {
	auth := newAuth()
	s := auth.String()
	assert.NotContains(t, s, auth.Secret)
	assert.Contains(t, s, "escr****")
}
