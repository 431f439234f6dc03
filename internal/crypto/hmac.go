package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Admin API header names.
const (
	HeaderAPIKey    = "X-Escrowd-Key"
	HeaderTimestamp = "X-Escrowd-Timestamp"
	HeaderSignature = "X-Escrowd-Signature"
)

// maxTimestampSkew bounds how stale a signed admin request may be.
const maxTimestampSkew = 30 * time.Second

// HMACAuth holds the shared credentials for the admin API. The signature
// covers timestamp+method+path+body so a captured request cannot be
// replayed against a different endpoint or payload.
type HMACAuth struct {
	Key    string
	Secret string
}

// Headers returns the HTTP headers for an admin request signed at the
// current time.
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	return h.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but with a caller-supplied Unix timestamp, for
// deterministic testing.
func (h *HMACAuth) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAPIKey:    h.Key,
		HeaderTimestamp: ts,
		HeaderSignature: hmacSHA256Base64([]byte(h.Secret), ts+method+path+body),
	}
}

// Verify checks an inbound admin request's key, timestamp freshness, and
// signature. now is the server's current time.
func (h *HMACAuth) Verify(key, timestamp, signature, method, path, body string, now time.Time) error {
	if subtle := hmac.Equal([]byte(key), []byte(h.Key)); !subtle {
		return fmt.Errorf("crypto: unknown api key")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: malformed timestamp: %w", err)
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxTimestampSkew {
		return fmt.Errorf("crypto: timestamp outside allowed skew")
	}

	want := hmacSHA256Base64([]byte(h.Secret), timestamp+method+path+body)
	if !hmac.Equal([]byte(signature), []byte(want)) {
		return fmt.Errorf("crypto: signature mismatch")
	}
	return nil
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key, base64
// standard encoded.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
