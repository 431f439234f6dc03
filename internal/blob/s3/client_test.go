package s3blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyPrefixMapping(t *testing.T) {
	c := &Client{bucket: "escrowd-data", prefix: "escrowd"}

	assert.Equal(t, "escrowd/archive/bets/2026-03.jsonl", c.Key("archive/bets/2026-03.jsonl"))
	assert.Equal(t, "escrowd/archive/bets/2026-03.jsonl", c.Key("/archive/bets/2026-03.jsonl"))
	assert.Equal(t, "archive/bets/2026-03.jsonl", c.StripKey("escrowd/archive/bets/2026-03.jsonl"))

	bare := &Client{bucket: "escrowd-data"}
	assert.Equal(t, "archive/audit/2026-03.jsonl", bare.Key("archive/audit/2026-03.jsonl"))
	assert.Equal(t, "archive/audit/2026-03.jsonl", bare.StripKey("archive/audit/2026-03.jsonl"))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio.internal", normaliseEndpoint("minio.internal", true))
	assert.Equal(t, "http://minio.internal", normaliseEndpoint("minio.internal", false))
	assert.Equal(t, "https://r2.example.com", normaliseEndpoint("https://r2.example.com", false))
}
