package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hmacHex(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	const secret = "webhook-secret"
	const body = `{"action":"opened"}`

	t.Run("no secret means unchecked", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("X-Hub-Signature-256", "sha256="+hmacHex(secret, body))
		assert.Nil(t, verifySignature("", headers, []byte(body)))
	})

	t.Run("github style prefixed digest", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("X-Hub-Signature-256", "sha256="+hmacHex(secret, body))
		got := verifySignature(secret, headers, []byte(body))
		require.NotNil(t, got)
		assert.True(t, *got)
	})

	t.Run("bare digest in generic header", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("X-Signature", hmacHex(secret, body))
		got := verifySignature(secret, headers, []byte(body))
		require.NotNil(t, got)
		assert.True(t, *got)
	})

	t.Run("uppercase hex accepted", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("X-Signature-256", strings.ToUpper(hmacHex(secret, body)))
		got := verifySignature(secret, headers, []byte(body))
		require.NotNil(t, got)
		assert.True(t, *got)
	})

	t.Run("wrong digest rejected", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("X-Hub-Signature-256", "sha256="+hmacHex("other-secret", body))
		got := verifySignature(secret, headers, []byte(body))
		require.NotNil(t, got)
		assert.False(t, *got)
	})

	t.Run("tampered body rejected", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("X-Hub-Signature-256", "sha256="+hmacHex(secret, body))
		got := verifySignature(secret, headers, []byte(`{"action":"closed"}`))
		require.NotNil(t, got)
		assert.False(t, *got)
	})

	t.Run("missing header with secret configured rejected", func(t *testing.T) {
		got := verifySignature(secret, http.Header{}, []byte(body))
		require.NotNil(t, got)
		assert.False(t, *got)
	})
}
