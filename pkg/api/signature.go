package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// signatureHeaders are checked in order for an HMAC-SHA256 digest of the
// request body. GitHub sends X-Hub-Signature-256 with a "sha256=" prefix;
// other publishers send a bare hex digest.
var signatureHeaders = []string{
	"X-Hub-Signature-256",
	"X-Signature-256",
	"X-Signature",
}

// verifySignature checks the request body HMAC against the per-source
// secret. The verdict is tri-state: nil when no secret is configured
// (verification skipped), otherwise true/false. A configured secret with
// no signature header counts as invalid.
func verifySignature(secret string, headers http.Header, body []byte) *bool {
	if secret == "" {
		return nil
	}

	valid := false
	for _, name := range signatureHeaders {
		got := headers.Get(name)
		if got == "" {
			continue
		}
		got = strings.ToLower(strings.TrimPrefix(got, "sha256="))

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		want := hex.EncodeToString(mac.Sum(nil))

		valid = hmac.Equal([]byte(want), []byte(got))
		break
	}
	return &valid
}
