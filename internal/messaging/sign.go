package messaging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignBody computes the hex-encoded HMAC-SHA256 of body under the given
// secret. The same construction covers both inbound webhook verification and
// outbound gateway request signing.
func SignBody(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether the presented hex signature matches the
// HMAC-SHA256 of body under secret. Comparison is constant-time.
func VerifySignature(secret, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := SignBody(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
