package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

// SignatureHeader carries the webhook payload signature
const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature validates a "sha256=<hex>" HMAC of payload keyed by the app secret
// Ref: https://developers.facebook.com/docs/messenger-platform/webhooks#security
func VerifySignature(appSecret string, payload []byte, signatureHeader string) bool {
	if appSecret == "" {
		slog.Error("Webhook signature check without app secret configured")
		return false
	}

	const prefix = "sha256="
	if !strings.HasPrefix(signatureHeader, prefix) {
		slog.Warn("Invalid signature format - missing sha256= prefix")
		return false
	}

	expected, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, prefix))
	if err != nil {
		slog.Warn("Invalid signature format - not hex")
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(payload)

	// Constant-time comparison
	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign computes the header value for payload; used by tests and local tooling
func Sign(appSecret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
