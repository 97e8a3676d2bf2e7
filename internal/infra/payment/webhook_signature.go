package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifyWebhookSignature checks the HMAC-SHA256 hex signature of an inbound
// callback body against the configured shared secret. No configured secret
// means callbacks are accepted unverified, which is logged at startup.
func (g *QPayGateway) VerifyWebhookSignature(rawBody []byte, signature string) bool {
	if g.cfg.WebhookSecret == "" {
		return true
	}
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(g.cfg.WebhookSecret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(provided, expected)
}
