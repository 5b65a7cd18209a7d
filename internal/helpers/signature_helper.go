package helpers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// WebhookSignature is base64(HMAC-SHA256(secret, timestamp + body)), the
// scheme Cashfree signs notifications with.
func WebhookSignature(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func VerifyWebhookSignature(secret, timestamp string, body []byte, signature string) bool {
	expected := WebhookSignature(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

// QRSignature signs the colon-joined fields with a hex HMAC.
func QRSignature(secret string, fields ...string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strings.Join(fields, ":")))
	return hex.EncodeToString(h.Sum(nil))
}

func VerifyQRSignature(secret, signature string, fields ...string) bool {
	return hmac.Equal([]byte(QRSignature(secret, fields...)), []byte(signature))
}
