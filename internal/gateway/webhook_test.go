package gateway

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/farellandr/enrollhub/internal/apperr"
	"github.com/farellandr/enrollhub/internal/helpers"
)

const successPayload = `{"data":{"order":{"order_id":"ORD-1","order_amount":4999,"order_currency":"INR"},"payment":{"cf_payment_id":"TXN-9","payment_status":"SUCCESS","payment_amount":4999,"payment_currency":"INR"}},"event_time":"2026-10-15T10:00:00+05:30","type":"PAYMENT_SUCCESS_WEBHOOK"}`

func fixedClock() time.Time {
	return time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
}

func msTimestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func TestVerifyWebhookAccepts(t *testing.T) {
	c := NewClient(testConfig("http://unused"), WithClock(fixedClock))
	ts := msTimestamp(fixedClock().Add(-time.Minute))
	sig := helpers.WebhookSignature("cf-secret", ts, []byte(successPayload))

	n, err := c.VerifyWebhook([]byte(successPayload), sig, ts)
	if err != nil {
		t.Fatalf("VerifyWebhook() error = %v", err)
	}
	if n.EventType != EventPaymentSuccess || n.OrderID != "ORD-1" || n.TransactionID != "TXN-9" {
		t.Errorf("notification = %+v", n)
	}
	if n.Amount.String() != "4999" || n.Currency != "INR" {
		t.Errorf("amount = %s %s", n.Amount, n.Currency)
	}
}

func TestVerifyWebhookUsesDedicatedSecret(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.WebhookSecret = "whsec"
	c := NewClient(cfg, WithClock(fixedClock))
	ts := msTimestamp(fixedClock())

	if _, err := c.VerifyWebhook([]byte(successPayload), helpers.WebhookSignature("whsec", ts, []byte(successPayload)), ts); err != nil {
		t.Fatalf("VerifyWebhook() with webhook secret error = %v", err)
	}
	if _, err := c.VerifyWebhook([]byte(successPayload), helpers.WebhookSignature("cf-secret", ts, []byte(successPayload)), ts); err == nil {
		t.Fatal("VerifyWebhook() accepted API-secret signature when webhook secret is set")
	}
}

func TestVerifyWebhookRejects(t *testing.T) {
	c := NewClient(testConfig("http://unused"), WithClock(fixedClock))
	now := msTimestamp(fixedClock())
	valid := helpers.WebhookSignature("cf-secret", now, []byte(successPayload))
	stale := msTimestamp(fixedClock().Add(-time.Hour))

	tests := []struct {
		name      string
		payload   string
		signature string
		timestamp string
		reason    string
	}{
		{"missing signature", successPayload, "", now, "missing signature"},
		{"missing timestamp", successPayload, valid, "", "missing timestamp"},
		{"garbage timestamp", successPayload, valid, "yesterday", "malformed timestamp"},
		{"stale timestamp", successPayload, helpers.WebhookSignature("cf-secret", stale, []byte(successPayload)), stale, "timestamp outside tolerance"},
		{"wrong secret", successPayload, helpers.WebhookSignature("other", now, []byte(successPayload)), now, "signature mismatch"},
		{"tampered body", `{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":"ORD-X"}}}`, valid, now, "signature mismatch"},
		{"malformed signature", successPayload, "not-base64!!", now, "signature mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.VerifyWebhook([]byte(tt.payload), tt.signature, tt.timestamp)
			var aerr *apperr.AuthenticationError
			if !errors.As(err, &aerr) {
				t.Fatalf("error = %v, want AuthenticationError", err)
			}
			if aerr.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", aerr.Reason, tt.reason)
			}
		})
	}
}

func TestVerifyWebhookEventMapping(t *testing.T) {
	c := NewClient(testConfig("http://unused"), WithClock(fixedClock))
	ts := msTimestamp(fixedClock())

	tests := map[string]EventType{
		"PAYMENT_SUCCESS_WEBHOOK":      EventPaymentSuccess,
		"PAYMENT_FAILED_WEBHOOK":       EventPaymentFailed,
		"PAYMENT_USER_DROPPED_WEBHOOK": EventUnknown,
		"REFUND_STATUS_WEBHOOK":        EventUnknown,
	}
	for gatewayType, want := range tests {
		t.Run(gatewayType, func(t *testing.T) {
			payload := []byte(`{"type":"` + gatewayType + `","data":{"order":{"order_id":"ORD-2"},"payment":{"cf_payment_id":77}}}`)
			n, err := c.VerifyWebhook(payload, helpers.WebhookSignature("cf-secret", ts, payload), ts)
			if err != nil {
				t.Fatalf("VerifyWebhook() error = %v", err)
			}
			if n.EventType != want || n.GatewayEventType != gatewayType {
				t.Errorf("EventType = %s (%s), want %s", n.EventType, n.GatewayEventType, want)
			}
			if n.TransactionID != "77" {
				t.Errorf("TransactionID = %q, want 77", n.TransactionID)
			}
		})
	}
}
