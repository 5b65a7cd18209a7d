package gateway

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farellandr/enrollhub/internal/apperr"
	"github.com/farellandr/enrollhub/internal/helpers"
)

type EventType string

const (
	EventPaymentSuccess EventType = "payment_success"
	EventPaymentFailed  EventType = "payment_failed"
	EventUnknown        EventType = "unknown"
)

// Notification is a verified webhook delivery reduced to what
// reconciliation needs.
type Notification struct {
	EventType        EventType
	GatewayEventType string
	OrderID          string
	TransactionID    string
	Amount           decimal.Decimal
	Currency         string
	PaymentStatus    string
	Payload          json.RawMessage
}

type webhookBody struct {
	Type      string `json:"type"`
	EventTime string `json:"event_time"`
	Data      struct {
		Order struct {
			OrderID       string          `json:"order_id"`
			OrderAmount   decimal.Decimal `json:"order_amount"`
			OrderCurrency string          `json:"order_currency"`
		} `json:"order"`
		Payment struct {
			CFPaymentID     flexID          `json:"cf_payment_id"`
			PaymentStatus   string          `json:"payment_status"`
			PaymentAmount   decimal.Decimal `json:"payment_amount"`
			PaymentCurrency string          `json:"payment_currency"`
		} `json:"payment"`
	} `json:"data"`
}

// VerifyWebhook authenticates a raw delivery before anything in it is read.
// signature and timestamp are the x-webhook-signature and
// x-webhook-timestamp headers.
func (c *Client) VerifyWebhook(payload []byte, signature, timestamp string) (*Notification, error) {
	if signature == "" {
		return nil, &apperr.AuthenticationError{Reason: "missing signature"}
	}
	if timestamp == "" {
		return nil, &apperr.AuthenticationError{Reason: "missing timestamp"}
	}
	sentAt, err := parseTimestamp(timestamp)
	if err != nil {
		return nil, &apperr.AuthenticationError{Reason: "malformed timestamp"}
	}
	if skew := c.now().Sub(sentAt); skew > c.cfg.WebhookTolerance || skew < -c.cfg.WebhookTolerance {
		return nil, &apperr.AuthenticationError{Reason: "timestamp outside tolerance"}
	}
	if !helpers.VerifyWebhookSignature(c.cfg.SigningSecret(), timestamp, payload, signature) {
		return nil, &apperr.AuthenticationError{Reason: "signature mismatch"}
	}

	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, apperr.NewValidation("payload", "malformed webhook body")
	}

	n := &Notification{
		EventType:        mapEventType(body.Type),
		GatewayEventType: body.Type,
		OrderID:          body.Data.Order.OrderID,
		TransactionID:    string(body.Data.Payment.CFPaymentID),
		Amount:           body.Data.Payment.PaymentAmount,
		Currency:         body.Data.Payment.PaymentCurrency,
		PaymentStatus:    body.Data.Payment.PaymentStatus,
		Payload:          json.RawMessage(payload),
	}
	if n.Amount.IsZero() {
		n.Amount = body.Data.Order.OrderAmount
	}
	if n.Currency == "" {
		n.Currency = body.Data.Order.OrderCurrency
	}
	return n, nil
}

func mapEventType(t string) EventType {
	switch strings.ToUpper(t) {
	case "PAYMENT_SUCCESS_WEBHOOK":
		return EventPaymentSuccess
	case "PAYMENT_FAILED_WEBHOOK":
		return EventPaymentFailed
	default:
		return EventUnknown
	}
}

// parseTimestamp reads Cashfree's millisecond epoch; second precision is
// accepted too.
func parseTimestamp(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if n < 1e12 {
		return time.Unix(n, 0), nil
	}
	return time.UnixMilli(n), nil
}
