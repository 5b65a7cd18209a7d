// Package gateway talks to the Cashfree PG orders API. It is the only place
// that knows the provider's wire format.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/farellandr/enrollhub/config"
	"github.com/farellandr/enrollhub/internal/apperr"
	"github.com/farellandr/enrollhub/internal/metrics"
)

var tracer = otel.Tracer("github.com/farellandr/enrollhub/internal/gateway")

type Client struct {
	cfg        config.GatewayConfig
	httpClient *http.Client
	now        func() time.Time
}

type Option func(*Client)

// WithHTTPClient swaps the transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock overrides the time source used for webhook tolerance checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg config.GatewayConfig, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type SessionRequest struct {
	OrderID       string
	Amount        decimal.Decimal
	Currency      string
	CustomerID    string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

type Session struct {
	SessionID      string
	RedirectURL    string
	GatewayOrderID string
}

type RemoteStatus struct {
	OrderID       string
	Status        string // paid, failed or pending
	TransactionID string
	Amount        decimal.Decimal
	Raw           json.RawMessage
}

const (
	RemotePaid    = "paid"
	RemoteFailed  = "failed"
	RemotePending = "pending"
)

type customerDetails struct {
	CustomerID    string `json:"customer_id"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone"`
}

type orderMeta struct {
	ReturnURL string `json:"return_url"`
	NotifyURL string `json:"notify_url"`
}

type createOrderRequest struct {
	OrderID         string          `json:"order_id"`
	OrderAmount     json.Number     `json:"order_amount"`
	OrderCurrency   string          `json:"order_currency"`
	CustomerDetails customerDetails `json:"customer_details"`
	OrderMeta       orderMeta       `json:"order_meta"`
}

type createOrderResponse struct {
	CFOrderID        flexID `json:"cf_order_id"`
	OrderID          string `json:"order_id"`
	PaymentSessionID string `json:"payment_session_id"`
	OrderStatus      string `json:"order_status"`
}

type paymentEntity struct {
	CFPaymentID   flexID          `json:"cf_payment_id"`
	OrderID       string          `json:"order_id"`
	PaymentStatus string          `json:"payment_status"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}

// flexID accepts ids Cashfree sends either as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// CreateSession registers the order with Cashfree and returns the hosted
// checkout session for it.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	ctx, span := tracer.Start(ctx, "gateway.CreateSession")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", req.OrderID))

	currency := req.Currency
	if currency == "" {
		currency = c.cfg.Currency
	}
	customerID := req.CustomerID
	if customerID == "" {
		customerID = req.OrderID
	}

	payload := createOrderRequest{
		OrderID:       req.OrderID,
		OrderAmount:   json.Number(req.Amount.StringFixed(2)),
		OrderCurrency: currency,
		CustomerDetails: customerDetails{
			CustomerID:    customerID,
			CustomerName:  req.CustomerName,
			CustomerEmail: req.CustomerEmail,
			CustomerPhone: req.CustomerPhone,
		},
		OrderMeta: orderMeta{
			ReturnURL: withOrderID(c.cfg.ReturnURL, req.OrderID),
			NotifyURL: c.cfg.NotifyURL,
		},
	}
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode order: %w", err)
	}

	var out createOrderResponse
	if err := c.do(ctx, "create_session", http.MethodPost, "/orders", jsonBody, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create session failed")
		return nil, err
	}
	if out.PaymentSessionID == "" {
		err := &apperr.GatewayError{StatusCode: http.StatusOK, Message: "response carried no payment_session_id"}
		span.RecordError(err)
		return nil, err
	}

	return &Session{
		SessionID:      out.PaymentSessionID,
		RedirectURL:    c.CheckoutURL(req.OrderID, out.PaymentSessionID),
		GatewayOrderID: string(out.CFOrderID),
	}, nil
}

// FetchStatus asks Cashfree for the payment attempts of an order and folds
// them into a single outcome.
func (c *Client) FetchStatus(ctx context.Context, orderID string) (*RemoteStatus, error) {
	ctx, span := tracer.Start(ctx, "gateway.FetchStatus")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	var raw json.RawMessage
	if err := c.do(ctx, "fetch_status", http.MethodGet, "/orders/"+url.PathEscape(orderID)+"/payments", nil, &raw); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch status failed")
		return nil, err
	}

	var payments []paymentEntity
	if err := json.Unmarshal(raw, &payments); err != nil {
		return nil, &apperr.GatewayError{StatusCode: http.StatusOK, Message: "malformed payments response", Err: err}
	}

	status := foldPayments(payments)
	status.OrderID = orderID
	status.Raw = raw
	span.SetAttributes(attribute.String("payment.status", status.Status))
	return status, nil
}

func foldPayments(payments []paymentEntity) *RemoteStatus {
	if len(payments) == 0 {
		return &RemoteStatus{Status: RemotePending}
	}
	allFailed := true
	for _, p := range payments {
		switch strings.ToUpper(p.PaymentStatus) {
		case "SUCCESS":
			return &RemoteStatus{
				Status:        RemotePaid,
				TransactionID: string(p.CFPaymentID),
				Amount:        p.PaymentAmount,
			}
		case "FAILED", "CANCELLED", "USER_DROPPED":
		default:
			allFailed = false
		}
	}
	if allFailed {
		return &RemoteStatus{Status: RemoteFailed, TransactionID: string(payments[len(payments)-1].CFPaymentID)}
	}
	return &RemoteStatus{Status: RemotePending}
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-client-id", c.cfg.AppID)
	httpReq.Header.Set("x-client-secret", c.cfg.SecretKey)
	httpReq.Header.Set("x-api-version", c.cfg.APIVersion)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	metrics.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return c.fail(op, &apperr.GatewayError{Message: "request failed", Transient: isTransient(err), Err: err})
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return c.fail(op, &apperr.GatewayError{StatusCode: resp.StatusCode, Message: "read response", Transient: true, Err: err})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(respBody, &eb)
		msg := eb.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return c.fail(op, &apperr.GatewayError{
			StatusCode: resp.StatusCode,
			Code:       eb.Code,
			Message:    msg,
			Transient:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		})
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return c.fail(op, &apperr.GatewayError{StatusCode: resp.StatusCode, Message: "malformed response", Err: err})
	}
	return nil
}

func (c *Client) fail(op string, gerr *apperr.GatewayError) error {
	metrics.GatewayErrors.WithLabelValues(op, strconv.FormatBool(gerr.Transient)).Inc()
	return gerr
}

// CheckoutURL is the hosted page that opens the Cashfree checkout for a
// session.
func (c *Client) CheckoutURL(orderID, sessionID string) string {
	u, err := url.Parse(c.cfg.CheckoutURL)
	if err != nil {
		return c.cfg.CheckoutURL
	}
	q := u.Query()
	q.Set("order_id", orderID)
	q.Set("payment_session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String()
}

func withOrderID(raw, orderID string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("order_id", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
