package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/farellandr/enrollhub/config"
	"github.com/farellandr/enrollhub/internal/apperr"
)

func testConfig(baseURL string) config.GatewayConfig {
	return config.GatewayConfig{
		BaseURL:          baseURL,
		APIVersion:       "2023-08-01",
		AppID:            "app-id",
		SecretKey:        "cf-secret",
		WebhookTolerance: 10 * time.Minute,
		CheckoutURL:      "https://checkout.example.com/pay",
		ReturnURL:        "https://example.com/payment/return",
		NotifyURL:        "https://api.example.com/v1/payments/webhook",
		Currency:         "INR",
		Timeout:          2 * time.Second,
	}
}

func TestCreateSession(t *testing.T) {
	var got createOrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-client-id") != "app-id" || r.Header.Get("x-client-secret") != "cf-secret" {
			t.Errorf("missing credentials headers")
		}
		if r.Header.Get("x-api-version") != "2023-08-01" {
			t.Errorf("x-api-version = %q", r.Header.Get("x-api-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"cf_order_id":2149460581,"order_id":"ORD-1","payment_session_id":"session_abc","order_status":"ACTIVE"}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	sess, err := c.CreateSession(context.Background(), SessionRequest{
		OrderID:       "ORD-1",
		Amount:        decimal.NewFromInt(4999),
		CustomerPhone: "9999999999",
		CustomerEmail: "asha@example.com",
		CustomerName:  "Asha Rao",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if sess.SessionID != "session_abc" {
		t.Errorf("SessionID = %q", sess.SessionID)
	}
	if sess.GatewayOrderID != "2149460581" {
		t.Errorf("GatewayOrderID = %q", sess.GatewayOrderID)
	}
	if !strings.Contains(sess.RedirectURL, "payment_session_id=session_abc") {
		t.Errorf("RedirectURL = %q", sess.RedirectURL)
	}
	if got.OrderCurrency != "INR" || got.OrderAmount.String() != "4999.00" {
		t.Errorf("order body = %+v", got)
	}
	if got.OrderMeta.ReturnURL != "https://example.com/payment/return?order_id=ORD-1" {
		t.Errorf("return_url = %q", got.OrderMeta.ReturnURL)
	}
	if got.OrderMeta.NotifyURL != "https://api.example.com/v1/payments/webhook" {
		t.Errorf("notify_url = %q", got.OrderMeta.NotifyURL)
	}
}

func TestCreateSessionErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		code      string
	}{
		{"bad request", http.StatusBadRequest, `{"message":"order_id already exists","code":"order_already_exists","type":"invalid_request_error"}`, false, "order_already_exists"},
		{"rate limited", http.StatusTooManyRequests, `{"message":"slow down"}`, true, ""},
		{"server error", http.StatusBadGateway, `oops`, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(testConfig(srv.URL)).CreateSession(context.Background(), SessionRequest{OrderID: "ORD-1", Amount: decimal.NewFromInt(1)})
			var gerr *apperr.GatewayError
			if !errors.As(err, &gerr) {
				t.Fatalf("error = %v, want GatewayError", err)
			}
			if gerr.StatusCode != tt.status || gerr.Transient != tt.transient || gerr.Code != tt.code {
				t.Errorf("GatewayError = %+v", gerr)
			}
		})
	}
}

func TestCreateSessionTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond

	_, err := NewClient(cfg).CreateSession(context.Background(), SessionRequest{OrderID: "ORD-1", Amount: decimal.NewFromInt(1)})
	var gerr *apperr.GatewayError
	if !errors.As(err, &gerr) || !gerr.Transient {
		t.Fatalf("error = %v, want transient GatewayError", err)
	}
}

func TestFetchStatus(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status string
		txn    string
	}{
		{"no attempts", `[]`, RemotePending, ""},
		{"success", `[{"cf_payment_id":"111","payment_status":"FAILED"},{"cf_payment_id":"TXN-9","payment_status":"SUCCESS","payment_amount":4999}]`, RemotePaid, "TXN-9"},
		{"numeric id", `[{"cf_payment_id":885473311,"payment_status":"SUCCESS","payment_amount":4999}]`, RemotePaid, "885473311"},
		{"all failed", `[{"cf_payment_id":"1","payment_status":"FAILED"},{"cf_payment_id":"2","payment_status":"USER_DROPPED"}]`, RemoteFailed, "2"},
		{"still pending", `[{"cf_payment_id":"1","payment_status":"FAILED"},{"cf_payment_id":"2","payment_status":"PENDING"}]`, RemotePending, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/orders/ORD-1/payments" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewClient(testConfig(srv.URL)).FetchStatus(context.Background(), "ORD-1")
			if err != nil {
				t.Fatalf("FetchStatus() error = %v", err)
			}
			if got.Status != tt.status || got.TransactionID != tt.txn {
				t.Errorf("FetchStatus() = %s/%s, want %s/%s", got.Status, got.TransactionID, tt.status, tt.txn)
			}
		})
	}
}
