package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/farellandr/enrollhub/config"
	"github.com/farellandr/enrollhub/internal/auth"
	"github.com/farellandr/enrollhub/internal/booking"
	"github.com/farellandr/enrollhub/internal/gateway"
	"github.com/farellandr/enrollhub/internal/handlers"
	"github.com/farellandr/enrollhub/internal/helpers"
	"github.com/farellandr/enrollhub/internal/logging"
	"github.com/farellandr/enrollhub/internal/middleware"
	"github.com/farellandr/enrollhub/internal/models"
	"github.com/farellandr/enrollhub/internal/reconcile"
	"github.com/farellandr/enrollhub/internal/testutil"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *recordingMailer) SendConfirmation(_ context.Context, e *models.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, e.OrderID)
	return nil
}

type stack struct {
	t        *testing.T
	db       *gorm.DB
	router   *gin.Engine
	mailer   *recordingMailer
	issuer   *auth.Issuer
	workshop *models.Workshop
	batch    *models.Batch

	// fetches counts status lookups that reached the fake Cashfree.
	fetches atomic.Int32
	// createOrder, when set, answers POST /orders instead of the default.
	createOrder func(w http.ResponseWriter, orderID string)
}

// newStack wires the real components against SQLite and a fake Cashfree.
func newStack(t *testing.T, statusLimit int) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := &stack{t: t}

	cashfree := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/orders":
			var body struct {
				OrderID string `json:"order_id"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if s.createOrder != nil {
				s.createOrder(w, body.OrderID)
				return
			}
			w.Write([]byte(`{"cf_order_id":1,"order_id":"` + body.OrderID + `","payment_session_id":"session_` + body.OrderID + `"}`))
		case r.Method == http.MethodGet:
			s.fetches.Add(1)
			w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(cashfree.Close)

	log := logging.Discard()
	db := testutil.NewDB(t)
	w, b := testutil.SeedWorkshop(t, db, 10)

	gw := gateway.NewClient(config.GatewayConfig{
		BaseURL:          cashfree.URL,
		APIVersion:       "2023-08-01",
		AppID:            "app-id",
		SecretKey:        "cf-secret",
		WebhookTolerance: 10 * time.Minute,
		CheckoutURL:      "https://checkout.example.com/pay",
		ReturnURL:        "https://example.com/payment/return",
		NotifyURL:        "https://api.example.com/v1/payments/webhook",
		Currency:         "INR",
		Timeout:          2 * time.Second,
	})
	m := &recordingMailer{}
	engine := reconcile.NewEngine(db, m, nil, log)
	poller := reconcile.NewPoller(db, gw, engine, log)
	sweeper := reconcile.NewSweeper(db, poller, config.SweepConfig{MinAge: 15 * time.Minute, BatchSize: 10}, log)
	issuer := auth.NewIssuer("jwt-secret")

	h := handlers.New(handlers.Deps{
		DB:      db,
		Intake:  booking.NewIntake(db, log),
		Gateway: gw,
		Engine:  engine,
		Poller:  poller,
		Sweeper: sweeper,
		Log:     log,
	})
	router, err := NewRouter(h, middleware.NewInMemoryRateLimiter(statusLimit, time.Minute), issuer, log, nil)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	s.db, s.router, s.mailer, s.issuer, s.workshop, s.batch = db, router, m, issuer, w, b
	return s
}

func (s *stack) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *stack) book(orderID, email string) {
	s.t.Helper()
	body, _ := json.Marshal(map[string]string{
		"name":        "Asha Rao",
		"email":       email,
		"phone":       "9999999999",
		"address":     "12 Hill Road, Mumbai",
		"workshop_id": s.workshop.ID.String(),
		"batch_id":    s.batch.ID.String(),
		"order_id":    orderID,
		"amount":      "4999",
	})
	if w := s.do(http.MethodPost, "/v1/bookings", body, nil); w.Code != http.StatusCreated {
		s.t.Fatalf("POST /v1/bookings = %d %s", w.Code, w.Body)
	}
}

func (s *stack) webhook(payload string, signed bool) *httptest.ResponseRecorder {
	s.t.Helper()
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig := "bm90LWEtc2lnbmF0dXJl"
	if signed {
		sig = helpers.WebhookSignature("cf-secret", ts, []byte(payload))
	}
	return s.do(http.MethodPost, "/v1/payments/webhook", []byte(payload), map[string]string{
		"x-webhook-signature": sig,
		"x-webhook-timestamp": ts,
	})
}

func webhookPayload(eventType, orderID, txn string) string {
	return `{"type":"` + eventType + `","event_time":"2026-10-15T10:00:00+05:30","data":{"order":{"order_id":"` + orderID +
		`","order_amount":4999,"order_currency":"INR"},"payment":{"cf_payment_id":"` + txn + `","payment_status":"SUCCESS","payment_amount":4999,"payment_currency":"INR"}}}`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", w.Body, err)
	}
	return out
}

func TestBookingToConfirmation(t *testing.T) {
	s := newStack(t, 100)

	if w := s.do(http.MethodGet, "/v1/workshops", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("GET /v1/workshops = %d", w.Code)
	}

	s.book("ORD-1", "asha@example.com")

	w := s.do(http.MethodPost, "/v1/payments/sessions", []byte(`{"order_id":"ORD-1"}`), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /v1/payments/sessions = %d %s", w.Code, w.Body)
	}
	if got := decode(t, w)["payment_session_id"]; got != "session_ORD-1" {
		t.Errorf("payment_session_id = %v", got)
	}

	w = s.webhook(webhookPayload("PAYMENT_SUCCESS_WEBHOOK", "ORD-1", "TXN-9"), true)
	if w.Code != http.StatusOK || decode(t, w)["outcome"] != "applied" {
		t.Fatalf("webhook = %d %s", w.Code, w.Body)
	}

	// gateway retry of the same notification
	w = s.webhook(webhookPayload("PAYMENT_SUCCESS_WEBHOOK", "ORD-1", "TXN-9"), true)
	if w.Code != http.StatusOK || decode(t, w)["outcome"] != "noop" {
		t.Fatalf("duplicate webhook = %d %s", w.Code, w.Body)
	}

	w = s.do(http.MethodGet, "/v1/payments/status?order_id=ORD-1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "paid" || body["transaction_id"] != "TXN-9" {
		t.Errorf("status body = %v", body)
	}

	if n := testutil.Enrolled(t, s.db, s.batch); n != 1 {
		t.Errorf("enrolled = %d, want 1", n)
	}
	if len(s.mailer.sent) != 1 {
		t.Errorf("emails = %v, want one", s.mailer.sent)
	}
	var events int64
	s.db.Model(&models.PaymentEvent{}).Where("order_id = ?", "ORD-1").Count(&events)
	if events != 2 {
		t.Errorf("payment events = %d, want 2", events)
	}

	w = s.do(http.MethodPost, "/v1/payments/sessions", []byte(`{"order_id":"ORD-1"}`), nil)
	if w.Code != http.StatusConflict {
		t.Errorf("session for paid order = %d, want 409", w.Code)
	}
}

func TestFailedPayment(t *testing.T) {
	s := newStack(t, 100)
	s.book("ORD-2", "ravi@example.com")

	w := s.webhook(webhookPayload("PAYMENT_FAILED_WEBHOOK", "ORD-2", "TXN-F"), true)
	if w.Code != http.StatusOK {
		t.Fatalf("webhook = %d %s", w.Code, w.Body)
	}

	w = s.do(http.MethodGet, "/v1/payments/status?order_id=ORD-2", nil, nil)
	body := decode(t, w)
	if body["status"] != "failed" {
		t.Errorf("status body = %v", body)
	}
	if _, ok := body["transaction_id"]; ok {
		t.Errorf("status body = %v, a failed order has no transaction id", body)
	}

	w = s.do(http.MethodGet, "/v1/payments/return?order_id=ORD-2", nil, nil)
	body = decode(t, w)
	if body["status"] != "failed" {
		t.Errorf("return body = %v", body)
	}
	if _, ok := body["transaction_id"]; ok {
		t.Errorf("return body = %v, a failed order has no transaction id", body)
	}

	var e models.Enrollment
	s.db.Where("order_id = ?", "ORD-2").First(&e)
	if e.TransactionID != nil {
		t.Errorf("stored transaction id = %q, want none", *e.TransactionID)
	}
	if n := testutil.Enrolled(t, s.db, s.batch); n != 0 {
		t.Errorf("enrolled = %d, want 0", n)
	}
	if len(s.mailer.sent) != 0 {
		t.Errorf("emails = %v, want none", s.mailer.sent)
	}
}

func TestWebhookRejectsMalformedSignature(t *testing.T) {
	s := newStack(t, 100)
	s.book("ORD-1", "asha@example.com")

	w := s.webhook(webhookPayload("PAYMENT_SUCCESS_WEBHOOK", "ORD-1", "TXN-9"), false)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("webhook = %d, want 400", w.Code)
	}

	var e models.Enrollment
	s.db.Where("order_id = ?", "ORD-1").First(&e)
	if e.PaymentStatus != models.PaymentPending {
		t.Errorf("status = %s, want pending", e.PaymentStatus)
	}
	var events int64
	s.db.Model(&models.PaymentEvent{}).Count(&events)
	if events != 0 {
		t.Errorf("payment events = %d, rejected deliveries must not be stored", events)
	}
}

func TestWebhookUnknownOrderAcknowledged(t *testing.T) {
	s := newStack(t, 100)

	w := s.webhook(webhookPayload("PAYMENT_SUCCESS_WEBHOOK", "ORD-404", "TXN-1"), true)
	if w.Code != http.StatusOK || decode(t, w)["outcome"] != "not_found" {
		t.Fatalf("webhook = %d %s", w.Code, w.Body)
	}
}

func TestStatusValidationAndRateLimit(t *testing.T) {
	s := newStack(t, 2)
	s.book("ORD-1", "asha@example.com")

	if w := s.do(http.MethodGet, "/v1/payments/status?order_id=bad%20id", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", w.Code)
	}
	w := s.do(http.MethodGet, "/v1/payments/status?order_id=ORD-1", nil, nil)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "pending" {
		t.Fatalf("status = %d %s", w.Code, w.Body)
	}
	if w := s.do(http.MethodGet, "/v1/payments/status?order_id=ORD-1", nil, nil); w.Code != http.StatusTooManyRequests {
		t.Errorf("third poll = %d, want 429", w.Code)
	}
}

func TestStatusRateLimitIgnoresForwardedFor(t *testing.T) {
	s := newStack(t, 2)
	s.book("ORD-1", "asha@example.com")

	for i := 1; i <= 3; i++ {
		w := s.do(http.MethodGet, "/v1/payments/status?order_id=ORD-1", nil, map[string]string{
			"X-Forwarded-For": "203.0.113." + strconv.Itoa(i),
		})
		want := http.StatusOK
		if i == 3 {
			want = http.StatusTooManyRequests
		}
		if w.Code != want {
			t.Errorf("poll %d = %d, want %d", i, w.Code, want)
		}
	}
}

func TestPaymentReturnAnswersLocally(t *testing.T) {
	s := newStack(t, 2)
	s.book("ORD-1", "asha@example.com")

	for i := 0; i < 20; i++ {
		w := s.do(http.MethodGet, "/v1/payments/return?order_id=ORD-1", nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("return %d = %d %s", i+1, w.Code, w.Body)
		}
	}
	if n := s.fetches.Load(); n != 0 {
		t.Errorf("gateway status lookups = %d, want 0", n)
	}

	if w := s.do(http.MethodGet, "/v1/payments/return?order_id=ORD-404", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown order = %d, want 404", w.Code)
	}
}

func TestPaymentSessionDuplicateOrderAtGateway(t *testing.T) {
	s := newStack(t, 100)
	s.book("ORD-1", "asha@example.com")
	s.book("ORD-2", "ravi@example.com")

	s.createOrder = func(w http.ResponseWriter, orderID string) {
		// the winning request stores its session while this one is in flight
		if orderID == "ORD-1" {
			s.db.Model(&models.Enrollment{}).Where("order_id = ?", orderID).Update("payment_session_id", "session_winner")
		}
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"order with same id is already present","code":"order_already_exists","type":"invalid_request_error"}`))
	}

	w := s.do(http.MethodPost, "/v1/payments/sessions", []byte(`{"order_id":"ORD-1"}`), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /v1/payments/sessions = %d %s", w.Code, w.Body)
	}
	if got := decode(t, w)["payment_session_id"]; got != "session_winner" {
		t.Errorf("payment_session_id = %v, want the stored session", got)
	}

	// nothing stored: the conflict is surfaced as a gateway failure
	if w := s.do(http.MethodPost, "/v1/payments/sessions", []byte(`{"order_id":"ORD-2"}`), nil); w.Code != http.StatusBadGateway {
		t.Errorf("conflict without stored session = %d, want 502", w.Code)
	}
}

func TestBookingErrors(t *testing.T) {
	s := newStack(t, 100)
	s.book("ORD-1", "asha@example.com")

	w := s.do(http.MethodPost, "/v1/bookings", []byte(`{"order_id":"ORD-2"}`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("incomplete booking = %d, want 400", w.Code)
	}
	if _, ok := decode(t, w)["fields"]; !ok {
		t.Error("validation response has no fields map")
	}

	badBodies := []struct {
		name  string
		body  string
		field string
	}{
		{"amount not a number", `{"order_id":"ORD-3","amount":"abc"}`, "body"},
		{"email wrong type", `{"order_id":"ORD-3","email":5}`, "email"},
		{"not json", `order_id=ORD-3`, "body"},
	}
	for _, tt := range badBodies {
		w := s.do(http.MethodPost, "/v1/bookings", []byte(tt.body), nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, w.Code)
			continue
		}
		fields, _ := decode(t, w)["fields"].(map[string]any)
		if _, ok := fields[tt.field]; !ok {
			t.Errorf("%s: fields = %v, want %q", tt.name, fields, tt.field)
		}
	}

	body, _ := json.Marshal(map[string]string{
		"name": "Someone Else", "email": "else@example.com", "phone": "8888888888", "address": "1 Road",
		"workshop_id": s.workshop.ID.String(), "batch_id": s.batch.ID.String(), "order_id": "ORD-1",
	})
	if w := s.do(http.MethodPost, "/v1/bookings", body, nil); w.Code != http.StatusConflict {
		t.Errorf("duplicate order = %d, want 409", w.Code)
	}
}

func TestAdminRecount(t *testing.T) {
	s := newStack(t, 100)
	path := "/v1/admin/batches/" + s.batch.ID.String() + "/recount"

	if w := s.do(http.MethodPost, path, nil, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}

	s.db.Model(&models.Batch{}).Where("id = ?", s.batch.ID).Update("enrolled", 4)
	token, _ := s.issuer.CreateToken("ops", auth.RoleAdmin, time.Hour)
	w := s.do(http.MethodPost, path, nil, map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusOK {
		t.Fatalf("recount = %d %s", w.Code, w.Body)
	}
	if n := testutil.Enrolled(t, s.db, s.batch); n != 0 {
		t.Errorf("enrolled = %d, want 0", n)
	}
}
