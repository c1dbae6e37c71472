package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"

	"github.com/mnnr/fraudguard/internal/fraud"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHandler(t *testing.T, secret string) (*StripeHandler, *fraud.MemoryHistory, http.Handler) {
	t.Helper()
	history := fraud.NewMemoryHistory()
	engine := fraud.NewEngine(history, fraud.NewMemoryAuditStore())
	h := NewStripeHandler(engine, history, secret, 5*time.Second, slog.Default())

	router := gin.New()
	router.POST("/webhooks/stripe", h.Handle)
	return h, history, router
}

func postWebhook(router http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

const chargeEvent = `{
	"type": "charge.succeeded",
	"data": {
		"object": {
			"id": "ch_123",
			"amount": 12500,
			"created": %d,
			"description": "ACME Store",
			"metadata": {"user_id": "user1"},
			"billing_details": {"address": {"country": "US", "city": "Portland"}},
			"payment_method_details": {"card": {"fingerprint": "card-fp-1"}}
		}
	}
}`

func TestChargeSucceededScored(t *testing.T) {
	_, history, router := newTestHandler(t, "")

	body := fmt.Sprintf(chargeEvent, time.Now().Unix())
	w := postWebhook(router, body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Received  bool    `json:"received"`
		Score     float64 `json:"score"`
		RiskLevel string  `json:"riskLevel"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Received || resp.RiskLevel == "" {
		t.Errorf("resp = %+v", resp)
	}

	// The scored charge is committed to history.
	recs, err := history.ListSince(context.Background(), "user1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("history records = %d, want 1", len(recs))
	}
	if recs[0].Amount != 125 || recs[0].Merchant != "ACME Store" || recs[0].Country != "US" {
		t.Errorf("record = %+v", recs[0])
	}
}

func TestUnhandledEventTypeAcknowledged(t *testing.T) {
	_, history, router := newTestHandler(t, "")

	w := postWebhook(router, `{"type": "invoice.paid", "data": {"object": {}}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "riskLevel") {
		t.Error("ignored event should not carry a score")
	}

	recs, _ := history.ListSince(context.Background(), "user1", time.Now().Add(-time.Hour))
	if len(recs) != 0 {
		t.Errorf("ignored event wrote history: %+v", recs)
	}
}

func TestChargeWithoutUserRejected(t *testing.T) {
	_, _, router := newTestHandler(t, "")

	w := postWebhook(router, `{
		"type": "charge.succeeded",
		"data": {"object": {"id": "ch_1", "amount": 1000, "description": "Shop"}}
	}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestBadSignatureRejected(t *testing.T) {
	_, _, router := newTestHandler(t, "whsec_test_secret")

	body := fmt.Sprintf(chargeEvent, 1700000000)
	w := postWebhook(router, body) // no Stripe-Signature header
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unsigned payload", w.Code)
	}
}

func TestChargeToEvent(t *testing.T) {
	charge := &stripe.Charge{
		Amount:      4999,
		Created:     1700000000,
		Description: "Gadget Hut",
		Customer:    &stripe.Customer{ID: "cus_9"},
		Metadata:    map[string]string{"user_id": "user42"},
		BillingDetails: &stripe.ChargeBillingDetails{
			Address: &stripe.Address{Country: "DE", City: "Berlin"},
		},
		PaymentMethodDetails: &stripe.ChargePaymentMethodDetails{
			Card: &stripe.ChargePaymentMethodDetailsCard{Fingerprint: "fp-x"},
		},
	}

	ev := chargeToEvent(charge)
	if ev.UserID != "user42" {
		t.Errorf("metadata user_id should win over customer ID, got %s", ev.UserID)
	}
	if ev.Amount != 49.99 {
		t.Errorf("amount = %f, want 49.99 (cents converted)", ev.Amount)
	}
	if ev.Merchant != "Gadget Hut" || ev.Location.Country != "DE" || ev.Device.Fingerprint != "fp-x" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Timestamp != 1700000000000 {
		t.Errorf("timestamp = %d, want epoch millis", ev.Timestamp)
	}
}
