package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

type paypalFake struct {
	verificationStatus string
	requests           []*http.Request
	bodies             []map[string]interface{}
}

func (f *paypalFake) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests = append(f.requests, r)
		var body map[string]interface{}
		if r.Header.Get("Content-Type") == "application/json" {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		f.bodies = append(f.bodies, body)

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v1/oauth2/token":
			user, pass, ok := r.BasicAuth()
			if !ok || user != "client" || pass != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"access-1","token_type":"Bearer","expires_in":3600}`))
		case r.URL.Path == "/v2/checkout/orders" && r.Method == http.MethodPost:
			_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"CREATED","links":[{"href":"https://paypal.test/approve","rel":"approve"}]}`))
		case r.URL.Path == "/v2/checkout/orders/ORDER-1/capture":
			_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"COMPLETED"}`))
		case r.URL.Path == "/v2/checkout/orders/ORDER-1" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"id":"ORDER-1","status":"COMPLETED","purchase_units":[{"amount":{"currency_code":"EUR","value":"20.00"},"payments":{"captures":[{"id":"CAP-1","status":"COMPLETED"}]}}]}`))
		case r.URL.Path == "/v2/payments/captures/CAP-1" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"id":"CAP-1","status":"COMPLETED","supplementary_data":{"related_ids":{"order_id":"ORDER-1"}}}`))
		case r.URL.Path == "/v2/payments/captures/CAP-1/refund":
			_, _ = w.Write([]byte(`{"id":"REF-1","status":"COMPLETED","amount":{"currency_code":"EUR","value":"5.00"}}`))
		case r.URL.Path == "/v1/notifications/verify-webhook-signature":
			_, _ = w.Write([]byte(`{"verification_status":"` + f.verificationStatus + `"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestPayPal(t *testing.T, fake *paypalFake) *PayPalProvider {
	t.Helper()
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)
	return NewPayPalProvider(PayPalConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		WebhookID:    "WH-ID",
		APIBaseURL:   server.URL,
	})
}

func TestPayPalMapStatus(t *testing.T) {
	p := NewPayPalProvider(PayPalConfig{})
	cases := map[string]entity.Status{
		"CREATED":               entity.StatusInitiated,
		"SAVED":                 entity.StatusInitiated,
		"APPROVED":              entity.StatusProcessing,
		"PAYER_ACTION_REQUIRED": entity.StatusProcessing,
		"COMPLETED":             entity.StatusCompleted,
		"VOIDED":                entity.StatusCanceled,
		"UNKNOWN":               entity.StatusFailed,
	}
	for native, expected := range cases {
		if got := p.MapStatus(native); got != expected {
			t.Fatalf("MapStatus(%q) = %s, expected %s", native, got, expected)
		}
	}
}

func TestPayPalInitiatePaymentReturnsApprovalURL(t *testing.T) {
	fake := &paypalFake{}
	p := newTestPayPal(t, fake)

	result, err := p.InitiatePayment(context.Background(), &PaymentInput{
		TransactionID: "txn-1",
		Amount:        decimal.RequireFromString("20"),
		Currency:      "EUR",
		PaymentMethod: &entity.PaymentMethod{Type: entity.PaymentMethodPayPal, Email: "buyer@example.com"},
		ReturnURL:     "https://shop.test/return",
		CancelURL:     "https://shop.test/cancel",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ProviderTransactionID != "ORDER-1" || result.Status != entity.StatusInitiated {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ApprovalURL != "https://paypal.test/approve" || !result.RequiresAction {
		t.Fatalf("unexpected approval url: %+v", result)
	}

	last := fake.requests[len(fake.requests)-1]
	if last.Header.Get("PayPal-Request-Id") != "txn-1" {
		t.Fatalf("expected PayPal-Request-Id txn-1, got %q", last.Header.Get("PayPal-Request-Id"))
	}
	if last.Header.Get("Authorization") != "Bearer access-1" {
		t.Fatalf("expected bearer token from oauth2, got %q", last.Header.Get("Authorization"))
	}
	units := fake.bodies[len(fake.bodies)-1]["purchase_units"].([]interface{})
	amount := units[0].(map[string]interface{})["amount"].(map[string]interface{})
	if amount["value"] != "20.00" || amount["currency_code"] != "EUR" {
		t.Fatalf("unexpected amount: %v", amount)
	}
}

func TestPayPalCaptureAndRefund(t *testing.T) {
	fake := &paypalFake{}
	p := newTestPayPal(t, fake)

	captured, err := p.Capture(context.Background(), "ORDER-1")
	if err != nil || captured.Status != entity.StatusCompleted {
		t.Fatalf("unexpected capture result %+v err=%v", captured, err)
	}

	amount := decimal.RequireFromString("5")
	refund, err := p.Refund(context.Background(), &RefundInput{
		ProviderTransactionID: "ORDER-1",
		Amount:                &amount,
		Currency:              "EUR",
		IdempotencyKey:        "refund-1",
	})
	if err != nil {
		t.Fatalf("unexpected refund error: %v", err)
	}
	if refund.RefundID != "REF-1" || refund.Status != entity.StatusCompleted || !refund.Amount.Equal(amount) {
		t.Fatalf("unexpected refund: %+v", refund)
	}

	details, err := p.GetDetails(context.Background(), "ORDER-1")
	if err != nil {
		t.Fatalf("unexpected details error: %v", err)
	}
	if details.Status != entity.StatusCompleted || details.Currency != "EUR" || !details.Amount.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestPayPalRejectedCredentialsArePermanent(t *testing.T) {
	fake := &paypalFake{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	p := NewPayPalProvider(PayPalConfig{ClientID: "client", ClientSecret: "wrong", APIBaseURL: server.URL})
	_, err := p.GetDetails(context.Background(), "ORDER-1")

	providerErr, ok := AsError(err)
	if !ok {
		t.Fatalf("expected provider error, got %v", err)
	}
	if providerErr.Code != "authentication_failed" || providerErr.Temporary {
		t.Fatalf("unexpected provider error: %+v", providerErr)
	}
}

func paypalWebhookHeadersFixture() http.Header {
	headers := http.Header{}
	headers.Set("paypal-transmission-id", "tx-1")
	headers.Set("paypal-transmission-time", "2026-01-01T00:00:00Z")
	headers.Set("paypal-transmission-sig", "sig")
	headers.Set("paypal-cert-url", "https://api.paypal.com/cert")
	headers.Set("paypal-auth-algo", "SHA256withRSA")
	return headers
}

func TestPayPalVerifyAndParseWebhook(t *testing.T) {
	fake := &paypalFake{verificationStatus: "SUCCESS"}
	p := newTestPayPal(t, fake)

	body := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.REFUNDED","resource":{"id":"REF-1","amount":{"currency_code":"EUR","value":"5.00"},"seller_payable_breakdown":{"total_refunded_amount":{"currency_code":"EUR","value":"15.00"}},"supplementary_data":{"related_ids":{"order_id":"ORDER-1"}}}}`)
	event, err := p.VerifyAndParseWebhook(context.Background(), paypalWebhookHeadersFixture(), body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.EventID != "WH-1" || event.Kind != EventRefunded || event.ProviderTransactionID != "ORDER-1" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Amount == nil || !event.Amount.Equal(decimal.RequireFromString("15")) {
		t.Fatalf("expected cumulative refund amount, got %v", event.Amount)
	}

	verifyBody := fake.bodies[len(fake.bodies)-1]
	if verifyBody["webhook_id"] != "WH-ID" || verifyBody["transmission_id"] != "tx-1" {
		t.Fatalf("unexpected verification request: %v", verifyBody)
	}
}

func TestPayPalVerifyRejectsMissingHeadersAndFailedVerification(t *testing.T) {
	fake := &paypalFake{verificationStatus: "FAILURE"}
	p := newTestPayPal(t, fake)
	body := []byte(`{"id":"WH-2","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP-1"}}`)

	if _, err := p.VerifyAndParseWebhook(context.Background(), http.Header{}, body); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for missing headers, got %v", err)
	}
	if _, err := p.VerifyAndParseWebhook(context.Background(), paypalWebhookHeadersFixture(), body); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for failed verification, got %v", err)
	}
}

func TestParsePayPalDeniedEvent(t *testing.T) {
	event, err := parsePayPalEvent([]byte(`{"id":"WH-3","event_type":"PAYMENT.CAPTURE.DENIED","resource":{"id":"CAP-9","status_details":{"reason":"RISK"},"supplementary_data":{"related_ids":{"order_id":"ORDER-9"}}}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Kind != EventPaymentFailed || event.Reason != "RISK" || event.ProviderTransactionID != "ORDER-9" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

const paypalDisputeEvent = `{"id":"WH-4","event_type":"CUSTOMER.DISPUTE.CREATED","resource":{"dispute_id":"PP-D-1","reason":"MERCHANDISE_OR_SERVICE_NOT_RECEIVED","status":"OPEN","dispute_amount":{"currency_code":"eur","value":"20.00"},"disputed_transactions":[{"seller_transaction_id":"CAP-1","buyer_transaction_id":"BUY-1"}]}}`

func TestParsePayPalDisputeEvent(t *testing.T) {
	event, err := parsePayPalEvent([]byte(paypalDisputeEvent))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Kind != EventDisputed || event.ProviderTransactionID != "" || event.Reference != "CAP-1" {
		t.Fatalf("expected dispute keyed by capture reference, got %+v", event)
	}
	if event.Reason != "MERCHANDISE_OR_SERVICE_NOT_RECEIVED" || event.Code != "PP-D-1" {
		t.Fatalf("unexpected dispute reason: %+v", event)
	}
	if event.Amount == nil || !event.Amount.Equal(decimal.RequireFromString("20")) || event.Currency != "EUR" {
		t.Fatalf("unexpected dispute amount: %v %s", event.Amount, event.Currency)
	}

	event, err = parsePayPalEvent([]byte(`{"id":"WH-5","event_type":"CUSTOMER.DISPUTE.CREATED","resource":{"dispute_id":"PP-D-2","reason":"UNAUTHORISED"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Kind != EventIgnored {
		t.Fatalf("expected dispute without transactions to be ignored, got %s", event.Kind)
	}
}

func TestPayPalResolveTransactionReference(t *testing.T) {
	fake := &paypalFake{}
	p := newTestPayPal(t, fake)

	event, err := parsePayPalEvent([]byte(paypalDisputeEvent))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	orderID, err := p.ResolveTransactionReference(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orderID != "ORDER-1" {
		t.Fatalf("expected capture to resolve to ORDER-1, got %q", orderID)
	}

	var resolver ReferenceResolver = p
	if id, err := resolver.ResolveTransactionReference(context.Background(), &WebhookEvent{}); err != nil || id != "" {
		t.Fatalf("expected empty reference to resolve to nothing, got %q/%v", id, err)
	}
}
