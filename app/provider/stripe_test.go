package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

func signStripePayload(t *testing.T, payload []byte, secret string, ts int64) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, string(payload))))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyStripeSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_test"
	now := time.Now()
	header := signStripePayload(t, payload, secret, now.Unix())

	if !verifyStripeSignature(payload, header, secret, 300, now) {
		t.Fatal("expected signature to validate")
	}
	if verifyStripeSignature(payload, header, "wrong-secret", 300, now) {
		t.Fatal("expected signature with wrong secret to fail")
	}
	if verifyStripeSignature(payload, header, secret, 300, now.Add(10*time.Minute)) {
		t.Fatal("expected stale signature to fail")
	}
	if verifyStripeSignature([]byte(`{"id":"evt_2"}`), header, secret, 300, now) {
		t.Fatal("expected tampered payload to fail")
	}
}

func TestStripeMapStatus(t *testing.T) {
	p := NewStripeProvider(StripeConfig{})
	cases := map[string]entity.Status{
		"requires_payment_method": entity.StatusInitiated,
		"requires_confirmation":   entity.StatusInitiated,
		"requires_action":         entity.StatusProcessing,
		"processing":              entity.StatusProcessing,
		"requires_capture":        entity.StatusProcessing,
		"succeeded":               entity.StatusCompleted,
		"canceled":                entity.StatusCanceled,
		"something_new":           entity.StatusFailed,
	}
	for native, expected := range cases {
		if got := p.MapStatus(native); got != expected {
			t.Fatalf("MapStatus(%q) = %s, expected %s", native, got, expected)
		}
	}
}

func TestStripeInitiatePaymentSendsIntent(t *testing.T) {
	var captured *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		captured = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","status":"requires_action","client_secret":"pi_123_secret"}`))
	}))
	defer server.Close()

	p := NewStripeProvider(StripeConfig{SecretKey: "sk_test", APIBaseURL: server.URL})
	result, err := p.InitiatePayment(context.Background(), &PaymentInput{
		TransactionID: "txn-1",
		Amount:        decimal.RequireFromString("99.99"),
		Currency:      "USD",
		PaymentMethod: &entity.PaymentMethod{Type: entity.PaymentMethodCard, CardNumber: "4242424242424242", ExpiryMonth: 12, ExpiryYear: 2030, CVV: "123"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured.URL.Path != "/v1/payment_intents" {
		t.Fatalf("unexpected path: %s", captured.URL.Path)
	}
	if captured.Header.Get("Authorization") != "Bearer sk_test" {
		t.Fatalf("unexpected auth header: %s", captured.Header.Get("Authorization"))
	}
	if captured.Header.Get("Idempotency-Key") != "txn-1" {
		t.Fatalf("expected idempotency key txn-1, got %q", captured.Header.Get("Idempotency-Key"))
	}
	if captured.PostForm.Get("amount") != "9999" || captured.PostForm.Get("currency") != "usd" {
		t.Fatalf("unexpected amount/currency: %v", captured.PostForm)
	}
	if captured.PostForm.Get("payment_method_data[card][number]") != "4242424242424242" {
		t.Fatalf("expected card data in form: %v", captured.PostForm)
	}

	if result.ProviderTransactionID != "pi_123" || result.Status != entity.StatusProcessing || !result.RequiresAction || result.ClientSecret != "pi_123_secret" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestStripeErrorsAreWrapped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}`))
	}))
	defer server.Close()

	p := NewStripeProvider(StripeConfig{SecretKey: "sk_test", APIBaseURL: server.URL})
	_, err := p.Capture(context.Background(), "pi_123")

	providerErr, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *provider.Error, got %v", err)
	}
	if providerErr.Provider != entity.ProviderStripe || providerErr.Code != "insufficient_funds" || providerErr.Temporary {
		t.Fatalf("unexpected provider error: %+v", providerErr)
	}
}

func TestStripeServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewStripeProvider(StripeConfig{SecretKey: "sk_test", APIBaseURL: server.URL})
	_, err := p.Capture(context.Background(), "pi_123")
	if !IsTemporary(err) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestStripeRefundConvertsMinorUnits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("amount") != "5000" || r.PostForm.Get("payment_intent") != "pi_123" {
			t.Errorf("unexpected refund form: %v", r.PostForm)
		}
		if r.Header.Get("Idempotency-Key") != "refund-key" {
			t.Errorf("unexpected idempotency key: %q", r.Header.Get("Idempotency-Key"))
		}
		_, _ = w.Write([]byte(`{"id":"re_1","status":"succeeded","amount":5000,"currency":"usd"}`))
	}))
	defer server.Close()

	amount := decimal.RequireFromString("50.00")
	p := NewStripeProvider(StripeConfig{SecretKey: "sk_test", APIBaseURL: server.URL})
	result, err := p.Refund(context.Background(), &RefundInput{
		ProviderTransactionID: "pi_123",
		Amount:                &amount,
		Currency:              "USD",
		IdempotencyKey:        "refund-key",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RefundID != "re_1" || result.Status != entity.StatusCompleted || !result.Amount.Equal(amount) {
		t.Fatalf("unexpected refund result: %+v", result)
	}
}

func TestStripeVerifyAndParseWebhook(t *testing.T) {
	secret := "whsec_test"
	p := NewStripeProvider(StripeConfig{WebhookSecret: secret})

	cases := []struct {
		name    string
		payload string
		kind    EventKind
		ptid    string
		amount  string
		reason  string
	}{
		{"succeeded", `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","currency":"usd"}}}`, EventPaymentSucceeded, "pi_1", "", ""},
		{"failed", `{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_2","last_payment_error":{"code":"card_declined","message":"declined"}}}}`, EventPaymentFailed, "pi_2", "", "declined"},
		{"refunded", `{"id":"evt_3","type":"charge.refunded","data":{"object":{"payment_intent":"pi_3","amount_refunded":4999,"currency":"usd"}}}`, EventRefunded, "pi_3", "49.99", ""},
		{"disputed", `{"id":"evt_4","type":"charge.dispute.created","data":{"object":{"payment_intent":"pi_4","reason":"fraudulent","amount":9999,"currency":"usd"}}}`, EventDisputed, "pi_4", "99.99", "fraudulent"},
		{"ignored", `{"id":"evt_5","type":"customer.created","data":{"object":{"id":"cus_1"}}}`, EventIgnored, "", "", ""},
	}

	for _, tc := range cases {
		headers := http.Header{}
		headers.Set(stripeSignatureHeader, signStripePayload(t, []byte(tc.payload), secret, time.Now().Unix()))

		event, err := p.VerifyAndParseWebhook(context.Background(), headers, []byte(tc.payload))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if event.Kind != tc.kind || event.ProviderTransactionID != tc.ptid || event.Reason != tc.reason {
			t.Fatalf("%s: unexpected event: %+v", tc.name, event)
		}
		if tc.amount != "" && (event.Amount == nil || !event.Amount.Equal(decimal.RequireFromString(tc.amount))) {
			t.Fatalf("%s: unexpected amount: %v", tc.name, event.Amount)
		}
	}
}

func TestStripeVerifyAndParseWebhookRejectsBadSignature(t *testing.T) {
	p := NewStripeProvider(StripeConfig{WebhookSecret: "whsec_test"})
	headers := http.Header{}
	headers.Set(stripeSignatureHeader, "t=1,v1=deadbeef")

	_, err := p.VerifyAndParseWebhook(context.Background(), headers, []byte(`{"id":"evt_1"}`))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	stripe := NewStripeProvider(StripeConfig{})
	registry := NewRegistry(stripe)

	got, err := registry.Get(entity.ProviderStripe)
	if err != nil || got != stripe {
		t.Fatalf("expected stripe adapter, got %v err=%v", got, err)
	}
	if _, err := registry.Get(entity.ProviderPayPal); !errors.Is(err, ErrProviderNotSupported) {
		t.Fatalf("expected ErrProviderNotSupported, got %v", err)
	}
	if _, ok := Adapter(stripe).(Canceler); !ok {
		t.Fatal("expected stripe adapter to support cancellation")
	}
}
