package types

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

func TestNewCreateTransactionRequestFromContextNormalizes(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/payments", bytes.NewBufferString(`{"amount":"99.99","currency":" usd ","provider":"Stripe","paymentMethod":" pm_card_visa ","metadata":{"orderId":"o-1"}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	parsed, err := NewCreateTransactionRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetCurrency() != "USD" || parsed.GetProvider() != "stripe" || parsed.GetPaymentMethod() != "pm_card_visa" {
		t.Fatalf("unexpected normalization: %+v", parsed)
	}
	if !parsed.GetAmount().Equal(decimal.RequireFromString("99.99")) {
		t.Fatalf("expected amount 99.99, got %s", parsed.GetAmount())
	}
	if parsed.GetMetadata()["orderId"] != "o-1" {
		t.Fatalf("expected metadata to be kept, got %v", parsed.GetMetadata())
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestNewCreateTransactionRequestAcceptsNumericAmount(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/payments", bytes.NewBufferString(`{"amount":12.5,"currency":"EUR","provider":"paypal","paymentMethod":"tok-1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	ctx := e.NewContext(req, httptest.NewRecorder())

	parsed, err := NewCreateTransactionRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !parsed.GetAmount().Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("expected amount 12.5, got %s", parsed.GetAmount())
	}
}

func TestCreateTransactionValidate(t *testing.T) {
	req := &CreateTransactionRequest{}
	if err := req.Validate(); err == nil {
		t.Fatal("expected amount validation error")
	}

	req = &CreateTransactionRequest{
		Amount:        decimal.RequireFromString("10"),
		Currency:      "USD",
		Provider:      "square",
		PaymentMethod: "pm_card_visa",
	}
	if err := req.Validate(); err == nil {
		t.Fatal("expected provider validation error")
	}

	req.Provider = "stripe"
	req.CustomerEmail = "not-an-email"
	if err := req.Validate(); err == nil {
		t.Fatal("expected customerEmail validation error")
	}

	req.CustomerEmail = "jane@example.com"
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}
}

func TestNewListTransactionsRequestFromContextAndValidate(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("GET", "/payments?status=completed&provider=paypal&customerId=c-1&fromDate=2024-01-01&toDate=2024-02-01T00:00:00Z&page=2&limit=20", nil)
	ctx := e.NewContext(req, httptest.NewRecorder())

	parsed, err := NewListTransactionsRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetStatus() != "completed" || parsed.GetProvider() != "paypal" || parsed.GetCustomerId() != "c-1" {
		t.Fatalf("unexpected filter parse: %+v", parsed)
	}
	if parsed.GetFromDate() == nil || parsed.GetFromDate().Month() != 1 {
		t.Fatalf("unexpected fromDate: %v", parsed.GetFromDate())
	}
	if parsed.GetPage() != 2 || parsed.GetLimit() != 20 {
		t.Fatalf("unexpected pagination: %+v", parsed)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid list request, got %v", err)
	}
}

func TestListTransactionsValidateDefaultsAndBounds(t *testing.T) {
	e := echo.New()
	ctx := e.NewContext(httptest.NewRequest("GET", "/payments", nil), httptest.NewRecorder())

	parsed, err := NewListTransactionsRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetPage() != 1 || parsed.GetLimit() != 10 {
		t.Fatalf("expected defaults page=1 limit=10, got %d/%d", parsed.GetPage(), parsed.GetLimit())
	}

	parsed.Limit = 101
	if err := parsed.Validate(); err == nil {
		t.Fatal("expected limit validation error")
	}
	parsed.Limit = 10
	parsed.Status = "settled"
	if err := parsed.Validate(); err == nil {
		t.Fatal("expected status validation error")
	}
}

func TestNewListTransactionsRequestRejectsBadDates(t *testing.T) {
	e := echo.New()
	ctx := e.NewContext(httptest.NewRequest("GET", "/payments?fromDate=yesterday", nil), httptest.NewRecorder())

	if _, err := NewListTransactionsRequestFromContext(ctx); err == nil {
		t.Fatal("expected date parse error")
	}
}

func TestNewRefundTransactionRequestAllowsEmptyBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/payments/txn-1/refund", nil)
	ctx := e.NewContext(req, httptest.NewRecorder())
	ctx.SetParamNames("id")
	ctx.SetParamValues("txn-1")

	parsed, err := NewRefundTransactionRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetId() != "txn-1" || parsed.GetAmount() != nil {
		t.Fatalf("unexpected refund parse: %+v", parsed)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid refund request, got %v", err)
	}

	negative := decimal.RequireFromString("-1")
	parsed.Amount = &negative
	if err := parsed.Validate(); err == nil {
		t.Fatal("expected amount validation error")
	}
}

func TestUpdateStatusValidate(t *testing.T) {
	req := &UpdateStatusRequest{Id: "txn-1", Status: "settled"}
	if err := req.Validate(); err == nil {
		t.Fatal("expected status validation error")
	}
	req.Status = "completed"
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid status update, got %v", err)
	}
	req.Metadata = map[string]interface{}{"statusHistory": []interface{}{}}
	if err := req.Validate(); err == nil {
		t.Fatal("expected reserved metadata key to be rejected")
	}
}

func TestCreateTransactionRejectsReservedMetadata(t *testing.T) {
	for _, key := range []string{"statusHistory", "providerEvents", "refunds", "disputes"} {
		req := &CreateTransactionRequest{
			Amount:        decimal.RequireFromString("10"),
			Currency:      "USD",
			Provider:      "stripe",
			PaymentMethod: "pm_card_visa",
			Metadata:      map[string]interface{}{"orderId": "o-1", key: "forged"},
		}
		if err := req.Validate(); err == nil {
			t.Fatalf("expected metadata key %s to be rejected", key)
		}
	}
}

func TestDisputeValidateRequiresReason(t *testing.T) {
	req := &DisputeTransactionRequest{Id: "txn-1"}
	if err := req.Validate(); err == nil {
		t.Fatal("expected reason validation error")
	}
	req.Reason = "fraudulent"
	if err := req.Validate(); err != nil {
		t.Fatalf("expected valid dispute request, got %v", err)
	}
}

func TestTokenizeValidate(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest("POST", "/payments/tokens", bytes.NewBufferString(`{"paymentMethod":{"type":" CARD ","cardNumber":"4111111111111111"}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	ctx := e.NewContext(req, httptest.NewRecorder())

	parsed, err := NewTokenizeRequestFromContext(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if parsed.GetPaymentMethod().Type != "card" {
		t.Fatalf("expected normalized type, got %q", parsed.GetPaymentMethod().Type)
	}
	if err := parsed.Validate(); err != nil {
		t.Fatalf("expected valid tokenize request, got %v", err)
	}

	if err := (&TokenizeRequest{}).Validate(); err == nil {
		t.Fatal("expected missing paymentMethod error")
	}
	if err := (&TokenizeRequest{PaymentMethod: &PaymentMethodPayload{Type: "crypto"}}).Validate(); err == nil {
		t.Fatal("expected type validation error")
	}
}
