package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

type PaymentInput struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod *entity.PaymentMethod
	Description   string
	CustomerID    string
	CustomerEmail string
	ReturnURL     string
	CancelURL     string
}

type PaymentResult struct {
	ProviderTransactionID string
	Status                entity.Status
	NativeStatus          string
	ClientSecret          string
	ApprovalURL           string
	RequiresAction        bool
}

type StatusResult struct {
	Status       entity.Status
	NativeStatus string
}

type RefundInput struct {
	ProviderTransactionID string
	// Amount is nil for a refund of whatever the provider still holds.
	Amount         *decimal.Decimal
	Currency       string
	TransactionID  string
	IdempotencyKey string
}

type RefundResult struct {
	RefundID     string
	Status       entity.Status
	NativeStatus string
	Amount       decimal.Decimal
}

type Details struct {
	Status       entity.Status
	NativeStatus string
	Amount       decimal.Decimal
	Currency     string
}

type EventKind string

const (
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventPaymentFailed    EventKind = "payment_failed"
	EventRefunded         EventKind = "refunded"
	EventDisputed         EventKind = "disputed"
	EventIgnored          EventKind = "ignored"
)

// WebhookEvent is a verified provider notification in provider-neutral form.
// Amount is the cumulative refunded amount for refunds and the disputed amount for disputes.
type WebhookEvent struct {
	Provider              entity.ProviderName `json:"provider"`
	EventID               string              `json:"eventId"`
	Kind                  EventKind           `json:"kind"`
	NativeType            string              `json:"nativeType"`
	ProviderTransactionID string              `json:"providerTransactionId,omitempty"`
	Reference             string              `json:"reference,omitempty"`
	Amount                *decimal.Decimal    `json:"amount,omitempty"`
	Currency              string              `json:"currency,omitempty"`
	Reason                string              `json:"reason,omitempty"`
	Code                  string              `json:"code,omitempty"`
	Payload               json.RawMessage     `json:"payload"`
}

type Adapter interface {
	Name() entity.ProviderName
	SupportsPaymentMethod(method entity.PaymentMethodType) bool
	InitiatePayment(ctx context.Context, input *PaymentInput) (*PaymentResult, error)
	Capture(ctx context.Context, providerTransactionID string) (*StatusResult, error)
	Refund(ctx context.Context, input *RefundInput) (*RefundResult, error)
	GetDetails(ctx context.Context, providerTransactionID string) (*Details, error)
	MapStatus(native string) entity.Status
	VerifyAndParseWebhook(ctx context.Context, headers http.Header, body []byte) (*WebhookEvent, error)
}

// ReferenceResolver is implemented by adapters whose webhooks can name a secondary
// provider object (a capture, a charge) instead of the id the ledger stores. It maps
// event.Reference back to that id.
type ReferenceResolver interface {
	ResolveTransactionReference(ctx context.Context, event *WebhookEvent) (string, error)
}

// Canceler is implemented by adapters that can void a provider-side payment.
type Canceler interface {
	Cancel(ctx context.Context, providerTransactionID string) (*StatusResult, error)
}
