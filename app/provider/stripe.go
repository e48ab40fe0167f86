package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

const (
	defaultStripeAPIBaseURL = "https://api.stripe.com"
	stripeSignatureHeader   = "Stripe-Signature"
)

type StripeConfig struct {
	SecretKey                 string
	WebhookSecret             string
	APIBaseURL                string
	SignatureToleranceSeconds int64
	HTTPTimeout               time.Duration
	Observer                  Observer
}

type StripeProvider struct {
	cfg StripeConfig
	api *apiClient
	now func() time.Time
}

func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cfg.SignatureToleranceSeconds <= 0 {
		cfg.SignatureToleranceSeconds = 300
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaultStripeAPIBaseURL
	}

	return &StripeProvider{
		cfg: cfg,
		api: &apiClient{
			provider: entity.ProviderStripe,
			baseURL:  cfg.APIBaseURL,
			client:   &http.Client{Timeout: timeout},
			observer: cfg.Observer,
			decode:   decodeStripeError,
		},
		now: time.Now,
	}
}

func (p *StripeProvider) Name() entity.ProviderName {
	return entity.ProviderStripe
}

func (p *StripeProvider) SupportsPaymentMethod(method entity.PaymentMethodType) bool {
	return method == entity.PaymentMethodCard
}

func (p *StripeProvider) MapStatus(native string) entity.Status {
	switch native {
	case "requires_payment_method", "requires_confirmation":
		return entity.StatusInitiated
	case "requires_action", "processing", "requires_capture":
		return entity.StatusProcessing
	case "succeeded":
		return entity.StatusCompleted
	case "canceled":
		return entity.StatusCanceled
	default:
		return entity.StatusFailed
	}
}

func mapStripeRefundStatus(native string) entity.Status {
	switch native {
	case "succeeded":
		return entity.StatusCompleted
	case "pending", "requires_action":
		return entity.StatusProcessing
	default:
		return entity.StatusFailed
	}
}

type stripePaymentIntent struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
	Currency       string `json:"currency"`
	ClientSecret   string `json:"client_secret"`
	NextAction     *struct {
		Type          string `json:"type"`
		RedirectToURL *struct {
			URL string `json:"url"`
		} `json:"redirect_to_url"`
	} `json:"next_action"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

func (p *StripeProvider) InitiatePayment(ctx context.Context, input *PaymentInput) (*PaymentResult, error) {
	if err := p.requireSecretKey(); err != nil {
		return nil, err
	}
	if input.PaymentMethod == nil || !p.SupportsPaymentMethod(input.PaymentMethod.Type) {
		return nil, ErrUnsupportedPaymentMethod
	}

	values := url.Values{}
	values.Set("amount", strconv.FormatInt(entity.ToMinorUnits(input.Amount, input.Currency), 10))
	values.Set("currency", strings.ToLower(input.Currency))
	values.Set("confirm", "true")
	values.Set("capture_method", "manual")
	values.Set("payment_method_types[0]", "card")
	values.Set("metadata[transaction_id]", input.TransactionID)
	if input.CustomerID != "" {
		values.Set("metadata[customer_id]", input.CustomerID)
	}
	if input.Description != "" {
		values.Set("description", input.Description)
	}
	if input.CustomerEmail != "" {
		values.Set("receipt_email", input.CustomerEmail)
	}
	if input.ReturnURL != "" {
		values.Set("return_url", input.ReturnURL)
	}
	setStripePaymentMethod(values, input.PaymentMethod)

	var intent stripePaymentIntent
	if err := p.postForm(ctx, "initiate_payment", "/v1/payment_intents", values, input.TransactionID, &intent); err != nil {
		return nil, err
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, &Error{Provider: entity.ProviderStripe, Operation: "initiate_payment", Err: ErrMissingProviderResourceID}
	}

	return &PaymentResult{
		ProviderTransactionID: intent.ID,
		Status:                p.MapStatus(intent.Status),
		NativeStatus:          intent.Status,
		ClientSecret:          intent.ClientSecret,
		RequiresAction:        intent.Status == "requires_action",
	}, nil
}

func (p *StripeProvider) Capture(ctx context.Context, providerTransactionID string) (*StatusResult, error) {
	if err := p.requireSecretKey(); err != nil {
		return nil, err
	}

	var intent stripePaymentIntent
	path := "/v1/payment_intents/" + url.PathEscape(providerTransactionID) + "/capture"
	if err := p.postForm(ctx, "capture", path, url.Values{}, "", &intent); err != nil {
		return nil, err
	}

	return &StatusResult{Status: p.MapStatus(intent.Status), NativeStatus: intent.Status}, nil
}

func (p *StripeProvider) Cancel(ctx context.Context, providerTransactionID string) (*StatusResult, error) {
	if err := p.requireSecretKey(); err != nil {
		return nil, err
	}

	var intent stripePaymentIntent
	path := "/v1/payment_intents/" + url.PathEscape(providerTransactionID) + "/cancel"
	if err := p.postForm(ctx, "cancel", path, url.Values{}, "", &intent); err != nil {
		return nil, err
	}

	return &StatusResult{Status: p.MapStatus(intent.Status), NativeStatus: intent.Status}, nil
}

func (p *StripeProvider) Refund(ctx context.Context, input *RefundInput) (*RefundResult, error) {
	if err := p.requireSecretKey(); err != nil {
		return nil, err
	}

	values := url.Values{}
	values.Set("payment_intent", input.ProviderTransactionID)
	if input.Amount != nil {
		values.Set("amount", strconv.FormatInt(entity.ToMinorUnits(*input.Amount, input.Currency), 10))
	}
	if input.TransactionID != "" {
		values.Set("metadata[transaction_id]", input.TransactionID)
	}

	var refund struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := p.postForm(ctx, "refund", "/v1/refunds", values, input.IdempotencyKey, &refund); err != nil {
		return nil, err
	}

	currency := input.Currency
	if refund.Currency != "" {
		currency = refund.Currency
	}

	return &RefundResult{
		RefundID:     refund.ID,
		Status:       mapStripeRefundStatus(refund.Status),
		NativeStatus: refund.Status,
		Amount:       entity.FromMinorUnits(refund.Amount, currency),
	}, nil
}

func (p *StripeProvider) GetDetails(ctx context.Context, providerTransactionID string) (*Details, error) {
	if err := p.requireSecretKey(); err != nil {
		return nil, err
	}

	body, err := p.api.do(ctx, apiRequest{
		operation: "get_details",
		method:    http.MethodGet,
		path:      "/v1/payment_intents/" + url.PathEscape(providerTransactionID),
	}, p.authorize)
	if err != nil {
		return nil, err
	}

	var intent stripePaymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, err
	}

	return &Details{
		Status:       p.MapStatus(intent.Status),
		NativeStatus: intent.Status,
		Amount:       entity.FromMinorUnits(intent.Amount, intent.Currency),
		Currency:     strings.ToUpper(intent.Currency),
	}, nil
}

func (p *StripeProvider) VerifyAndParseWebhook(_ context.Context, headers http.Header, body []byte) (*WebhookEvent, error) {
	if strings.TrimSpace(p.cfg.WebhookSecret) == "" {
		return nil, ErrNotConfigured
	}
	if !verifyStripeSignature(body, headers.Get(stripeSignatureHeader), p.cfg.WebhookSecret, p.cfg.SignatureToleranceSeconds, p.now()) {
		return nil, ErrInvalidSignature
	}

	var event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, err
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, errors.New("stripe event id missing")
	}

	result := &WebhookEvent{
		Provider:   entity.ProviderStripe,
		EventID:    strings.TrimSpace(event.ID),
		Kind:       EventIgnored,
		NativeType: event.Type,
		Payload:    json.RawMessage(body),
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripePaymentIntent
		if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
			return nil, err
		}
		result.ProviderTransactionID = intent.ID
		result.Currency = strings.ToUpper(intent.Currency)
		result.Kind = EventPaymentSucceeded
		if event.Type == "payment_intent.payment_failed" {
			result.Kind = EventPaymentFailed
			if intent.LastPaymentError != nil {
				result.Reason = intent.LastPaymentError.Message
				result.Code = intent.LastPaymentError.Code
			}
		}
	case "charge.refunded":
		var charge struct {
			PaymentIntent  string `json:"payment_intent"`
			AmountRefunded int64  `json:"amount_refunded"`
			Currency       string `json:"currency"`
		}
		if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
			return nil, err
		}
		amount := entity.FromMinorUnits(charge.AmountRefunded, charge.Currency)
		result.Kind = EventRefunded
		result.ProviderTransactionID = charge.PaymentIntent
		result.Amount = &amount
		result.Currency = strings.ToUpper(charge.Currency)
	case "charge.dispute.created":
		var dispute struct {
			PaymentIntent string `json:"payment_intent"`
			Reason        string `json:"reason"`
			Amount        int64  `json:"amount"`
			Currency      string `json:"currency"`
		}
		if err := json.Unmarshal(event.Data.Object, &dispute); err != nil {
			return nil, err
		}
		amount := entity.FromMinorUnits(dispute.Amount, dispute.Currency)
		result.Kind = EventDisputed
		result.ProviderTransactionID = dispute.PaymentIntent
		result.Amount = &amount
		result.Currency = strings.ToUpper(dispute.Currency)
		result.Reason = dispute.Reason
	}

	if result.Kind != EventIgnored && strings.TrimSpace(result.ProviderTransactionID) == "" {
		result.Kind = EventIgnored
	}

	return result, nil
}

func (p *StripeProvider) requireSecretKey() error {
	if strings.TrimSpace(p.cfg.SecretKey) == "" {
		return &Error{Provider: entity.ProviderStripe, Operation: "configure", Err: ErrNotConfigured}
	}
	return nil
}

func (p *StripeProvider) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
}

func (p *StripeProvider) postForm(ctx context.Context, operation, path string, values url.Values, idempotencyKey string, out interface{}) error {
	body, err := p.api.do(ctx, apiRequest{
		operation:   operation,
		method:      http.MethodPost,
		path:        path,
		body:        strings.NewReader(values.Encode()),
		contentType: "application/x-www-form-urlencoded",
		headers:     map[string]string{"Idempotency-Key": idempotencyKey},
	}, p.authorize)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func setStripePaymentMethod(values url.Values, method *entity.PaymentMethod) {
	if id := strings.TrimSpace(method.ProviderPaymentMethodID); id != "" {
		values.Set("payment_method", id)
		return
	}
	values.Set("payment_method_data[type]", "card")
	values.Set("payment_method_data[card][number]", method.CardNumber)
	values.Set("payment_method_data[card][exp_month]", strconv.Itoa(method.ExpiryMonth))
	values.Set("payment_method_data[card][exp_year]", strconv.Itoa(method.ExpiryYear))
	if method.CVV != "" {
		values.Set("payment_method_data[card][cvc]", method.CVV)
	}
	if method.CardholderName != "" {
		values.Set("payment_method_data[billing_details][name]", method.CardholderName)
	}
}

func decodeStripeError(statusCode int, body []byte) (string, string) {
	var payload struct {
		Error struct {
			Code        string `json:"code"`
			DeclineCode string `json:"decline_code"`
			Type        string `json:"type"`
			Message     string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return strconv.Itoa(statusCode), strings.TrimSpace(string(body))
	}

	code := payload.Error.Code
	if payload.Error.DeclineCode != "" {
		code = payload.Error.DeclineCode
	}
	if code == "" {
		code = payload.Error.Type
	}
	return code, payload.Error.Message
}

func verifyStripeSignature(payload []byte, signatureHeader string, webhookSecret string, toleranceSeconds int64, now time.Time) bool {
	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" || strings.TrimSpace(webhookSecret) == "" {
		return false
	}

	parts := strings.Split(signatureHeader, ",")
	var ts string
	v1 := make([]string, 0, 1)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "t=") {
			ts = strings.TrimSpace(strings.TrimPrefix(part, "t="))
		}
		if strings.HasPrefix(part, "v1=") {
			v1 = append(v1, strings.TrimSpace(strings.TrimPrefix(part, "v1=")))
		}
	}
	if ts == "" || len(v1) == 0 {
		return false
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	nowUnix := now.Unix()
	if nowUnix-tsUnix > toleranceSeconds || tsUnix-nowUnix > toleranceSeconds {
		return false
	}

	mac := hmac.New(sha256.New, []byte(webhookSecret))
	_, _ = mac.Write([]byte(ts + "."))
	_, _ = mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range v1 {
		candidate, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(candidate, expected) {
			return true
		}
	}

	return false
}
