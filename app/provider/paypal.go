package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	paypalSandboxBaseURL = "https://api-m.sandbox.paypal.com"
	paypalLiveBaseURL    = "https://api-m.paypal.com"
)

var paypalWebhookHeaders = []string{
	"Paypal-Transmission-Id",
	"Paypal-Transmission-Time",
	"Paypal-Transmission-Sig",
	"Paypal-Cert-Url",
	"Paypal-Auth-Algo",
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	Environment  string
	APIBaseURL   string
	HTTPTimeout  time.Duration
	Observer     Observer
}

type PayPalProvider struct {
	cfg PayPalConfig
	api *apiClient
}

func NewPayPalProvider(cfg PayPalConfig) *PayPalProvider {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = paypalSandboxBaseURL
		if strings.EqualFold(cfg.Environment, "live") || strings.EqualFold(cfg.Environment, "production") {
			cfg.APIBaseURL = paypalLiveBaseURL
		}
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")

	credentials := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.APIBaseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: timeout})
	client := credentials.Client(tokenCtx)
	client.Timeout = timeout

	return &PayPalProvider{
		cfg: cfg,
		api: &apiClient{
			provider: entity.ProviderPayPal,
			baseURL:  cfg.APIBaseURL,
			client:   client,
			observer: cfg.Observer,
			decode:   decodePayPalError,
		},
	}
}

func (p *PayPalProvider) Name() entity.ProviderName {
	return entity.ProviderPayPal
}

func (p *PayPalProvider) SupportsPaymentMethod(method entity.PaymentMethodType) bool {
	return method == entity.PaymentMethodPayPal
}

func (p *PayPalProvider) MapStatus(native string) entity.Status {
	switch native {
	case "CREATED", "SAVED":
		return entity.StatusInitiated
	case "APPROVED", "PAYER_ACTION_REQUIRED":
		return entity.StatusProcessing
	case "COMPLETED":
		return entity.StatusCompleted
	case "VOIDED":
		return entity.StatusCanceled
	default:
		return entity.StatusFailed
	}
}

func mapPayPalRefundStatus(native string) entity.Status {
	switch native {
	case "COMPLETED":
		return entity.StatusCompleted
	case "PENDING":
		return entity.StatusProcessing
	default:
		return entity.StatusFailed
	}
}

type paypalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalOrder struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		Amount   paypalMoney `json:"amount"`
		Payments struct {
			Captures []struct {
				ID     string      `json:"id"`
				Status string      `json:"status"`
				Amount paypalMoney `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (p *PayPalProvider) InitiatePayment(ctx context.Context, input *PaymentInput) (*PaymentResult, error) {
	if err := p.requireCredentials(); err != nil {
		return nil, err
	}
	if input.PaymentMethod == nil || !p.SupportsPaymentMethod(input.PaymentMethod.Type) {
		return nil, ErrUnsupportedPaymentMethod
	}

	purchaseUnit := map[string]interface{}{
		"reference_id": input.TransactionID,
		"custom_id":    input.TransactionID,
		"amount": paypalMoney{
			CurrencyCode: strings.ToUpper(input.Currency),
			Value:        entity.FormatAmount(input.Amount, input.Currency),
		},
	}
	if input.Description != "" {
		purchaseUnit["description"] = input.Description
	}

	request := map[string]interface{}{
		"intent":         "CAPTURE",
		"purchase_units": []interface{}{purchaseUnit},
		"application_context": map[string]string{
			"return_url":  input.ReturnURL,
			"cancel_url":  input.CancelURL,
			"user_action": "PAY_NOW",
		},
	}
	if input.PaymentMethod.Email != "" {
		request["payer"] = map[string]string{"email_address": input.PaymentMethod.Email}
	}

	var order paypalOrder
	if err := p.postJSON(ctx, "initiate_payment", "/v2/checkout/orders", request, input.TransactionID, &order); err != nil {
		return nil, err
	}
	if strings.TrimSpace(order.ID) == "" {
		return nil, &Error{Provider: entity.ProviderPayPal, Operation: "initiate_payment", Err: ErrMissingProviderResourceID}
	}

	approvalURL := findPayPalLink(order.Links, "approve")
	if approvalURL == "" {
		approvalURL = findPayPalLink(order.Links, "payer-action")
	}

	return &PaymentResult{
		ProviderTransactionID: order.ID,
		Status:                p.MapStatus(order.Status),
		NativeStatus:          order.Status,
		ApprovalURL:           approvalURL,
		RequiresAction:        approvalURL != "",
	}, nil
}

func (p *PayPalProvider) Capture(ctx context.Context, providerTransactionID string) (*StatusResult, error) {
	if err := p.requireCredentials(); err != nil {
		return nil, err
	}

	var order paypalOrder
	path := "/v2/checkout/orders/" + url.PathEscape(providerTransactionID) + "/capture"
	if err := p.postJSON(ctx, "capture", path, map[string]interface{}{}, providerTransactionID+"-capture", &order); err != nil {
		return nil, err
	}

	return &StatusResult{Status: p.MapStatus(order.Status), NativeStatus: order.Status}, nil
}

func (p *PayPalProvider) Refund(ctx context.Context, input *RefundInput) (*RefundResult, error) {
	if err := p.requireCredentials(); err != nil {
		return nil, err
	}

	order, err := p.getOrder(ctx, "refund", input.ProviderTransactionID)
	if err != nil {
		return nil, err
	}
	captureID := ""
	if len(order.PurchaseUnits) > 0 && len(order.PurchaseUnits[0].Payments.Captures) > 0 {
		captureID = order.PurchaseUnits[0].Payments.Captures[0].ID
	}
	if captureID == "" {
		return nil, &Error{Provider: entity.ProviderPayPal, Operation: "refund", Code: "CAPTURE_NOT_FOUND", Message: "order has no capture to refund"}
	}

	request := map[string]interface{}{}
	if input.Amount != nil {
		request["amount"] = paypalMoney{
			CurrencyCode: strings.ToUpper(input.Currency),
			Value:        entity.FormatAmount(*input.Amount, input.Currency),
		}
	}
	if input.TransactionID != "" {
		request["custom_id"] = input.TransactionID
	}

	var refund struct {
		ID     string      `json:"id"`
		Status string      `json:"status"`
		Amount paypalMoney `json:"amount"`
	}
	path := "/v2/payments/captures/" + url.PathEscape(captureID) + "/refund"
	if err := p.postJSON(ctx, "refund", path, request, input.IdempotencyKey, &refund); err != nil {
		return nil, err
	}

	amount := decimal.Zero
	if refund.Amount.Value != "" {
		parsed, err := decimal.NewFromString(refund.Amount.Value)
		if err != nil {
			return nil, err
		}
		amount = parsed
	} else if input.Amount != nil {
		amount = *input.Amount
	}

	return &RefundResult{
		RefundID:     refund.ID,
		Status:       mapPayPalRefundStatus(refund.Status),
		NativeStatus: refund.Status,
		Amount:       amount,
	}, nil
}

func (p *PayPalProvider) GetDetails(ctx context.Context, providerTransactionID string) (*Details, error) {
	if err := p.requireCredentials(); err != nil {
		return nil, err
	}

	order, err := p.getOrder(ctx, "get_details", providerTransactionID)
	if err != nil {
		return nil, err
	}

	details := &Details{
		Status:       p.MapStatus(order.Status),
		NativeStatus: order.Status,
	}
	if len(order.PurchaseUnits) > 0 {
		money := order.PurchaseUnits[0].Amount
		details.Currency = strings.ToUpper(money.CurrencyCode)
		if money.Value != "" {
			amount, err := decimal.NewFromString(money.Value)
			if err != nil {
				return nil, err
			}
			details.Amount = amount
		}
	}

	return details, nil
}

func (p *PayPalProvider) VerifyAndParseWebhook(ctx context.Context, headers http.Header, body []byte) (*WebhookEvent, error) {
	if strings.TrimSpace(p.cfg.WebhookID) == "" {
		return nil, ErrNotConfigured
	}
	for _, name := range paypalWebhookHeaders {
		if strings.TrimSpace(headers.Get(name)) == "" {
			return nil, ErrInvalidSignature
		}
	}
	if !json.Valid(body) {
		return nil, ErrInvalidSignature
	}

	verification := map[string]interface{}{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        p.cfg.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}
	var verified struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := p.postJSON(ctx, "verify_webhook", "/v1/notifications/verify-webhook-signature", verification, "", &verified); err != nil {
		return nil, err
	}
	if verified.VerificationStatus != "SUCCESS" {
		return nil, ErrInvalidSignature
	}

	return parsePayPalEvent(body)
}

func parsePayPalEvent(body []byte) (*WebhookEvent, error) {
	var event struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Resource  struct {
			ID                string      `json:"id"`
			Status            string      `json:"status"`
			Amount            paypalMoney `json:"amount"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
			StatusDetails struct {
				Reason string `json:"reason"`
			} `json:"status_details"`
			SellerPayableBreakdown struct {
				TotalRefundedAmount paypalMoney `json:"total_refunded_amount"`
			} `json:"seller_payable_breakdown"`
			DisputeID            string      `json:"dispute_id"`
			Reason               string      `json:"reason"`
			DisputeAmount        paypalMoney `json:"dispute_amount"`
			DisputedTransactions []struct {
				SellerTransactionID string `json:"seller_transaction_id"`
			} `json:"disputed_transactions"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, err
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, errors.New("paypal event id missing")
	}

	resource := event.Resource
	providerTransactionID := resource.SupplementaryData.RelatedIDs.OrderID
	if providerTransactionID == "" {
		providerTransactionID = resource.ID
	}

	result := &WebhookEvent{
		Provider:              entity.ProviderPayPal,
		EventID:               strings.TrimSpace(event.ID),
		Kind:                  EventIgnored,
		NativeType:            event.EventType,
		ProviderTransactionID: providerTransactionID,
		Currency:              strings.ToUpper(resource.Amount.CurrencyCode),
		Payload:               json.RawMessage(body),
	}

	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		result.Kind = EventPaymentSucceeded
	case "PAYMENT.CAPTURE.DENIED":
		result.Kind = EventPaymentFailed
		result.Reason = resource.StatusDetails.Reason
		result.Code = resource.StatusDetails.Reason
	case "PAYMENT.CAPTURE.REFUNDED":
		money := resource.SellerPayableBreakdown.TotalRefundedAmount
		if money.Value == "" {
			money = resource.Amount
		}
		amount, err := decimal.NewFromString(money.Value)
		if err != nil {
			return nil, err
		}
		result.Kind = EventRefunded
		result.Amount = &amount
		if money.CurrencyCode != "" {
			result.Currency = strings.ToUpper(money.CurrencyCode)
		}
	case "CUSTOMER.DISPUTE.CREATED":
		// Disputes reference the capture, not the order the ledger stores.
		result.Kind = EventDisputed
		result.ProviderTransactionID = ""
		for _, disputed := range resource.DisputedTransactions {
			if id := strings.TrimSpace(disputed.SellerTransactionID); id != "" {
				result.Reference = id
				break
			}
		}
		result.Reason = resource.Reason
		result.Code = resource.DisputeID
		if money := resource.DisputeAmount; money.Value != "" {
			amount, err := decimal.NewFromString(money.Value)
			if err != nil {
				return nil, err
			}
			result.Amount = &amount
			result.Currency = strings.ToUpper(money.CurrencyCode)
		}
	}

	if strings.TrimSpace(result.ProviderTransactionID) == "" && result.Reference == "" {
		result.Kind = EventIgnored
	}

	return result, nil
}

// ResolveTransactionReference maps a capture id carried by a dispute back to the
// order the capture belongs to.
func (p *PayPalProvider) ResolveTransactionReference(ctx context.Context, event *WebhookEvent) (string, error) {
	if strings.TrimSpace(event.Reference) == "" {
		return "", nil
	}
	if err := p.requireCredentials(); err != nil {
		return "", err
	}

	body, err := p.api.do(ctx, apiRequest{
		operation: "resolve_capture",
		method:    http.MethodGet,
		path:      "/v2/payments/captures/" + url.PathEscape(event.Reference),
	}, nil)
	if err != nil {
		return "", classifyPayPalError(err)
	}

	var capture struct {
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	}
	if err := json.Unmarshal(body, &capture); err != nil {
		return "", err
	}
	return capture.SupplementaryData.RelatedIDs.OrderID, nil
}

func (p *PayPalProvider) requireCredentials() error {
	if strings.TrimSpace(p.cfg.ClientID) == "" || strings.TrimSpace(p.cfg.ClientSecret) == "" {
		return &Error{Provider: entity.ProviderPayPal, Operation: "configure", Err: ErrNotConfigured}
	}
	return nil
}

func (p *PayPalProvider) getOrder(ctx context.Context, operation, orderID string) (*paypalOrder, error) {
	body, err := p.api.do(ctx, apiRequest{
		operation: operation,
		method:    http.MethodGet,
		path:      "/v2/checkout/orders/" + url.PathEscape(orderID),
	}, nil)
	if err != nil {
		return nil, classifyPayPalError(err)
	}

	var order paypalOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (p *PayPalProvider) postJSON(ctx context.Context, operation, path string, payload interface{}, requestID string, out interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	body, err := p.api.do(ctx, apiRequest{
		operation:   operation,
		method:      http.MethodPost,
		path:        path,
		body:        bytes.NewReader(encoded),
		contentType: "application/json",
		headers: map[string]string{
			"PayPal-Request-Id": requestID,
			"Prefer":            "return=representation",
		},
	}, nil)
	if err != nil {
		return classifyPayPalError(err)
	}
	return json.Unmarshal(body, out)
}

// classifyPayPalError marks rejected client credentials as permanent; the oauth2
// transport surfaces them as transport errors.
func classifyPayPalError(err error) error {
	providerErr, ok := AsError(err)
	if !ok {
		return err
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(providerErr.Err, &retrieveErr) {
		providerErr.Code = "authentication_failed"
		providerErr.Temporary = retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError
	}
	return providerErr
}

func findPayPalLink(links []paypalLink, rel string) string {
	for _, link := range links {
		if link.Rel == rel {
			return link.Href
		}
	}
	return ""
}

func decodePayPalError(statusCode int, body []byte) (string, string) {
	var payload struct {
		Name    string `json:"name"`
		Message string `json:"message"`
		Details []struct {
			Issue       string `json:"issue"`
			Description string `json:"description"`
		} `json:"details"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return http.StatusText(statusCode), strings.TrimSpace(string(body))
	}

	code := payload.Name
	message := payload.Message
	if len(payload.Details) > 0 {
		if payload.Details[0].Issue != "" {
			code = payload.Details[0].Issue
		}
		if payload.Details[0].Description != "" {
			message = payload.Details[0].Description
		}
	}
	return code, message
}
