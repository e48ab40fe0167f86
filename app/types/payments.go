package types

import (
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

const maxListLimit = 100

type CreateTransactionRequest struct {
	Amount        decimal.Decimal        `json:"amount"`
	Currency      string                 `json:"currency"`
	Provider      string                 `json:"provider"`
	PaymentMethod string                 `json:"paymentMethod"`
	Description   string                 `json:"description,omitempty"`
	CustomerId    string                 `json:"customerId,omitempty"`
	CustomerEmail string                 `json:"customerEmail,omitempty"`
	ReturnUrl     string                 `json:"returnUrl,omitempty"`
	CancelUrl     string                 `json:"cancelUrl,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

func (r *CreateTransactionRequest) GetAmount() decimal.Decimal { return r.Amount }
func (r *CreateTransactionRequest) GetCurrency() string { return r.Currency }
func (r *CreateTransactionRequest) GetProvider() string { return r.Provider }
func (r *CreateTransactionRequest) GetPaymentMethod() string { return r.PaymentMethod }
func (r *CreateTransactionRequest) GetDescription() string { return r.Description }
func (r *CreateTransactionRequest) GetCustomerId() string { return r.CustomerId }
func (r *CreateTransactionRequest) GetCustomerEmail() string { return r.CustomerEmail }
func (r *CreateTransactionRequest) GetReturnUrl() string { return r.ReturnUrl }
func (r *CreateTransactionRequest) GetCancelUrl() string { return r.CancelUrl }
func (r *CreateTransactionRequest) GetMetadata() map[string]interface{} { return r.Metadata }

func NewCreateTransactionRequestFromContext(ctx echo.Context) (*CreateTransactionRequest, error) {
	var body CreateTransactionRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.Currency = strings.ToUpper(strings.TrimSpace(body.Currency))
	body.Provider = strings.ToLower(strings.TrimSpace(body.Provider))
	body.PaymentMethod = strings.TrimSpace(body.PaymentMethod)
	body.Description = strings.TrimSpace(body.Description)
	body.CustomerId = strings.TrimSpace(body.CustomerId)
	body.CustomerEmail = strings.TrimSpace(body.CustomerEmail)
	body.ReturnUrl = strings.TrimSpace(body.ReturnUrl)
	body.CancelUrl = strings.TrimSpace(body.CancelUrl)

	return &body, nil
}

func (r *CreateTransactionRequest) Validate() error {
	if !r.GetAmount().IsPositive() {
		return errors.New("amount must be > 0")
	}
	if len(r.GetCurrency()) != 3 {
		return errors.New("currency must be 3 letters")
	}
	if _, ok := entity.ParseProviderName(r.GetProvider()); !ok {
		return errors.New("provider must be stripe or paypal")
	}
	if r.GetPaymentMethod() == "" {
		return errors.New("paymentMethod is required")
	}
	if r.GetCustomerEmail() != "" {
		if _, err := mail.ParseAddress(r.GetCustomerEmail()); err != nil {
			return errors.New("customerEmail is invalid")
		}
	}
	return validateMetadataKeys(r.GetMetadata())
}

// validateMetadataKeys keeps callers from writing the evidence lists the ledger owns.
func validateMetadataKeys(metadata map[string]interface{}) error {
	for key := range metadata {
		if entity.IsReservedMetadataKey(key) {
			return fmt.Errorf("metadata key %q is reserved", key)
		}
	}
	return nil
}

type GetTransactionRequest struct {
	Id string `json:"id"`
}

func (r *GetTransactionRequest) GetId() string { return r.Id }

func NewGetTransactionRequestFromContext(ctx echo.Context) (*GetTransactionRequest, error) {
	return &GetTransactionRequest{Id: strings.TrimSpace(ctx.Param("id"))}, nil
}

func (r *GetTransactionRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid transaction id")
	}
	return nil
}

type GetByProviderTransactionIDRequest struct {
	Provider              string `json:"provider"`
	ProviderTransactionId string `json:"providerTransactionId"`
}

func (r *GetByProviderTransactionIDRequest) GetProvider() string { return r.Provider }
func (r *GetByProviderTransactionIDRequest) GetProviderTransactionId() string {
	return r.ProviderTransactionId
}

func NewGetByProviderTransactionIDRequestFromContext(ctx echo.Context) (*GetByProviderTransactionIDRequest, error) {
	return &GetByProviderTransactionIDRequest{
		Provider:              strings.ToLower(strings.TrimSpace(ctx.QueryParam("provider"))),
		ProviderTransactionId: strings.TrimSpace(ctx.Param("providerTransactionId")),
	}, nil
}

func (r *GetByProviderTransactionIDRequest) Validate() error {
	if _, ok := entity.ParseProviderName(r.GetProvider()); !ok {
		return errors.New("provider must be stripe or paypal")
	}
	if r.GetProviderTransactionId() == "" {
		return errors.New("providerTransactionId is required")
	}
	return nil
}

type ListTransactionsRequest struct {
	Status     string
	Provider   string
	CustomerId string
	FromDate   *time.Time
	ToDate     *time.Time
	Page       int32
	Limit      int32
}

func (r *ListTransactionsRequest) GetStatus() string { return r.Status }
func (r *ListTransactionsRequest) GetProvider() string { return r.Provider }
func (r *ListTransactionsRequest) GetCustomerId() string { return r.CustomerId }
func (r *ListTransactionsRequest) GetFromDate() *time.Time { return r.FromDate }
func (r *ListTransactionsRequest) GetToDate() *time.Time { return r.ToDate }
func (r *ListTransactionsRequest) GetPage() int32 { return r.Page }
func (r *ListTransactionsRequest) GetLimit() int32 { return r.Limit }

func NewListTransactionsRequestFromContext(ctx echo.Context) (*ListTransactionsRequest, error) {
	req := &ListTransactionsRequest{
		Status:     strings.ToLower(strings.TrimSpace(ctx.QueryParam("status"))),
		Provider:   strings.ToLower(strings.TrimSpace(ctx.QueryParam("provider"))),
		CustomerId: strings.TrimSpace(ctx.QueryParam("customerId")),
		Page:       1,
		Limit:      10,
	}

	var err error
	if req.FromDate, err = parseDateParam(ctx.QueryParam("fromDate")); err != nil {
		return nil, err
	}
	if req.ToDate, err = parseDateParam(ctx.QueryParam("toDate")); err != nil {
		return nil, err
	}

	if pageRaw := strings.TrimSpace(ctx.QueryParam("page")); pageRaw != "" {
		page, err := strconv.ParseInt(pageRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Page = int32(page)
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}

	return req, nil
}

func (r *ListTransactionsRequest) Validate() error {
	if r.GetPage() < 1 {
		return errors.New("page must be >= 1")
	}
	if r.GetLimit() <= 0 || r.GetLimit() > maxListLimit {
		return errors.New("limit must be between 1 and 100")
	}
	if r.GetStatus() != "" {
		if _, ok := entity.ParseStatus(r.GetStatus()); !ok {
			return errors.New("invalid status")
		}
	}
	if r.GetProvider() != "" {
		if _, ok := entity.ParseProviderName(r.GetProvider()); !ok {
			return errors.New("invalid provider")
		}
	}
	if r.GetFromDate() != nil && r.GetToDate() != nil && r.GetToDate().Before(*r.GetFromDate()) {
		return errors.New("toDate must not be before fromDate")
	}
	return nil
}

type ConfirmTransactionRequest struct {
	Id string `json:"id"`
}

func (r *ConfirmTransactionRequest) GetId() string { return r.Id }

func NewConfirmTransactionRequestFromContext(ctx echo.Context) (*ConfirmTransactionRequest, error) {
	return &ConfirmTransactionRequest{Id: strings.TrimSpace(ctx.Param("id"))}, nil
}

func (r *ConfirmTransactionRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid transaction id")
	}
	return nil
}

type RefundTransactionRequest struct {
	Id     string           `json:"-"`
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

func (r *RefundTransactionRequest) GetId() string { return r.Id }
func (r *RefundTransactionRequest) GetAmount() *decimal.Decimal { return r.Amount }
func (r *RefundTransactionRequest) GetReason() string { return r.Reason }

func NewRefundTransactionRequestFromContext(ctx echo.Context) (*RefundTransactionRequest, error) {
	var body RefundTransactionRequest
	if err := ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.Id = strings.TrimSpace(ctx.Param("id"))
	body.Reason = strings.TrimSpace(body.Reason)

	return &body, nil
}

func (r *RefundTransactionRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid transaction id")
	}
	if r.GetAmount() != nil && !r.GetAmount().IsPositive() {
		return errors.New("amount must be > 0")
	}
	return nil
}

type CancelTransactionRequest struct {
	Id     string `json:"-"`
	Reason string `json:"reason,omitempty"`
}

func (r *CancelTransactionRequest) GetId() string { return r.Id }
func (r *CancelTransactionRequest) GetReason() string { return r.Reason }

func NewCancelTransactionRequestFromContext(ctx echo.Context) (*CancelTransactionRequest, error) {
	var body CancelTransactionRequest
	if err := ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.Id = strings.TrimSpace(ctx.Param("id"))
	body.Reason = strings.TrimSpace(body.Reason)

	return &body, nil
}

func (r *CancelTransactionRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid transaction id")
	}
	return nil
}

type UpdateStatusRequest struct {
	Id       string                 `json:"-"`
	Status   string                 `json:"status"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (r *UpdateStatusRequest) GetId() string { return r.Id }
func (r *UpdateStatusRequest) GetStatus() string { return r.Status }
func (r *UpdateStatusRequest) GetMetadata() map[string]interface{} { return r.Metadata }

func NewUpdateStatusRequestFromContext(ctx echo.Context) (*UpdateStatusRequest, error) {
	var body UpdateStatusRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	body.Id = strings.TrimSpace(ctx.Param("id"))
	body.Status = strings.ToLower(strings.TrimSpace(body.Status))

	return &body, nil
}

func (r *UpdateStatusRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid transaction id")
	}
	if _, ok := entity.ParseStatus(r.GetStatus()); !ok {
		return errors.New("invalid status")
	}
	return validateMetadataKeys(r.GetMetadata())
}

type DisputeTransactionRequest struct {
	Id       string                 `json:"-"`
	Reason   string                 `json:"reason"`
	Amount   *decimal.Decimal       `json:"amount,omitempty"`
	Evidence map[string]interface{} `json:"evidence,omitempty"`
}

func (r *DisputeTransactionRequest) GetId() string { return r.Id }
func (r *DisputeTransactionRequest) GetReason() string { return r.Reason }
func (r *DisputeTransactionRequest) GetAmount() *decimal.Decimal { return r.Amount }
func (r *DisputeTransactionRequest) GetEvidence() map[string]interface{} { return r.Evidence }

func NewDisputeTransactionRequestFromContext(ctx echo.Context) (*DisputeTransactionRequest, error) {
	var body DisputeTransactionRequest
	if err := ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.Id = strings.TrimSpace(ctx.Param("id"))
	body.Reason = strings.TrimSpace(body.Reason)

	return &body, nil
}

func (r *DisputeTransactionRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid transaction id")
	}
	if r.GetReason() == "" {
		return errors.New("reason is required")
	}
	if r.GetAmount() != nil && !r.GetAmount().IsPositive() {
		return errors.New("amount must be > 0")
	}
	return nil
}

func parseDateParam(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		parsed = parsed.UTC()
		return &parsed, nil
	}
	parsed, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, errors.New("dates must be RFC 3339 or YYYY-MM-DD")
	}
	return &parsed, nil
}
