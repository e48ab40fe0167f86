package types

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"
)

// PaymentMethodPayload is the raw payment method accepted for tokenization.
type PaymentMethodPayload struct {
	Type string `json:"type"`

	CardNumber     string `json:"cardNumber,omitempty"`
	CardholderName string `json:"cardholderName,omitempty"`
	ExpiryMonth    int    `json:"expiryMonth,omitempty"`
	ExpiryYear     int    `json:"expiryYear,omitempty"`
	Cvv            string `json:"cvv,omitempty"`
	CardType       string `json:"cardType,omitempty"`

	Email string `json:"email,omitempty"`

	AccountNumber     string `json:"accountNumber,omitempty"`
	RoutingNumber     string `json:"routingNumber,omitempty"`
	AccountHolderName string `json:"accountHolderName,omitempty"`
	AccountType       string `json:"accountType,omitempty"`

	ProviderPaymentMethodId string `json:"providerPaymentMethodId,omitempty"`
}

type TokenizeRequest struct {
	PaymentMethod *PaymentMethodPayload `json:"paymentMethod"`
}

func (r *TokenizeRequest) GetPaymentMethod() *PaymentMethodPayload { return r.PaymentMethod }

func NewTokenizeRequestFromContext(ctx echo.Context) (*TokenizeRequest, error) {
	var body TokenizeRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}
	if body.PaymentMethod != nil {
		body.PaymentMethod.Type = strings.ToLower(strings.TrimSpace(body.PaymentMethod.Type))
	}
	return &body, nil
}

func (r *TokenizeRequest) Validate() error {
	method := r.GetPaymentMethod()
	if method == nil {
		return errors.New("paymentMethod is required")
	}
	switch method.Type {
	case "card", "paypal", "bank_account":
	default:
		return errors.New("paymentMethod.type must be card, paypal or bank_account")
	}
	return nil
}

type DeleteTokenRequest struct {
	Id string `json:"id"`
}

func (r *DeleteTokenRequest) GetId() string { return r.Id }

func NewDeleteTokenRequestFromContext(ctx echo.Context) (*DeleteTokenRequest, error) {
	return &DeleteTokenRequest{Id: strings.TrimSpace(ctx.Param("id"))}, nil
}

func (r *DeleteTokenRequest) Validate() error {
	if r.GetId() == "" {
		return errors.New("invalid token id")
	}
	return nil
}
