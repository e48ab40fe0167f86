package entity

import "time"

type PaymentMethodType string

const (
	PaymentMethodCard        PaymentMethodType = "card"
	PaymentMethodPayPal      PaymentMethodType = "paypal"
	PaymentMethodBankAccount PaymentMethodType = "bank_account"
)

// PaymentMethod is the raw, sensitive payment-method payload. It only exists in
// memory; at rest it is always encrypted inside a Token.
type PaymentMethod struct {
	Type PaymentMethodType `json:"type"`

	CardNumber     string `json:"cardNumber,omitempty"`
	CardholderName string `json:"cardholderName,omitempty"`
	ExpiryMonth    int    `json:"expiryMonth,omitempty"`
	ExpiryYear     int    `json:"expiryYear,omitempty"`
	CVV            string `json:"cvv,omitempty"`
	CardType       string `json:"cardType,omitempty"`

	Email string `json:"email,omitempty"`

	AccountNumber     string `json:"accountNumber,omitempty"`
	RoutingNumber     string `json:"routingNumber,omitempty"`
	AccountHolderName string `json:"accountHolderName,omitempty"`
	AccountType       string `json:"accountType,omitempty"`

	ProviderPaymentMethodID string `json:"providerPaymentMethodId,omitempty"`
}

// MaskedPaymentMethod is the display-safe view of a PaymentMethod.
type MaskedPaymentMethod struct {
	Type           PaymentMethodType `json:"type"`
	CardNumber     string            `json:"cardNumber,omitempty"`
	CardType       string            `json:"cardType,omitempty"`
	ExpiryDate     string            `json:"expiryDate,omitempty"`
	CardholderName string            `json:"cardholderName,omitempty"`
	Email          string            `json:"email,omitempty"`
	AccountNumber  string            `json:"accountNumber,omitempty"`
	AccountType    string            `json:"accountType,omitempty"`
}

// Token is the persisted, encrypted form of a payment method.
type Token struct {
	ID         string              `json:"tokenId"`
	KeyID      string              `json:"keyId"`
	Ciphertext []byte              `json:"ciphertext"`
	Nonce      []byte              `json:"nonce"`
	Tag        []byte              `json:"tag"`
	MaskedData MaskedPaymentMethod `json:"maskedData"`
	CreatedAt  time.Time           `json:"createdAt"`
	ExpiresAt  time.Time           `json:"expiresAt"`
}
