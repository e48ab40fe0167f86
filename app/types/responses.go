package types

type ErrorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code,omitempty"`
	Provider      string `json:"provider,omitempty"`
	ProviderCode  string `json:"providerCode,omitempty"`
	TransactionId string `json:"transactionId,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type WebhookAckResponse struct {
	Received bool `json:"received"`
}

type Transaction struct {
	Id                    string                 `json:"id"`
	Amount                string                 `json:"amount"`
	Currency              string                 `json:"currency"`
	Status                string                 `json:"status"`
	Provider              string                 `json:"provider"`
	ProviderTransactionId string                 `json:"providerTransactionId,omitempty"`
	PaymentMethod         string                 `json:"paymentMethod"`
	Description           string                 `json:"description,omitempty"`
	CustomerId            string                 `json:"customerId,omitempty"`
	CustomerEmail         string                 `json:"customerEmail,omitempty"`
	RefundedAmount        string                 `json:"refundedAmount"`
	RetryCount            int32                  `json:"retryCount"`
	NextRetryAt           string                 `json:"nextRetryAt,omitempty"`
	ErrorMessage          string                 `json:"errorMessage,omitempty"`
	ErrorCode             string                 `json:"errorCode,omitempty"`
	Metadata              map[string]interface{} `json:"metadata"`
	CompletedAt           string                 `json:"completedAt,omitempty"`
	CreatedAt             string                 `json:"createdAt"`
	UpdatedAt             string                 `json:"updatedAt"`
}

func (t *Transaction) GetId() string {
	if t == nil {
		return ""
	}
	return t.Id
}

func (t *Transaction) GetStatus() string {
	if t == nil {
		return ""
	}
	return t.Status
}

type TransactionEnvelopeResponse struct {
	Transaction *Transaction `json:"transaction"`
}

func (r *TransactionEnvelopeResponse) GetTransaction() *Transaction {
	if r == nil {
		return nil
	}
	return r.Transaction
}

type CreateTransactionResponse struct {
	TransactionId         string       `json:"transactionId"`
	Status                string       `json:"status"`
	ProviderTransactionId string       `json:"providerTransactionId,omitempty"`
	ClientSecret          string       `json:"clientSecret,omitempty"`
	ApprovalUrl           string       `json:"approvalUrl,omitempty"`
	RequiresAction        bool         `json:"requiresAction"`
	Transaction           *Transaction `json:"transaction"`
}

func (r *CreateTransactionResponse) GetTransaction() *Transaction {
	if r == nil {
		return nil
	}
	return r.Transaction
}

type ConfirmTransactionResponse struct {
	TransactionId         string       `json:"transactionId"`
	Status                string       `json:"status"`
	ProviderTransactionId string       `json:"providerTransactionId,omitempty"`
	Transaction           *Transaction `json:"transaction"`
}

// RefundTransactionResponse reports one refund. Amount is this refund, RefundedAmount
// the cumulative total after it.
type RefundTransactionResponse struct {
	TransactionId  string       `json:"transactionId"`
	Status         string       `json:"status"`
	RefundId       string       `json:"refundId"`
	Amount         string       `json:"amount"`
	RefundedAmount string       `json:"refundedAmount"`
	Transaction    *Transaction `json:"transaction"`
}

type Pagination struct {
	Total int64 `json:"total"`
	Page  int32 `json:"page"`
	Limit int32 `json:"limit"`
	Pages int32 `json:"pages"`
}

type ListTransactionsResponse struct {
	Transactions []*Transaction `json:"transactions"`
	Pagination   Pagination     `json:"pagination"`
}

type MaskedPaymentMethod struct {
	Type           string `json:"type"`
	CardNumber     string `json:"cardNumber,omitempty"`
	CardType       string `json:"cardType,omitempty"`
	ExpiryDate     string `json:"expiryDate,omitempty"`
	CardholderName string `json:"cardholderName,omitempty"`
	Email          string `json:"email,omitempty"`
	AccountNumber  string `json:"accountNumber,omitempty"`
	AccountType    string `json:"accountType,omitempty"`
}

type TokenResponse struct {
	TokenId    string              `json:"tokenId"`
	MaskedData MaskedPaymentMethod `json:"maskedData"`
	CreatedAt  string              `json:"createdAt"`
	ExpiresAt  string              `json:"expiresAt"`
}
