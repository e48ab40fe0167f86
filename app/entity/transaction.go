package entity

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrProviderTransactionIDImmutable = errors.New("provider transaction id cannot be reassigned")

type Transaction struct {
	ID string

	Amount   decimal.Decimal
	Currency string
	Status   Status
	Provider ProviderName

	ProviderTransactionID *string
	PaymentMethod         string

	Description   *string
	CustomerID    *string
	CustomerEmail *string

	RefundedAmount decimal.Decimal
	RetryCount     int32
	NextRetryAt    *time.Time
	ErrorMessage   *string
	ErrorCode      *string

	Metadata Metadata

	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TransitionTo moves the transaction to status, recording the change in the
// status history. completedAt is stamped the first time the transaction completes.
func (t *Transaction) TransitionTo(status Status, now time.Time) error {
	if err := ValidateTransition(t.Status, status); err != nil {
		return err
	}
	if t.Status == status {
		return nil
	}

	t.Metadata = t.Metadata.Append(MetadataStatusHistory, statusHistoryEntry(t.Status, status, now))
	t.Status = status
	if status == StatusCompleted && t.CompletedAt == nil {
		completedAt := now
		t.CompletedAt = &completedAt
	}
	t.UpdatedAt = now
	return nil
}

func (t *Transaction) SetProviderTransactionID(id string) error {
	if id == "" {
		return nil
	}
	if t.ProviderTransactionID != nil && *t.ProviderTransactionID != "" {
		if *t.ProviderTransactionID != id {
			return ErrProviderTransactionIDImmutable
		}
		return nil
	}
	t.ProviderTransactionID = &id
	return nil
}

func (t *Transaction) RemainingAmount() decimal.Decimal {
	return t.Amount.Sub(t.RefundedAmount)
}

func (t *Transaction) ProviderTransactionIDValue() string {
	if t.ProviderTransactionID == nil {
		return ""
	}
	return *t.ProviderTransactionID
}

func (t *Transaction) SetError(code, message string) {
	if code == "" {
		t.ErrorCode = nil
	} else {
		t.ErrorCode = &code
	}
	if message == "" {
		t.ErrorMessage = nil
	} else {
		t.ErrorMessage = &message
	}
}

func (t *Transaction) ClearRetry() {
	t.RetryCount = 0
	t.NextRetryAt = nil
}

func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	out := *t
	out.Metadata = t.Metadata.Clone()
	return &out
}
