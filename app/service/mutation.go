package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
)

// StatusUpdate is one externally driven change applied through ApplyStatusUpdate.
// RefundedAmount is the provider's cumulative refunded total; when set, the status
// is derived from it instead of Status.
type StatusUpdate struct {
	Status          entity.Status
	Metadata        entity.Metadata
	RefundedAmount  *decimal.Decimal
	ErrorCode       string
	ErrorMessage    string
	ProviderEventID string
	EventType       string
}

type RefundResult struct {
	Transaction *entity.Transaction
	RefundID    string
	Amount      decimal.Decimal
}

type DisputeInput struct {
	Reason          string
	Amount          *decimal.Decimal
	Evidence        entity.Metadata
	ProviderEventID string
}

// UpdateTransactionStatus moves the transaction to status and merges metadataPatch
// into its metadata. Existing metadata is never dropped.
func (s *TransactionService) UpdateTransactionStatus(ctx context.Context, id string, status entity.Status, metadataPatch entity.Metadata) (*entity.Transaction, error) {
	return s.ApplyStatusUpdate(ctx, id, StatusUpdate{
		Status:    status,
		Metadata:  metadataPatch,
		EventType: eventStatusUpdated,
	})
}

func (s *TransactionService) ApplyStatusUpdate(ctx context.Context, id string, update StatusUpdate) (*entity.Transaction, error) {
	eventType := update.EventType
	if eventType == "" {
		eventType = eventStatusUpdated
	}

	return s.mutate(ctx, id, eventType, update.ProviderEventID, func(txn *entity.Transaction) error {
		now := s.now()
		status := update.Status
		refunded := txn.RefundedAmount
		if update.RefundedAmount != nil {
			refunded = decimal.Max(refunded, *update.RefundedAmount)
			if refunded.GreaterThan(txn.Amount) {
				refunded = txn.Amount
			}
			status = txn.Status
			if refunded.IsPositive() {
				status = s.refundStatus(txn, refunded)
			}
		}

		if err := txn.TransitionTo(status, now); err != nil {
			return err
		}
		txn.RefundedAmount = refunded
		txn.Metadata = txn.Metadata.Merge(update.Metadata)
		switch status {
		case entity.StatusCompleted:
			txn.ClearRetry()
			txn.SetError("", "")
		case entity.StatusFailed:
			txn.NextRetryAt = nil
			if update.ErrorCode != "" || update.ErrorMessage != "" {
				txn.SetError(update.ErrorCode, truncate(update.ErrorMessage, 1024))
			}
		}
		txn.UpdatedAt = now
		return nil
	})
}

// RefundTransaction refunds amount, or everything still refundable when amount is nil.
// The refundable balance is checked before the provider is called.
func (s *TransactionService) RefundTransaction(ctx context.Context, id string, amount *decimal.Decimal, reason string) (*RefundResult, error) {
	if amount != nil && !amount.IsPositive() {
		return nil, invalidRequest("refund amount must be greater than zero")
	}

	var refund *RefundResult
	err := s.withTransactionLock(ctx, id, func() error {
		result, err := s.refund(ctx, id, amount, strings.TrimSpace(reason))
		refund = result
		return err
	})
	return refund, err
}

func (s *TransactionService) refund(ctx context.Context, id string, amount *decimal.Decimal, reason string) (*RefundResult, error) {
	txn, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status != entity.StatusCompleted && txn.Status != entity.StatusPartiallyRefunded {
		return nil, fmt.Errorf("%w: cannot refund a %s transaction", ErrInvalidStatus, txn.Status)
	}

	remaining := txn.RemainingAmount()
	requested := remaining
	if amount != nil {
		requested = *amount
	}
	exponent := entity.CurrencyExponent(txn.Currency)
	if !requested.Equal(requested.Round(exponent)) {
		return nil, invalidRequest("refund amount has more decimals than %s allows", txn.Currency)
	}
	if !remaining.IsPositive() || requested.GreaterThan(remaining) {
		return nil, fmt.Errorf("%w: requested %s, refundable %s", ErrRefundExceedsAmount,
			entity.FormatAmount(requested, txn.Currency), entity.FormatAmount(remaining, txn.Currency))
	}

	adapter, err := s.providers.Get(txn.Provider)
	if err != nil {
		return nil, ErrProviderUnsupported
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout())
	result, err := adapter.Refund(callCtx, &provider.RefundInput{
		ProviderTransactionID: txn.ProviderTransactionIDValue(),
		Amount:                &requested,
		Currency:              txn.Currency,
		TransactionID:         txn.ID,
		IdempotencyKey:        uuid.NewString(),
	})
	cancel()
	if err != nil {
		return nil, &ProcessingError{TransactionID: id, Err: err}
	}
	if result.Status == entity.StatusFailed {
		return nil, &ProcessingError{TransactionID: id, Err: &provider.Error{
			Provider:  txn.Provider,
			Operation: "refund",
			Code:      "refund_failed",
			Message:   "provider reported refund status " + result.NativeStatus,
		}}
	}

	refunded := result.Amount
	if !refunded.IsPositive() {
		refunded = requested
	}
	base := txn.RefundedAmount

	updated, err := s.mutate(ctx, id, eventTransactionRefunded, "", func(current *entity.Transaction) error {
		now := s.now()
		// Webhooks report cumulative totals, so a refund webhook that raced this call
		// has already counted this refund.
		total := decimal.Max(current.RefundedAmount, base.Add(refunded))
		if total.GreaterThan(current.Amount) {
			total = current.Amount
		}
		if err := current.TransitionTo(s.refundStatus(current, total), now); err != nil {
			return err
		}
		current.RefundedAmount = total
		current.Metadata = current.Metadata.Append(entity.MetadataRefunds, map[string]interface{}{
			"refundId":     result.RefundID,
			"amount":       entity.FormatAmount(refunded, current.Currency),
			"status":       string(result.Status),
			"nativeStatus": result.NativeStatus,
			"reason":       reason,
			"source":       "api",
			"at":           now.Format(time.RFC3339Nano),
		})
		current.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &RefundResult{Transaction: updated, RefundID: result.RefundID, Amount: refunded}, nil
}

// refundStatus decides full vs partial refund using the per-currency tolerance.
func (s *TransactionService) refundStatus(txn *entity.Transaction, refunded decimal.Decimal) entity.Status {
	if txn.Amount.Sub(refunded).LessThanOrEqual(s.refundsCfg.ToleranceFor(txn.Currency)) {
		return entity.StatusRefunded
	}
	return entity.StatusPartiallyRefunded
}

// CancelTransaction cancels a pending transaction, voiding it at the provider first
// when the adapter supports that.
func (s *TransactionService) CancelTransaction(ctx context.Context, id, reason string) (*entity.Transaction, error) {
	var canceled *entity.Transaction
	err := s.withTransactionLock(ctx, id, func() error {
		txn, err := s.cancel(ctx, id, strings.TrimSpace(reason))
		canceled = txn
		return err
	})
	return canceled, err
}

func (s *TransactionService) cancel(ctx context.Context, id, reason string) (*entity.Transaction, error) {
	txn, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status == entity.StatusCanceled {
		return txn, nil
	}
	if err := entity.ValidateTransition(txn.Status, entity.StatusCanceled); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
	}

	adapter, err := s.providers.Get(txn.Provider)
	if err != nil {
		return nil, ErrProviderUnsupported
	}
	if canceler, ok := adapter.(provider.Canceler); ok && txn.ProviderTransactionIDValue() != "" {
		callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout())
		_, err := canceler.Cancel(callCtx, txn.ProviderTransactionIDValue())
		cancel()
		if err != nil {
			return nil, &ProcessingError{TransactionID: id, Err: err}
		}
	}

	return s.mutate(ctx, id, eventTransactionCanceled, "", func(current *entity.Transaction) error {
		now := s.now()
		if err := current.TransitionTo(entity.StatusCanceled, now); err != nil {
			return err
		}
		current.NextRetryAt = nil
		current.Metadata = current.Metadata.Merge(entity.Metadata{"cancellation": map[string]interface{}{
			"reason": reason,
			"at":     now.Format(time.RFC3339Nano),
		}})
		return nil
	})
}

// DisputeTransaction marks a completed transaction as disputed and keeps the dispute
// details as evidence. No automatic resolution is attempted.
func (s *TransactionService) DisputeTransaction(ctx context.Context, id string, input DisputeInput) (*entity.Transaction, error) {
	return s.mutate(ctx, id, eventTransactionDisputed, input.ProviderEventID, func(txn *entity.Transaction) error {
		now := s.now()
		if err := txn.TransitionTo(entity.StatusDisputed, now); err != nil {
			return err
		}

		evidence := map[string]interface{}{
			"reason": input.Reason,
			"at":     now.Format(time.RFC3339Nano),
		}
		if input.Amount != nil {
			evidence["amount"] = entity.FormatAmount(*input.Amount, txn.Currency)
		}
		if input.ProviderEventID != "" {
			evidence["providerEventId"] = input.ProviderEventID
		}
		for key, value := range input.Evidence {
			if _, reserved := evidence[key]; !reserved {
				evidence[key] = value
			}
		}
		txn.Metadata = txn.Metadata.Append(entity.MetadataDisputes, evidence)
		txn.UpdatedAt = now
		return nil
	})
}
