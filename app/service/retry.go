package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/config"
)

const (
	defaultMaxAttempts  = int32(3)
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultBatchSize    = int32(50)
	defaultStaleAfter   = 15 * time.Minute
)

// RetryPolicy is exponential backoff with a ceiling and no jitter.
type RetryPolicy struct {
	MaxAttempts  int32
	InitialDelay time.Duration
	MaxDelay     time.Duration
	BatchSize    int32
}

func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	policy := RetryPolicy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		BatchSize:    cfg.BatchSize,
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultMaxAttempts
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = defaultInitialDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = defaultMaxDelay
	}
	if policy.MaxDelay < policy.InitialDelay {
		policy.MaxDelay = policy.InitialDelay
	}
	if policy.BatchSize <= 0 {
		policy.BatchSize = defaultBatchSize
	}
	return policy
}

// Delay returns min(initialDelay * 2^retryCount, maxDelay).
func (p RetryPolicy) Delay(retryCount int32) time.Duration {
	delay := p.InitialDelay
	for i := int32(0); i < retryCount; i++ {
		if delay >= p.MaxDelay/2 {
			return p.MaxDelay
		}
		delay *= 2
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p RetryPolicy) Exhausted(retryCount int32) bool {
	return retryCount >= p.MaxAttempts
}

// recordAttemptFailure counts one failed provider attempt. It schedules the next
// attempt, or fails the transaction once the configured attempts are used up.
func (s *TransactionService) recordAttemptFailure(txn *entity.Transaction, cause error, now time.Time) error {
	attempt := txn.RetryCount
	txn.RetryCount++
	txn.UpdatedAt = now

	code, message := providerErrorDetails(cause)
	if s.retry.Exhausted(txn.RetryCount) {
		txn.NextRetryAt = nil
		txn.SetError(code, fmt.Sprintf("retries exhausted after %d attempts: %s", txn.RetryCount, message))
		s.metrics.RetryAttempt("exhausted")
		return txn.TransitionTo(entity.StatusFailed, now)
	}

	next := now.Add(s.retry.Delay(attempt))
	txn.NextRetryAt = &next
	txn.SetError(code, message)
	s.metrics.RetryAttempt("rescheduled")
	return nil
}

// RunTransactionRetryBatch re-drives pending transactions whose next retry is due.
func (s *TransactionService) RunTransactionRetryBatch(ctx context.Context) error {
	items, err := s.txnRepo.ListDueForRetry(ctx, s.now(), s.retry.BatchSize)
	if err != nil {
		return err
	}

	var firstErr error
	for _, txn := range items {
		if txn == nil {
			continue
		}
		if s.retry.Exhausted(txn.RetryCount) {
			if err := s.failExhausted(ctx, txn.ID); err != nil {
				firstErr = keepFirstErr(firstErr, err)
			}
			continue
		}

		_, err := s.ConfirmTransaction(ctx, txn.ID)
		switch {
		case err == nil:
			s.metrics.RetryAttempt("success")
		case errors.Is(err, ErrTransactionBusy), errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrTransactionNotFound):
			s.logger.WithError(err).WithField("transaction_id", txn.ID).Debug("Skipping transaction retry")
		default:
			if _, ok := AsProcessingError(err); ok {
				s.logger.WithError(err).WithField("transaction_id", txn.ID).Info("Transaction retry attempt failed")
				continue
			}
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

func (s *TransactionService) failExhausted(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, id, eventRetriesExhausted, "", func(txn *entity.Transaction) error {
		if !txn.Status.IsPending() {
			return nil
		}
		now := s.now()
		txn.NextRetryAt = nil
		message := fmt.Sprintf("retries exhausted after %d attempts", txn.RetryCount)
		if txn.ErrorMessage != nil {
			message += ": " + *txn.ErrorMessage
		}
		code := "retries_exhausted"
		if txn.ErrorCode != nil {
			code = *txn.ErrorCode
		}
		txn.SetError(code, message)
		s.metrics.RetryAttempt("exhausted")
		return txn.TransitionTo(entity.StatusFailed, now)
	})
	return err
}

// RunReconcileBatch re-reads processing transactions the provider never reported back on.
func (s *TransactionService) RunReconcileBatch(ctx context.Context) error {
	staleAfter := s.paymentsCfg.ReconcileStaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}

	items, err := s.txnRepo.ListStaleProcessing(ctx, s.now().Add(-staleAfter), s.retry.BatchSize)
	if err != nil {
		return err
	}

	var firstErr error
	for _, txn := range items {
		if txn == nil || txn.ProviderTransactionIDValue() == "" {
			continue
		}
		if err := s.reconcile(ctx, txn); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

func (s *TransactionService) reconcile(ctx context.Context, txn *entity.Transaction) error {
	adapter, err := s.providers.Get(txn.Provider)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout())
	details, err := adapter.GetDetails(callCtx, txn.ProviderTransactionIDValue())
	cancel()
	if err != nil {
		return err
	}
	if details.Status.IsPending() {
		return nil
	}

	_, err = s.mutate(ctx, txn.ID, eventTransactionReconciled, "", func(current *entity.Transaction) error {
		if current.Status == details.Status || !entity.CanTransition(current.Status, details.Status) {
			return nil
		}
		now := s.now()
		current.Metadata = current.Metadata.Append(entity.MetadataProviderEvents, map[string]interface{}{
			"source":       "reconciliation",
			"nativeStatus": details.NativeStatus,
			"at":           now.Format(time.RFC3339Nano),
		})
		switch details.Status {
		case entity.StatusCompleted:
			current.ClearRetry()
			current.SetError("", "")
		case entity.StatusFailed:
			current.NextRetryAt = nil
			current.SetError("payment_failed", "provider reported status "+details.NativeStatus)
		}
		return current.TransitionTo(details.Status, now)
	})
	return err
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
