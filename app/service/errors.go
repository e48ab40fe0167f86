package service

import (
	"errors"
	"fmt"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTokenNotFound       = errors.New("token not found")
	ErrInvalidStatus       = errors.New("invalid status transition")
	ErrRefundExceedsAmount = errors.New("refund exceeds refundable amount")
	ErrTransactionBusy     = errors.New("transaction is locked by another operation")
	ErrProviderUnsupported = errors.New("provider is not supported")
	ErrTokenIntegrity      = errors.New("token integrity check failed")
	ErrEventOutOfOrder     = errors.New("webhook event arrived ahead of the payment outcome")
)

// ProcessingError is a provider-side failure surfaced on a synchronous ledger path.
type ProcessingError struct {
	TransactionID string
	Err           error
}

func (e *ProcessingError) Error() string {
	if e.TransactionID == "" {
		return fmt.Sprintf("payment processing failed: %v", e.Err)
	}
	return fmt.Sprintf("payment processing failed for transaction %s: %v", e.TransactionID, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// ProviderError returns the adapter error behind the failure, if any.
func (e *ProcessingError) ProviderError() *provider.Error {
	providerErr, _ := provider.AsError(e.Err)
	return providerErr
}

func AsProcessingError(err error) (*ProcessingError, bool) {
	var processingErr *ProcessingError
	if errors.As(err, &processingErr) {
		return processingErr, true
	}
	return nil, false
}

func invalidRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
