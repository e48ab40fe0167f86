package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

var (
	ErrProviderNotSupported      = errors.New("provider is not supported")
	ErrNotConfigured             = errors.New("provider is not configured")
	ErrInvalidSignature          = errors.New("invalid webhook signature")
	ErrUnsupportedPaymentMethod  = errors.New("payment method is not supported by provider")
	ErrMissingProviderResourceID = errors.New("provider response is missing the resource id")
)

// Error is the single failure kind every adapter returns for provider-side problems.
type Error struct {
	Provider   entity.ProviderName
	Operation  string
	Code       string
	Message    string
	StatusCode int
	Temporary  bool
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Provider, e.Operation)
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(": status=%d", e.StatusCode)
	}
	if e.Code != "" {
		msg += " code=" + e.Code
	}
	if e.Message != "" {
		msg += " message=" + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func AsError(err error) (*Error, bool) {
	var providerErr *Error
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsTemporary reports whether retrying the same call may succeed.
func IsTemporary(err error) bool {
	if providerErr, ok := AsError(err); ok {
		return providerErr.Temporary
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func newTransportError(provider entity.ProviderName, operation string, err error) *Error {
	temporary := errors.Is(err, context.DeadlineExceeded)
	var netErr net.Error
	if errors.As(err, &netErr) {
		temporary = true
	}
	if errors.Is(err, context.Canceled) {
		temporary = true
	}
	return &Error{
		Provider:  provider,
		Operation: operation,
		Code:      "transport_error",
		Temporary: temporary,
		Err:       err,
	}
}

func newStatusError(provider entity.ProviderName, operation string, statusCode int, code, message string) *Error {
	return &Error{
		Provider:   provider,
		Operation:  operation,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Temporary:  statusCode >= http.StatusInternalServerError || statusCode == http.StatusTooManyRequests || statusCode == http.StatusConflict,
	}
}
