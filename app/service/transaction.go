package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/metrics"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/repository"
	"github.com/vibast-solutions/ms-go-payment-gateway/config"
)

const (
	eventTransactionCreated    = "transaction_created"
	eventPaymentInitiated      = "payment_initiated"
	eventInitiationFailed      = "payment_initiation_failed"
	eventPaymentConfirmed      = "payment_confirmed"
	eventConfirmationFailed    = "payment_confirmation_failed"
	eventRetriesExhausted      = "retries_exhausted"
	eventTransactionRefunded   = "transaction_refunded"
	eventTransactionCanceled   = "transaction_canceled"
	eventTransactionDisputed   = "transaction_disputed"
	eventStatusUpdated         = "status_updated"
	eventTransactionReconciled = "transaction_reconciled"

	metadataCheckout = "checkout"

	defaultListLimit       = int32(10)
	maxListLimit           = int32(100)
	defaultProviderTimeout = 15 * time.Second
	defaultTransactionLock = 60 * time.Second
	lockReleaseTimeout     = 5 * time.Second
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

type createTransactionRequest interface {
	GetAmount() decimal.Decimal
	GetCurrency() string
	GetProvider() string
	GetPaymentMethod() string
	GetDescription() string
	GetCustomerId() string
	GetCustomerEmail() string
	GetReturnUrl() string
	GetCancelUrl() string
	GetMetadata() map[string]interface{}
}

type listTransactionsRequest interface {
	GetStatus() string
	GetProvider() string
	GetCustomerId() string
	GetFromDate() *time.Time
	GetToDate() *time.Time
	GetPage() int32
	GetLimit() int32
}

type transactionRepository interface {
	Create(ctx context.Context, txn *entity.Transaction) error
	Mutate(ctx context.Context, id string, fn func(txn *entity.Transaction) error) (*entity.Transaction, error)
	FindByID(ctx context.Context, id string) (*entity.Transaction, error)
	FindByProviderTransactionID(ctx context.Context, provider entity.ProviderName, providerTransactionID string) (*entity.Transaction, error)
	List(ctx context.Context, filter repository.TransactionFilter) ([]*entity.Transaction, error)
	Count(ctx context.Context, filter repository.TransactionFilter) (int64, error)
	ListDueForRetry(ctx context.Context, now time.Time, limit int32) ([]*entity.Transaction, error)
	ListStaleProcessing(ctx context.Context, before time.Time, limit int32) ([]*entity.Transaction, error)
}

type transactionEventRepository interface {
	Create(ctx context.Context, event *entity.TransactionEvent) error
}

type transactionLocker interface {
	Acquire(ctx context.Context, transactionID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, transactionID, owner string) error
}

type paymentMethodResolver interface {
	ResolvePaymentMethod(ctx context.Context, reference string) (*entity.PaymentMethod, error)
}

type statusPublisher interface {
	PublishStatusChanged(ctx context.Context, txn *entity.Transaction, oldStatus entity.Status) error
}

// CreateTransactionResult carries the client continuation data that is never persisted.
type CreateTransactionResult struct {
	Transaction    *entity.Transaction
	ClientSecret   string
	ApprovalURL    string
	RequiresAction bool
}

type TransactionPage struct {
	Items []*entity.Transaction
	Total int64
	Page  int32
	Limit int32
	Pages int32
}

type TransactionService struct {
	txnRepo     transactionRepository
	eventRepo   transactionEventRepository
	locker      transactionLocker
	providers   *provider.Registry
	methods     paymentMethodResolver
	publisher   statusPublisher
	metrics     *metrics.Metrics
	retry       RetryPolicy
	refundsCfg  config.RefundsConfig
	paymentsCfg config.PaymentsConfig
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewTransactionService(
	txnRepo transactionRepository,
	eventRepo transactionEventRepository,
	locker transactionLocker,
	providers *provider.Registry,
	methods paymentMethodResolver,
	retryCfg config.RetryConfig,
	refundsCfg config.RefundsConfig,
	paymentsCfg config.PaymentsConfig,
) *TransactionService {
	return &TransactionService{
		txnRepo:     txnRepo,
		eventRepo:   eventRepo,
		locker:      locker,
		providers:   providers,
		methods:     methods,
		retry:       NewRetryPolicy(retryCfg),
		refundsCfg:  refundsCfg,
		paymentsCfg: paymentsCfg,
		logger:      factory.NewModuleLogger("transaction-service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *TransactionService) SetPublisher(publisher statusPublisher) {
	s.publisher = publisher
}

func (s *TransactionService) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *TransactionService) CreateTransaction(ctx context.Context, req createTransactionRequest) (*CreateTransactionResult, error) {
	amount := req.GetAmount()
	if !amount.IsPositive() {
		return nil, invalidRequest("amount must be greater than zero")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.GetCurrency()))
	if !currencyPattern.MatchString(currency) {
		return nil, invalidRequest("currency must be a 3-letter code")
	}
	if !amount.Equal(amount.Round(entity.CurrencyExponent(currency))) {
		return nil, invalidRequest("amount has more decimals than %s allows", currency)
	}

	providerName, ok := entity.ParseProviderName(strings.ToLower(strings.TrimSpace(req.GetProvider())))
	if !ok {
		return nil, ErrProviderUnsupported
	}
	adapter, err := s.providers.Get(providerName)
	if err != nil {
		if errors.Is(err, provider.ErrProviderNotSupported) {
			return nil, ErrProviderUnsupported
		}
		return nil, err
	}

	returnURL := strings.TrimSpace(req.GetReturnUrl())
	cancelURL := strings.TrimSpace(req.GetCancelUrl())
	if providerName == entity.ProviderPayPal && (returnURL == "" || cancelURL == "") {
		return nil, invalidRequest("returnUrl and cancelUrl are required for %s", providerName)
	}

	reference := strings.TrimSpace(req.GetPaymentMethod())
	if reference == "" {
		return nil, invalidRequest("paymentMethod is required")
	}
	method, err := s.methods.ResolvePaymentMethod(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, invalidRequest("paymentMethod %q cannot be resolved", reference)
		}
		return nil, err
	}
	if !adapter.SupportsPaymentMethod(method.Type) {
		return nil, invalidRequest("payment method %s is not supported by %s", method.Type, providerName)
	}

	now := s.now()
	metadata := entity.Metadata{}.Merge(entity.Metadata(req.GetMetadata()))
	if returnURL != "" || cancelURL != "" {
		metadata = metadata.Merge(entity.Metadata{metadataCheckout: map[string]interface{}{
			"returnUrl": returnURL,
			"cancelUrl": cancelURL,
		}})
	}

	txn := &entity.Transaction{
		ID:             uuid.NewString(),
		Amount:         amount,
		Currency:       currency,
		Status:         entity.StatusInitiated,
		Provider:       providerName,
		PaymentMethod:  reference,
		Description:    normalizeOptionalString(req.GetDescription()),
		CustomerID:     normalizeOptionalString(req.GetCustomerId()),
		CustomerEmail:  normalizeOptionalString(req.GetCustomerEmail()),
		RefundedAmount: decimal.Zero,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.txnRepo.Create(ctx, txn); err != nil {
		return nil, err
	}
	s.recordEvent(ctx, txn, nil, eventTransactionCreated, "")

	return s.initiate(ctx, adapter, txn, method)
}

// initiate asks the provider to start the payment. The provider receives the
// transaction id as its idempotency key so re-initiation never charges twice.
func (s *TransactionService) initiate(ctx context.Context, adapter provider.Adapter, txn *entity.Transaction, method *entity.PaymentMethod) (*CreateTransactionResult, error) {
	checkout, _ := txn.Metadata[metadataCheckout].(map[string]interface{})

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout())
	result, err := adapter.InitiatePayment(callCtx, &provider.PaymentInput{
		TransactionID: txn.ID,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		PaymentMethod: method,
		Description:   stringValue(txn.Description),
		CustomerID:    stringValue(txn.CustomerID),
		CustomerEmail: stringValue(txn.CustomerEmail),
		ReturnURL:     metadataString(checkout, "returnUrl"),
		CancelURL:     metadataString(checkout, "cancelUrl"),
	})
	cancel()

	if err != nil {
		updated, updateErr := s.mutate(ctx, txn.ID, eventInitiationFailed, "", func(current *entity.Transaction) error {
			now := s.now()
			if !current.Status.IsPending() {
				return nil
			}
			if provider.IsTemporary(err) {
				return s.recordAttemptFailure(current, err, now)
			}
			code, message := providerErrorDetails(err)
			current.SetError(code, message)
			return current.TransitionTo(entity.StatusFailed, now)
		})
		if updateErr != nil {
			s.logger.WithError(updateErr).WithField("transaction_id", txn.ID).Error("Failed to record initiation failure")
		} else {
			txn = updated
		}
		return &CreateTransactionResult{Transaction: txn}, &ProcessingError{TransactionID: txn.ID, Err: err}
	}

	updated, err := s.mutate(ctx, txn.ID, eventPaymentInitiated, "", func(current *entity.Transaction) error {
		return s.applyInitiation(current, result, s.now())
	})
	if err != nil {
		return nil, err
	}

	return &CreateTransactionResult{
		Transaction:    updated,
		ClientSecret:   result.ClientSecret,
		ApprovalURL:    result.ApprovalURL,
		RequiresAction: result.RequiresAction,
	}, nil
}

func (s *TransactionService) applyInitiation(txn *entity.Transaction, result *provider.PaymentResult, now time.Time) error {
	if err := txn.SetProviderTransactionID(result.ProviderTransactionID); err != nil {
		return err
	}
	txn.Metadata = txn.Metadata.Merge(entity.Metadata{"providerResponse": map[string]interface{}{
		"nativeStatus":   result.NativeStatus,
		"requiresAction": result.RequiresAction,
		"at":             now.Format(time.RFC3339Nano),
	}})
	txn.NextRetryAt = nil
	txn.UpdatedAt = now

	// A webhook may already have moved the transaction further than this response.
	if !entity.CanTransition(txn.Status, result.Status) {
		s.logger.WithFields(logrus.Fields{
			"transaction_id": txn.ID,
			"status":         txn.Status,
			"provider":       result.Status,
		}).Info("Provider response is behind ledger status, keeping ledger status")
		return nil
	}
	if result.Status == entity.StatusFailed {
		txn.SetError("payment_failed", "provider reported status "+result.NativeStatus)
	}
	if result.Status == entity.StatusCompleted {
		txn.ClearRetry()
		txn.SetError("", "")
	}
	return txn.TransitionTo(result.Status, now)
}

// ConfirmTransaction captures the payment at the provider. Provider failures are
// recorded as a retry attempt; the last allowed attempt fails the transaction.
func (s *TransactionService) ConfirmTransaction(ctx context.Context, id string) (*entity.Transaction, error) {
	var confirmed *entity.Transaction
	err := s.withTransactionLock(ctx, id, func() error {
		txn, err := s.confirm(ctx, id)
		confirmed = txn
		return err
	})
	return confirmed, err
}

func (s *TransactionService) confirm(ctx context.Context, id string) (*entity.Transaction, error) {
	txn, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status == entity.StatusCompleted {
		return txn, nil
	}
	if !txn.Status.IsPending() {
		return nil, fmt.Errorf("%w: cannot confirm a %s transaction", ErrInvalidStatus, txn.Status)
	}

	adapter, err := s.providers.Get(txn.Provider)
	if err != nil {
		return nil, ErrProviderUnsupported
	}

	if txn.ProviderTransactionIDValue() == "" {
		method, err := s.methods.ResolvePaymentMethod(ctx, txn.PaymentMethod)
		if err != nil {
			return nil, err
		}
		result, err := s.initiate(ctx, adapter, txn, method)
		if result == nil {
			return nil, err
		}
		return result.Transaction, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout())
	result, captureErr := adapter.Capture(callCtx, txn.ProviderTransactionIDValue())
	cancel()

	if captureErr != nil {
		updated, err := s.mutate(ctx, id, eventConfirmationFailed, "", func(current *entity.Transaction) error {
			if !current.Status.IsPending() {
				return nil
			}
			return s.recordAttemptFailure(current, captureErr, s.now())
		})
		if err != nil {
			return nil, err
		}
		return updated, &ProcessingError{TransactionID: id, Err: captureErr}
	}

	return s.mutate(ctx, id, eventPaymentConfirmed, "", func(current *entity.Transaction) error {
		now := s.now()
		current.Metadata = current.Metadata.Merge(entity.Metadata{"providerResponse": map[string]interface{}{
			"nativeStatus": result.NativeStatus,
			"at":           now.Format(time.RFC3339Nano),
		}})
		current.UpdatedAt = now
		if !entity.CanTransition(current.Status, result.Status) {
			return nil
		}
		switch result.Status {
		case entity.StatusCompleted:
			current.ClearRetry()
			current.SetError("", "")
		case entity.StatusFailed:
			current.NextRetryAt = nil
			current.SetError("capture_failed", "provider reported status "+result.NativeStatus)
		}
		return current.TransitionTo(result.Status, now)
	})
}

func (s *TransactionService) GetTransaction(ctx context.Context, id string) (*entity.Transaction, error) {
	txn, err := s.txnRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, ErrTransactionNotFound
	}
	return txn, nil
}

func (s *TransactionService) GetByProviderTransactionID(ctx context.Context, providerName entity.ProviderName, providerTransactionID string) (*entity.Transaction, error) {
	if strings.TrimSpace(providerTransactionID) == "" {
		return nil, invalidRequest("providerTransactionId is required")
	}
	txn, err := s.txnRepo.FindByProviderTransactionID(ctx, providerName, providerTransactionID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, ErrTransactionNotFound
	}
	return txn, nil
}

func (s *TransactionService) ListTransactions(ctx context.Context, req listTransactionsRequest) (*TransactionPage, error) {
	filter := repository.TransactionFilter{
		CustomerID: strings.TrimSpace(req.GetCustomerId()),
		From:       req.GetFromDate(),
		To:         req.GetToDate(),
	}
	if raw := strings.TrimSpace(req.GetStatus()); raw != "" {
		status, ok := entity.ParseStatus(raw)
		if !ok {
			return nil, invalidRequest("unknown status %q", raw)
		}
		filter.Status = &status
	}
	if raw := strings.TrimSpace(req.GetProvider()); raw != "" {
		providerName, ok := entity.ParseProviderName(raw)
		if !ok {
			return nil, ErrProviderUnsupported
		}
		filter.Provider = &providerName
	}

	limit := req.GetLimit()
	if limit <= 0 {
		limit = s.defaultListLimit()
	}
	if maxLimit := s.maxListLimit(); limit > maxLimit {
		limit = maxLimit
	}
	page := req.GetPage()
	if page <= 0 {
		page = 1
	}
	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	items, err := s.txnRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	total, err := s.txnRepo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	pages := int32((total + int64(limit) - 1) / int64(limit))
	return &TransactionPage{Items: items, Total: total, Page: page, Limit: limit, Pages: pages}, nil
}

// mutate runs fn against the locked row and, once committed, writes the audit
// row, counts the transition and publishes the status change.
func (s *TransactionService) mutate(ctx context.Context, id, eventType, providerEventID string, fn func(txn *entity.Transaction) error) (*entity.Transaction, error) {
	var oldStatus entity.Status
	txn, err := s.txnRepo.Mutate(ctx, id, func(current *entity.Transaction) error {
		oldStatus = current.Status
		return fn(current)
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrTransactionNotFound):
			return nil, ErrTransactionNotFound
		case errors.Is(err, entity.ErrInvalidTransition):
			return nil, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
		}
		return nil, err
	}

	s.recordEvent(ctx, txn, &oldStatus, eventType, providerEventID)
	if txn.Status != oldStatus {
		s.metrics.Transition(oldStatus, txn.Status)
		if s.publisher != nil {
			if err := s.publisher.PublishStatusChanged(ctx, txn, oldStatus); err != nil {
				s.logger.WithError(err).WithField("transaction_id", txn.ID).Warn("Failed to publish status change")
			}
		}
	}

	return txn, nil
}

func (s *TransactionService) recordEvent(ctx context.Context, txn *entity.Transaction, oldStatus *entity.Status, eventType, providerEventID string) {
	event := &entity.TransactionEvent{
		TransactionID:   txn.ID,
		EventType:       eventType,
		OldStatus:       oldStatus,
		NewStatus:       txn.Status,
		ProviderEventID: normalizeOptionalString(providerEventID),
		CreatedAt:       s.now(),
	}
	if txn.ErrorCode != nil || txn.ErrorMessage != nil {
		payload, err := json.Marshal(map[string]string{
			"errorCode":    stringValue(txn.ErrorCode),
			"errorMessage": stringValue(txn.ErrorMessage),
		})
		if err == nil {
			encoded := string(payload)
			event.PayloadJSON = &encoded
		}
	}

	if err := s.eventRepo.Create(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"transaction_id": txn.ID,
			"event_type":     eventType,
		}).Warn("Failed to record transaction event")
	}
}

// withTransactionLock serializes confirm, refund and cancel for one transaction id.
func (s *TransactionService) withTransactionLock(ctx context.Context, id string, fn func() error) error {
	owner := uuid.NewString()
	acquired, err := s.locker.Acquire(ctx, id, owner, s.transactionLockTTL())
	if err != nil {
		return err
	}
	if !acquired {
		return ErrTransactionBusy
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
		defer cancel()
		if err := s.locker.Release(releaseCtx, id, owner); err != nil {
			s.logger.WithError(err).WithField("transaction_id", id).Warn("Failed to release transaction lock")
		}
	}()

	return fn()
}

func (s *TransactionService) providerTimeout() time.Duration {
	if s.paymentsCfg.ProviderTimeout > 0 {
		return s.paymentsCfg.ProviderTimeout
	}
	return defaultProviderTimeout
}

func (s *TransactionService) transactionLockTTL() time.Duration {
	if s.paymentsCfg.TransactionLockTTL > 0 {
		return s.paymentsCfg.TransactionLockTTL
	}
	return defaultTransactionLock
}

func (s *TransactionService) defaultListLimit() int32 {
	if s.paymentsCfg.DefaultListLimit > 0 {
		return s.paymentsCfg.DefaultListLimit
	}
	return defaultListLimit
}

func (s *TransactionService) maxListLimit() int32 {
	if s.paymentsCfg.MaxListLimit > 0 {
		return s.paymentsCfg.MaxListLimit
	}
	return maxListLimit
}

func providerErrorDetails(err error) (string, string) {
	if providerErr, ok := provider.AsError(err); ok {
		code := providerErr.Code
		if code == "" {
			code = "provider_error"
		}
		message := providerErr.Message
		if message == "" {
			message = providerErr.Error()
		}
		return code, truncate(message, 1024)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "provider_timeout", "provider call timed out"
	}
	return "provider_error", truncate(err.Error(), 1024)
}

func normalizeOptionalString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func metadataString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	value, _ := m[key].(string)
	return value
}

func truncate(v string, max int) string {
	if len(v) <= max {
		return v
	}
	return v[:max]
}
