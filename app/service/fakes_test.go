package service

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/repository"
	"github.com/vibast-solutions/ms-go-payment-gateway/config"
)

type serviceTxnRepo struct {
	mu    sync.Mutex
	items map[string]*entity.Transaction
}

func newServiceTxnRepo() *serviceTxnRepo {
	return &serviceTxnRepo{items: map[string]*entity.Transaction{}}
}

func (r *serviceTxnRepo) put(txn *entity.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[txn.ID] = txn.Clone()
}

func (r *serviceTxnRepo) get(id string) *entity.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id].Clone()
}

func (r *serviceTxnRepo) Create(_ context.Context, txn *entity.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[txn.ID]; ok {
		return repository.ErrTransactionAlreadyExists
	}
	r.items[txn.ID] = txn.Clone()
	return nil
}

func (r *serviceTxnRepo) Mutate(_ context.Context, id string, fn func(txn *entity.Transaction) error) (*entity.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.items[id]
	if !ok {
		return nil, repository.ErrTransactionNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	r.items[id] = working.Clone()
	return working, nil
}

func (r *serviceTxnRepo) FindByID(_ context.Context, id string) (*entity.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	return item.Clone(), nil
}

func (r *serviceTxnRepo) FindByProviderTransactionID(_ context.Context, providerName entity.ProviderName, providerTransactionID string) (*entity.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.Provider == providerName && item.ProviderTransactionIDValue() == providerTransactionID {
			return item.Clone(), nil
		}
	}
	return nil, nil
}

func (r *serviceTxnRepo) filtered(filter repository.TransactionFilter) []*entity.Transaction {
	items := make([]*entity.Transaction, 0)
	for _, item := range r.items {
		if filter.Status != nil && item.Status != *filter.Status {
			continue
		}
		if filter.Provider != nil && item.Provider != *filter.Provider {
			continue
		}
		if filter.CustomerID != "" && stringValue(item.CustomerID) != filter.CustomerID {
			continue
		}
		if filter.From != nil && item.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && item.CreatedAt.After(*filter.To) {
			continue
		}
		items = append(items, item.Clone())
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items
}

func (r *serviceTxnRepo) List(_ context.Context, filter repository.TransactionFilter) ([]*entity.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.filtered(filter)
	start := int(filter.Offset)
	if start > len(items) {
		return []*entity.Transaction{}, nil
	}
	end := start + int(filter.Limit)
	if filter.Limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end], nil
}

func (r *serviceTxnRepo) Count(_ context.Context, filter repository.TransactionFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.filtered(filter))), nil
}

func (r *serviceTxnRepo) ListDueForRetry(_ context.Context, now time.Time, limit int32) ([]*entity.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.Transaction, 0)
	for _, item := range r.items {
		if item.Status.IsPending() && item.NextRetryAt != nil && !item.NextRetryAt.After(now) {
			items = append(items, item.Clone())
		}
	}
	return limitTransactions(items, limit), nil
}

func (r *serviceTxnRepo) ListStaleProcessing(_ context.Context, before time.Time, limit int32) ([]*entity.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.Transaction, 0)
	for _, item := range r.items {
		if item.Status == entity.StatusProcessing && item.ProviderTransactionID != nil && !item.UpdatedAt.After(before) {
			items = append(items, item.Clone())
		}
	}
	return limitTransactions(items, limit), nil
}

func limitTransactions(items []*entity.Transaction, limit int32) []*entity.Transaction {
	if limit <= 0 || int(limit) >= len(items) {
		return items
	}
	return items[:limit]
}

type serviceEventRepo struct {
	mu     sync.Mutex
	events []*entity.TransactionEvent
}

func (r *serviceEventRepo) Create(_ context.Context, event *entity.TransactionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copyItem := *event
	r.events = append(r.events, &copyItem)
	return nil
}

func (r *serviceEventRepo) ofType(eventType string) []*entity.TransactionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]*entity.TransactionEvent, 0)
	for _, event := range r.events {
		if event.EventType == eventType {
			items = append(items, event)
		}
	}
	return items
}

type serviceDeliveryRepo struct {
	mu         sync.Mutex
	deliveries []*entity.WebhookDelivery
}

func (r *serviceDeliveryRepo) Create(_ context.Context, delivery *entity.WebhookDelivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copyItem := *delivery
	r.deliveries = append(r.deliveries, &copyItem)
	return nil
}

func (r *serviceDeliveryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

type statusPublishRecorder struct {
	mu      sync.Mutex
	changes []string
}

func (p *statusPublishRecorder) PublishStatusChanged(_ context.Context, txn *entity.Transaction, oldStatus entity.Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, string(oldStatus)+"->"+string(txn.Status))
	return nil
}

// serviceAdapter is a scripted provider adapter. Queued initiate errors are
// returned first, one per call.
type serviceAdapter struct {
	mu sync.Mutex

	name            entity.ProviderName
	initiateErrs    []error
	initiateResult  *provider.PaymentResult
	initiateCalls   int
	captureResult   *provider.StatusResult
	captureErr      error
	captureCalls    int
	refundStatus    entity.Status
	refundErr       error
	refundInputs    []provider.RefundInput
	details         *provider.Details
	webhookEvent    *provider.WebhookEvent
	webhookErr      error
	webhookHook     func()
	references      map[string]string
	resolveErr      error
	cancelCalls     int
	lastPaymentData *provider.PaymentInput
}

func newServiceAdapter(name entity.ProviderName) *serviceAdapter {
	return &serviceAdapter{name: name, refundStatus: entity.StatusRefunded}
}

func (a *serviceAdapter) Name() entity.ProviderName {
	return a.name
}

func (a *serviceAdapter) SupportsPaymentMethod(method entity.PaymentMethodType) bool {
	if a.name == entity.ProviderPayPal {
		return method == entity.PaymentMethodPayPal
	}
	return method == entity.PaymentMethodCard
}

func (a *serviceAdapter) InitiatePayment(_ context.Context, input *provider.PaymentInput) (*provider.PaymentResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initiateCalls++
	copyInput := *input
	a.lastPaymentData = &copyInput
	if len(a.initiateErrs) > 0 {
		err := a.initiateErrs[0]
		a.initiateErrs = a.initiateErrs[1:]
		return nil, err
	}
	if a.initiateResult != nil {
		return a.initiateResult, nil
	}
	return &provider.PaymentResult{
		ProviderTransactionID: "pi_" + input.TransactionID,
		Status:                entity.StatusProcessing,
		NativeStatus:          "requires_confirmation",
		ClientSecret:          "pi_secret",
	}, nil
}

func (a *serviceAdapter) Capture(context.Context, string) (*provider.StatusResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.captureCalls++
	if a.captureErr != nil {
		return nil, a.captureErr
	}
	if a.captureResult != nil {
		return a.captureResult, nil
	}
	return &provider.StatusResult{Status: entity.StatusCompleted, NativeStatus: "succeeded"}, nil
}

func (a *serviceAdapter) Cancel(context.Context, string) (*provider.StatusResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelCalls++
	return &provider.StatusResult{Status: entity.StatusCanceled, NativeStatus: "canceled"}, nil
}

func (a *serviceAdapter) Refund(_ context.Context, input *provider.RefundInput) (*provider.RefundResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refundInputs = append(a.refundInputs, *input)
	if a.refundErr != nil {
		return nil, a.refundErr
	}
	amount := decimal.Zero
	if input.Amount != nil {
		amount = *input.Amount
	}
	return &provider.RefundResult{
		RefundID:     "re_" + input.IdempotencyKey,
		Status:       a.refundStatus,
		NativeStatus: string(a.refundStatus),
		Amount:       amount,
	}, nil
}

func (a *serviceAdapter) GetDetails(context.Context, string) (*provider.Details, error) {
	if a.details == nil {
		return &provider.Details{Status: entity.StatusProcessing, NativeStatus: "processing"}, nil
	}
	return a.details, nil
}

func (a *serviceAdapter) MapStatus(native string) entity.Status {
	if native == "succeeded" {
		return entity.StatusCompleted
	}
	return entity.StatusProcessing
}

func (a *serviceAdapter) VerifyAndParseWebhook(context.Context, http.Header, []byte) (*provider.WebhookEvent, error) {
	if a.webhookHook != nil {
		a.webhookHook()
	}
	if a.webhookErr != nil {
		return nil, a.webhookErr
	}
	copyEvent := *a.webhookEvent
	return &copyEvent, nil
}

func (a *serviceAdapter) ResolveTransactionReference(_ context.Context, event *provider.WebhookEvent) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resolveErr != nil {
		return "", a.resolveErr
	}
	return a.references[event.Reference], nil
}

type createRequest struct {
	Amount        decimal.Decimal
	Currency      string
	Provider      string
	PaymentMethod string
	Description   string
	CustomerID    string
	CustomerEmail string
	ReturnURL     string
	CancelURL     string
	Metadata      map[string]interface{}
}

func (r *createRequest) GetAmount() decimal.Decimal { return r.Amount }
func (r *createRequest) GetCurrency() string { return r.Currency }
func (r *createRequest) GetProvider() string { return r.Provider }
func (r *createRequest) GetPaymentMethod() string { return r.PaymentMethod }
func (r *createRequest) GetDescription() string { return r.Description }
func (r *createRequest) GetCustomerId() string { return r.CustomerID }
func (r *createRequest) GetCustomerEmail() string { return r.CustomerEmail }
func (r *createRequest) GetReturnUrl() string { return r.ReturnURL }
func (r *createRequest) GetCancelUrl() string { return r.CancelURL }
func (r *createRequest) GetMetadata() map[string]interface{} { return r.Metadata }

type listRequest struct {
	Status     string
	Provider   string
	CustomerID string
	From       *time.Time
	To         *time.Time
	Page       int32
	Limit      int32
}

func (r *listRequest) GetStatus() string { return r.Status }
func (r *listRequest) GetProvider() string { return r.Provider }
func (r *listRequest) GetCustomerId() string { return r.CustomerID }
func (r *listRequest) GetFromDate() *time.Time { return r.From }
func (r *listRequest) GetToDate() *time.Time { return r.To }
func (r *listRequest) GetPage() int32 { return r.Page }
func (r *listRequest) GetLimit() int32 { return r.Limit }

func newTestKV(t *testing.T) (*repository.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return repository.NewRedisStore(client), server
}

func mustDecimal(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("invalid decimal %q: %v", raw, err)
	}
	return value
}

type ledgerFixture struct {
	repo      *serviceTxnRepo
	events    *serviceEventRepo
	stripe    *serviceAdapter
	paypal    *serviceAdapter
	tokens    *TokenService
	svc       *TransactionService
	published *statusPublishRecorder
	kv        *repository.RedisStore
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	kv, _ := newTestKV(t)
	keyring, err := NewEphemeralKeyring()
	if err != nil {
		t.Fatalf("keyring failed: %v", err)
	}

	f := &ledgerFixture{
		repo:      newServiceTxnRepo(),
		events:    &serviceEventRepo{},
		stripe:    newServiceAdapter(entity.ProviderStripe),
		paypal:    newServiceAdapter(entity.ProviderPayPal),
		published: &statusPublishRecorder{},
		kv:        kv,
	}
	f.tokens = NewTokenService(repository.NewTokenRepository(kv), keyring, config.TokenizationConfig{})
	f.svc = NewTransactionService(
		f.repo,
		f.events,
		repository.NewTransactionLockRepository(kv),
		provider.NewRegistry(f.stripe, f.paypal),
		f.tokens,
		config.RetryConfig{MaxAttempts: 3, InitialDelay: time.Second, MaxDelay: 30 * time.Second, BatchSize: 50},
		config.RefundsConfig{},
		config.PaymentsConfig{ProviderTimeout: time.Second, TransactionLockTTL: time.Minute},
	)
	f.svc.SetPublisher(f.published)
	return f
}

// seed stores a transaction in the given status with a provider id already assigned.
func (f *ledgerFixture) seed(t *testing.T, id string, status entity.Status, amount string) *entity.Transaction {
	t.Helper()
	now := time.Now().UTC().Add(-time.Hour)
	providerID := "pi_" + id
	txn := &entity.Transaction{
		ID:                    id,
		Amount:                mustDecimal(t, amount),
		Currency:              "USD",
		Status:                status,
		Provider:              entity.ProviderStripe,
		ProviderTransactionID: &providerID,
		PaymentMethod:         "pm_card_visa",
		RefundedAmount:        decimal.Zero,
		Metadata:              entity.Metadata{},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	f.repo.put(txn)
	return txn
}
