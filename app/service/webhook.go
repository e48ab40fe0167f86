package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/metrics"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
	"github.com/vibast-solutions/ms-go-payment-gateway/config"
)

const (
	defaultProcessingLockTTL = 5 * time.Minute
	defaultProcessedTTL      = 30 * 24 * time.Hour
	defaultFailedTTL         = 7 * 24 * time.Hour
	defaultHandlerTimeout    = 30 * time.Second
	defaultReplayBatchSize   = 100

	replayRemoteAddr = "replay"

	evidenceProviderEventData = "providerEventData"
)

type webhookStateRepository interface {
	IsProcessed(ctx context.Context, provider entity.ProviderName, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider entity.ProviderName, eventID string, at time.Time, ttl time.Duration) error
	AcquireLock(ctx context.Context, provider entity.ProviderName, eventID, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, provider entity.ProviderName, eventID, owner string) error
	SaveFailed(ctx context.Context, event *entity.FailedEvent, ttl time.Duration) error
	ListFailed(ctx context.Context, limit int) ([]*entity.FailedEvent, error)
	DeleteFailed(ctx context.Context, provider entity.ProviderName, eventID string) error
}

type webhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *entity.WebhookDelivery) error
}

type webhookArchive interface {
	PutWebhook(ctx context.Context, provider entity.ProviderName, eventID string, receivedAt time.Time, body []byte) (string, error)
}

type webhookLedger interface {
	GetByProviderTransactionID(ctx context.Context, providerName entity.ProviderName, providerTransactionID string) (*entity.Transaction, error)
	ApplyStatusUpdate(ctx context.Context, id string, update StatusUpdate) (*entity.Transaction, error)
	DisputeTransaction(ctx context.Context, id string, input DisputeInput) (*entity.Transaction, error)
}

// WebhookProcessor applies verified provider events to the ledger at most once per
// (provider, event id), however often and however concurrently they are delivered.
type WebhookProcessor struct {
	providers    *provider.Registry
	state        webhookStateRepository
	deliveryRepo webhookDeliveryRepository
	ledger       webhookLedger
	archive      webhookArchive
	metrics      *metrics.Metrics
	cfg          config.WebhooksConfig
	batchSize    int
	logger       logrus.FieldLogger
	now          func() time.Time
}

func NewWebhookProcessor(
	providers *provider.Registry,
	state webhookStateRepository,
	deliveryRepo webhookDeliveryRepository,
	ledger webhookLedger,
	cfg config.WebhooksConfig,
) *WebhookProcessor {
	if cfg.ProcessingLockTTL <= 0 {
		cfg.ProcessingLockTTL = defaultProcessingLockTTL
	}
	if cfg.ProcessedTTL <= 0 {
		cfg.ProcessedTTL = defaultProcessedTTL
	}
	if cfg.FailedTTL <= 0 {
		cfg.FailedTTL = defaultFailedTTL
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaultHandlerTimeout
	}

	return &WebhookProcessor{
		providers:    providers,
		state:        state,
		deliveryRepo: deliveryRepo,
		ledger:       ledger,
		cfg:          cfg,
		batchSize:    defaultReplayBatchSize,
		logger:       factory.NewModuleLogger("webhook-processor"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (p *WebhookProcessor) SetArchive(archive webhookArchive) {
	p.archive = archive
}

func (p *WebhookProcessor) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

func (p *WebhookProcessor) SetReplayBatchSize(size int) {
	if size > 0 {
		p.batchSize = size
	}
}

// Handle verifies and processes one inbound delivery. It never returns an error:
// every failure is recorded and, when the event was authentic, parked for replay.
func (p *WebhookProcessor) Handle(ctx context.Context, providerName entity.ProviderName, headers http.Header, body []byte, remoteAddr string) entity.WebhookOutcome {
	receivedAt := p.now()
	logger := p.logger.WithField("provider", providerName)

	adapter, err := p.providers.Get(providerName)
	if err != nil {
		logger.WithError(err).Warn("Webhook for unsupported provider")
		p.recordDelivery(ctx, providerName, nil, entity.WebhookOutcomeRejected, err, remoteAddr)
		return entity.WebhookOutcomeRejected
	}

	event, err := adapter.VerifyAndParseWebhook(ctx, headers, body)
	if err == nil && strings.TrimSpace(event.EventID) == "" {
		err = errors.New("event id is missing")
	}
	if err != nil {
		logger.WithError(err).Warn("Webhook verification failed")
		p.recordDelivery(ctx, providerName, nil, entity.WebhookOutcomeRejected, err, remoteAddr)
		return entity.WebhookOutcomeRejected
	}
	event.Provider = providerName

	if p.archive != nil {
		if key, err := p.archive.PutWebhook(ctx, providerName, event.EventID, receivedAt, body); err != nil {
			logger.WithError(err).WithField("event_id", event.EventID).Warn("Failed to archive webhook body")
		} else {
			logger.WithFields(logrus.Fields{"event_id": event.EventID, "archive_key": key}).Debug("Webhook body archived")
		}
	}

	outcome, err := p.process(ctx, event)
	p.recordDelivery(ctx, providerName, event, outcome, err, remoteAddr)
	return outcome
}

// process runs the exactly-once protocol for a verified event: processed marker
// check, atomic processing lock, dispatch, then marker on success or lock release
// plus failed-event record on error.
func (p *WebhookProcessor) process(ctx context.Context, event *provider.WebhookEvent) (entity.WebhookOutcome, error) {
	logger := p.logger.WithFields(logrus.Fields{
		"provider": event.Provider,
		"event_id": event.EventID,
		"type":     event.NativeType,
	})

	processed, err := p.state.IsProcessed(ctx, event.Provider, event.EventID)
	if err != nil {
		p.saveFailed(ctx, event, err)
		return entity.WebhookOutcomeFailed, err
	}
	if processed {
		logger.Debug("Webhook event already processed")
		return entity.WebhookOutcomeDuplicate, nil
	}

	owner := uuid.NewString()
	acquired, err := p.state.AcquireLock(ctx, event.Provider, event.EventID, owner, p.cfg.ProcessingLockTTL)
	if err != nil {
		p.saveFailed(ctx, event, err)
		return entity.WebhookOutcomeFailed, err
	}
	if !acquired {
		logger.Info("Webhook event is being processed by another worker")
		return entity.WebhookOutcomeInFlight, nil
	}

	// The marker may have been written between the first check and the lock.
	processed, err = p.state.IsProcessed(ctx, event.Provider, event.EventID)
	if err != nil || processed {
		p.releaseLock(ctx, event, owner)
		if err != nil {
			p.saveFailed(ctx, event, err)
			return entity.WebhookOutcomeFailed, err
		}
		return entity.WebhookOutcomeDuplicate, nil
	}

	handlerCtx, cancel := context.WithTimeout(ctx, p.cfg.HandlerTimeout)
	err = p.dispatch(handlerCtx, event)
	cancel()

	if err != nil {
		logger.WithError(err).Warn("Webhook event handling failed")
		p.releaseLock(ctx, event, owner)
		p.saveFailed(ctx, event, err)
		return entity.WebhookOutcomeFailed, err
	}

	if err := p.state.MarkProcessed(context.WithoutCancel(ctx), event.Provider, event.EventID, p.now(), p.cfg.ProcessedTTL); err != nil {
		// The lock stays until it expires so redeliveries keep backing off meanwhile.
		logger.WithError(err).Error("Failed to mark webhook event processed")
		return entity.WebhookOutcomeProcessed, nil
	}
	p.releaseLock(ctx, event, owner)

	return entity.WebhookOutcomeProcessed, nil
}

func (p *WebhookProcessor) dispatch(ctx context.Context, event *provider.WebhookEvent) error {
	logger := p.logger.WithFields(logrus.Fields{"provider": event.Provider, "event_id": event.EventID})

	if event.Kind == provider.EventIgnored {
		logger.WithField("type", event.NativeType).Debug("Ignoring webhook event type")
		return nil
	}
	if strings.TrimSpace(event.ProviderTransactionID) == "" && event.Reference != "" {
		if err := p.resolveReference(ctx, event); err != nil {
			return err
		}
	}
	if strings.TrimSpace(event.ProviderTransactionID) == "" {
		logger.WithField("type", event.NativeType).Warn("Webhook event carries no provider transaction id")
		return nil
	}

	txn, err := p.ledger.GetByProviderTransactionID(ctx, event.Provider, event.ProviderTransactionID)
	if err != nil {
		return err
	}

	evidence := p.eventEvidence(event, txn.Currency)
	patch := entity.Metadata{entity.MetadataProviderEvents: []interface{}{evidence}}

	switch event.Kind {
	case provider.EventPaymentSucceeded:
		_, err = p.ledger.ApplyStatusUpdate(ctx, txn.ID, StatusUpdate{
			Status:          entity.StatusCompleted,
			Metadata:        patch,
			ProviderEventID: event.EventID,
			EventType:       "webhook_" + string(event.Kind),
		})
	case provider.EventPaymentFailed:
		code := event.Code
		if code == "" {
			code = "payment_failed"
		}
		_, err = p.ledger.ApplyStatusUpdate(ctx, txn.ID, StatusUpdate{
			Status:          entity.StatusFailed,
			Metadata:        patch,
			ErrorCode:       code,
			ErrorMessage:    event.Reason,
			ProviderEventID: event.EventID,
			EventType:       "webhook_" + string(event.Kind),
		})
	case provider.EventRefunded:
		refunded := txn.Amount
		if event.Amount != nil {
			refunded = *event.Amount
		}
		patch[entity.MetadataRefunds] = []interface{}{map[string]interface{}{
			"amount":          entity.FormatAmount(refunded, txn.Currency),
			"cumulative":      true,
			"source":          "webhook",
			"providerEventId": event.EventID,
			"at":              evidence["receivedAt"],
		}}
		_, err = p.ledger.ApplyStatusUpdate(ctx, txn.ID, StatusUpdate{
			Metadata:        patch,
			RefundedAmount:  &refunded,
			ProviderEventID: event.EventID,
			EventType:       "webhook_" + string(event.Kind),
		})
	case provider.EventDisputed:
		disputeEvidence := entity.Metadata{"nativeType": event.NativeType, "source": "webhook"}
		if data, ok := evidence[evidenceProviderEventData]; ok {
			disputeEvidence[evidenceProviderEventData] = data
		}
		_, err = p.ledger.DisputeTransaction(ctx, txn.ID, DisputeInput{
			Reason:          event.Reason,
			Amount:          event.Amount,
			Evidence:        disputeEvidence,
			ProviderEventID: event.EventID,
		})
	default:
		logger.WithField("kind", event.Kind).Warn("Unknown webhook event kind")
		return nil
	}

	if errors.Is(err, ErrInvalidStatus) {
		return p.resolveRejectedEvent(ctx, event, txn.ID, err)
	}
	return err
}

// resolveReference fills the provider transaction id of events that only name a
// secondary provider object. Lookup failures are returned so the event is parked.
func (p *WebhookProcessor) resolveReference(ctx context.Context, event *provider.WebhookEvent) error {
	adapter, err := p.providers.Get(event.Provider)
	if err != nil {
		return err
	}
	resolver, ok := adapter.(provider.ReferenceResolver)
	if !ok {
		return nil
	}
	providerTransactionID, err := resolver.ResolveTransactionReference(ctx, event)
	if err != nil {
		return fmt.Errorf("resolve %s reference %s: %w", event.Provider, event.Reference, err)
	}
	event.ProviderTransactionID = strings.TrimSpace(providerTransactionID)
	return nil
}

// resolveRejectedEvent decides what to do with an event the state machine refused.
// Events for a payment that is still pending arrived ahead of the event that settles
// it and are parked for replay; anything else is stale and dropped.
func (p *WebhookProcessor) resolveRejectedEvent(ctx context.Context, event *provider.WebhookEvent, transactionID string, cause error) error {
	logger := p.logger.WithFields(logrus.Fields{
		"provider":       event.Provider,
		"event_id":       event.EventID,
		"transaction_id": transactionID,
	})

	current, err := p.ledger.GetByProviderTransactionID(ctx, event.Provider, event.ProviderTransactionID)
	if err != nil {
		return err
	}
	if current.Status.IsPending() {
		logger.WithField("status", current.Status).Info("Webhook event arrived before the payment settled, parking for replay")
		return fmt.Errorf("%w: %s while transaction is %s", ErrEventOutOfOrder, event.Kind, current.Status)
	}

	logger.WithError(cause).WithField("status", current.Status).Warn("Webhook event does not apply to current status, skipping")
	return nil
}

// RunFailedEventReplayBatch re-runs every parked event through the processing
// protocol. Records are removed only once the event is processed or known processed.
func (p *WebhookProcessor) RunFailedEventReplayBatch(ctx context.Context) error {
	items, err := p.state.ListFailed(ctx, p.batchSize)
	if err != nil {
		return err
	}

	var firstErr error
	for _, failed := range items {
		if failed == nil {
			continue
		}
		logger := p.logger.WithFields(logrus.Fields{"provider": failed.Provider, "event_id": failed.EventID})

		var event provider.WebhookEvent
		if err := json.Unmarshal(failed.Event, &event); err != nil {
			logger.WithError(err).Error("Discarding unreadable failed webhook event")
			p.metrics.Replay("discarded")
			if err := p.state.DeleteFailed(ctx, failed.Provider, failed.EventID); err != nil {
				firstErr = keepFirstErr(firstErr, err)
			}
			continue
		}
		event.Provider = failed.Provider
		event.EventID = failed.EventID

		outcome, err := p.process(ctx, &event)
		p.recordDelivery(ctx, event.Provider, &event, outcome, err, replayRemoteAddr)

		switch outcome {
		case entity.WebhookOutcomeProcessed, entity.WebhookOutcomeDuplicate:
			p.metrics.Replay(string(outcome))
			if err := p.state.DeleteFailed(ctx, failed.Provider, failed.EventID); err != nil {
				firstErr = keepFirstErr(firstErr, err)
			}
		case entity.WebhookOutcomeInFlight:
			p.metrics.Replay(string(outcome))
		default:
			p.metrics.Replay("failed")
			logger.WithError(err).Info("Failed webhook event replay did not succeed")
		}
	}

	return firstErr
}

func (p *WebhookProcessor) eventEvidence(event *provider.WebhookEvent, currency string) map[string]interface{} {
	evidence := map[string]interface{}{
		"eventId":    event.EventID,
		"type":       event.NativeType,
		"kind":       string(event.Kind),
		"receivedAt": p.now().Format(time.RFC3339Nano),
	}
	if event.Amount != nil {
		evidence["amount"] = entity.FormatAmount(*event.Amount, currency)
	}
	if event.Reason != "" {
		evidence["reason"] = event.Reason
	}
	if event.Code != "" {
		evidence["code"] = event.Code
	}
	if data := decodeEventPayload(event.Payload); data != nil {
		evidence[evidenceProviderEventData] = data
	}
	return evidence
}

// decodeEventPayload turns the verified provider body into a metadata value so it
// reads back identically after the JSON column round trip.
func decodeEventPayload(payload json.RawMessage) interface{} {
	if len(payload) == 0 {
		return nil
	}
	var data interface{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return string(payload)
	}
	return data
}

func (p *WebhookProcessor) releaseLock(ctx context.Context, event *provider.WebhookEvent, owner string) {
	if err := p.state.ReleaseLock(context.WithoutCancel(ctx), event.Provider, event.EventID, owner); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"provider": event.Provider,
			"event_id": event.EventID,
		}).Warn("Failed to release webhook processing lock")
	}
}

func (p *WebhookProcessor) saveFailed(ctx context.Context, event *provider.WebhookEvent, cause error) {
	raw, err := json.Marshal(event)
	if err == nil {
		err = p.state.SaveFailed(context.WithoutCancel(ctx), &entity.FailedEvent{
			Provider: event.Provider,
			EventID:  event.EventID,
			Event:    raw,
			Error:    truncate(cause.Error(), 1024),
			FailedAt: p.now(),
		}, p.cfg.FailedTTL)
	}
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"provider": event.Provider,
			"event_id": event.EventID,
		}).Error("Failed to persist failed webhook event")
	}
}

func (p *WebhookProcessor) recordDelivery(ctx context.Context, providerName entity.ProviderName, event *provider.WebhookEvent, outcome entity.WebhookOutcome, cause error, remoteAddr string) {
	if remoteAddr != replayRemoteAddr {
		p.metrics.WebhookEvent(providerName, outcome)
	}

	delivery := &entity.WebhookDelivery{
		Provider:   providerName,
		Outcome:    outcome,
		RemoteAddr: remoteAddr,
		CreatedAt:  p.now(),
	}
	if event != nil {
		delivery.EventID = normalizeOptionalString(event.EventID)
		delivery.EventType = normalizeOptionalString(event.NativeType)
	}
	if cause != nil {
		delivery.Error = normalizeOptionalString(truncate(cause.Error(), 1024))
	}

	if err := p.deliveryRepo.Create(context.WithoutCancel(ctx), delivery); err != nil {
		p.logger.WithError(err).WithField("provider", providerName).Warn("Failed to record webhook delivery")
	}
}
