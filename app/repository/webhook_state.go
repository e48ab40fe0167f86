package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

const (
	webhookKeyPrefix           = "webhook:"
	webhookProcessingKeyPrefix = "webhook:processing:"
	webhookFailedKeyPrefix     = "webhook:failed:"
)

// WebhookStateRepository keeps the exactly-once bookkeeping for provider events:
// processed markers, processing locks and failed events awaiting replay.
type WebhookStateRepository struct {
	store KeyValueStore
}

func NewWebhookStateRepository(store KeyValueStore) *WebhookStateRepository {
	return &WebhookStateRepository{store: store}
}

func (r *WebhookStateRepository) IsProcessed(ctx context.Context, provider entity.ProviderName, eventID string) (bool, error) {
	return r.store.Exists(ctx, processedKey(provider, eventID))
}

func (r *WebhookStateRepository) MarkProcessed(ctx context.Context, provider entity.ProviderName, eventID string, at time.Time, ttl time.Duration) error {
	payload, err := json.Marshal(map[string]string{"processedAt": at.UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return err
	}
	return r.store.Set(ctx, processedKey(provider, eventID), payload, ttl)
}

// AcquireLock is a single set-if-absent with expiry; false means another worker holds it.
func (r *WebhookStateRepository) AcquireLock(ctx context.Context, provider entity.ProviderName, eventID, owner string, ttl time.Duration) (bool, error) {
	return r.store.SetIfAbsent(ctx, processingKey(provider, eventID), []byte(owner), ttl)
}

func (r *WebhookStateRepository) ReleaseLock(ctx context.Context, provider entity.ProviderName, eventID, owner string) error {
	_, err := r.store.DeleteIfEquals(ctx, processingKey(provider, eventID), []byte(owner))
	return err
}

// SaveFailed parks the event once; later failures keep the original expiry.
func (r *WebhookStateRepository) SaveFailed(ctx context.Context, event *entity.FailedEvent, ttl time.Duration) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = r.store.SetIfAbsent(ctx, failedKey(event.Provider, event.EventID), payload, ttl)
	return err
}

func (r *WebhookStateRepository) ListFailed(ctx context.Context, limit int) ([]*entity.FailedEvent, error) {
	keys, err := r.store.ScanPrefix(ctx, webhookFailedKeyPrefix, limit)
	if err != nil {
		return nil, err
	}

	events := make([]*entity.FailedEvent, 0, len(keys))
	for _, key := range keys {
		payload, err := r.store.Get(ctx, key)
		if errors.Is(err, ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		var event entity.FailedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		if event.Provider == "" || event.EventID == "" {
			event.Provider, event.EventID = splitFailedKey(key)
		}
		events = append(events, &event)
	}

	return events, nil
}

func (r *WebhookStateRepository) DeleteFailed(ctx context.Context, provider entity.ProviderName, eventID string) error {
	return r.store.Delete(ctx, failedKey(provider, eventID))
}

func processedKey(provider entity.ProviderName, eventID string) string {
	return webhookKeyPrefix + string(provider) + ":" + eventID
}

func processingKey(provider entity.ProviderName, eventID string) string {
	return webhookProcessingKeyPrefix + string(provider) + ":" + eventID
}

func failedKey(provider entity.ProviderName, eventID string) string {
	return webhookFailedKeyPrefix + string(provider) + ":" + eventID
}

func splitFailedKey(key string) (entity.ProviderName, string) {
	rest := strings.TrimPrefix(key, webhookFailedKeyPrefix)
	provider, eventID, _ := strings.Cut(rest, ":")
	return entity.ProviderName(provider), eventID
}
