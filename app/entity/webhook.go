package entity

import (
	"encoding/json"
	"time"
)

type WebhookOutcome string

const (
	WebhookOutcomeProcessed WebhookOutcome = "processed"
	WebhookOutcomeDuplicate WebhookOutcome = "duplicate"
	WebhookOutcomeInFlight  WebhookOutcome = "in_flight"
	WebhookOutcomeRejected  WebhookOutcome = "rejected"
	WebhookOutcomeFailed    WebhookOutcome = "failed"
)

// WebhookDelivery records what happened to one inbound provider notification.
type WebhookDelivery struct {
	ID uint64

	Provider   ProviderName
	EventID    *string
	EventType  *string
	Outcome    WebhookOutcome
	Error      *string
	RemoteAddr string

	CreatedAt time.Time
}

// FailedEvent is a verified webhook event parked for replay.
type FailedEvent struct {
	Provider ProviderName    `json:"provider"`
	EventID  string          `json:"eventId"`
	Event    json.RawMessage `json:"event"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failedAt"`
}
