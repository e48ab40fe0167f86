package entity

import "time"

// TransactionEvent is one row of the append-only transition audit.
type TransactionEvent struct {
	ID uint64

	TransactionID string

	EventType string

	OldStatus *Status
	NewStatus Status

	ProviderEventID *string
	PayloadJSON     *string

	CreatedAt time.Time
}
