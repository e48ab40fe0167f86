package entity

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusInitiated         Status = "initiated"
	StatusProcessing        Status = "processing"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusRefunded          Status = "refunded"
	StatusCanceled          Status = "canceled"
	StatusDisputed          Status = "disputed"
)

var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status][]Status{
	StatusInitiated:         {StatusProcessing, StatusCompleted, StatusFailed, StatusCanceled},
	StatusProcessing:        {StatusCompleted, StatusFailed, StatusCanceled},
	StatusCompleted:         {StatusPartiallyRefunded, StatusRefunded, StatusDisputed},
	StatusPartiallyRefunded: {StatusPartiallyRefunded, StatusRefunded},
}

func ParseStatus(raw string) (Status, bool) {
	status := Status(raw)
	switch status {
	case StatusInitiated, StatusProcessing, StatusCompleted, StatusFailed,
		StatusPartiallyRefunded, StatusRefunded, StatusCanceled, StatusDisputed:
		return status, true
	}
	return "", false
}

// CanTransition reports whether the ledger accepts moving from one status to another.
// Re-applying the current status is accepted as a no-op.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsTerminal is true for statuses no longer driven by the provider payment flow.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFailed, StatusRefunded, StatusCanceled, StatusDisputed:
		return true
	}
	return false
}

// IsPending is true while the payment itself is still unresolved.
func (s Status) IsPending() bool {
	return s == StatusInitiated || s == StatusProcessing
}

func (s Status) String() string {
	return string(s)
}
