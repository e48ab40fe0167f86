package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

const (
	RoutingKeyPrefix = "transaction."
	APIKeyHeader     = "x-api-key"
)

// StatusChanged is the message published after a committed status transition.
type StatusChanged struct {
	TransactionID         string    `json:"transactionId"`
	Provider              string    `json:"provider"`
	ProviderTransactionID string    `json:"providerTransactionId,omitempty"`
	OldStatus             string    `json:"oldStatus"`
	NewStatus             string    `json:"newStatus"`
	Amount                string    `json:"amount"`
	RefundedAmount        string    `json:"refundedAmount"`
	Currency              string    `json:"currency"`
	OccurredAt            time.Time `json:"occurredAt"`
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
	appID    string
	apiKey   string
}

// DialAMQP connects to the broker and declares the durable topic exchange.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func newAMQPPublisher(ch channel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange}
}

// SetSource stamps every message with the publishing service name and, when set,
// its API key so consumers can authenticate the origin.
func (p *AMQPPublisher) SetSource(appID, apiKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appID = appID
	p.apiKey = strings.TrimSpace(apiKey)
}

func (p *AMQPPublisher) PublishStatusChanged(ctx context.Context, txn *entity.Transaction, oldStatus entity.Status) error {
	body, err := json.Marshal(newStatusChanged(txn, oldStatus))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         "transaction.status_changed",
		AppId:        p.appID,
		Body:         body,
	}
	if p.apiKey != "" {
		msg.Headers = amqp.Table{APIKeyHeader: p.apiKey}
	}
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKeyPrefix+string(txn.Status), false, false, msg)
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.ch.Close()
	if p.conn != nil {
		if closeErr := p.conn.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// NoopPublisher stands in for the broker when no AMQP URL is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishStatusChanged(context.Context, *entity.Transaction, entity.Status) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}

func newStatusChanged(txn *entity.Transaction, oldStatus entity.Status) StatusChanged {
	return StatusChanged{
		TransactionID:         txn.ID,
		Provider:              string(txn.Provider),
		ProviderTransactionID: txn.ProviderTransactionIDValue(),
		OldStatus:             string(oldStatus),
		NewStatus:             string(txn.Status),
		Amount:                entity.FormatAmount(txn.Amount, txn.Currency),
		RefundedAmount:        entity.FormatAmount(txn.RefundedAmount, txn.Currency),
		Currency:              txn.Currency,
		OccurredAt:            txn.UpdatedAt.UTC(),
	}
}
