package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Routing keys for issuance activity events.
const (
	RoutingKeyCertificateIssued   = "certificate.issued"
	RoutingKeyCertificateRejected = "certificate.rejected"
)

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn     *Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// IssuanceEvent is the activity-log entry published for every issuance
// decision, after the database transaction for the decision committed.
type IssuanceEvent struct {
	CertificateID string    `json:"certificate_id"`
	GSRN          string    `json:"gsrn"`
	PeriodFrom    time.Time `json:"period_from"`
	PeriodTo      time.Time `json:"period_to"`
	GridArea      string    `json:"grid_area"`
	Owner         string    `json:"owner"`
	Quantity      uint64    `json:"quantity"`
	State         string    `json:"state"`
}

// RoutingKey picks the topic key from the event's terminal state.
func (e IssuanceEvent) RoutingKey() string {
	if e.State == "issued" {
		return RoutingKeyCertificateIssued
	}
	return RoutingKeyCertificateRejected
}

// PublishIssuanceEvent publishes one issuance decision to the activity
// exchange.
func (p *Publisher) PublishIssuanceEvent(ctx context.Context, event IssuanceEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		event.RoutingKey(),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published issuance event",
		zap.String("routing_key", event.RoutingKey()),
		zap.String("gsrn", event.GSRN),
		zap.String("certificate_id", event.CertificateID),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
