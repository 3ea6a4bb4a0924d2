// Package events publishes domain events about visits to a message broker.
//
// The only event today is visit.created, emitted after a visit row has been
// committed. Publishing is best-effort: callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-visit-tracker/internal/observability"
)

// VisitCreated is the payload of a visit.created message.
type VisitCreated struct {
	VisitID          string    `json:"visit_id"`
	RecruiterID      string    `json:"recruiter_id"`
	ProjectID        string    `json:"project_id"`
	LocationID       string    `json:"location_id"`
	VisitDate        string    `json:"visit_date"`
	Status           string    `json:"status"`
	ProceededOverlap bool      `json:"proceeded_on_overlap"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Publisher emits domain events.
type Publisher interface {
	PublishVisitCreated(ctx context.Context, ev VisitCreated) error
	Close() error
}

// Noop discards every event. It is used when no broker is configured.
type Noop struct{}

func (Noop) PublishVisitCreated(context.Context, VisitCreated) error { return nil }
func (Noop) Close() error                                            { return nil }

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes JSON messages to a durable direct exchange.
type AMQPPublisher struct {
	conn       *amqp.Connection
	ch         Channel
	exchange   string
	routingKey string
}

// Dial connects to url, opens a channel and declares the exchange.
func Dial(url, exchange, routingKey string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	p, err := NewAMQPPublisher(ch, exchange, routingKey)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewAMQPPublisher declares exchange on ch and returns a publisher bound to it.
func NewAMQPPublisher(ch Channel, exchange, routingKey string) (*AMQPPublisher, error) {
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("amqp declare %s: %w", exchange, err)
	}
	return &AMQPPublisher{ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

// PublishVisitCreated sends ev as a persistent JSON message. The current
// trace context travels in the message headers.
func (p *AMQPPublisher) PublishVisitCreated(ctx context.Context, ev VisitCreated) (err error) {
	ctx, span := otel.Tracer("visit-tracker/events").Start(ctx, "publish visit.created",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", p.exchange),
			attribute.String("visit.id", ev.VisitID),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode visit.created: %w", err)
	}
	headers := amqp.Table{}
	observability.InjectAMQP(ctx, headers)

	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    ev.VisitID,
			Timestamp:    ev.OccurredAt,
			Type:         "visit.created",
			Headers:      headers,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("publish visit.created: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
