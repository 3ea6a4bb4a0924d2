package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable, autoDelete, internal, noWait).Error(0)
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, msg).Error(0)
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

func TestNewAMQPPublisher_DeclaresDurableDirectExchange(t *testing.T) {
	ch := new(mockChannel)
	ch.On("ExchangeDeclare", "ex.visits", "direct", true, false, false, false).Return(nil)

	p, err := NewAMQPPublisher(ch, "ex.visits", "visit.created")
	require.NoError(t, err)
	assert.NotNil(t, p)
	ch.AssertExpectations(t)
}

func TestNewAMQPPublisher_DeclareError(t *testing.T) {
	ch := new(mockChannel)
	ch.On("ExchangeDeclare", "ex.visits", "direct", true, false, false, false).Return(errors.New("denied"))

	_, err := NewAMQPPublisher(ch, "ex.visits", "visit.created")
	assert.ErrorContains(t, err, "denied")
}

func TestPublishVisitCreated_SendsPersistentJSON(t *testing.T) {
	ch := new(mockChannel)
	ch.On("ExchangeDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	var sent amqp.Publishing
	ch.On("PublishWithContext", "ex.visits", "visit.created", mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(2).(amqp.Publishing) }).
		Return(nil)

	p, err := NewAMQPPublisher(ch, "ex.visits", "visit.created")
	require.NoError(t, err)

	ev := VisitCreated{
		VisitID:     "v1",
		RecruiterID: "r1",
		ProjectID:   "p1",
		LocationID:  "l1",
		VisitDate:   "2024-03-05",
		Status:      "visited",
		OccurredAt:  time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.PublishVisitCreated(context.Background(), ev))

	assert.Equal(t, "application/json", sent.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), sent.DeliveryMode)
	assert.Equal(t, "v1", sent.MessageId)
	assert.Equal(t, "visit.created", sent.Type)

	var got VisitCreated
	require.NoError(t, json.Unmarshal(sent.Body, &got))
	assert.Equal(t, ev, got)
}

func TestPublishVisitCreated_WrapsBrokerError(t *testing.T) {
	ch := new(mockChannel)
	ch.On("ExchangeDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("channel closed"))

	p, err := NewAMQPPublisher(ch, "ex.visits", "visit.created")
	require.NoError(t, err)

	err = p.PublishVisitCreated(context.Background(), VisitCreated{VisitID: "v1"})
	assert.ErrorContains(t, err, "publish visit.created")
	assert.ErrorContains(t, err, "channel closed")
}

func TestClose_ClosesChannel(t *testing.T) {
	ch := new(mockChannel)
	ch.On("ExchangeDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ch.On("Close").Return(nil)

	p, err := NewAMQPPublisher(ch, "ex.visits", "visit.created")
	require.NoError(t, err)
	assert.NoError(t, p.Close())
	ch.AssertCalled(t, "Close")
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.PublishVisitCreated(context.Background(), VisitCreated{}))
	assert.NoError(t, p.Close())
}

func TestPublishVisitCreated_PropagatesTraceContext(t *testing.T) {
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ch := new(mockChannel)
	ch.On("ExchangeDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	var sent amqp.Publishing
	ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(2).(amqp.Publishing) }).
		Return(nil)

	p, err := NewAMQPPublisher(ch, "ex.visits", "visit.created")
	require.NoError(t, err)

	ctx, span := tp.Tracer("test").Start(context.Background(), "submit visit")
	defer span.End()
	require.NoError(t, p.PublishVisitCreated(ctx, VisitCreated{VisitID: "v1"}))

	tp1, ok := sent.Headers["traceparent"].(string)
	require.True(t, ok, "traceparent header missing")
	assert.Contains(t, tp1, span.SpanContext().TraceID().String())
}
