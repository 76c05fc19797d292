package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/go-storefront-api/internal/model"
)

type recordingChannel struct {
	exchange, key string
	msg           amqp.Publishing
	err           error
}

func (c *recordingChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.msg = exchange, key, msg
	return c.err
}

func TestAMQPPublisher_Publish(t *testing.T) {
	ch := &recordingChannel{}
	order := &model.Order{
		ID: uuid.New(), UserID: uuid.New(), Status: model.OrderStatusPaid,
		TotalAmount: decimal.RequireFromString("20.00"),
	}
	e := NewOrderEvent(OrderPaid, order)
	e.PaymentID = "mock_payment_1"

	require.NoError(t, NewAMQPPublisher(ch).Publish(context.Background(), e))

	assert.Equal(t, Exchange, ch.exchange)
	assert.Equal(t, "order.paid", ch.key)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	assert.Equal(t, e.ID.String(), ch.msg.MessageId)

	var decoded OrderEvent
	require.NoError(t, json.Unmarshal(ch.msg.Body, &decoded))
	assert.Equal(t, order.ID, decoded.OrderID)
	assert.Equal(t, "PAID", decoded.Status)
	assert.True(t, decoded.TotalAmount.Equal(order.TotalAmount))
	assert.Equal(t, "mock_payment_1", decoded.PaymentID)
}

func TestAMQPPublisher_PublishError(t *testing.T) {
	ch := &recordingChannel{err: errors.New("channel closed")}
	err := NewAMQPPublisher(ch).Publish(context.Background(), NewOrderEvent(OrderCreated, &model.Order{ID: uuid.New()}))
	assert.ErrorContains(t, err, "publish order.created")
}
