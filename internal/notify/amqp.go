// Package notify publishes order lifecycle events to a RabbitMQ topic
// exchange. Delivery is fire-and-forget: a broker outage degrades the store
// to silence, never to failed checkouts.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/paperleaf/bookstore/internal/domain/order"
)

// Routing keys, one per lifecycle event.
const (
	routingOrderCreated = "order.created"
	routingOrderUpdated = "order.updated"
	routingOrderDeleted = "order.deleted"
)

var _ order.EventPublisher = (*AMQPPublisher)(nil)

// AMQPPublisher sends order events to a durable topic exchange.
type AMQPPublisher struct {
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}
	return &AMQPPublisher{
		exchange: exchange,
		conn:     conn,
		channel:  channel,
	}, nil
}

// Close shuts down the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		_ = p.conn.Close()
		return errors.Wrap(err, "close channel")
	}
	return p.conn.Close()
}

// OrderCreated publishes an order.created event.
func (p *AMQPPublisher) OrderCreated(ctx context.Context, o *order.Order) {
	p.publish(ctx, routingOrderCreated, encodeOrderEvent(o))
}

// OrderUpdated publishes an order.updated event.
func (p *AMQPPublisher) OrderUpdated(ctx context.Context, o *order.Order) {
	p.publish(ctx, routingOrderUpdated, encodeOrderEvent(o))
}

// OrderDeleted publishes an order.deleted event.
func (p *AMQPPublisher) OrderDeleted(ctx context.Context, orderID string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(orderID)
	e.ObjEnd()
	p.publish(ctx, routingOrderDeleted, e.Bytes())
}

func (p *AMQPPublisher) publish(ctx context.Context, routingKey string, body []byte) {
	lg := zctx.From(ctx)
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		err := p.channel.Publish(p.exchange, routingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		})
		if err != nil {
			lg.Warn("event publish failed",
				zap.String("routing_key", routingKey),
				zap.Error(err),
			)
			return
		}
		lg.Debug("event published", zap.String("routing_key", routingKey))
	}()
}

func encodeOrderEvent(o *order.Order) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(o.ID)
	if o.CustomerID != "" {
		e.FieldStart("customer_id")
		e.Str(o.CustomerID)
	}
	e.FieldStart("status")
	e.Str(string(o.CurrentStatus()))
	e.FieldStart("total")
	e.Str(o.Total.String())
	e.FieldStart("net_amount")
	e.Str(o.NetAmount.String())
	e.FieldStart("due")
	e.Str(o.Due.String())
	e.FieldStart("items")
	e.ArrStart()
	for _, item := range o.Items {
		e.ObjStart()
		e.FieldStart("book_id")
		e.Str(item.BookID)
		e.FieldStart("quantity")
		e.Int(item.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}
