// Package callback turns payment gateway notifications delivered over the
// message broker into placed orders. The gateway's invoice reference becomes
// the order ID and the transaction ID, so a redelivered notification is
// rejected as a duplicate instead of producing a second order.
package callback

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/paperleaf/bookstore/internal/domain/order"
)

// routingPaymentCaptured is the routing key gateways publish successful
// captures under.
const routingPaymentCaptured = "payment.captured"

// OrderPlacer places orders from captured payments.
type OrderPlacer interface {
	CreateOrder(ctx context.Context, req order.CreateOrderRequest) (*order.Order, error)
}

// Consumer reads payment capture notifications from a durable queue and
// places the corresponding orders.
type Consumer struct {
	queue  string
	placer OrderPlacer

	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewConsumer dials the broker, declares the queue, and binds it to the
// exchange under the payment capture routing key.
func NewConsumer(url, exchange, queue string, placer OrderPlacer) (*Consumer, error) {
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
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "declare queue")
	}
	if err := channel.QueueBind(queue, routingPaymentCaptured, exchange, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "bind queue")
	}
	return &Consumer{
		queue:   queue,
		placer:  placer,
		conn:    conn,
		channel: channel,
	}, nil
}

// Close shuts down the channel and connection.
func (c *Consumer) Close() error {
	if err := c.channel.Close(); err != nil {
		_ = c.conn.Close()
		return errors.Wrap(err, "close channel")
	}
	return c.conn.Close()
}

// Run consumes notifications until ctx is cancelled. Successfully placed and
// duplicate orders are acked; undecodable messages are rejected; transient
// failures are nacked for redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "consume")
	}

	lg := zctx.From(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, lg, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, lg *zap.Logger, d amqp.Delivery) {
	o, err := c.place(ctx, d.Body)
	switch {
	case err == nil:
		lg.Info("order placed from payment capture", zap.String("order_id", o.ID))
		_ = d.Ack(false)
	case isDuplicate(err):
		lg.Info("payment capture already processed")
		_ = d.Ack(false)
	case isMalformed(err):
		lg.Warn("discarding malformed payment capture", zap.Error(err))
		_ = d.Reject(false)
	default:
		lg.Error("payment capture failed, requeueing", zap.Error(err))
		_ = d.Nack(false, true)
	}
}

// paymentNotice is the wire format of a captured payment.
type paymentNotice struct {
	TransactionID string
	GatewayID     string
	Amount        decimal.Decimal
	CustomerID    string
	Items         []noticeItem
	AddressID     string
	CourierID     string
	CouponCode    string
}

type noticeItem struct {
	BookID   string
	Quantity int
}

func decodeNotice(body []byte) (paymentNotice, error) {
	var n paymentNotice
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "transaction_id":
			n.TransactionID, err = d.Str()
		case "gateway_id":
			n.GatewayID, err = d.Str()
		case "amount":
			n.Amount, err = decodeAmount(d)
		case "customer_id":
			n.CustomerID, err = d.Str()
		case "address_id":
			n.AddressID, err = d.Str()
		case "courier_id":
			n.CourierID, err = d.Str()
		case "coupon_code":
			n.CouponCode, err = d.Str()
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var item noticeItem
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "book_id":
						item.BookID, err = d.Str()
					case "quantity":
						item.Quantity, err = d.Int()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				n.Items = append(n.Items, item)
				return nil
			})
		default:
			err = d.Skip()
		}
		return err
	})
	return n, err
}

// decodeAmount accepts both quoted and bare numbers; gateways disagree on
// which one they send.
func decodeAmount(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	}
	num, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(num.String())
}

type malformedError struct {
	err error
}

func (e *malformedError) Error() string { return e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }

func (c *Consumer) place(ctx context.Context, body []byte) (*order.Order, error) {
	n, err := decodeNotice(body)
	if err != nil {
		return nil, &malformedError{err: errors.Wrap(err, "decode payment capture")}
	}
	if n.TransactionID == "" {
		return nil, &malformedError{err: errors.New("payment capture has no transaction id")}
	}

	req := order.CreateOrderRequest{
		OrderID:    n.TransactionID,
		CustomerID: n.CustomerID,
		AddressID:  n.AddressID,
		CourierID:  n.CourierID,
		CouponCode: n.CouponCode,
		Transactions: []order.TransactionRequest{{
			TransactionID: n.TransactionID,
			GatewayID:     n.GatewayID,
			Amount:        n.Amount,
		}},
	}
	for _, item := range n.Items {
		req.Items = append(req.Items, order.ItemRequest{BookID: item.BookID, Quantity: item.Quantity})
	}

	return c.placer.CreateOrder(ctx, req)
}

func isDuplicate(err error) bool {
	var dup *order.DuplicateTransactionError
	return errors.As(err, &dup)
}

func isMalformed(err error) bool {
	var malformed *malformedError
	return errors.As(err, &malformed) || errors.Is(err, order.ErrEmptyOrder)
}
