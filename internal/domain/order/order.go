package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/paperleaf/bookstore/internal/domain/shipping"
)

var (
	// ErrNotFound is returned when a referenced order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrEmptyOrder is returned when an order is created without items.
	ErrEmptyOrder = errors.New("order must contain at least one item")
)

// DuplicateTransactionError indicates a replayed gateway transaction ID.
type DuplicateTransactionError struct {
	TransactionID string
}

func (e *DuplicateTransactionError) Error() string {
	return fmt.Sprintf("transaction %s is already recorded", e.TransactionID)
}

// InvalidStatusTransitionError indicates a status change the order state
// machine does not permit.
type InvalidStatusTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("order status cannot change from %s to %s", e.From, e.To)
}

// Status is an order's fulfilment state. Orders move
// pending → processing → on_delivery → delivered, with cancelled reachable
// from any non-terminal state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusOnDelivery Status = "on_delivery"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// CanTransitionTo reports whether the state machine permits moving from s to
// next. Self-transitions are not transitions; delivered and cancelled are
// terminal.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusOnDelivery ||
			next == StatusDelivered || next == StatusCancelled
	case StatusProcessing:
		return next == StatusOnDelivery || next == StatusDelivered || next == StatusCancelled
	case StatusOnDelivery:
		return next == StatusDelivered || next == StatusCancelled
	default:
		return false
	}
}

// StatusEntry is one row of the append-only status history.
type StatusEntry struct {
	Status Status
	At     time.Time
}

// Item is an order line. Prices and condition are snapshots captured when
// the line is added; they are never recomputed from the catalog afterwards.
type Item struct {
	BookID       string
	Title        string
	RegularPrice decimal.Decimal
	SoldPrice    decimal.Decimal
	CostPrice    decimal.Decimal
	Quantity     int
	IsUsed       bool
	WeightKG     decimal.Decimal
}

// LineTotal returns quantity * sold price.
func (i Item) LineTotal() decimal.Decimal {
	return i.SoldPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Transaction is a recorded payment or refund against an order.
type Transaction struct {
	ID            string
	TransactionID string
	GatewayID     string
	Amount        decimal.Decimal
	IsRefund      bool
	CreatedAt     time.Time
}

// Order is the priced, stock-adjusted aggregate the checkout engine builds.
type Order struct {
	ID         string
	CustomerID string

	Items         []Item
	Address       *shipping.Address
	CourierID     string
	CouponID      string
	CouponCode    string
	Transactions  []Transaction
	StatusHistory []StatusEntry

	OldBookTotal   decimal.Decimal
	NewBookTotal   decimal.Decimal
	ShippingCharge decimal.Decimal
	WeightCharge   decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
	NetAmount      decimal.Decimal
	Paid           decimal.Decimal
	Due            decimal.Decimal
	Refunded       decimal.Decimal

	// ShippingCost and AdditionalCost are the store's own fulfilment costs,
	// entered by staff; they feed gross profit, not the customer's total.
	ShippingCost    decimal.Decimal
	AdditionalCost  decimal.Decimal
	CostOfGoodsOld  decimal.Decimal
	CostOfGoodsNew  decimal.Decimal
	GrossProfit     decimal.Decimal
	PaymentReversed bool

	CreatedAt time.Time
}

// CurrentStatus returns the latest status history entry, or pending for an
// order with no history yet.
func (o *Order) CurrentStatus() Status {
	if len(o.StatusHistory) == 0 {
		return StatusPending
	}
	return o.StatusHistory[len(o.StatusHistory)-1].Status
}

// appendStatus pushes a new history entry only when the status actually
// changes; the history is never rewritten.
func (o *Order) appendStatus(s Status, at time.Time) bool {
	if len(o.StatusHistory) > 0 && o.CurrentStatus() == s {
		return false
	}
	o.StatusHistory = append(o.StatusHistory, StatusEntry{Status: s, At: at})
	return true
}

// recalcTotals recomputes every derived monetary field from its inputs.
func (o *Order) recalcTotals() {
	o.OldBookTotal = decimal.Zero
	o.NewBookTotal = decimal.Zero
	o.CostOfGoodsOld = decimal.Zero
	o.CostOfGoodsNew = decimal.Zero
	for _, item := range o.Items {
		qty := decimal.NewFromInt(int64(item.Quantity))
		if item.IsUsed {
			o.OldBookTotal = o.OldBookTotal.Add(item.LineTotal())
			o.CostOfGoodsOld = o.CostOfGoodsOld.Add(item.CostPrice.Mul(qty))
		} else {
			o.NewBookTotal = o.NewBookTotal.Add(item.LineTotal())
			o.CostOfGoodsNew = o.CostOfGoodsNew.Add(item.CostPrice.Mul(qty))
		}
	}

	o.Total = o.OldBookTotal.Add(o.NewBookTotal).Add(o.ShippingCharge).Add(o.WeightCharge)
	o.NetAmount = o.Total.Sub(o.Discount)

	o.Paid = decimal.Zero
	o.Refunded = decimal.Zero
	for _, t := range o.Transactions {
		if t.IsRefund {
			o.Refunded = o.Refunded.Add(t.Amount)
		} else {
			o.Paid = o.Paid.Add(t.Amount)
		}
	}

	o.Due = o.NetAmount.Sub(o.Paid)
	if o.Due.IsNegative() {
		o.Due = decimal.Zero
	}

	o.GrossProfit = o.NetAmount.
		Sub(o.CostOfGoodsOld).
		Sub(o.CostOfGoodsNew).
		Sub(o.ShippingCost).
		Sub(o.AdditionalCost)
}

// reservedQuantities returns the per-book quantities this order holds.
func (o *Order) reservedQuantities() map[string]int {
	reserved := make(map[string]int, len(o.Items))
	for _, item := range o.Items {
		reserved[item.BookID] += item.Quantity
	}
	return reserved
}

// Repository defines persistence for the order aggregate. Status entries and
// transactions are append-only rows; items are replaced as a set when the
// order's line-up changes.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	UpdateTotals(ctx context.Context, o *Order) error
	ReplaceItems(ctx context.Context, orderID string, items []Item) error
	AppendStatus(ctx context.Context, orderID string, entry StatusEntry) error
	AddTransaction(ctx context.Context, orderID string, t Transaction) error
	TransactionExists(ctx context.Context, transactionID string) (bool, error)
	Delete(ctx context.Context, id string) error
}
