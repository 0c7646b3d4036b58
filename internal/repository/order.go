package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperleaf/bookstore/internal/domain/coupon"
	"github.com/paperleaf/bookstore/internal/domain/order"
	"github.com/paperleaf/bookstore/internal/domain/shipping"
)

const (
	createOrderSQL = `INSERT INTO orders (id, customer_id, address, courier_id, coupon_id, coupon_code,
		old_book_total, new_book_total, shipping_charge, weight_charge, discount,
		total, net_amount, paid, due, refunded,
		shipping_cost, additional_cost, cost_of_goods_old, cost_of_goods_new, gross_profit,
		payment_reversed, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
		$17, $18, $19, $20, $21, $22, $23)`

	getOrderByIDSQL = `SELECT id, customer_id, address, courier_id, coupon_id, coupon_code,
		old_book_total, new_book_total, shipping_charge, weight_charge, discount,
		total, net_amount, paid, due, refunded,
		shipping_cost, additional_cost, cost_of_goods_old, cost_of_goods_new, gross_profit,
		payment_reversed, created_at
	FROM orders WHERE id = $1`

	updateOrderTotalsSQL = `UPDATE orders SET address = $2, courier_id = $3, coupon_id = $4, coupon_code = $5,
		old_book_total = $6, new_book_total = $7, shipping_charge = $8, weight_charge = $9, discount = $10,
		total = $11, net_amount = $12, paid = $13, due = $14, refunded = $15,
		shipping_cost = $16, additional_cost = $17, cost_of_goods_old = $18, cost_of_goods_new = $19,
		gross_profit = $20, payment_reversed = $21
	WHERE id = $1`

	insertOrderItemSQL = `INSERT INTO order_items (order_id, book_id, title, regular_price, sold_price,
		cost_price, quantity, is_used, weight_kg)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	deleteOrderItemsSQL = `DELETE FROM order_items WHERE order_id = $1`

	getOrderItemsSQL = `SELECT book_id, title, regular_price, sold_price, cost_price, quantity, is_used, weight_kg
	FROM order_items WHERE order_id = $1 ORDER BY id`

	insertStatusSQL = `INSERT INTO order_status_history (order_id, status, at) VALUES ($1, $2, $3)`

	getStatusHistorySQL = `SELECT status, at FROM order_status_history WHERE order_id = $1 ORDER BY id`

	insertTransactionSQL = `INSERT INTO transactions (id, order_id, transaction_id, gateway_id, amount, is_refund, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	getTransactionsSQL = `SELECT id, transaction_id, gateway_id, amount, is_refund, created_at
	FROM transactions WHERE order_id = $1 ORDER BY created_at, id`

	transactionExistsSQL = `SELECT EXISTS (SELECT 1 FROM transactions WHERE transaction_id = $1)`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	countCouponUsesSQL = `SELECT COUNT(*) FROM orders WHERE coupon_id = $1`

	countUserCouponUsesSQL = `SELECT COUNT(*) FROM orders WHERE coupon_id = $1 AND customer_id = $2`
)

var (
	_ order.Repository   = (*OrderRepository)(nil)
	_ coupon.UsageReader = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository backed by PostgreSQL. The
// aggregate spans four tables: the orders row plus its items, status history,
// and transactions. It also serves as the coupon usage reader, since
// redemption counts are derived from persisted orders.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the whole order aggregate. The delivery address is stored
// as a JSONB snapshot on the order row.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	db := dbFrom(ctx, r.pool)

	addr, err := marshalAddress(o.Address)
	if err != nil {
		return err
	}

	_, err = db.Exec(ctx, createOrderSQL,
		o.ID, o.CustomerID, addr, o.CourierID, o.CouponID, o.CouponCode,
		o.OldBookTotal, o.NewBookTotal, o.ShippingCharge, o.WeightCharge, o.Discount,
		o.Total, o.NetAmount, o.Paid, o.Due, o.Refunded,
		o.ShippingCost, o.AdditionalCost, o.CostOfGoodsOld, o.CostOfGoodsNew, o.GrossProfit,
		o.PaymentReversed, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	if err := r.insertItems(ctx, o.ID, o.Items); err != nil {
		return err
	}
	for _, entry := range o.StatusHistory {
		if _, err := db.Exec(ctx, insertStatusSQL, o.ID, entry.Status, entry.At); err != nil {
			return fmt.Errorf("recording status for order %q: %w", o.ID, err)
		}
	}
	for _, t := range o.Transactions {
		if err := r.AddTransaction(ctx, o.ID, t); err != nil {
			return err
		}
	}
	return nil
}

// GetByID loads the full order aggregate.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	db := dbFrom(ctx, r.pool)

	var (
		o    order.Order
		addr []byte
	)
	err := db.QueryRow(ctx, getOrderByIDSQL, id).Scan(
		&o.ID, &o.CustomerID, &addr, &o.CourierID, &o.CouponID, &o.CouponCode,
		&o.OldBookTotal, &o.NewBookTotal, &o.ShippingCharge, &o.WeightCharge, &o.Discount,
		&o.Total, &o.NetAmount, &o.Paid, &o.Due, &o.Refunded,
		&o.ShippingCost, &o.AdditionalCost, &o.CostOfGoodsOld, &o.CostOfGoodsNew, &o.GrossProfit,
		&o.PaymentReversed, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	if len(addr) > 0 {
		var a shipping.Address
		if err := json.Unmarshal(addr, &a); err != nil {
			return nil, fmt.Errorf("decoding address of order %q: %w", id, err)
		}
		o.Address = &a
	}

	rows, err := db.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}

	rows, err = db.Query(ctx, getStatusHistorySQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting status history of order %q: %w", id, err)
	}
	o.StatusHistory, err = pgx.CollectRows(rows, scanStatusEntry)
	if err != nil {
		return nil, fmt.Errorf("getting status history of order %q: %w", id, err)
	}

	rows, err = db.Query(ctx, getTransactionsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting transactions of order %q: %w", id, err)
	}
	o.Transactions, err = pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return nil, fmt.Errorf("getting transactions of order %q: %w", id, err)
	}

	return &o, nil
}

// UpdateTotals writes the order row's mutable columns. Items, status history
// and transactions have their own operations.
func (r *OrderRepository) UpdateTotals(ctx context.Context, o *order.Order) error {
	addr, err := marshalAddress(o.Address)
	if err != nil {
		return err
	}

	tag, err := dbFrom(ctx, r.pool).Exec(ctx, updateOrderTotalsSQL,
		o.ID, addr, o.CourierID, o.CouponID, o.CouponCode,
		o.OldBookTotal, o.NewBookTotal, o.ShippingCharge, o.WeightCharge, o.Discount,
		o.Total, o.NetAmount, o.Paid, o.Due, o.Refunded,
		o.ShippingCost, o.AdditionalCost, o.CostOfGoodsOld, o.CostOfGoodsNew, o.GrossProfit,
		o.PaymentReversed,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// ReplaceItems swaps the order's line-up as a set.
func (r *OrderRepository) ReplaceItems(ctx context.Context, orderID string, items []order.Item) error {
	if _, err := dbFrom(ctx, r.pool).Exec(ctx, deleteOrderItemsSQL, orderID); err != nil {
		return fmt.Errorf("clearing items of order %q: %w", orderID, err)
	}
	return r.insertItems(ctx, orderID, items)
}

// AppendStatus records one status history row.
func (r *OrderRepository) AppendStatus(ctx context.Context, orderID string, entry order.StatusEntry) error {
	_, err := dbFrom(ctx, r.pool).Exec(ctx, insertStatusSQL, orderID, entry.Status, entry.At)
	if err != nil {
		return fmt.Errorf("recording status for order %q: %w", orderID, err)
	}
	return nil
}

// AddTransaction records one payment or refund row.
func (r *OrderRepository) AddTransaction(ctx context.Context, orderID string, t order.Transaction) error {
	_, err := dbFrom(ctx, r.pool).Exec(ctx, insertTransactionSQL,
		t.ID, orderID, t.TransactionID, t.GatewayID, t.Amount, t.IsRefund, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording transaction %q: %w", t.TransactionID, err)
	}
	return nil
}

// TransactionExists reports whether a gateway transaction ID was already
// recorded against any order.
func (r *OrderRepository) TransactionExists(ctx context.Context, transactionID string) (bool, error) {
	var exists bool
	err := dbFrom(ctx, r.pool).QueryRow(ctx, transactionExistsSQL, transactionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking transaction %q: %w", transactionID, err)
	}
	return exists, nil
}

// Delete removes the order; items, status history and transactions cascade.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	tag, err := dbFrom(ctx, r.pool).Exec(ctx, deleteOrderSQL, id)
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// CountUses returns how many orders redeemed the coupon.
func (r *OrderRepository) CountUses(ctx context.Context, couponID string) (int, error) {
	var n int
	err := dbFrom(ctx, r.pool).QueryRow(ctx, countCouponUsesSQL, couponID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting uses of coupon %q: %w", couponID, err)
	}
	return n, nil
}

// CountUserUses returns how many orders of one customer redeemed the coupon.
func (r *OrderRepository) CountUserUses(ctx context.Context, couponID, customerID string) (int, error) {
	var n int
	err := dbFrom(ctx, r.pool).QueryRow(ctx, countUserCouponUsesSQL, couponID, customerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting uses of coupon %q: %w", couponID, err)
	}
	return n, nil
}

func (r *OrderRepository) insertItems(ctx context.Context, orderID string, items []order.Item) error {
	db := dbFrom(ctx, r.pool)
	for _, item := range items {
		_, err := db.Exec(ctx, insertOrderItemSQL,
			orderID, item.BookID, item.Title, item.RegularPrice, item.SoldPrice,
			item.CostPrice, item.Quantity, item.IsUsed, item.WeightKG,
		)
		if err != nil {
			return fmt.Errorf("recording item %q of order %q: %w", item.BookID, orderID, err)
		}
	}
	return nil
}

func marshalAddress(a *shipping.Address) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encoding address: %w", err)
	}
	return data, nil
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var item order.Item
	err := row.Scan(
		&item.BookID, &item.Title, &item.RegularPrice, &item.SoldPrice,
		&item.CostPrice, &item.Quantity, &item.IsUsed, &item.WeightKG,
	)
	return item, err
}

func scanStatusEntry(row pgx.CollectableRow) (order.StatusEntry, error) {
	var entry order.StatusEntry
	err := row.Scan(&entry.Status, &entry.At)
	return entry, err
}

func scanTransaction(row pgx.CollectableRow) (order.Transaction, error) {
	var t order.Transaction
	err := row.Scan(&t.ID, &t.TransactionID, &t.GatewayID, &t.Amount, &t.IsRefund, &t.CreatedAt)
	return t, err
}
