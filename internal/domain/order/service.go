package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/paperleaf/bookstore/internal/domain/book"
	"github.com/paperleaf/bookstore/internal/domain/coupon"
	"github.com/paperleaf/bookstore/internal/domain/inventory"
	"github.com/paperleaf/bookstore/internal/domain/payment"
	"github.com/paperleaf/bookstore/internal/domain/shipping"
)

// TxRunner executes fn inside a single database transaction. Repository
// calls made with the ctx passed to fn join that transaction; any error
// rolls everything back.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventPublisher receives order lifecycle events. Implementations must be
// fire-and-forget: the checkout flow never waits on delivery.
type EventPublisher interface {
	OrderCreated(ctx context.Context, o *Order)
	OrderUpdated(ctx context.Context, o *Order)
	OrderDeleted(ctx context.Context, orderID string)
}

// Config carries the store-level settings the engine needs. The values come
// from the service configuration, not from any global state.
type Config struct {
	AdminEmail   string
	StoreBaseURL string
	Currency     string
}

// Deps bundles the collaborators of the order service.
type Deps struct {
	Books     book.Repository
	Couriers  shipping.CourierRepository
	Addresses shipping.AddressRepository
	Coupons   coupon.Repository
	Gateways  payment.Repository
	Orders    Repository
	Evaluator *coupon.Evaluator
	Tx        TxRunner
	Events    EventPublisher

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Service assembles priced, stock-adjusted orders. It orchestrates inventory
// reservation, shipping calculation, coupon evaluation, and transaction
// recording inside one unit of work per operation.
type Service struct {
	cfg  Config
	deps Deps

	validate     *validator.Validate
	tracer       trace.Tracer
	placedOrders metric.Int64Counter

	now   func() time.Time
	newID func() string
}

// NewService creates the order service.
func NewService(cfg Config, deps Deps) (*Service, error) {
	tp := deps.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := deps.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	placed, err := mp.Meter("bookstore.checkout").Int64Counter("orders_placed_total",
		metric.WithDescription("Number of orders persisted by the checkout engine"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create orders counter")
	}

	return &Service{
		cfg:          cfg,
		deps:         deps,
		validate:     validator.New(),
		tracer:       tp.Tracer("bookstore.checkout"),
		placedOrders: placed,
		now:          time.Now,
		newID:        uuid.NewString,
	}, nil
}

// ItemRequest is one requested order line.
type ItemRequest struct {
	BookID   string `validate:"required"`
	Quantity int    `validate:"min=1"`
}

// TransactionRequest records a payment (or refund) supplied with an order.
type TransactionRequest struct {
	TransactionID string `validate:"required"`
	GatewayID     string `validate:"required"`
	Amount        decimal.Decimal
	IsRefund      bool
}

// CreateOrderRequest holds the input for creating an order. OrderID is
// optional; the payment callback supplies the gateway's invoice reference as
// an idempotency key, everyone else gets a generated ID.
type CreateOrderRequest struct {
	OrderID    string
	CustomerID string

	Items []ItemRequest `validate:"dive"`

	AddressID string
	Address   *shipping.Address
	CourierID string

	CouponCode   string
	Transactions []TransactionRequest `validate:"dive"`

	ShippingCost   decimal.Decimal
	AdditionalCost decimal.Decimal
}

// UpdateOrderRequest is a partial order update; nil fields leave the
// corresponding part of the order untouched.
type UpdateOrderRequest struct {
	Items          *[]ItemRequest `validate:"omitempty,dive"`
	AddressID      *string
	CourierID      *string
	Status         *Status
	Transaction    *TransactionRequest
	ShippingCost   *decimal.Decimal
	AdditionalCost *decimal.Decimal
}

// CreateOrder builds, prices, and atomically persists a new order: stock is
// reserved per item, shipping and coupon rules applied, supplied transactions
// recorded. Either the whole aggregate commits or nothing does.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.create")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.Wrap(err, "invalid order payload")
	}

	var o *Order
	err := s.deps.Tx.WithinTx(ctx, func(ctx context.Context) error {
		assembled, err := s.assemble(ctx, req, true)
		if err != nil {
			return err
		}
		if err := s.deps.Orders.Create(ctx, assembled); err != nil {
			return errors.Wrap(err, "create order")
		}
		o = assembled
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.placedOrders.Add(ctx, 1)
	zctx.From(ctx).Info("order created",
		zap.String("order_id", o.ID),
		zap.String("status", string(o.CurrentStatus())),
	)
	s.deps.Events.OrderCreated(ctx, o)
	return o, nil
}

// CheckoutSummary prices an order exactly like CreateOrder but commits
// nothing: stock counters are checked against in-memory copies and no row
// is written. Calling it any number of times leaves the store unchanged.
func (s *Service) CheckoutSummary(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.checkout_summary")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, ErrEmptyOrder
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.Wrap(err, "invalid order payload")
	}

	o, err := s.assemble(ctx, req, false)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return o, nil
}

// assemble runs the pricing pipeline. With commit=true it locks book rows and
// persists stock decrements; with commit=false it works on fetched copies.
func (s *Service) assemble(ctx context.Context, req CreateOrderRequest, commit bool) (*Order, error) {
	items := mergeItems(req.Items)

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.BookID
	}

	var (
		fetched []book.Book
		err     error
	)
	if commit {
		fetched, err = s.deps.Books.LockByIDs(ctx, ids)
	} else {
		fetched, err = s.deps.Books.GetByIDs(ctx, ids)
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetch books")
	}

	byID := make(map[string]*book.Book, len(fetched))
	for i := range fetched {
		byID[fetched[i].ID] = &fetched[i]
	}

	now := s.now()
	o := &Order{
		ID:             req.OrderID,
		CustomerID:     req.CustomerID,
		CourierID:      req.CourierID,
		ShippingCost:   req.ShippingCost,
		AdditionalCost: req.AdditionalCost,
		CreatedAt:      now,
	}
	if o.ID == "" {
		o.ID = s.newID()
	}

	// Reserve stock and capture price snapshots.
	for _, item := range items {
		b, ok := byID[item.BookID]
		if !ok {
			return nil, errors.Wrapf(book.ErrNotFound, "book %s", item.BookID)
		}
		if err := inventory.Reserve(b, item.Quantity); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, Item{
			BookID:       b.ID,
			Title:        b.Title,
			RegularPrice: b.RegularPrice,
			SoldPrice:    b.SalePrice,
			CostPrice:    b.CostPrice,
			Quantity:     item.Quantity,
			IsUsed:       b.IsUsed(),
			WeightKG:     b.WeightKG,
		})
	}
	if commit {
		if err := s.persistStock(ctx, byID); err != nil {
			return nil, err
		}
	}

	// Record supplied transactions before shipping: the cash-on-delivery gate
	// depends on how much of the order is already paid.
	seen := make(map[string]struct{}, len(req.Transactions))
	for _, treq := range req.Transactions {
		if _, dup := seen[treq.TransactionID]; dup {
			return nil, &DuplicateTransactionError{TransactionID: treq.TransactionID}
		}
		seen[treq.TransactionID] = struct{}{}

		t, err := s.resolveTransaction(ctx, treq, now)
		if err != nil {
			return nil, err
		}
		o.Transactions = append(o.Transactions, t)
	}

	addr, err := s.resolveAddress(ctx, req.AddressID, req.Address)
	if err != nil {
		return nil, err
	}
	o.Address = addr

	// Establishes Paid before shipping: the cash-on-delivery gate needs it.
	o.recalcTotals()
	if err := s.repriceShipping(ctx, o); err != nil {
		return nil, err
	}

	if req.CouponCode != "" {
		rule, err := s.deps.Coupons.GetByCode(ctx, req.CouponCode)
		if err != nil {
			return nil, errors.Wrapf(err, "coupon %s", req.CouponCode)
		}
		result, err := s.deps.Evaluator.Apply(ctx, rule, coupon.ApplyRequest{
			Items:          couponItems(o.Items, byID),
			ShippingCharge: o.ShippingCharge,
			CustomerID:     req.CustomerID,
			CourierID:      req.CourierID,
			NewOrder:       true,
		})
		if err != nil {
			return nil, err
		}
		o.CouponID = rule.ID
		o.CouponCode = rule.Code
		o.Discount = result.Discount
		o.ShippingCharge = result.ShippingCharge
	}

	o.recalcTotals()

	initial := StatusPending
	if o.Paid.IsPositive() {
		initial = StatusProcessing
	}
	o.appendStatus(initial, now)

	return o, nil
}

// UpdateOrder applies a partial update. Each supplied field triggers only its
// own recomputation branch; all derived totals whose inputs changed are
// recalculated and the whole change commits atomically.
func (s *Service) UpdateOrder(ctx context.Context, id string, req UpdateOrderRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.update")
	defer span.End()

	if err := s.validate.Struct(req); err != nil {
		return nil, errors.Wrap(err, "invalid order payload")
	}

	var o *Order
	err := s.deps.Tx.WithinTx(ctx, func(ctx context.Context) error {
		loaded, err := s.deps.Orders.GetByID(ctx, id)
		if err != nil {
			return errors.Wrapf(err, "order %s", id)
		}
		o = loaded
		now := s.now()

		itemsChanged := req.Items != nil
		if itemsChanged {
			if len(*req.Items) == 0 {
				return ErrEmptyOrder
			}
			if err := s.reconcileItems(ctx, o, mergeItems(*req.Items)); err != nil {
				return err
			}
			if err := s.deps.Orders.ReplaceItems(ctx, o.ID, o.Items); err != nil {
				return errors.Wrap(err, "replace items")
			}
		}

		routeChanged, err := s.applyRouteChange(ctx, o, req)
		if err != nil {
			return err
		}

		if itemsChanged || routeChanged {
			if err := s.repriceShipping(ctx, o); err != nil {
				return err
			}
			if o.CouponID != "" {
				if err := s.reapplyCoupon(ctx, o); err != nil {
					return err
				}
			}
		}

		if req.Transaction != nil {
			t, err := s.resolveTransaction(ctx, *req.Transaction, now)
			if err != nil {
				return err
			}
			if err := s.deps.Orders.AddTransaction(ctx, o.ID, t); err != nil {
				return errors.Wrap(err, "add transaction")
			}
			o.Transactions = append(o.Transactions, t)
		}

		if req.ShippingCost != nil {
			o.ShippingCost = *req.ShippingCost
		}
		if req.AdditionalCost != nil {
			o.AdditionalCost = *req.AdditionalCost
		}

		o.recalcTotals()

		if req.Status != nil && *req.Status != o.CurrentStatus() {
			if !o.CurrentStatus().CanTransitionTo(*req.Status) {
				return &InvalidStatusTransitionError{From: o.CurrentStatus(), To: *req.Status}
			}
			o.appendStatus(*req.Status, now)
			entry := o.StatusHistory[len(o.StatusHistory)-1]
			if err := s.deps.Orders.AppendStatus(ctx, o.ID, entry); err != nil {
				return errors.Wrap(err, "append status")
			}
		}

		if err := s.deps.Orders.UpdateTotals(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.deps.Events.OrderUpdated(ctx, o)
	return o, nil
}

// DeleteOrder removes an order and its transactions in one transaction,
// optionally restocking every reserved item exactly once.
func (s *Service) DeleteOrder(ctx context.Context, id string, restock bool) error {
	ctx, span := s.tracer.Start(ctx, "order.delete")
	defer span.End()

	err := s.deps.Tx.WithinTx(ctx, func(ctx context.Context) error {
		o, err := s.deps.Orders.GetByID(ctx, id)
		if err != nil {
			return errors.Wrapf(err, "order %s", id)
		}

		if restock {
			reserved := o.reservedQuantities()
			ids := make([]string, 0, len(reserved))
			for bookID := range reserved {
				ids = append(ids, bookID)
			}
			locked, err := s.deps.Books.LockByIDs(ctx, ids)
			if err != nil {
				return errors.Wrap(err, "lock books")
			}
			byID := make(map[string]*book.Book, len(locked))
			for i := range locked {
				byID[locked[i].ID] = &locked[i]
			}
			for bookID, qty := range reserved {
				b, ok := byID[bookID]
				if !ok {
					continue // book removed from catalog since the order
				}
				if err := inventory.Restock(b, qty); err != nil {
					return err
				}
			}
			if err := s.persistStock(ctx, byID); err != nil {
				return err
			}
		}

		if err := s.deps.Orders.Delete(ctx, id); err != nil {
			return errors.Wrap(err, "delete order")
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	zctx.From(ctx).Info("order deleted", zap.String("order_id", id), zap.Bool("restock", restock))
	s.deps.Events.OrderDeleted(ctx, id)
	return nil
}

// reconcileItems diffs the requested line-up against the order's current
// reservations, applies the stock movements, and rebuilds the item list.
// Existing lines keep their price snapshots; new lines snapshot now.
func (s *Service) reconcileItems(ctx context.Context, o *Order, items []ItemRequest) error {
	next := make(map[string]int, len(items))
	for _, item := range items {
		next[item.BookID] += item.Quantity
	}

	adjustments := inventory.Diff(o.reservedQuantities(), next)

	ids := make([]string, len(adjustments))
	for i, adj := range adjustments {
		ids[i] = adj.BookID
	}
	var byID map[string]*book.Book
	if len(ids) > 0 {
		locked, err := s.deps.Books.LockByIDs(ctx, ids)
		if err != nil {
			return errors.Wrap(err, "lock books")
		}
		byID = make(map[string]*book.Book, len(locked))
		for i := range locked {
			byID[locked[i].ID] = &locked[i]
		}
	}

	for _, adj := range adjustments {
		b, ok := byID[adj.BookID]
		if !ok {
			return errors.Wrapf(book.ErrNotFound, "book %s", adj.BookID)
		}
		if err := inventory.Apply(b, adj); err != nil {
			return err
		}
	}
	if err := s.persistStock(ctx, byID); err != nil {
		return err
	}

	existing := make(map[string]Item, len(o.Items))
	for _, line := range o.Items {
		existing[line.BookID] = line
	}

	rebuilt := make([]Item, 0, len(items))
	for _, item := range items {
		if line, ok := existing[item.BookID]; ok {
			line.Quantity = item.Quantity
			rebuilt = append(rebuilt, line)
			continue
		}
		b := byID[item.BookID]
		rebuilt = append(rebuilt, Item{
			BookID:       b.ID,
			Title:        b.Title,
			RegularPrice: b.RegularPrice,
			SoldPrice:    b.SalePrice,
			CostPrice:    b.CostPrice,
			Quantity:     item.Quantity,
			IsUsed:       b.IsUsed(),
			WeightKG:     b.WeightKG,
		})
	}
	o.Items = rebuilt
	return nil
}

// applyRouteChange resolves a changed address or courier reference.
func (s *Service) applyRouteChange(ctx context.Context, o *Order, req UpdateOrderRequest) (bool, error) {
	changed := false
	if req.AddressID != nil {
		changed = true
		if *req.AddressID == "" {
			o.Address = nil
		} else {
			addr, err := s.resolveAddress(ctx, *req.AddressID, nil)
			if err != nil {
				return false, err
			}
			o.Address = addr
		}
	}
	if req.CourierID != nil {
		changed = true
		o.CourierID = *req.CourierID
	}
	return changed, nil
}

// repriceShipping recomputes the shipping and weight charges from the
// order's current items and route, zeroing them when the order has no
// deliverable route.
func (s *Service) repriceShipping(ctx context.Context, o *Order) error {
	if o.Address == nil || o.CourierID == "" {
		o.ShippingCharge = decimal.Zero
		o.WeightCharge = decimal.Zero
		return nil
	}

	courier, err := s.deps.Couriers.GetByID(ctx, o.CourierID)
	if err != nil {
		return errors.Wrapf(err, "courier %s", o.CourierID)
	}

	totalWeight, zeroWeightSubtotal, goods := weighItems(o.Items)
	quote, err := shipping.Compute(o.Address, courier, totalWeight, o.Paid.GreaterThanOrEqual(goods))
	if err != nil {
		return err
	}
	o.ShippingCharge = quote.BaseCharge
	o.WeightCharge = quote.WeightCharge.Add(
		shipping.AdditionalWeightCharge(zeroWeightSubtotal, courier.WeightChargePerKG))
	return nil
}

// reapplyCoupon re-evaluates an attached coupon after the order's items or
// route changed. Usage and expiry checks are skipped: the coupon was
// validated when it was attached.
func (s *Service) reapplyCoupon(ctx context.Context, o *Order) error {
	rule, err := s.deps.Coupons.GetByID(ctx, o.CouponID)
	if err != nil {
		return errors.Wrapf(err, "coupon %s", o.CouponID)
	}

	ids := make([]string, len(o.Items))
	for i, item := range o.Items {
		ids[i] = item.BookID
	}
	fetched, err := s.deps.Books.GetByIDs(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "fetch books")
	}
	byID := make(map[string]*book.Book, len(fetched))
	for i := range fetched {
		byID[fetched[i].ID] = &fetched[i]
	}

	result, err := s.deps.Evaluator.Apply(ctx, rule, coupon.ApplyRequest{
		Items:          couponItems(o.Items, byID),
		ShippingCharge: o.ShippingCharge,
		CustomerID:     o.CustomerID,
		CourierID:      o.CourierID,
		NewOrder:       false,
	})
	if err != nil {
		return err
	}
	o.Discount = result.Discount
	o.ShippingCharge = result.ShippingCharge
	return nil
}

// resolveTransaction validates a supplied payment against the ledger and the
// gateway catalog.
func (s *Service) resolveTransaction(ctx context.Context, req TransactionRequest, at time.Time) (Transaction, error) {
	exists, err := s.deps.Orders.TransactionExists(ctx, req.TransactionID)
	if err != nil {
		return Transaction{}, errors.Wrap(err, "check transaction")
	}
	if exists {
		return Transaction{}, &DuplicateTransactionError{TransactionID: req.TransactionID}
	}

	gw, err := s.deps.Gateways.GetByID(ctx, req.GatewayID)
	if err != nil {
		return Transaction{}, errors.Wrapf(err, "gateway %s", req.GatewayID)
	}

	return Transaction{
		ID:            s.newID(),
		TransactionID: req.TransactionID,
		GatewayID:     gw.ID,
		Amount:        req.Amount,
		IsRefund:      req.IsRefund,
		CreatedAt:     at,
	}, nil
}

// resolveAddress returns the inline address when supplied, otherwise looks
// up the reference.
func (s *Service) resolveAddress(ctx context.Context, addressID string, inline *shipping.Address) (*shipping.Address, error) {
	if inline != nil {
		return inline, nil
	}
	if addressID == "" {
		return nil, nil
	}
	addr, err := s.deps.Addresses.GetByID(ctx, addressID)
	if err != nil {
		return nil, errors.Wrapf(err, "address %s", addressID)
	}
	return addr, nil
}

// persistStock writes the new counters for every managed book in the batch.
func (s *Service) persistStock(ctx context.Context, byID map[string]*book.Book) error {
	for _, b := range byID {
		if !b.ManageStock {
			continue
		}
		if err := s.deps.Books.UpdateStock(ctx, b.ID, b.Quantity, b.InStock); err != nil {
			return errors.Wrapf(err, "update stock for book %s", b.ID)
		}
	}
	return nil
}

// mergeItems collapses duplicate book references into a single line,
// preserving first-seen order.
func mergeItems(items []ItemRequest) []ItemRequest {
	merged := make([]ItemRequest, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if i, ok := index[item.BookID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.BookID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

// weighItems sums the order's physical weight, the sale-price subtotal of
// zero-weight lines (the estimated-weight fallback), and the goods total.
func weighItems(items []Item) (totalWeight, zeroWeightSubtotal, goods decimal.Decimal) {
	totalWeight = decimal.Zero
	zeroWeightSubtotal = decimal.Zero
	goods = decimal.Zero
	for _, item := range items {
		qty := decimal.NewFromInt(int64(item.Quantity))
		goods = goods.Add(item.LineTotal())
		if item.WeightKG.IsZero() {
			zeroWeightSubtotal = zeroWeightSubtotal.Add(item.LineTotal())
			continue
		}
		totalWeight = totalWeight.Add(item.WeightKG.Mul(qty))
	}
	return totalWeight, zeroWeightSubtotal, goods
}

// couponItems projects order lines into the attribute set coupon rules test,
// joining in each book's relations when the book still exists.
func couponItems(items []Item, byID map[string]*book.Book) []coupon.Item {
	out := make([]coupon.Item, len(items))
	for i, item := range items {
		ci := coupon.Item{
			BookID:    item.BookID,
			Condition: book.ConditionNew,
			UnitPrice: item.SoldPrice,
			Quantity:  item.Quantity,
		}
		if item.IsUsed {
			ci.Condition = book.ConditionOld
		}
		if b, ok := byID[item.BookID]; ok {
			ci.PublisherID = b.PublisherID
			ci.AuthorIDs = b.AuthorIDs
			ci.CategoryIDs = b.CategoryIDs
			ci.TagIDs = b.TagIDs
		}
		out[i] = ci
	}
	return out
}
