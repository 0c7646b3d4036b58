//go:build integration

package integration

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go/modules/compose"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/paperleaf/bookstore/internal/domain/coupon"
	"github.com/paperleaf/bookstore/internal/domain/inventory"
	"github.com/paperleaf/bookstore/internal/domain/order"
	"github.com/paperleaf/bookstore/internal/notify"
	"github.com/paperleaf/bookstore/internal/repository"
)

var (
	pool *pgxpool.Pool
	svc  *order.Service
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dc, err := tc.NewDockerCompose("docker-compose.test.yml")
	if err != nil {
		log.Fatalf("compose init: %v", err)
	}
	defer func() {
		if err := dc.Down(context.Background(), tc.RemoveOrphans(true), tc.RemoveVolumes(true)); err != nil {
			log.Printf("compose down: %v", err)
		}
	}()

	if err := dc.
		WaitForService("postgres", wait.ForHealthCheck()).
		Up(ctx, tc.Wait(true)); err != nil {
		log.Fatalf("compose up: %v", err)
	}

	pgContainer, err := dc.ServiceContainer(ctx, "postgres")
	if err != nil {
		log.Fatalf("postgres container: %v", err)
	}
	host, err := pgContainer.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://bookstore:bookstore@%s:%s/bookstore?sslmode=disable", host, port.Port())
	pool, err = repository.NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("create pool: %v", err)
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	orderRepo := repository.NewOrderRepository(pool)
	svc, err = order.NewService(order.Config{Currency: "BDT"}, order.Deps{
		Books:     repository.NewBookRepository(pool),
		Couriers:  repository.NewCourierRepository(pool),
		Addresses: repository.NewAddressRepository(pool),
		Coupons:   repository.NewCouponRepository(pool),
		Gateways:  repository.NewGatewayRepository(pool),
		Orders:    orderRepo,
		Evaluator: coupon.NewEvaluator(orderRepo),
		Tx:        repository.NewTxManager(pool),
		Events:    notify.Noop{},
	})
	if err != nil {
		log.Fatalf("create service: %v", err)
	}

	return m.Run()
}

// resetState truncates order data and reseeds the catalog so each test runs
// against the same fixtures.
func resetState(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	for _, stmt := range []string{
		`TRUNCATE orders, order_items, order_status_history, transactions CASCADE`,
		`TRUNCATE books, addresses, couriers, coupons, payment_gateways CASCADE`,

		`INSERT INTO books (id, title, regular_price, sale_price, cost_price, condition, weight_kg, quantity, in_stock, manage_stock)
		 VALUES
			('b1', 'A Golden Age', 150, 100, 50, 'old', 0.5, 10, TRUE, TRUE),
			('b2', 'The Good Muslim', 250, 200, 120, 'new', 0.4, 5, TRUE, TRUE),
			('b3', 'Brick Lane', 180, 120, 60, 'old', 0, 3, TRUE, TRUE)`,

		`INSERT INTO addresses (id, name, phone, street, city, country, postal_code)
		 VALUES ('a1', 'Test Customer', '01700000000', '12 Road 5', 'Dhaka', 'Bangladesh', '1207')`,

		`INSERT INTO couriers (id, name, base_charge, weight_charge_per_kg, allow_cash_on_delivery)
		 VALUES ('c1', 'City Courier', 60, 20, TRUE)`,

		`INSERT INTO payment_gateways (id, name, enabled)
		 VALUES ('bkash', 'bKash', TRUE), ('card', 'Card', FALSE)`,

		`INSERT INTO coupons (id, code, active, discount_type, amount_old, use_limit)
		 VALUES ('cp1', 'OFF10', TRUE, 'percentage', 10, 0),
			('cp2', 'ONCE', TRUE, 'percentage', 10, 1)`,
	} {
		_, err := pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}
}

func bookStock(t *testing.T, id string) int {
	t.Helper()
	var qty int
	require.NoError(t, pool.QueryRow(context.Background(), `SELECT quantity FROM books WHERE id = $1`, id).Scan(&qty))
	return qty
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreateOrder_PersistsAggregate(t *testing.T) {
	resetState(t)
	ctx := context.Background()

	created, err := svc.CreateOrder(ctx, order.CreateOrderRequest{
		CustomerID: "cust-1",
		Items: []order.ItemRequest{
			{BookID: "b1", Quantity: 2},
			{BookID: "b2", Quantity: 1},
		},
		AddressID:  "a1",
		CourierID:  "c1",
		CouponCode: "OFF10",
		Transactions: []order.TransactionRequest{
			{TransactionID: "inv-1", GatewayID: "bkash", Amount: dec("200")},
		},
	})
	require.NoError(t, err)

	loaded, err := repository.NewOrderRepository(pool).GetByID(ctx, created.ID)
	require.NoError(t, err)

	assert.True(t, dec("200").Equal(loaded.OldBookTotal), "got %s", loaded.OldBookTotal)
	assert.True(t, dec("200").Equal(loaded.NewBookTotal))
	assert.True(t, dec("60").Equal(loaded.ShippingCharge))
	// 2*0.5kg + 1*0.4kg = 1.4kg over the 1kg threshold.
	assert.True(t, dec("28").Equal(loaded.WeightCharge), "got %s", loaded.WeightCharge)
	// 10% off the old-book subtotal only.
	assert.True(t, dec("20").Equal(loaded.Discount), "got %s", loaded.Discount)
	assert.True(t, dec("200").Equal(loaded.Paid))
	assert.True(t, loaded.Total.Sub(loaded.Discount).Sub(loaded.Paid).Equal(loaded.Due))
	assert.Equal(t, order.StatusProcessing, loaded.CurrentStatus())
	require.NotNil(t, loaded.Address)
	assert.Equal(t, "Dhaka", loaded.Address.City)
	require.Len(t, loaded.Transactions, 1)
	assert.Equal(t, "inv-1", loaded.Transactions[0].TransactionID)

	assert.Equal(t, 8, bookStock(t, "b1"))
	assert.Equal(t, 4, bookStock(t, "b2"))
}

func TestCreateOrder_ZeroWeightHeuristic(t *testing.T) {
	resetState(t)

	o, err := svc.CreateOrder(context.Background(), order.CreateOrderRequest{
		Items:     []order.ItemRequest{{BookID: "b3", Quantity: 10}},
		AddressID: "a1",
		CourierID: "c1",
	})
	// Only 3 in stock.
	var insErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &insErr)
	require.Nil(t, o)
	assert.Equal(t, 3, bookStock(t, "b3"), "failed order must not touch stock")

	o, err = svc.CreateOrder(context.Background(), order.CreateOrderRequest{
		Items:     []order.ItemRequest{{BookID: "b3", Quantity: 3}},
		AddressID: "a1",
		CourierID: "c1",
	})
	require.NoError(t, err)
	// No physical weight: floor(360/1000) * 20 = 0 estimated charge.
	assert.True(t, o.WeightCharge.IsZero(), "got %s", o.WeightCharge)
}

func TestConcurrentReservations_NeverOversell(t *testing.T) {
	resetState(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `UPDATE books SET quantity = 1 WHERE id = 'b1'`)
	require.NoError(t, err)

	const attempts = 4
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.CreateOrder(ctx, order.CreateOrderRequest{
				Items: []order.ItemRequest{{BookID: "b1", Quantity: 1}},
			})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one reservation may win the last copy")
	assert.Equal(t, 0, bookStock(t, "b1"))
}

func TestUpdateOrder_PersistsStockDiff(t *testing.T) {
	resetState(t)
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, order.CreateOrderRequest{
		Items: []order.ItemRequest{
			{BookID: "b1", Quantity: 2},
			{BookID: "b2", Quantity: 2},
		},
	})
	require.NoError(t, err)

	items := []order.ItemRequest{{BookID: "b1", Quantity: 5}}
	updated, err := svc.UpdateOrder(ctx, o.ID, order.UpdateOrderRequest{Items: &items})
	require.NoError(t, err)

	assert.Equal(t, 5, bookStock(t, "b1"))
	assert.Equal(t, 5, bookStock(t, "b2"), "dropped line fully restocked")
	require.Len(t, updated.Items, 1)
	assert.True(t, dec("500").Equal(updated.Total))
}

func TestDeleteOrder_Restocks(t *testing.T) {
	resetState(t)
	ctx := context.Background()

	o, err := svc.CreateOrder(ctx, order.CreateOrderRequest{
		Items: []order.ItemRequest{{BookID: "b2", Quantity: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, bookStock(t, "b2"))

	require.NoError(t, svc.DeleteOrder(ctx, o.ID, true))
	assert.Equal(t, 5, bookStock(t, "b2"))

	_, err = repository.NewOrderRepository(pool).GetByID(ctx, o.ID)
	require.ErrorIs(t, err, order.ErrNotFound)

	var txCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&txCount))
	assert.Equal(t, 0, txCount, "order rows cascade")
}

func TestDuplicateTransactionAcrossOrders(t *testing.T) {
	resetState(t)
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, order.CreateOrderRequest{
		Items: []order.ItemRequest{{BookID: "b1", Quantity: 1}},
		Transactions: []order.TransactionRequest{
			{TransactionID: "inv-dup", GatewayID: "bkash", Amount: dec("100")},
		},
	})
	require.NoError(t, err)

	_, err = svc.CreateOrder(ctx, order.CreateOrderRequest{
		Items: []order.ItemRequest{{BookID: "b1", Quantity: 1}},
		Transactions: []order.TransactionRequest{
			{TransactionID: "inv-dup", GatewayID: "bkash", Amount: dec("100")},
		},
	})
	var dupErr *order.DuplicateTransactionError
	require.ErrorAs(t, err, &dupErr)

	assert.Equal(t, 9, bookStock(t, "b1"), "rejected order rolls back its reservation")
}

func TestCouponUseLimit(t *testing.T) {
	resetState(t)
	ctx := context.Background()

	_, err := svc.CreateOrder(ctx, order.CreateOrderRequest{
		Items:      []order.ItemRequest{{BookID: "b1", Quantity: 1}},
		CouponCode: "ONCE",
	})
	require.NoError(t, err)

	_, err = svc.CreateOrder(ctx, order.CreateOrderRequest{
		Items:      []order.ItemRequest{{BookID: "b1", Quantity: 1}},
		CouponCode: "ONCE",
	})
	require.ErrorIs(t, err, coupon.ErrLimitReached)
}

func TestDisabledGatewayRejected(t *testing.T) {
	resetState(t)

	_, err := svc.CreateOrder(context.Background(), order.CreateOrderRequest{
		Items: []order.ItemRequest{{BookID: "b1", Quantity: 1}},
		Transactions: []order.TransactionRequest{
			{TransactionID: "inv-x", GatewayID: "card", Amount: dec("100")},
		},
	})
	require.Error(t, err)
}
