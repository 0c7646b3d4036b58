package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperleaf/bookstore/internal/domain/book"
)

func managedBook(id string, qty int) *book.Book {
	return &book.Book{
		ID:          id,
		Quantity:    qty,
		InStock:     qty > 0,
		ManageStock: true,
	}
}

func TestReserve(t *testing.T) {
	tests := []struct {
		name    string
		book    *book.Book
		qty     int
		wantErr error
		wantQty int
	}{
		{
			name:    "decrements managed stock",
			book:    managedBook("b1", 5),
			qty:     2,
			wantQty: 3,
		},
		{
			name:    "last unit clears in_stock",
			book:    managedBook("b1", 2),
			qty:     2,
			wantQty: 0,
		},
		{
			name:    "invalid quantity",
			book:    managedBook("b1", 5),
			qty:     0,
			wantErr: ErrInvalidQuantity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Reserve(tt.book, tt.qty)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantQty, tt.book.Quantity)
			assert.Equal(t, tt.wantQty > 0, tt.book.InStock)
		})
	}
}

func TestReserve_OutOfStock(t *testing.T) {
	b := managedBook("b1", 0)

	err := Reserve(b, 1)

	var oosErr *OutOfStockError
	require.ErrorAs(t, err, &oosErr)
	assert.Equal(t, "b1", oosErr.BookID)
}

func TestReserve_InsufficientStock(t *testing.T) {
	b := managedBook("b1", 3)

	err := Reserve(b, 5)

	var insErr *InsufficientStockError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, "b1", insErr.BookID)
	assert.Equal(t, 3, insErr.Available)
	assert.Equal(t, 5, insErr.Requested)
	assert.Equal(t, 3, b.Quantity, "failed reservation must not touch the counter")
}

func TestReserve_UnmanagedStockKeepsCounter(t *testing.T) {
	b := &book.Book{ID: "b1", InStock: true, Quantity: 1}

	require.NoError(t, Reserve(b, 10))
	assert.Equal(t, 1, b.Quantity)
	assert.True(t, b.InStock)
}

func TestRestock(t *testing.T) {
	b := managedBook("b1", 1)
	require.NoError(t, Reserve(b, 1))
	require.False(t, b.InStock)

	require.NoError(t, Restock(b, 3))
	assert.Equal(t, 3, b.Quantity)
	assert.True(t, b.InStock)
}

func TestRestock_Unmanaged(t *testing.T) {
	b := &book.Book{ID: "b1", InStock: false}

	require.NoError(t, Restock(b, 3))
	assert.Equal(t, 0, b.Quantity)
	assert.False(t, b.InStock, "unmanaged stock is not restocked")
}

func TestRestock_InvalidQuantity(t *testing.T) {
	require.ErrorIs(t, Restock(managedBook("b1", 1), 0), ErrInvalidQuantity)
}

// Managed stock never goes negative across an arbitrary reserve/restock mix.
func TestReserveRestock_NeverNegative(t *testing.T) {
	b := managedBook("b1", 4)

	steps := []struct {
		reserve int
		restock int
	}{
		{reserve: 3}, {restock: 1}, {reserve: 2}, {reserve: 5}, {restock: 4}, {reserve: 4},
	}
	for _, step := range steps {
		if step.reserve > 0 {
			_ = Reserve(b, step.reserve)
		}
		if step.restock > 0 {
			_ = Restock(b, step.restock)
		}
		require.GreaterOrEqual(t, b.Quantity, 0)
	}
	assert.Equal(t, 0, b.Quantity)
}

func TestDiff(t *testing.T) {
	prev := map[string]int{"a": 2, "b": 3, "c": 1}
	next := map[string]int{"a": 5, "b": 1, "d": 2}

	got := Diff(prev, next)

	assert.Equal(t, []Adjustment{
		{BookID: "a", Delta: 3},  // increase: reserve 3 more
		{BookID: "b", Delta: -2}, // decrease: restock 2
		{BookID: "c", Delta: -1}, // removed: full restock
		{BookID: "d", Delta: 2},  // added: fresh reserve
	}, got)
}

func TestDiff_NoChanges(t *testing.T) {
	prev := map[string]int{"a": 2}
	assert.Empty(t, Diff(prev, map[string]int{"a": 2}))
}

func TestApply(t *testing.T) {
	b := managedBook("b1", 5)

	require.NoError(t, Apply(b, Adjustment{BookID: "b1", Delta: 2}))
	assert.Equal(t, 3, b.Quantity)

	require.NoError(t, Apply(b, Adjustment{BookID: "b1", Delta: -1}))
	assert.Equal(t, 4, b.Quantity)
}
