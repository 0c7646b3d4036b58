// Package inventory implements stock reservation for order placement.
//
// Reserve and Restock mutate the in-memory book aggregate only; persisting
// the new counters is the caller's job, inside the same unit of work as the
// order change, so a failed order never leaves partial stock decrements.
package inventory

import (
	"fmt"
	"sort"

	"github.com/go-faster/errors"

	"github.com/paperleaf/bookstore/internal/domain/book"
)

// ErrInvalidQuantity is returned for reservation quantities below 1.
var ErrInvalidQuantity = errors.New("quantity must be at least 1")

// OutOfStockError indicates a book that is not available for sale at all.
type OutOfStockError struct {
	BookID string
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("book %s is out of stock", e.BookID)
}

// InsufficientStockError indicates a managed book with fewer units on hand
// than requested.
type InsufficientStockError struct {
	BookID    string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("book %s has %d in stock, %d requested", e.BookID, e.Available, e.Requested)
}

// Reserve commits qty units of b to an order. For managed stock the on-hand
// counter is decremented and InStock recomputed; unmanaged stock only passes
// the availability gate, its counter is not tracked.
func Reserve(b *book.Book, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	if !b.InStock {
		return &OutOfStockError{BookID: b.ID}
	}
	if !b.ManageStock {
		return nil
	}
	if b.Quantity < qty {
		return &InsufficientStockError{BookID: b.ID, Available: b.Quantity, Requested: qty}
	}
	b.Quantity -= qty
	b.InStock = b.Quantity > 0
	return nil
}

// Restock returns qty units of b to inventory. It is a no-op for unmanaged
// stock. A restocked book is always marked available again.
func Restock(b *book.Book, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}
	if !b.ManageStock {
		return nil
	}
	b.Quantity += qty
	b.InStock = true
	return nil
}

// Adjustment is a single stock movement produced by diffing an order's
// previous reservations against the requested ones. A positive Delta
// reserves additional units, a negative Delta restocks.
type Adjustment struct {
	BookID string
	Delta  int
}

// Diff compares previously reserved quantities against newly requested ones
// and returns the stock movements needed to reconcile them. Books dropped
// from the order are fully restocked; the result is ordered by book ID so
// callers lock rows in a stable order.
func Diff(prev, next map[string]int) []Adjustment {
	ids := make(map[string]struct{}, len(prev)+len(next))
	for id := range prev {
		ids[id] = struct{}{}
	}
	for id := range next {
		ids[id] = struct{}{}
	}

	adjustments := make([]Adjustment, 0, len(ids))
	for id := range ids {
		delta := next[id] - prev[id]
		if delta == 0 {
			continue
		}
		adjustments = append(adjustments, Adjustment{BookID: id, Delta: delta})
	}
	sort.Slice(adjustments, func(i, j int) bool {
		return adjustments[i].BookID < adjustments[j].BookID
	})
	return adjustments
}

// Apply executes a single adjustment against the book aggregate.
func Apply(b *book.Book, adj Adjustment) error {
	if adj.Delta > 0 {
		return Reserve(b, adj.Delta)
	}
	return Restock(b, -adj.Delta)
}
