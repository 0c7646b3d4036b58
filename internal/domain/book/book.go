package book

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested book does not exist.
var ErrNotFound = errors.New("book not found")

// Condition describes the physical condition of a book in inventory.
// Old (secondhand) and new stock are priced and discounted independently.
type Condition string

const (
	ConditionNew Condition = "new"
	ConditionOld Condition = "old"
)

// Book represents a catalog item with its inventory counters and the
// relation IDs used by coupon eligibility rules.
type Book struct {
	ID           string
	Title        string
	RegularPrice decimal.Decimal
	SalePrice    decimal.Decimal
	CostPrice    decimal.Decimal
	Condition    Condition
	WeightKG     decimal.Decimal

	Quantity    int
	InStock     bool
	ManageStock bool

	PublisherID string
	AuthorIDs   []string
	CategoryIDs []string
	TagIDs      []string
}

// IsUsed reports whether the book is secondhand stock.
func (b *Book) IsUsed() bool {
	return b.Condition == ConditionOld
}

// Repository defines the book lookups and stock writes used by the
// checkout engine. LockByIDs must acquire row locks so that concurrent
// reservations against the same book serialize; it is only meaningful
// inside a transaction.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Book, error)
	GetByIDs(ctx context.Context, ids []string) ([]Book, error)
	LockByIDs(ctx context.Context, ids []string) ([]Book, error)
	UpdateStock(ctx context.Context, id string, quantity int, inStock bool) error
}
