package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/paperleaf/bookstore/internal/domain/book"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage discounts each eligible subtotal by a percentage.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed subtracts a flat amount from each eligible subtotal,
	// regardless of the subtotal's size.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrNotFound is returned when a coupon code or ID does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrDisabled is returned for coupons with the active flag off.
	ErrDisabled = errors.New("coupon is disabled")
	// ErrExpired is returned for coupons past their expiry date.
	ErrExpired = errors.New("coupon has expired")
	// ErrLimitReached is returned when the global or per-user usage limit
	// is exhausted.
	ErrLimitReached = errors.New("coupon usage limit reached")
	// ErrLoginRequired is returned when a coupon with a per-user limit is
	// applied without an identified customer.
	ErrLoginRequired = errors.New("sign in to use this coupon")
	// ErrNotApplicable is returned when the coupon is restricted to another
	// user or excludes the chosen courier.
	ErrNotApplicable = errors.New("coupon is not applicable to this order")
)

// MinimumSpendError reports how far the eligible subtotals fall short of the
// coupon's minimum spend. Only the categories the coupon actually discounts
// carry a shortfall.
type MinimumSpendError struct {
	Code         string
	ShortfallOld decimal.Decimal
	ShortfallNew decimal.Decimal
}

func (e *MinimumSpendError) Error() string {
	switch {
	case e.ShortfallOld.IsPositive() && e.ShortfallNew.IsPositive():
		return fmt.Sprintf("coupon %s needs %s more in old books or %s more in new books",
			e.Code, e.ShortfallOld, e.ShortfallNew)
	case e.ShortfallOld.IsPositive():
		return fmt.Sprintf("coupon %s needs %s more in old books", e.Code, e.ShortfallOld)
	default:
		return fmt.Sprintf("coupon %s needs %s more in new books", e.Code, e.ShortfallNew)
	}
}

// Rule defines a coupon's discount behaviour and eligibility constraints.
//
// AmountOld/AmountNew hold the percentage rate or fixed amount for the old
// and new book subtotals; a zero amount means the coupon does not discount
// that category. Empty include sets accept everything; exclude sets always
// win over inclusion.
type Rule struct {
	ID        string
	Code      string
	Active    bool
	ExpiresAt *time.Time

	DiscountType   DiscountType
	AmountOld      decimal.Decimal
	AmountNew      decimal.Decimal
	MaxDiscountOld decimal.Decimal
	MaxDiscountNew decimal.Decimal
	MinSpendOld    decimal.Decimal
	MinSpendNew    decimal.Decimal

	// MaxShippingCharge caps the order's shipping charge once a discount
	// applies. Null means the coupon leaves shipping untouched; a valid zero
	// grants free shipping.
	MaxShippingCharge decimal.NullDecimal

	UseLimit        int
	UseLimitPerUser int
	AllowedUserID   string

	IncludeConditions []book.Condition
	IncludeBooks      []string
	ExcludeBooks      []string
	IncludeAuthors    []string
	ExcludeAuthors    []string
	IncludeCategories []string
	ExcludeCategories []string
	IncludePublishers []string
	ExcludePublishers []string
	IncludeTags       []string
	ExcludeTags       []string
	ExcludeCouriers   []string
}

// Item is an order line projected into the attributes coupon rules test.
type Item struct {
	BookID      string
	PublisherID string
	AuthorIDs   []string
	CategoryIDs []string
	TagIDs      []string
	Condition   book.Condition
	UnitPrice   decimal.Decimal
	Quantity    int
}

// LineTotal returns the item's price contribution.
func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// IsUsed reports whether the line is secondhand stock.
func (i Item) IsUsed() bool {
	return i.Condition == book.ConditionOld
}

// Repository provides coupon rule lookups.
type Repository interface {
	GetByCode(ctx context.Context, code string) (*Rule, error)
	GetByID(ctx context.Context, id string) (*Rule, error)
}

// UsageReader counts prior redemptions of a coupon. Counts are derived from
// persisted orders, so reading them inside the order's unit of work sees a
// consistent view.
type UsageReader interface {
	CountUses(ctx context.Context, couponID string) (int, error)
	CountUserUses(ctx context.Context, couponID, customerID string) (int, error)
}
