package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ApplyRequest carries the order context a coupon is evaluated against.
type ApplyRequest struct {
	Items          []Item
	ShippingCharge decimal.Decimal
	CustomerID     string
	CourierID      string
	// NewOrder gates the active/expiry/usage-limit checks. Re-evaluation on
	// an order update skips them: the coupon was already validated when it
	// was attached, and its limits must not retroactively break the order.
	NewOrder bool
}

// Result is the outcome of a successful coupon application.
type Result struct {
	Discount       decimal.Decimal
	ShippingCharge decimal.Decimal
}

// Evaluator validates coupon applicability and computes discounts. Old and
// new book subtotals are discounted independently, over eligible items only.
type Evaluator struct {
	usage UsageReader
	now   func() time.Time
}

// NewEvaluator creates an Evaluator that reads usage counts from usage.
func NewEvaluator(usage UsageReader) *Evaluator {
	return &Evaluator{usage: usage, now: time.Now}
}

// Apply checks the rule against the order and returns the computed discount
// along with the possibly capped shipping charge.
func (e *Evaluator) Apply(ctx context.Context, rule *Rule, req ApplyRequest) (*Result, error) {
	if req.NewOrder {
		if err := e.checkRedeemable(ctx, rule, req.CustomerID); err != nil {
			return nil, err
		}
	}

	// The courier exclusion guards even re-evaluations: switching an order to
	// an excluded courier must drop the coupon.
	if req.CourierID != "" && contains(rule.ExcludeCouriers, req.CourierID) {
		return nil, ErrNotApplicable
	}

	eligible := EligibleItems(rule, req.Items)

	subtotalOld := decimal.Zero
	subtotalNew := decimal.Zero
	for _, item := range eligible {
		if item.IsUsed() {
			subtotalOld = subtotalOld.Add(item.LineTotal())
		} else {
			subtotalNew = subtotalNew.Add(item.LineTotal())
		}
	}

	discountOld, clearedOld := discountFor(rule.DiscountType, rule.AmountOld, rule.MaxDiscountOld, rule.MinSpendOld, subtotalOld)
	discountNew, clearedNew := discountFor(rule.DiscountType, rule.AmountNew, rule.MaxDiscountNew, rule.MinSpendNew, subtotalNew)

	configuredOld := rule.AmountOld.IsPositive()
	configuredNew := rule.AmountNew.IsPositive()
	if (configuredOld || configuredNew) && !clearedOld && !clearedNew {
		msErr := &MinimumSpendError{Code: rule.Code}
		if configuredOld {
			msErr.ShortfallOld = rule.MinSpendOld.Sub(subtotalOld)
		}
		if configuredNew {
			msErr.ShortfallNew = rule.MinSpendNew.Sub(subtotalNew)
		}
		return nil, msErr
	}

	shipping := req.ShippingCharge
	if rule.MaxShippingCharge.Valid && shipping.GreaterThan(rule.MaxShippingCharge.Decimal) {
		shipping = rule.MaxShippingCharge.Decimal
	}

	return &Result{
		Discount:       discountOld.Add(discountNew).Round(2),
		ShippingCharge: shipping,
	}, nil
}

// checkRedeemable enforces the rules that only apply when a coupon is first
// attached to an order: active flag, expiry, usage limits, user restriction.
func (e *Evaluator) checkRedeemable(ctx context.Context, rule *Rule, customerID string) error {
	if !rule.Active {
		return ErrDisabled
	}
	if rule.ExpiresAt != nil && e.now().After(*rule.ExpiresAt) {
		return ErrExpired
	}

	if rule.UseLimit > 0 {
		uses, err := e.usage.CountUses(ctx, rule.ID)
		if err != nil {
			return errors.Wrap(err, "count coupon uses")
		}
		if uses >= rule.UseLimit {
			return ErrLimitReached
		}
	}

	if rule.UseLimitPerUser > 0 {
		if customerID == "" {
			return ErrLoginRequired
		}
		uses, err := e.usage.CountUserUses(ctx, rule.ID, customerID)
		if err != nil {
			return errors.Wrap(err, "count coupon uses for user")
		}
		if uses >= rule.UseLimitPerUser {
			return ErrLimitReached
		}
	}

	if rule.AllowedUserID != "" && rule.AllowedUserID != customerID {
		return ErrNotApplicable
	}
	return nil
}

// discountFor computes the discount for one condition category. cleared is
// true when the category is configured and its subtotal meets the minimum
// spend (inclusive).
func discountFor(typ DiscountType, amount, maxDiscount, minSpend, subtotal decimal.Decimal) (discount decimal.Decimal, cleared bool) {
	if !amount.IsPositive() || subtotal.LessThan(minSpend) {
		return decimal.Zero, false
	}

	switch typ {
	case DiscountPercentage:
		discount = subtotal.Mul(amount).Div(hundred)
		if maxDiscount.IsPositive() && discount.GreaterThan(maxDiscount) {
			discount = maxDiscount
		}
	case DiscountFixed:
		discount = amount
	default:
		return decimal.Zero, false
	}
	return discount, true
}
