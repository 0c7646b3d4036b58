package shipping

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	oneKG    = decimal.NewFromInt(1)
	thousand = decimal.NewFromInt(1000)
)

// Quote is the priced result of routing an order through a courier.
type Quote struct {
	BaseCharge   decimal.Decimal
	WeightCharge decimal.Decimal
}

// Compute resolves a courier and destination into a shipping quote.
//
// Orders below 1kg ship for the base charge alone; heavier orders add
// weight_charge_per_kg * weight, rounded to 2 decimal places. Orders that are
// not fully paid require a courier that accepts cash on delivery.
func Compute(addr *Address, courier *Courier, totalWeightKG decimal.Decimal, fullyPaid bool) (Quote, error) {
	if courier == nil {
		return Quote{}, ErrCourierNotFound
	}
	if addr == nil {
		return Quote{}, ErrAddressNotFound
	}
	if !fullyPaid && !courier.AllowCashOnDelivery {
		return Quote{}, ErrCashOnDeliveryNotAllowed
	}
	if !serves(courier, addr) {
		return Quote{}, &UnservedDestinationError{
			CourierID: courier.ID,
			City:      addr.City,
			Country:   addr.Country,
		}
	}

	weightCharge := decimal.Zero
	if totalWeightKG.GreaterThanOrEqual(oneKG) {
		weightCharge = courier.WeightChargePerKG.Mul(totalWeightKG).Round(2)
	}

	return Quote{
		BaseCharge:   courier.BaseCharge,
		WeightCharge: weightCharge,
	}, nil
}

// AdditionalWeightCharge computes the surcharge for items missing a physical
// weight entry: their summed sale price stands in for weight, at a rate of
// one kilogram per 1000 currency units (floored), times the courier's per-kg
// charge. The heuristic is carried over from the store's legacy pricing.
func AdditionalWeightCharge(zeroWeightSubtotal, weightChargePerKG decimal.Decimal) decimal.Decimal {
	if !zeroWeightSubtotal.IsPositive() {
		return decimal.Zero
	}
	estimatedKG := zeroWeightSubtotal.Div(thousand).Floor()
	return estimatedKG.Mul(weightChargePerKG)
}

// serves applies the courier's geographic rules to the destination.
// Exclude sets are checked first and win even when include sets are empty.
func serves(c *Courier, addr *Address) bool {
	if containsFold(c.ExcludeCities, addr.City) {
		return false
	}
	if containsFold(c.ExcludeCountries, addr.Country) {
		return false
	}
	if len(c.IncludeCountries) > 0 && !containsFold(c.IncludeCountries, addr.Country) {
		return false
	}
	if len(c.IncludeCities) > 0 && !containsFold(c.IncludeCities, addr.City) {
		return false
	}
	return true
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
