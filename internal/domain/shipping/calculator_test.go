package shipping

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testCourier() *Courier {
	return &Courier{
		ID:                  "c1",
		Name:                "City Express",
		BaseCharge:          dec("60"),
		WeightChargePerKG:   dec("20"),
		AllowCashOnDelivery: true,
	}
}

func testAddress() *Address {
	return &Address{ID: "a1", City: "Dhaka", Country: "Bangladesh"}
}

func TestCompute_WeightCharge(t *testing.T) {
	tests := []struct {
		name       string
		weight     string
		wantWeight string
	}{
		{name: "below 1kg threshold ships free of weight charge", weight: "0.8", wantWeight: "0"},
		{name: "at threshold", weight: "1", wantWeight: "20"},
		{name: "above threshold", weight: "1.5", wantWeight: "30"},
		{name: "fractional rounding", weight: "2.345", wantWeight: "46.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := Compute(testAddress(), testCourier(), dec(tt.weight), true)

			require.NoError(t, err)
			assert.True(t, dec("60").Equal(q.BaseCharge))
			assert.True(t, dec(tt.wantWeight).Equal(q.WeightCharge),
				"expected weight charge %s, got %s", tt.wantWeight, q.WeightCharge)
		})
	}
}

func TestCompute_MissingCourierOrAddress(t *testing.T) {
	_, err := Compute(testAddress(), nil, dec("1"), true)
	require.ErrorIs(t, err, ErrCourierNotFound)

	_, err = Compute(nil, testCourier(), dec("1"), true)
	require.ErrorIs(t, err, ErrAddressNotFound)
}

func TestCompute_CashOnDelivery(t *testing.T) {
	c := testCourier()
	c.AllowCashOnDelivery = false

	_, err := Compute(testAddress(), c, dec("1"), false)
	require.ErrorIs(t, err, ErrCashOnDeliveryNotAllowed)

	// A fully paid order is accepted regardless.
	_, err = Compute(testAddress(), c, dec("1"), true)
	require.NoError(t, err)
}

func TestCompute_ServiceArea(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(*Courier)
		unserved bool
	}{
		{
			name:   "empty sets serve everywhere",
			modify: func(*Courier) {},
		},
		{
			name: "include city match",
			modify: func(c *Courier) {
				c.IncludeCities = []string{"Dhaka", "Chattogram"}
			},
		},
		{
			name: "include city mismatch",
			modify: func(c *Courier) {
				c.IncludeCities = []string{"Chattogram"}
			},
			unserved: true,
		},
		{
			name: "include country mismatch",
			modify: func(c *Courier) {
				c.IncludeCountries = []string{"India"}
			},
			unserved: true,
		},
		{
			name: "exclude city overrides include",
			modify: func(c *Courier) {
				c.IncludeCities = []string{"Dhaka"}
				c.ExcludeCities = []string{"Dhaka"}
			},
			unserved: true,
		},
		{
			name: "exclude city applies with empty includes",
			modify: func(c *Courier) {
				c.ExcludeCities = []string{"dhaka"} // case-insensitive
			},
			unserved: true,
		},
		{
			name: "exclude country",
			modify: func(c *Courier) {
				c.ExcludeCountries = []string{"Bangladesh"}
			},
			unserved: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testCourier()
			tt.modify(c)

			_, err := Compute(testAddress(), c, dec("1"), true)

			if tt.unserved {
				var udErr *UnservedDestinationError
				require.ErrorAs(t, err, &udErr)
				assert.Equal(t, "c1", udErr.CourierID)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAdditionalWeightCharge(t *testing.T) {
	perKG := dec("20")

	tests := []struct {
		name     string
		subtotal string
		want     string
	}{
		{name: "no zero-weight items", subtotal: "0", want: "0"},
		{name: "below one estimated kg", subtotal: "999.99", want: "0"},
		{name: "exactly one estimated kg", subtotal: "1000", want: "20"},
		{name: "floors partial kg", subtotal: "2700", want: "40"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AdditionalWeightCharge(dec(tt.subtotal), perKG)
			assert.True(t, dec(tt.want).Equal(got), "expected %s, got %s", tt.want, got)
		})
	}
}
