package shipping

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrCourierNotFound is returned when a referenced courier does not exist.
	ErrCourierNotFound = errors.New("courier not found")
	// ErrAddressNotFound is returned when a referenced address does not exist.
	ErrAddressNotFound = errors.New("shipping address not found")
	// ErrCashOnDeliveryNotAllowed is returned when an order that is not fully
	// paid is routed through a courier that refuses cash on delivery.
	ErrCashOnDeliveryNotAllowed = errors.New("courier does not support cash on delivery")
)

// UnservedDestinationError indicates a destination outside the courier's
// service area.
type UnservedDestinationError struct {
	CourierID string
	City      string
	Country   string
}

func (e *UnservedDestinationError) Error() string {
	return fmt.Sprintf("courier %s does not serve %s, %s", e.CourierID, e.City, e.Country)
}

// Courier is a shipping method with base and weight-based charges and
// geographic service restrictions. Exclusion always overrides inclusion;
// an empty include set means "everywhere not excluded".
type Courier struct {
	ID                  string
	Name                string
	BaseCharge          decimal.Decimal
	WeightChargePerKG   decimal.Decimal
	AllowCashOnDelivery bool

	IncludeCountries []string
	ExcludeCountries []string
	IncludeCities    []string
	ExcludeCities    []string
}

// Address is a delivery destination.
type Address struct {
	ID         string
	Name       string
	Phone      string
	Street     string
	City       string
	Country    string
	PostalCode string
}

// CourierRepository provides courier lookups.
type CourierRepository interface {
	GetByID(ctx context.Context, id string) (*Courier, error)
}

// AddressRepository provides address lookups.
type AddressRepository interface {
	GetByID(ctx context.Context, id string) (*Address, error)
}
