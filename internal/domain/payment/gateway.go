package payment

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrGatewayNotFound is returned when a transaction references an unknown
// payment gateway.
var ErrGatewayNotFound = errors.New("payment gateway not found")

// Gateway is a payment provider transactions are recorded against.
type Gateway struct {
	ID      string
	Name    string
	Enabled bool
}

// Repository provides gateway lookups.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Gateway, error)
}
