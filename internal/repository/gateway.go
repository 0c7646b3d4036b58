package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperleaf/bookstore/internal/domain/payment"
)

const getGatewayByIDSQL = `SELECT id, name, enabled FROM payment_gateways WHERE id = $1 AND enabled`

var _ payment.Repository = (*GatewayRepository)(nil)

// GatewayRepository implements payment.Repository backed by PostgreSQL.
// Disabled gateways are invisible to lookups.
type GatewayRepository struct {
	pool *pgxpool.Pool
}

// NewGatewayRepository returns a GatewayRepository that uses the given pool.
func NewGatewayRepository(pool *pgxpool.Pool) *GatewayRepository {
	return &GatewayRepository{pool: pool}
}

// GetByID returns a single enabled payment gateway by its identifier.
func (r *GatewayRepository) GetByID(ctx context.Context, id string) (*payment.Gateway, error) {
	var g payment.Gateway
	err := dbFrom(ctx, r.pool).QueryRow(ctx, getGatewayByIDSQL, id).
		Scan(&g.ID, &g.Name, &g.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrGatewayNotFound
		}
		return nil, fmt.Errorf("getting gateway %q: %w", id, err)
	}
	return &g, nil
}
