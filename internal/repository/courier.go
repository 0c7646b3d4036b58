package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperleaf/bookstore/internal/domain/shipping"
)

const getCourierByIDSQL = `SELECT id, name, base_charge, weight_charge_per_kg, allow_cash_on_delivery,
		include_countries, exclude_countries, include_cities, exclude_cities
	FROM couriers WHERE id = $1`

var _ shipping.CourierRepository = (*CourierRepository)(nil)

// CourierRepository implements shipping.CourierRepository backed by
// PostgreSQL.
type CourierRepository struct {
	pool *pgxpool.Pool
}

// NewCourierRepository returns a CourierRepository that uses the given pool.
func NewCourierRepository(pool *pgxpool.Pool) *CourierRepository {
	return &CourierRepository{pool: pool}
}

// GetByID returns a single courier by its identifier.
func (r *CourierRepository) GetByID(ctx context.Context, id string) (*shipping.Courier, error) {
	rows, err := dbFrom(ctx, r.pool).Query(ctx, getCourierByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting courier %q: %w", id, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCourier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shipping.ErrCourierNotFound
		}
		return nil, fmt.Errorf("getting courier %q: %w", id, err)
	}
	return &c, nil
}

func scanCourier(row pgx.CollectableRow) (shipping.Courier, error) {
	var c shipping.Courier
	err := row.Scan(
		&c.ID, &c.Name, &c.BaseCharge, &c.WeightChargePerKG, &c.AllowCashOnDelivery,
		&c.IncludeCountries, &c.ExcludeCountries, &c.IncludeCities, &c.ExcludeCities,
	)
	return c, err
}
