package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperleaf/bookstore/internal/domain/shipping"
)

const getAddressByIDSQL = `SELECT id, name, phone, street, city, country, postal_code
	FROM addresses WHERE id = $1`

var _ shipping.AddressRepository = (*AddressRepository)(nil)

// AddressRepository implements shipping.AddressRepository backed by
// PostgreSQL.
type AddressRepository struct {
	pool *pgxpool.Pool
}

// NewAddressRepository returns an AddressRepository that uses the given pool.
func NewAddressRepository(pool *pgxpool.Pool) *AddressRepository {
	return &AddressRepository{pool: pool}
}

// GetByID returns a single delivery address by its identifier.
func (r *AddressRepository) GetByID(ctx context.Context, id string) (*shipping.Address, error) {
	rows, err := dbFrom(ctx, r.pool).Query(ctx, getAddressByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting address %q: %w", id, err)
	}

	a, err := pgx.CollectExactlyOneRow(rows, scanAddress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shipping.ErrAddressNotFound
		}
		return nil, fmt.Errorf("getting address %q: %w", id, err)
	}
	return &a, nil
}

func scanAddress(row pgx.CollectableRow) (shipping.Address, error) {
	var a shipping.Address
	err := row.Scan(&a.ID, &a.Name, &a.Phone, &a.Street, &a.City, &a.Country, &a.PostalCode)
	return a, err
}
