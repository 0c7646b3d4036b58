package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperleaf/bookstore/internal/domain/book"
)

const (
	bookColumns = `id, title, regular_price, sale_price, cost_price, condition, weight_kg,
		quantity, in_stock, manage_stock, publisher_id, author_ids, category_ids, tag_ids`

	getBookByIDSQL = `SELECT ` + bookColumns + ` FROM books WHERE id = $1`

	getBooksByIDsSQL = `SELECT ` + bookColumns + ` FROM books WHERE id = ANY($1) ORDER BY id`

	lockBooksByIDsSQL = `SELECT ` + bookColumns + ` FROM books WHERE id = ANY($1) ORDER BY id
		FOR UPDATE`

	updateBookStockSQL = `UPDATE books SET quantity = $2, in_stock = $3 WHERE id = $1`
)

var _ book.Repository = (*BookRepository)(nil)

// BookRepository implements book.Repository backed by PostgreSQL.
type BookRepository struct {
	pool *pgxpool.Pool
}

// NewBookRepository returns a BookRepository that uses the given pool.
func NewBookRepository(pool *pgxpool.Pool) *BookRepository {
	return &BookRepository{pool: pool}
}

// GetByID returns a single book by its identifier.
func (r *BookRepository) GetByID(ctx context.Context, id string) (*book.Book, error) {
	rows, err := dbFrom(ctx, r.pool).Query(ctx, getBookByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting book %q: %w", id, err)
	}

	b, err := pgx.CollectExactlyOneRow(rows, scanBook)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, book.ErrNotFound
		}
		return nil, fmt.Errorf("getting book %q: %w", id, err)
	}
	return &b, nil
}

// GetByIDs returns books matching any of the given IDs.
func (r *BookRepository) GetByIDs(ctx context.Context, ids []string) ([]book.Book, error) {
	rows, err := dbFrom(ctx, r.pool).Query(ctx, getBooksByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting books by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanBook)
}

// LockByIDs returns books matching the given IDs with their rows locked for
// the duration of the surrounding transaction. Rows lock in ID order, so
// concurrent reservations over the same books cannot deadlock.
func (r *BookRepository) LockByIDs(ctx context.Context, ids []string) ([]book.Book, error) {
	rows, err := dbFrom(ctx, r.pool).Query(ctx, lockBooksByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("locking books by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanBook)
}

// UpdateStock writes a book's stock counters.
func (r *BookRepository) UpdateStock(ctx context.Context, id string, quantity int, inStock bool) error {
	tag, err := dbFrom(ctx, r.pool).Exec(ctx, updateBookStockSQL, id, quantity, inStock)
	if err != nil {
		return fmt.Errorf("updating stock for book %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return book.ErrNotFound
	}
	return nil
}

func scanBook(row pgx.CollectableRow) (book.Book, error) {
	var b book.Book
	err := row.Scan(
		&b.ID, &b.Title, &b.RegularPrice, &b.SalePrice, &b.CostPrice, &b.Condition, &b.WeightKG,
		&b.Quantity, &b.InStock, &b.ManageStock,
		&b.PublisherID, &b.AuthorIDs, &b.CategoryIDs, &b.TagIDs,
	)
	return b, err
}
