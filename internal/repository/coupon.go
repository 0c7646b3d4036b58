package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paperleaf/bookstore/internal/domain/book"
	"github.com/paperleaf/bookstore/internal/domain/coupon"
)

const (
	couponColumns = `id, code, active, expires_at, discount_type,
		amount_old, amount_new, max_discount_old, max_discount_new, min_spend_old, min_spend_new,
		max_shipping_charge, use_limit, use_limit_per_user, allowed_user_id,
		include_conditions, include_books, exclude_books, include_authors, exclude_authors,
		include_categories, exclude_categories, include_publishers, exclude_publishers,
		include_tags, exclude_tags, exclude_couriers`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	getCouponByIDSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	insertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)
	ON CONFLICT (code) DO NOTHING`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// GetByCode returns the coupon rule registered under the given code.
func (r *CouponRepository) GetByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	return r.get(ctx, getCouponByCodeSQL, code)
}

// GetByID returns a coupon rule by its identifier.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*coupon.Rule, error) {
	return r.get(ctx, getCouponByIDSQL, id)
}

// Insert stores a coupon rule. Codes already present are left untouched, so
// bulk imports can be re-run safely.
func (r *CouponRepository) Insert(ctx context.Context, rule *coupon.Rule) error {
	conditions := make([]string, len(rule.IncludeConditions))
	for i, c := range rule.IncludeConditions {
		conditions[i] = string(c)
	}

	_, err := dbFrom(ctx, r.pool).Exec(ctx, insertCouponSQL,
		rule.ID, rule.Code, rule.Active, rule.ExpiresAt, rule.DiscountType,
		rule.AmountOld, rule.AmountNew, rule.MaxDiscountOld, rule.MaxDiscountNew,
		rule.MinSpendOld, rule.MinSpendNew,
		rule.MaxShippingCharge, rule.UseLimit, rule.UseLimitPerUser, rule.AllowedUserID,
		conditions, orEmpty(rule.IncludeBooks), orEmpty(rule.ExcludeBooks),
		orEmpty(rule.IncludeAuthors), orEmpty(rule.ExcludeAuthors),
		orEmpty(rule.IncludeCategories), orEmpty(rule.ExcludeCategories),
		orEmpty(rule.IncludePublishers), orEmpty(rule.ExcludePublishers),
		orEmpty(rule.IncludeTags), orEmpty(rule.ExcludeTags), orEmpty(rule.ExcludeCouriers),
	)
	if err != nil {
		return fmt.Errorf("inserting coupon %q: %w", rule.Code, err)
	}
	return nil
}

// orEmpty keeps NOT NULL array columns happy when a rule carries nil sets.
func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *CouponRepository) get(ctx context.Context, query, arg string) (*coupon.Rule, error) {
	rows, err := dbFrom(ctx, r.pool).Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting coupon %q: %w", arg, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("getting coupon %q: %w", arg, err)
	}
	return &rule, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule       coupon.Rule
		conditions []string
	)
	err := row.Scan(
		&rule.ID, &rule.Code, &rule.Active, &rule.ExpiresAt, &rule.DiscountType,
		&rule.AmountOld, &rule.AmountNew, &rule.MaxDiscountOld, &rule.MaxDiscountNew,
		&rule.MinSpendOld, &rule.MinSpendNew,
		&rule.MaxShippingCharge, &rule.UseLimit, &rule.UseLimitPerUser, &rule.AllowedUserID,
		&conditions, &rule.IncludeBooks, &rule.ExcludeBooks,
		&rule.IncludeAuthors, &rule.ExcludeAuthors,
		&rule.IncludeCategories, &rule.ExcludeCategories,
		&rule.IncludePublishers, &rule.ExcludePublishers,
		&rule.IncludeTags, &rule.ExcludeTags, &rule.ExcludeCouriers,
	)
	if err != nil {
		return rule, err
	}

	rule.IncludeConditions = make([]book.Condition, len(conditions))
	for i, c := range conditions {
		rule.IncludeConditions[i] = book.Condition(c)
	}
	return rule, nil
}
