package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/db"
)

// Repository is the persistence port of the format service.
type Repository interface {
	Store
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	GetFormat(ctx context.Context, businessUnitID, salesCategoryID int64) (Format, error)
	UpsertFormat(ctx context.Context, format Format) (Format, error)
}

type dbtx interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgRepository implements Repository on PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewRepository constructs a pool backed repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, db: pool}
}

// NewTxStore binds the store to an open transaction owned by the caller.
func NewTxStore(tx pgx.Tx) *PgRepository {
	return &PgRepository{db: tx}
}

// WithTx runs fn inside a ReadCommitted transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return db.WithReadCommitted(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

const formatColumns = `id, business_unit_id, sales_category_id, use_year, use_sales_category_code,
	use_business_unit_code, use_sequential_number, separator, sequential_number_length,
	last_used_sequential_number, created_at, last_modified_at`

func scanFormat(row pgx.Row) (Format, error) {
	var f Format
	err := row.Scan(&f.ID, &f.BusinessUnitID, &f.SalesCategoryID, &f.UseYear, &f.UseSalesCategoryCode,
		&f.UseBusinessUnitCode, &f.UseSequentialNumber, &f.Separator, &f.SequentialNumberLength,
		&f.LastUsedSequentialNumber, &f.CreatedAt, &f.LastModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Format{}, ErrFormatNotFound
	}
	return f, err
}

// LockFormat reads the format row and holds FOR UPDATE until the transaction ends.
func (r *PgRepository) LockFormat(ctx context.Context, businessUnitID, salesCategoryID int64) (Format, error) {
	row := r.db.QueryRow(ctx, `SELECT `+formatColumns+`
FROM invoice_number_formats
WHERE business_unit_id = $1 AND sales_category_id = $2
FOR UPDATE`, businessUnitID, salesCategoryID)
	return scanFormat(row)
}

// GetFormat reads the format row without locking it.
func (r *PgRepository) GetFormat(ctx context.Context, businessUnitID, salesCategoryID int64) (Format, error) {
	row := r.db.QueryRow(ctx, `SELECT `+formatColumns+`
FROM invoice_number_formats
WHERE business_unit_id = $1 AND sales_category_id = $2`, businessUnitID, salesCategoryID)
	return scanFormat(row)
}

// InsertFormat inserts a new row inside a savepoint so a unique violation
// leaves the outer transaction usable.
func (r *PgRepository) InsertFormat(ctx context.Context, f Format) (Format, error) {
	sp, err := r.db.Begin(ctx)
	if err != nil {
		return Format{}, fmt.Errorf("begin savepoint: %w", err)
	}
	defer func() {
		_ = sp.Rollback(ctx)
	}()

	row := sp.QueryRow(ctx, `INSERT INTO invoice_number_formats (business_unit_id, sales_category_id, use_year,
	use_sales_category_code, use_business_unit_code, use_sequential_number, separator,
	sequential_number_length, last_used_sequential_number, created_at, last_modified_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
RETURNING `+formatColumns,
		f.BusinessUnitID, f.SalesCategoryID, f.UseYear, f.UseSalesCategoryCode, f.UseBusinessUnitCode,
		f.UseSequentialNumber, f.Separator, f.SequentialNumberLength, f.LastUsedSequentialNumber, f.CreatedAt)
	created, err := scanFormat(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Format{}, ErrFormatExists
		}
		return Format{}, err
	}
	if err := sp.Commit(ctx); err != nil {
		return Format{}, fmt.Errorf("release savepoint: %w", err)
	}
	return created, nil
}

// SaveCounter persists the incremented counter.
func (r *PgRepository) SaveCounter(ctx context.Context, formatID, lastUsed int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE invoice_number_formats
SET last_used_sequential_number = $2, last_modified_at = $3
WHERE id = $1`, formatID, lastUsed, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFormatNotFound
	}
	return nil
}

// UpsertFormat stores the template fields. The counter is never overwritten.
func (r *PgRepository) UpsertFormat(ctx context.Context, f Format) (Format, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO invoice_number_formats (business_unit_id, sales_category_id, use_year,
	use_sales_category_code, use_business_unit_code, use_sequential_number, separator,
	sequential_number_length, last_used_sequential_number, created_at, last_modified_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,$9,$9)
ON CONFLICT (business_unit_id, sales_category_id) DO UPDATE SET
	use_year = EXCLUDED.use_year,
	use_sales_category_code = EXCLUDED.use_sales_category_code,
	use_business_unit_code = EXCLUDED.use_business_unit_code,
	use_sequential_number = EXCLUDED.use_sequential_number,
	separator = EXCLUDED.separator,
	sequential_number_length = EXCLUDED.sequential_number_length,
	last_modified_at = EXCLUDED.last_modified_at
RETURNING `+formatColumns,
		f.BusinessUnitID, f.SalesCategoryID, f.UseYear, f.UseSalesCategoryCode, f.UseBusinessUnitCode,
		f.UseSequentialNumber, f.Separator, f.SequentialNumberLength, f.LastModifiedAt)
	return scanFormat(row)
}

// BusinessUnitCode returns the unit's code; empty when the unit has none.
func (r *PgRepository) BusinessUnitCode(ctx context.Context, businessUnitID int64) (string, error) {
	var code *string
	err := r.db.QueryRow(ctx, `SELECT code FROM business_units WHERE id = $1`, businessUnitID).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if code == nil {
		return "", nil
	}
	return *code, nil
}

// SalesCategoryCode returns the category's code; empty when unknown.
func (r *PgRepository) SalesCategoryCode(ctx context.Context, salesCategoryID int64) (string, error) {
	var code *string
	err := r.db.QueryRow(ctx, `SELECT code FROM sales_categories WHERE id = $1`, salesCategoryID).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if code == nil {
		return "", nil
	}
	return *code, nil
}
