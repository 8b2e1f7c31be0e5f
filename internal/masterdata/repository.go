package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads reference data.
type Repository interface {
	GetBusinessUnit(ctx context.Context, id int64) (BusinessUnit, error)
	ListBusinessUnits(ctx context.Context) ([]BusinessUnit, error)
	GetSalesCategory(ctx context.Context, id int64) (SalesCategory, error)
	GetSalesCategoryByCode(ctx context.Context, code string) (SalesCategory, error)
	ListSalesCategories(ctx context.Context) ([]SalesCategory, error)
	GetSubject(ctx context.Context, id int64) (Subject, error)
	GetArticle(ctx context.Context, id int64) (Article, error)
	ListNegativeStockArticles(ctx context.Context, limit int) ([]Article, error)
	CountNegativeStockArticles(ctx context.Context) (int, error)
}

type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgRepository implements Repository on PostgreSQL.
type PgRepository struct {
	db dbtx
}

// NewRepository creates a pool backed repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool}
}

// NewTxRepository reads through an open transaction.
func NewTxRepository(tx pgx.Tx) *PgRepository {
	return &PgRepository{db: tx}
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *PgRepository) GetBusinessUnit(ctx context.Context, id int64) (BusinessUnit, error) {
	var bu BusinessUnit
	err := r.db.QueryRow(ctx, `SELECT id, code, name, description, is_active, created_at, updated_at
FROM business_units WHERE id = $1`, id).
		Scan(&bu.ID, &bu.Code, &bu.Name, &bu.Description, &bu.IsActive, &bu.CreatedAt, &bu.UpdatedAt)
	return bu, notFound(err)
}

func (r *PgRepository) ListBusinessUnits(ctx context.Context) ([]BusinessUnit, error) {
	rows, err := r.db.Query(ctx, `SELECT id, code, name, description, is_active, created_at, updated_at
FROM business_units ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var units []BusinessUnit
	for rows.Next() {
		var bu BusinessUnit
		if err := rows.Scan(&bu.ID, &bu.Code, &bu.Name, &bu.Description, &bu.IsActive, &bu.CreatedAt, &bu.UpdatedAt); err != nil {
			return nil, err
		}
		units = append(units, bu)
	}
	return units, rows.Err()
}

func (r *PgRepository) GetSalesCategory(ctx context.Context, id int64) (SalesCategory, error) {
	var c SalesCategory
	err := r.db.QueryRow(ctx, `SELECT id, code, name, is_active FROM sales_categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Code, &c.Name, &c.IsActive)
	return c, notFound(err)
}

func (r *PgRepository) GetSalesCategoryByCode(ctx context.Context, code string) (SalesCategory, error) {
	var c SalesCategory
	err := r.db.QueryRow(ctx, `SELECT id, code, name, is_active FROM sales_categories WHERE code = $1`, code).
		Scan(&c.ID, &c.Code, &c.Name, &c.IsActive)
	return c, notFound(err)
}

func (r *PgRepository) ListSalesCategories(ctx context.Context) ([]SalesCategory, error) {
	rows, err := r.db.Query(ctx, `SELECT id, code, name, is_active FROM sales_categories ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cats []SalesCategory
	for rows.Next() {
		var c SalesCategory
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.IsActive); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (r *PgRepository) GetSubject(ctx context.Context, id int64) (Subject, error) {
	var s Subject
	err := r.db.QueryRow(ctx, `SELECT id, code, name, vat_number, fiscal_code, address, is_buyer, is_supplier, is_active
FROM subjects WHERE id = $1`, id).
		Scan(&s.ID, &s.Code, &s.Name, &s.VATNumber, &s.FiscalCode, &s.Address, &s.IsBuyer, &s.IsSupplier, &s.IsActive)
	return s, notFound(err)
}

const articleColumns = `a.id, a.code, a.barcode, a.description, a.unit_id, COALESCE(u.code, ''), a.price,
	a.currency_id, a.vat_id, a.stock_quantity, a.is_active, a.updated_at`

func scanArticle(row pgx.Row) (Article, error) {
	var a Article
	err := row.Scan(&a.ID, &a.Code, &a.Barcode, &a.Description, &a.UnitID, &a.UnitCode, &a.Price,
		&a.CurrencyID, &a.VATID, &a.StockQuantity, &a.IsActive, &a.UpdatedAt)
	return a, err
}

func (r *PgRepository) GetArticle(ctx context.Context, id int64) (Article, error) {
	a, err := scanArticle(r.db.QueryRow(ctx, `SELECT `+articleColumns+`
FROM articles a LEFT JOIN units u ON u.id = a.unit_id
WHERE a.id = $1`, id))
	return a, notFound(err)
}

// ListNegativeStockArticles returns active articles below zero, most negative first.
func (r *PgRepository) ListNegativeStockArticles(ctx context.Context, limit int) ([]Article, error) {
	rows, err := r.db.Query(ctx, `SELECT `+articleColumns+`
FROM articles a LEFT JOIN units u ON u.id = a.unit_id
WHERE a.is_active AND a.stock_quantity < 0
ORDER BY a.stock_quantity ASC, a.id ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var articles []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func (r *PgRepository) CountNegativeStockArticles(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM articles WHERE is_active AND stock_quantity < 0`).Scan(&n)
	return n, err
}
