package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/db"
)

// Repository is the persistence port of the stock service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	ListMovements(ctx context.Context, articleID int64, limit int) ([]Movement, error)
}

type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgRepository implements Repository and Store on PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewRepository constructs a pool backed repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, db: pool}
}

// NewTxStore binds the store to a transaction owned by the caller.
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

// LockArticleStock reads the article row FOR UPDATE.
func (r *PgRepository) LockArticleStock(ctx context.Context, articleID int64) (Level, error) {
	var level Level
	err := r.db.QueryRow(ctx, `SELECT id, code, stock_quantity, updated_at
FROM articles WHERE id = $1 FOR UPDATE`, articleID).
		Scan(&level.ArticleID, &level.Code, &level.StockQuantity, &level.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Level{}, ErrArticleNotFound
	}
	return level, err
}

// SetStockQuantity writes the new level.
func (r *PgRepository) SetStockQuantity(ctx context.Context, articleID int64, qty decimal.Decimal, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE articles SET stock_quantity = $2, updated_at = $3 WHERE id = $1`, articleID, qty, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrArticleNotFound
	}
	return nil
}

// InsertMovement appends a journal row.
func (r *PgRepository) InsertMovement(ctx context.Context, m Movement) error {
	var invoiceID *int64
	if m.InvoiceID > 0 {
		invoiceID = &m.InvoiceID
	}
	_, err := r.db.Exec(ctx, `INSERT INTO stock_movements (article_id, invoice_id, reason, qty_change, balance_after, actor_id, note, posted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ArticleID, invoiceID, string(m.Reason), m.QtyChange, m.BalanceAfter, m.ActorID, m.Note, m.PostedAt)
	return err
}

// ListMovements returns the newest journal rows for an article.
func (r *PgRepository) ListMovements(ctx context.Context, articleID int64, limit int) ([]Movement, error) {
	rows, err := r.db.Query(ctx, `SELECT id, article_id, COALESCE(invoice_id, 0), reason, qty_change, balance_after, actor_id, note, posted_at
FROM stock_movements
WHERE article_id = $1
ORDER BY posted_at DESC, id DESC
LIMIT $2`, articleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		var reason string
		if err := rows.Scan(&m.ID, &m.ArticleID, &m.InvoiceID, &reason, &m.QtyChange, &m.BalanceAfter, &m.ActorID, &m.Note, &m.PostedAt); err != nil {
			return nil, err
		}
		m.Reason = Reason(reason)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}
