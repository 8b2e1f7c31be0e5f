package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-invoicing/internal/masterdata"
	"github.com/odyssey-erp/odyssey-invoicing/internal/numbering"
	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-invoicing/internal/stock"
)

// Repository is the persistence port of the sales service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (*Invoice, error)
	FindOriginalInvoice(ctx context.Context, number string, businessUnitID int64) (*Invoice, error)
}

// ReturnLedger answers how much of an original item has already been returned.
type ReturnLedger interface {
	// LockOriginalItem returns ErrNotFound when the item does not exist.
	LockOriginalItem(ctx context.Context, itemID int64) (OriginalItem, error)
	// FindOriginalItem is LockOriginalItem without the row lock.
	FindOriginalItem(ctx context.Context, itemID int64) (OriginalItem, error)
	// ReturnedQuantity sums items of posted, non-cancelled returns against the
	// original item, ignoring the invoice excludeInvoiceID.
	ReturnedQuantity(ctx context.Context, originalItemID, excludeInvoiceID int64) (decimal.Decimal, error)
}

// TxRepository is everything one sales operation touches inside its transaction.
type TxRepository interface {
	ReturnLedger
	Numbering() numbering.Store
	Stock() stock.Store

	GetBuyer(ctx context.Context, id int64) (masterdata.Subject, error)
	SalesCategoryIDByCode(ctx context.Context, code string) (int64, error)

	LockInvoice(ctx context.Context, id int64) (*Invoice, error)
	InsertInvoice(ctx context.Context, inv *Invoice) error
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	InsertItem(ctx context.Context, item *Item) error
	UpdateItem(ctx context.Context, item *Item) error
	DeleteItems(ctx context.Context, invoiceID int64, itemIDs []int64) error
	MarkPosted(ctx context.Context, id int64, at time.Time, userID string) error
	MarkCancelled(ctx context.Context, id int64, reason string, at time.Time, userID string) error
}

type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// WithTx runs fn in one ReadCommitted transaction shared by the invoice, number and stock writes.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithReadCommitted(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, newTxRepository(tx))
	})
}

func (r *repository) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return loadInvoice(ctx, r.pool, `WHERE id = $1`, id)
}

func (r *repository) FindOriginalInvoice(ctx context.Context, number string, businessUnitID int64) (*Invoice, error) {
	return loadInvoice(ctx, r.pool, `WHERE invoice_number = $1 AND business_unit_id = $2
	AND is_posted AND NOT is_cancelled AND NOT is_return
ORDER BY id DESC LIMIT 1`, number, businessUnitID)
}

type txRepository struct {
	tx        pgx.Tx
	master    *masterdata.PgRepository
	numbering *numbering.PgRepository
	stock     *stock.PgRepository
}

func newTxRepository(tx pgx.Tx) *txRepository {
	return &txRepository{
		tx:        tx,
		master:    masterdata.NewTxRepository(tx),
		numbering: numbering.NewTxStore(tx),
		stock:     stock.NewTxStore(tx),
	}
}

func (r *txRepository) Numbering() numbering.Store { return r.numbering }

func (r *txRepository) Stock() stock.Store { return r.stock }

func (r *txRepository) GetBuyer(ctx context.Context, id int64) (masterdata.Subject, error) {
	return r.master.GetSubject(ctx, id)
}

func (r *txRepository) SalesCategoryIDByCode(ctx context.Context, code string) (int64, error) {
	cat, err := r.master.GetSalesCategoryByCode(ctx, code)
	if err != nil {
		return 0, err
	}
	return cat.ID, nil
}

func (r *txRepository) LockInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return loadInvoice(ctx, r.tx, `WHERE id = $1 FOR UPDATE`, id)
}

const invoiceColumns = `id, invoice_number, sequential_number, invoice_date, invoice_expiry_date, buyer_id, buyer_code,
	buyer_name, business_unit_id, sales_category_id, total_without_vat, vat_amount, total_with_vat, discount_amount,
	is_posted, posted_date, is_cancelled, cancellation_reason, is_return, original_invoice_id,
	original_invoice_number, return_reason, notes, created_by, created_at, last_modified_by, last_modified_at`

const itemColumns = `id, sales_invoice_id, line_order, article_id, article_code, barcode, description, quantity,
	unit_id, unit_code, price_without_vat, discount_percent, discount_amount, price_with_vat, vat_percent,
	vat_amount, value_without_vat, value_with_vat, currency_id, currency_code, exchange_rate,
	original_invoice_item_id, original_quantity`

func loadInvoice(ctx context.Context, q dbtx, where string, args ...any) (*Invoice, error) {
	var inv Invoice
	var items []Item
	err := q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM sales_invoices `+where, args...).Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.SequentialNumber, &inv.InvoiceDate, &inv.InvoiceExpiryDate, &inv.BuyerID,
		&inv.BuyerCode, &inv.BuyerName, &inv.BusinessUnitID, &inv.SalesCategoryID, &inv.TotalWithoutVAT,
		&inv.VATAmount, &inv.TotalWithVAT, &inv.DiscountAmount, &inv.IsPosted, &inv.PostedDate, &inv.IsCancelled,
		&inv.CancellationReason, &inv.IsReturn, &inv.OriginalInvoiceID, &inv.OriginalInvoiceNumber,
		&inv.ReturnReason, &inv.Notes, &inv.CreatedBy, &inv.CreatedAt, &inv.LastModifiedBy, &inv.LastModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load invoice: %w", err)
	}

	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM sales_invoice_items
WHERE sales_invoice_id = $1 ORDER BY line_order, id`, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("load invoice items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		var articleID *int64
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.LineOrder, &articleID, &it.ArticleCode, &it.Barcode,
			&it.Description, &it.Quantity, &it.UnitID, &it.UnitCode, &it.PriceWithoutVAT, &it.DiscountPercent,
			&it.DiscountAmount, &it.PriceWithVAT, &it.VATPercent, &it.VATAmount, &it.ValueWithoutVAT,
			&it.ValueWithVAT, &it.CurrencyID, &it.CurrencyCode, &it.ExchangeRate, &it.OriginalInvoiceItemID,
			&it.OriginalQuantity); err != nil {
			return nil, fmt.Errorf("scan invoice item: %w", err)
		}
		if articleID != nil {
			it.ArticleID = *articleID
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	inv.Items = items
	return &inv, nil
}

func (r *txRepository) InsertInvoice(ctx context.Context, inv *Invoice) error {
	return r.tx.QueryRow(ctx, `INSERT INTO sales_invoices (invoice_number, sequential_number, invoice_date,
	invoice_expiry_date, buyer_id, buyer_code, buyer_name, business_unit_id, sales_category_id, total_without_vat,
	vat_amount, total_with_vat, discount_amount, is_posted, is_cancelled, is_return, original_invoice_id,
	original_invoice_number, return_reason, notes, created_by, created_at, last_modified_by, last_modified_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,FALSE,FALSE,$14,$15,$16,$17,$18,$19,$20,$19,$20)
RETURNING id`,
		inv.InvoiceNumber, inv.SequentialNumber, inv.InvoiceDate, inv.InvoiceExpiryDate, inv.BuyerID, inv.BuyerCode,
		inv.BuyerName, inv.BusinessUnitID, inv.SalesCategoryID, inv.TotalWithoutVAT, inv.VATAmount, inv.TotalWithVAT,
		inv.DiscountAmount, inv.IsReturn, inv.OriginalInvoiceID, inv.OriginalInvoiceNumber, inv.ReturnReason,
		inv.Notes, inv.CreatedBy, inv.CreatedAt).Scan(&inv.ID)
}

// UpdateInvoice rewrites the editable header fields. Number, unit, category
// and the return linkage are not part of the statement.
func (r *txRepository) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sales_invoices SET invoice_date = $2, invoice_expiry_date = $3, buyer_id = $4,
	buyer_code = $5, buyer_name = $6, total_without_vat = $7, vat_amount = $8, total_with_vat = $9,
	discount_amount = $10, return_reason = $11, notes = $12, last_modified_by = $13, last_modified_at = $14
WHERE id = $1`,
		inv.ID, inv.InvoiceDate, inv.InvoiceExpiryDate, inv.BuyerID, inv.BuyerCode, inv.BuyerName,
		inv.TotalWithoutVAT, inv.VATAmount, inv.TotalWithVAT, inv.DiscountAmount, inv.ReturnReason, inv.Notes,
		inv.LastModifiedBy, inv.LastModifiedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableArticle(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

func (r *txRepository) InsertItem(ctx context.Context, it *Item) error {
	return r.tx.QueryRow(ctx, `INSERT INTO sales_invoice_items (sales_invoice_id, line_order, article_id, article_code,
	barcode, description, quantity, unit_id, unit_code, price_without_vat, discount_percent, discount_amount,
	price_with_vat, vat_percent, vat_amount, value_without_vat, value_with_vat, currency_id, currency_code,
	exchange_rate, original_invoice_item_id, original_quantity)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
RETURNING id`,
		it.InvoiceID, it.LineOrder, nullableArticle(it.ArticleID), it.ArticleCode, it.Barcode, it.Description,
		it.Quantity, it.UnitID, it.UnitCode, it.PriceWithoutVAT, it.DiscountPercent, it.DiscountAmount,
		it.PriceWithVAT, it.VATPercent, it.VATAmount, it.ValueWithoutVAT, it.ValueWithVAT, it.CurrencyID,
		it.CurrencyCode, it.ExchangeRate, it.OriginalInvoiceItemID, it.OriginalQuantity).Scan(&it.ID)
}

func (r *txRepository) UpdateItem(ctx context.Context, it *Item) error {
	_, err := r.tx.Exec(ctx, `UPDATE sales_invoice_items SET line_order = $3, article_id = $4, article_code = $5,
	barcode = $6, description = $7, quantity = $8, unit_id = $9, unit_code = $10, price_without_vat = $11,
	discount_percent = $12, discount_amount = $13, price_with_vat = $14, vat_percent = $15, vat_amount = $16,
	value_without_vat = $17, value_with_vat = $18, currency_id = $19, currency_code = $20, exchange_rate = $21,
	original_invoice_item_id = $22, original_quantity = $23
WHERE id = $1 AND sales_invoice_id = $2`,
		it.ID, it.InvoiceID, it.LineOrder, nullableArticle(it.ArticleID), it.ArticleCode, it.Barcode,
		it.Description, it.Quantity, it.UnitID, it.UnitCode, it.PriceWithoutVAT, it.DiscountPercent,
		it.DiscountAmount, it.PriceWithVAT, it.VATPercent, it.VATAmount, it.ValueWithoutVAT, it.ValueWithVAT,
		it.CurrencyID, it.CurrencyCode, it.ExchangeRate, it.OriginalInvoiceItemID, it.OriginalQuantity)
	return err
}

func (r *txRepository) DeleteItems(ctx context.Context, invoiceID int64, itemIDs []int64) error {
	if len(itemIDs) == 0 {
		return nil
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM sales_invoice_items WHERE sales_invoice_id = $1 AND id = ANY($2)`, invoiceID, itemIDs)
	return err
}

func (r *txRepository) MarkPosted(ctx context.Context, id int64, at time.Time, userID string) error {
	_, err := r.tx.Exec(ctx, `UPDATE sales_invoices SET is_posted = TRUE, posted_date = $2, last_modified_by = $3,
	last_modified_at = $2 WHERE id = $1`, id, at, userID)
	return err
}

func (r *txRepository) MarkCancelled(ctx context.Context, id int64, reason string, at time.Time, userID string) error {
	_, err := r.tx.Exec(ctx, `UPDATE sales_invoices SET is_cancelled = TRUE, cancellation_reason = $2,
	last_modified_by = $3, last_modified_at = $4 WHERE id = $1`, id, reason, userID, at)
	return err
}

const originalItemQuery = `SELECT i.id, i.sales_invoice_id, s.invoice_number, s.business_unit_id, i.article_id,
	i.description, i.quantity, s.is_posted, s.is_cancelled, s.is_return
FROM sales_invoice_items i
JOIN sales_invoices s ON s.id = i.sales_invoice_id
WHERE i.id = $1`

// LockOriginalItem locks the original line so concurrent returns against it serialize.
func (r *txRepository) LockOriginalItem(ctx context.Context, itemID int64) (OriginalItem, error) {
	return r.originalItem(ctx, originalItemQuery+"\nFOR UPDATE OF i", itemID)
}

func (r *txRepository) FindOriginalItem(ctx context.Context, itemID int64) (OriginalItem, error) {
	return r.originalItem(ctx, originalItemQuery, itemID)
}

func (r *txRepository) originalItem(ctx context.Context, query string, itemID int64) (OriginalItem, error) {
	var o OriginalItem
	var articleID *int64
	err := r.tx.QueryRow(ctx, query, itemID).Scan(&o.ItemID, &o.InvoiceID, &o.InvoiceNumber, &o.BusinessUnitID, &articleID,
		&o.Description, &o.Quantity, &o.IsPosted, &o.IsCancelled, &o.IsReturn)
	if errors.Is(err, pgx.ErrNoRows) {
		return OriginalItem{}, ErrNotFound
	}
	if err != nil {
		return OriginalItem{}, err
	}
	if articleID != nil {
		o.ArticleID = *articleID
	}
	return o, nil
}

func (r *txRepository) ReturnedQuantity(ctx context.Context, originalItemID, excludeInvoiceID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(i.quantity), 0)
FROM sales_invoice_items i
JOIN sales_invoices s ON s.id = i.sales_invoice_id
WHERE i.original_invoice_item_id = $1
	AND s.is_return AND s.is_posted AND NOT s.is_cancelled
	AND s.id <> $2`, originalItemID, excludeInvoiceID).Scan(&total)
	return total, err
}
