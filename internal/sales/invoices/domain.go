// Package invoices manages the sales invoice lifecycle: creation with a freshly
// allocated number, edits while in draft, posting, cancellation and returns,
// keeping article stock in step within the same transaction.
package invoices

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status values derived from the posted and cancelled flags.
const (
	StatusDraft     = "DRAFT"
	StatusPosted    = "POSTED"
	StatusCancelled = "CANCELLED"
)

// Invoice is a sales invoice header with its items.
type Invoice struct {
	ID                    int64           `json:"id"`
	InvoiceNumber         string          `json:"invoice_number"`
	SequentialNumber      int64           `json:"sequential_number"`
	InvoiceDate           time.Time       `json:"invoice_date"`
	InvoiceExpiryDate     *time.Time      `json:"invoice_expiry_date,omitempty"`
	BuyerID               int64           `json:"buyer_id"`
	BuyerCode             string          `json:"buyer_code"`
	BuyerName             string          `json:"buyer_name"`
	BusinessUnitID        int64           `json:"business_unit_id"`
	SalesCategoryID       int64           `json:"sales_category_id"`
	TotalWithoutVAT       decimal.Decimal `json:"total_without_vat"`
	VATAmount             decimal.Decimal `json:"vat_amount"`
	TotalWithVAT          decimal.Decimal `json:"total_with_vat"`
	DiscountAmount        decimal.Decimal `json:"discount_amount"`
	IsPosted              bool            `json:"is_posted"`
	PostedDate            *time.Time      `json:"posted_date,omitempty"`
	IsCancelled           bool            `json:"is_cancelled"`
	CancellationReason    string          `json:"cancellation_reason,omitempty"`
	IsReturn              bool            `json:"is_return"`
	OriginalInvoiceID     *int64          `json:"original_invoice_id,omitempty"`
	OriginalInvoiceNumber string          `json:"original_invoice_number,omitempty"`
	ReturnReason          string          `json:"return_reason,omitempty"`
	Notes                 string          `json:"notes,omitempty"`
	CreatedBy             string          `json:"created_by"`
	CreatedAt             time.Time       `json:"created_at"`
	LastModifiedBy        string          `json:"last_modified_by"`
	LastModifiedAt        time.Time       `json:"last_modified_at"`
	Items                 []Item          `json:"items"`
}

// Item is one invoice line. Values are computed by the caller; the invoice
// header only sums them.
type Item struct {
	ID                    int64           `json:"id"`
	InvoiceID             int64           `json:"invoice_id"`
	LineOrder             int             `json:"line_order"`
	ArticleID             int64           `json:"article_id"`
	ArticleCode           string          `json:"article_code"`
	Barcode               string          `json:"barcode,omitempty"`
	Description           string          `json:"description"`
	Quantity              decimal.Decimal `json:"quantity"`
	UnitID                int64           `json:"unit_id"`
	UnitCode              string          `json:"unit_code"`
	PriceWithoutVAT       decimal.Decimal `json:"price_without_vat"`
	DiscountPercent       decimal.Decimal `json:"discount_percent"`
	DiscountAmount        decimal.Decimal `json:"discount_amount"`
	PriceWithVAT          decimal.Decimal `json:"price_with_vat"`
	VATPercent            decimal.Decimal `json:"vat_percent"`
	VATAmount             decimal.Decimal `json:"vat_amount"`
	ValueWithoutVAT       decimal.Decimal `json:"value_without_vat"`
	ValueWithVAT          decimal.Decimal `json:"value_with_vat"`
	CurrencyID            int64           `json:"currency_id"`
	CurrencyCode          string          `json:"currency_code"`
	ExchangeRate          decimal.Decimal `json:"exchange_rate"`
	OriginalInvoiceItemID *int64          `json:"original_invoice_item_id,omitempty"`
	OriginalQuantity      decimal.Decimal `json:"original_quantity"`
	// ReturnableQuantity is only filled when an original invoice is looked up for a return.
	ReturnableQuantity *decimal.Decimal `json:"returnable_quantity,omitempty"`
}

// Status reports the lifecycle state. Cancellation wins over posting.
func (inv Invoice) Status() string {
	switch {
	case inv.IsCancelled:
		return StatusCancelled
	case inv.IsPosted:
		return StatusPosted
	default:
		return StatusDraft
	}
}

// Totals are the four header sums.
type Totals struct {
	WithoutVAT decimal.Decimal
	VATAmount  decimal.Decimal
	WithVAT    decimal.Decimal
	Discount   decimal.Decimal
}

// ComputeTotals sums the item values; an empty list yields zeros.
func ComputeTotals(items []Item) Totals {
	t := Totals{WithoutVAT: decimal.Zero, VATAmount: decimal.Zero, WithVAT: decimal.Zero, Discount: decimal.Zero}
	for _, item := range items {
		t.WithoutVAT = t.WithoutVAT.Add(item.ValueWithoutVAT)
		t.VATAmount = t.VATAmount.Add(item.VATAmount)
		t.WithVAT = t.WithVAT.Add(item.ValueWithVAT)
		t.Discount = t.Discount.Add(item.DiscountAmount)
	}
	return t
}

func (inv *Invoice) applyTotals(t Totals) {
	inv.TotalWithoutVAT = t.WithoutVAT
	inv.VATAmount = t.VATAmount
	inv.TotalWithVAT = t.WithVAT
	inv.DiscountAmount = t.Discount
}

// OriginalItem is a line of a prior invoice referenced by a return item, with
// the header flags needed to judge eligibility.
type OriginalItem struct {
	ItemID         int64
	InvoiceID      int64
	InvoiceNumber  string
	BusinessUnitID int64
	ArticleID      int64
	Description    string
	Quantity       decimal.Decimal
	IsPosted       bool
	IsCancelled    bool
	IsReturn       bool
}

func (o OriginalItem) returnable() bool {
	return o.IsPosted && !o.IsCancelled && !o.IsReturn
}
