package invoices

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleRequest is the body of create and return calls.
type SaleRequest struct {
	BusinessUnitID    int64         `json:"business_unit_id" validate:"required,gt=0"`
	BuyerID           int64         `json:"buyer_id" validate:"required,gt=0"`
	SalesCategoryID   int64         `json:"sales_category_id" validate:"gte=0"`
	InvoiceDate       *time.Time    `json:"invoice_date"`
	InvoiceExpiryDate *time.Time    `json:"invoice_expiry_date"`
	OriginalInvoiceID *int64        `json:"original_invoice_id"`
	ReturnReason      string        `json:"return_reason" validate:"max=500"`
	Notes             string        `json:"notes" validate:"max=2000"`
	Items             []ItemRequest `json:"items" validate:"dive"`
}

// EditRequest is the body of an edit. Business unit, category and number
// stay as stored; a zero buyer keeps the current one.
type EditRequest struct {
	BuyerID           int64         `json:"buyer_id" validate:"gte=0"`
	InvoiceDate       *time.Time    `json:"invoice_date"`
	InvoiceExpiryDate *time.Time    `json:"invoice_expiry_date"`
	ReturnReason      string        `json:"return_reason" validate:"max=500"`
	Notes             string        `json:"notes" validate:"max=2000"`
	Items             []ItemRequest `json:"items" validate:"dive"`
}

// ItemRequest is one line as priced by the client.
type ItemRequest struct {
	ID                    int64            `json:"id" validate:"gte=0"`
	LineOrder             int              `json:"line_order" validate:"gte=0"`
	ArticleID             int64            `json:"article_id" validate:"gte=0"`
	ArticleCode           string           `json:"article_code" validate:"max=50"`
	Barcode               string           `json:"barcode" validate:"max=50"`
	Description           string           `json:"description" validate:"max=500"`
	Quantity              decimal.Decimal  `json:"quantity"`
	UnitID                int64            `json:"unit_id" validate:"gte=0"`
	UnitCode              string           `json:"unit_code" validate:"max=20"`
	PriceWithoutVAT       decimal.Decimal  `json:"price_without_vat"`
	DiscountPercent       decimal.Decimal  `json:"discount_percent"`
	DiscountAmount        decimal.Decimal  `json:"discount_amount"`
	PriceWithVAT          decimal.Decimal  `json:"price_with_vat"`
	VATPercent            decimal.Decimal  `json:"vat_percent"`
	VATAmount             decimal.Decimal  `json:"vat_amount"`
	ValueWithoutVAT       decimal.Decimal  `json:"value_without_vat"`
	ValueWithVAT          decimal.Decimal  `json:"value_with_vat"`
	CurrencyID            int64            `json:"currency_id" validate:"gte=0"`
	CurrencyCode          string           `json:"currency_code" validate:"max=10"`
	ExchangeRate          decimal.Decimal  `json:"exchange_rate"`
	OriginalInvoiceItemID *int64           `json:"original_invoice_item_id"`
	OriginalQuantity      *decimal.Decimal `json:"original_quantity"`
}

// CancelRequest carries the cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// ValidateReturnRequest asks whether return lines fit their originals.
type ValidateReturnRequest struct {
	Items []ItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (req SaleRequest) invoice(isReturn bool) Invoice {
	inv := Invoice{
		BusinessUnitID:    req.BusinessUnitID,
		BuyerID:           req.BuyerID,
		SalesCategoryID:   req.SalesCategoryID,
		InvoiceExpiryDate: req.InvoiceExpiryDate,
		IsReturn:          isReturn,
		Notes:             req.Notes,
	}
	if req.InvoiceDate != nil {
		inv.InvoiceDate = *req.InvoiceDate
	}
	if isReturn {
		inv.OriginalInvoiceID = req.OriginalInvoiceID
		inv.ReturnReason = req.ReturnReason
	}
	return inv
}

func (req EditRequest) invoice(id int64) Invoice {
	inv := Invoice{
		ID:                id,
		BuyerID:           req.BuyerID,
		InvoiceExpiryDate: req.InvoiceExpiryDate,
		ReturnReason:      req.ReturnReason,
		Notes:             req.Notes,
	}
	if req.InvoiceDate != nil {
		inv.InvoiceDate = *req.InvoiceDate
	}
	return inv
}

func toItems(reqs []ItemRequest) []Item {
	items := make([]Item, 0, len(reqs))
	for _, r := range reqs {
		item := Item{
			ID:                    r.ID,
			LineOrder:             r.LineOrder,
			ArticleID:             r.ArticleID,
			ArticleCode:           r.ArticleCode,
			Barcode:               r.Barcode,
			Description:           r.Description,
			Quantity:              r.Quantity,
			UnitID:                r.UnitID,
			UnitCode:              r.UnitCode,
			PriceWithoutVAT:       r.PriceWithoutVAT,
			DiscountPercent:       r.DiscountPercent,
			DiscountAmount:        r.DiscountAmount,
			PriceWithVAT:          r.PriceWithVAT,
			VATPercent:            r.VATPercent,
			VATAmount:             r.VATAmount,
			ValueWithoutVAT:       r.ValueWithoutVAT,
			ValueWithVAT:          r.ValueWithVAT,
			CurrencyID:            r.CurrencyID,
			CurrencyCode:          r.CurrencyCode,
			ExchangeRate:          r.ExchangeRate,
			OriginalInvoiceItemID: r.OriginalInvoiceItemID,
		}
		if r.OriginalQuantity != nil {
			item.OriginalQuantity = *r.OriginalQuantity
		}
		items = append(items, item)
	}
	return items
}
