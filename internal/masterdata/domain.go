package masterdata

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
)

// DomesticCategoryCode is the code of the default sales category.
const DomesticCategoryCode = "DOM"

var (
	ErrNotFound  = fmt.Errorf("masterdata: %w", httpx.ErrNotFound)
	errInvalidID = errors.New("masterdata: id must be positive")
)

// BusinessUnit is an organisational unit owning invoices and number formats.
type BusinessUnit struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SalesCategory classifies sales, e.g. domestic or export.
type SalesCategory struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// Subject is a buyer or a supplier.
type Subject struct {
	ID         int64  `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	VATNumber  string `json:"vat_number,omitempty"`
	FiscalCode string `json:"fiscal_code,omitempty"`
	Address    string `json:"address,omitempty"`
	IsBuyer    bool   `json:"is_buyer"`
	IsSupplier bool   `json:"is_supplier"`
	IsActive   bool   `json:"is_active"`
}

// Article is an inventory item. StockQuantity may be negative.
type Article struct {
	ID            int64           `json:"id"`
	Code          string          `json:"code"`
	Barcode       string          `json:"barcode,omitempty"`
	Description   string          `json:"description"`
	UnitID        int64           `json:"unit_id"`
	UnitCode      string          `json:"unit_code,omitempty"`
	Price         decimal.Decimal `json:"price"`
	CurrencyID    int64           `json:"currency_id"`
	VATID         int64           `json:"vat_id"`
	StockQuantity decimal.Decimal `json:"stock_quantity"`
	IsActive      bool            `json:"is_active"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
