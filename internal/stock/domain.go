// Package stock applies signed quantity deltas to article stock levels.
package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
)

// Reason classifies why stock moved.
type Reason string

const (
	// ReasonSale removes stock for a created regular sale.
	ReasonSale Reason = "SALE"
	// ReasonReturn adds stock back for a created return.
	ReasonReturn Reason = "RETURN"
	// ReasonInvoiceEdit applies the net change of an invoice update.
	ReasonInvoiceEdit Reason = "INVOICE_EDIT"
	// ReasonCancellation compensates a cancelled posted invoice.
	ReasonCancellation Reason = "CANCELLATION"
	// ReasonManual is an operator correction.
	ReasonManual Reason = "MANUAL"
)

var (
	ErrArticleNotFound   = fmt.Errorf("stock: article not found: %w", httpx.ErrValidation)
	ErrInvalidAdjustment = fmt.Errorf("stock: invalid adjustment: %w", httpx.ErrValidation)
	errEmptyReason       = errors.New("stock: reason required")
)

// Adjustment removes Delta from the article's stock. A negative Delta adds stock.
type Adjustment struct {
	ArticleID int64           `json:"article_id"`
	Delta     decimal.Decimal `json:"delta"`
}

// Reference ties a batch of adjustments to the operation that caused it.
type Reference struct {
	InvoiceID int64
	Reason    Reason
	ActorID   string
	Note      string
}

// Level is the locked stock row of one article.
type Level struct {
	ArticleID     int64
	Code          string
	StockQuantity decimal.Decimal
	UpdatedAt     time.Time
}

// Movement is one journal entry written per applied delta.
type Movement struct {
	ID           int64           `json:"id"`
	ArticleID    int64           `json:"article_id"`
	InvoiceID    int64           `json:"invoice_id,omitempty"`
	Reason       Reason          `json:"reason"`
	QtyChange    decimal.Decimal `json:"qty_change"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	ActorID      string          `json:"actor_id"`
	Note         string          `json:"note,omitempty"`
	PostedAt     time.Time       `json:"posted_at"`
}
