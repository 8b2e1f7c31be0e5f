package stock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/odyssey-erp/odyssey-invoicing/internal/stock")

// Store is the transaction scoped persistence of stock levels.
type Store interface {
	LockArticleStock(ctx context.Context, articleID int64) (Level, error)
	SetStockQuantity(ctx context.Context, articleID int64, qty decimal.Decimal, at time.Time) error
	InsertMovement(ctx context.Context, movement Movement) error
}

// Adjuster applies batches of adjustments inside the caller's transaction.
type Adjuster struct {
	now func() time.Time
}

// NewAdjuster constructs an Adjuster. A nil clock uses time.Now.
func NewAdjuster(now func() time.Time) *Adjuster {
	if now == nil {
		now = time.Now
	}
	return &Adjuster{now: now}
}

// Apply sets StockQuantity -= Delta for every adjustment. Negative results are
// kept. Rows are locked in article id order; repeated articles accumulate
// against the in-transaction row. A missing article aborts the batch and the
// caller must roll the transaction back.
func (a *Adjuster) Apply(ctx context.Context, store Store, ref Reference, adjustments []Adjustment) ([]Movement, error) {
	if ref.Reason == "" {
		return nil, errEmptyReason
	}
	ordered := make([]Adjustment, 0, len(adjustments))
	for _, adj := range adjustments {
		if adj.ArticleID <= 0 {
			return nil, fmt.Errorf("%w: article id %d", ErrInvalidAdjustment, adj.ArticleID)
		}
		if adj.Delta.IsZero() {
			continue
		}
		ordered = append(ordered, adj)
	}
	if len(ordered) == 0 {
		return nil, nil
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ArticleID < ordered[j].ArticleID })

	ctx, span := tracer.Start(ctx, "stock.Apply")
	defer span.End()
	span.SetAttributes(attribute.String("reason", string(ref.Reason)), attribute.Int("adjustments", len(ordered)))

	now := a.now().UTC()
	movements := make([]Movement, 0, len(ordered))
	for _, adj := range ordered {
		level, err := store.LockArticleStock(ctx, adj.ArticleID)
		if errors.Is(err, ErrArticleNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrArticleNotFound, adj.ArticleID)
		}
		if err != nil {
			return nil, fmt.Errorf("stock: lock article %d: %w", adj.ArticleID, err)
		}
		balance := level.StockQuantity.Sub(adj.Delta)
		if err := store.SetStockQuantity(ctx, adj.ArticleID, balance, now); err != nil {
			return nil, fmt.Errorf("stock: update article %d: %w", adj.ArticleID, err)
		}
		movement := Movement{
			ArticleID:    adj.ArticleID,
			InvoiceID:    ref.InvoiceID,
			Reason:       ref.Reason,
			QtyChange:    adj.Delta.Neg(),
			BalanceAfter: balance,
			ActorID:      ref.ActorID,
			Note:         ref.Note,
			PostedAt:     now,
		}
		if err := store.InsertMovement(ctx, movement); err != nil {
			return nil, fmt.Errorf("stock: journal article %d: %w", adj.ArticleID, err)
		}
		movements = append(movements, movement)
	}
	return movements, nil
}
