package invoices

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-invoicing/internal/stock"
)

var (
	saleSign   = decimal.NewFromInt(1)
	returnSign = decimal.NewFromInt(-1)
)

// effectSign is +1 when the invoice removes stock (regular sale) and -1 when it adds stock (return).
func effectSign(isReturn bool) decimal.Decimal {
	if isReturn {
		return returnSign
	}
	return saleSign
}

// ledger nets stock deltas per article.
type ledger map[int64]decimal.Decimal

func (l ledger) add(articleID int64, delta decimal.Decimal) {
	if articleID <= 0 || delta.IsZero() {
		return
	}
	l[articleID] = l[articleID].Add(delta)
}

func (l ledger) adjustments() []stock.Adjustment {
	out := make([]stock.Adjustment, 0, len(l))
	for articleID, delta := range l {
		if delta.IsZero() {
			continue
		}
		out = append(out, stock.Adjustment{ArticleID: articleID, Delta: delta})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArticleID < out[j].ArticleID })
	return out
}

// creationAdjustments applies the full effect of every item.
func creationAdjustments(items []Item, isReturn bool) []stock.Adjustment {
	sign := effectSign(isReturn)
	l := ledger{}
	for _, item := range items {
		l.add(item.ArticleID, item.Quantity.Mul(sign))
	}
	return l.adjustments()
}

// cancellationAdjustments reverses the effect of every item.
func cancellationAdjustments(items []Item, isReturn bool) []stock.Adjustment {
	sign := effectSign(isReturn).Neg()
	l := ledger{}
	for _, item := range items {
		l.add(item.ArticleID, item.Quantity.Mul(sign))
	}
	return l.adjustments()
}

// updateAdjustments nets the old lines' effect out of the new lines' effect per
// article. Removed lines and quantity or article changes need no special casing.
func updateAdjustments(existing, incoming []Item, isReturn bool) []stock.Adjustment {
	sign := effectSign(isReturn)
	l := ledger{}
	for _, old := range existing {
		l.add(old.ArticleID, old.Quantity.Mul(sign).Neg())
	}
	for _, item := range incoming {
		l.add(item.ArticleID, item.Quantity.Mul(sign))
	}
	return l.adjustments()
}
