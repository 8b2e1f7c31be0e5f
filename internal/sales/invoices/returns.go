package invoices

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// returnScope narrows which original items a return may draw from.
type returnScope struct {
	// BusinessUnitID zero skips the unit check.
	BusinessUnitID int64
	// OriginalInvoiceID nil accepts items of any eligible invoice.
	OriginalInvoiceID *int64
	// ExcludeInvoiceID is the return being edited; its own lines never count as returned.
	ExcludeInvoiceID int64
	// ReadOnly reads the original lines without locking them.
	ReadOnly bool
}

func (s returnScope) accepts(o OriginalItem) bool {
	if !o.returnable() {
		return false
	}
	if s.BusinessUnitID > 0 && o.BusinessUnitID != s.BusinessUnitID {
		return false
	}
	if s.OriginalInvoiceID != nil && *s.OriginalInvoiceID != o.InvoiceID {
		return false
	}
	return true
}

// validateReturnItems checks every item that references an original line and
// stops at the first one asking for more than is left. Lines of the same
// return drawing on one original item are counted together. Unknown or
// ineligible originals leave nothing to return. The first accepted original
// is reported so the caller can link the return to its invoice.
func validateReturnItems(ctx context.Context, ledger ReturnLedger, scope returnScope, items []Item) (*OriginalItem, error) {
	ids := make([]int64, 0, len(items))
	seen := make(map[int64]struct{})
	for _, item := range items {
		if item.OriginalInvoiceItemID == nil {
			continue
		}
		id := *item.OriginalInvoiceItemID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	// Lock in id order so concurrent returns against the same lines cannot deadlock.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	lookup := ledger.LockOriginalItem
	if scope.ReadOnly {
		lookup = ledger.FindOriginalItem
	}
	originals := make(map[int64]OriginalItem, len(ids))
	for _, id := range ids {
		o, err := lookup(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("sales: read original item %d: %w", id, err)
		}
		originals[id] = o
	}

	var first *OriginalItem
	returned := make(map[int64]decimal.Decimal)
	claimed := make(map[int64]decimal.Decimal)
	for _, item := range items {
		if item.OriginalInvoiceItemID == nil {
			continue
		}
		id := *item.OriginalInvoiceItemID
		returnable := decimal.Zero
		description := item.Description
		if o, ok := originals[id]; ok && scope.accepts(o) {
			prior, cached := returned[id]
			if !cached {
				var err error
				prior, err = ledger.ReturnedQuantity(ctx, id, scope.ExcludeInvoiceID)
				if err != nil {
					return nil, fmt.Errorf("sales: returned quantity of item %d: %w", id, err)
				}
				returned[id] = prior
			}
			returnable = o.Quantity.Sub(prior).Sub(claimed[id])
			if description == "" {
				description = o.Description
			}
			if first == nil {
				orig := o
				first = &orig
			}
		}
		if returnable.IsNegative() {
			returnable = decimal.Zero
		}
		if item.Quantity.GreaterThan(returnable) {
			return nil, validationf(ErrReturnQuantityExceeded,
				"Cannot return %s of '%s'. Only %s available for return.",
				item.Quantity.String(), description, returnable.String())
		}
		claimed[id] = claimed[id].Add(item.Quantity)
	}
	return first, nil
}

// returnableQuantity is the original quantity less every posted return against it.
func returnableQuantity(ctx context.Context, ledger ReturnLedger, originalItemID int64) (decimal.Decimal, error) {
	o, err := ledger.FindOriginalItem(ctx, originalItemID)
	if errors.Is(err, ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	if !o.returnable() {
		return decimal.Zero, nil
	}
	returned, err := ledger.ReturnedQuantity(ctx, originalItemID, 0)
	if err != nil {
		return decimal.Zero, err
	}
	left := o.Quantity.Sub(returned)
	if left.IsNegative() {
		return decimal.Zero, nil
	}
	return left, nil
}
