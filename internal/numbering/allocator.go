package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// maxCreateAttempts bounds the lookup/insert loop when racers create the same format row.
const maxCreateAttempts = 3

var tracer = otel.Tracer("github.com/odyssey-erp/odyssey-invoicing/internal/numbering")

// Store is the transaction scoped persistence the allocator needs. LockFormat
// must hold a row lock until the surrounding transaction ends.
type Store interface {
	LockFormat(ctx context.Context, businessUnitID, salesCategoryID int64) (Format, error)
	InsertFormat(ctx context.Context, format Format) (Format, error)
	SaveCounter(ctx context.Context, formatID, lastUsed int64, at time.Time) error
	BusinessUnitCode(ctx context.Context, businessUnitID int64) (string, error)
	SalesCategoryCode(ctx context.Context, salesCategoryID int64) (string, error)
}

// Allocator reserves the next sequential number for a key inside the caller's transaction.
type Allocator struct {
	now      func() time.Time
	location *time.Location
}

// AllocatorOption customises an Allocator.
type AllocatorOption func(*Allocator)

// WithClock overrides the clock used for the year component and timestamps.
func WithClock(now func() time.Time) AllocatorOption {
	return func(a *Allocator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLocation sets the time zone the year component is derived in.
func WithLocation(loc *time.Location) AllocatorOption {
	return func(a *Allocator) {
		if loc != nil {
			a.location = loc
		}
	}
}

// NewAllocator constructs an Allocator.
func NewAllocator(opts ...AllocatorOption) *Allocator {
	a := &Allocator{now: time.Now, location: time.UTC}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate increments the counter for (businessUnitID, salesCategoryID) and
// renders the number. The increment only becomes visible when the caller's
// transaction commits; a rollback consumes nothing.
func (a *Allocator) Allocate(ctx context.Context, store Store, businessUnitID, salesCategoryID int64) (Number, error) {
	ctx, span := tracer.Start(ctx, "numbering.Allocate")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("business_unit_id", businessUnitID),
		attribute.Int64("sales_category_id", salesCategoryID),
	)

	if businessUnitID <= 0 || salesCategoryID <= 0 {
		return Number{}, ErrInvalidKey
	}

	format, err := a.lockOrCreate(ctx, store, businessUnitID, salesCategoryID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock format")
		return Number{}, err
	}
	if err := format.Validate(); err != nil {
		return Number{}, err
	}

	now := a.now().In(a.location)
	next := format.LastUsedSequentialNumber + 1
	if err := store.SaveCounter(ctx, format.ID, next, now); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save counter")
		return Number{}, fmt.Errorf("numbering: save counter: %w", err)
	}
	format.LastUsedSequentialNumber = next

	buCode, err := store.BusinessUnitCode(ctx, businessUnitID)
	if err != nil {
		return Number{}, fmt.Errorf("numbering: business unit code: %w", err)
	}
	catCode, err := store.SalesCategoryCode(ctx, salesCategoryID)
	if err != nil {
		return Number{}, fmt.Errorf("numbering: sales category code: %w", err)
	}

	number := Number{
		Formatted:  Render(format, next, now.Year(), buCode, catCode),
		Sequential: next,
	}
	span.SetAttributes(attribute.Int64("sequential_number", next))
	return number, nil
}

func (a *Allocator) lockOrCreate(ctx context.Context, store Store, businessUnitID, salesCategoryID int64) (Format, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		format, err := store.LockFormat(ctx, businessUnitID, salesCategoryID)
		if err == nil {
			return format, nil
		}
		if !errors.Is(err, ErrFormatNotFound) {
			return Format{}, fmt.Errorf("numbering: lock format: %w", err)
		}

		now := a.now().In(a.location)
		candidate := DefaultFormat(businessUnitID, salesCategoryID)
		candidate.CreatedAt = now
		candidate.LastModifiedAt = now
		created, err := store.InsertFormat(ctx, candidate)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, ErrFormatExists) {
			return Format{}, fmt.Errorf("numbering: create format: %w", err)
		}
		// A concurrent allocator created the row first; look it up again.
	}
	return Format{}, fmt.Errorf("numbering: format for business unit %d category %d not obtainable after %d attempts",
		businessUnitID, salesCategoryID, maxCreateAttempts)
}

// Preview renders the number the next allocation would produce without reserving it.
func (a *Allocator) Preview(f Format, businessUnitCode, salesCategoryCode string) Number {
	next := f.LastUsedSequentialNumber + 1
	return Number{
		Formatted:  Render(f, next, a.now().In(a.location).Year(), businessUnitCode, salesCategoryCode),
		Sequential: next,
	}
}
