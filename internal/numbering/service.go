package numbering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// SaveFormatInput is the admin payload for a number template.
type SaveFormatInput struct {
	BusinessUnitID         int64  `json:"business_unit_id" validate:"required,gt=0"`
	SalesCategoryID        int64  `json:"sales_category_id" validate:"required,gt=0"`
	UseYear                bool   `json:"use_year"`
	UseSalesCategoryCode   bool   `json:"use_sales_category_code"`
	UseBusinessUnitCode    bool   `json:"use_business_unit_code"`
	UseSequentialNumber    bool   `json:"use_sequential_number"`
	Separator              string `json:"separator" validate:"max=3"`
	SequentialNumberLength int    `json:"sequential_number_length" validate:"gte=0,lte=18"`
}

// Service exposes allocation and format administration.
type Service struct {
	repo      Repository
	allocator *Allocator
	logger    *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, allocator *Allocator, logger *slog.Logger) *Service {
	if allocator == nil {
		allocator = NewAllocator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, allocator: allocator, logger: logger}
}

// Allocator returns the allocator used by the service.
func (s *Service) Allocator() *Allocator {
	return s.allocator
}

// Allocate reserves a number in its own transaction.
func (s *Service) Allocate(ctx context.Context, businessUnitID, salesCategoryID int64) (Number, error) {
	var number Number
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		var err error
		number, err = s.allocator.Allocate(ctx, store, businessUnitID, salesCategoryID)
		return err
	})
	if err != nil {
		return Number{}, err
	}
	s.logger.Info("invoice number allocated",
		slog.Int64("business_unit_id", businessUnitID),
		slog.Int64("sales_category_id", salesCategoryID),
		slog.String("invoice_number", number.Formatted))
	return number, nil
}

// GetFormat returns the stored format, or the defaults that would be created
// on first allocation (ID zero) when none exists yet.
func (s *Service) GetFormat(ctx context.Context, businessUnitID, salesCategoryID int64) (Format, error) {
	if businessUnitID <= 0 || salesCategoryID <= 0 {
		return Format{}, ErrInvalidKey
	}
	format, err := s.repo.GetFormat(ctx, businessUnitID, salesCategoryID)
	if errors.Is(err, ErrFormatNotFound) {
		return DefaultFormat(businessUnitID, salesCategoryID), nil
	}
	if err != nil {
		return Format{}, fmt.Errorf("numbering: get format: %w", err)
	}
	return format, nil
}

// SaveFormat creates or updates the template for a pair. The counter is preserved.
func (s *Service) SaveFormat(ctx context.Context, input SaveFormatInput) (Format, error) {
	if input.BusinessUnitID <= 0 || input.SalesCategoryID <= 0 {
		return Format{}, ErrInvalidKey
	}
	format := Format{
		BusinessUnitID:         input.BusinessUnitID,
		SalesCategoryID:        input.SalesCategoryID,
		UseYear:                input.UseYear,
		UseSalesCategoryCode:   input.UseSalesCategoryCode,
		UseBusinessUnitCode:    input.UseBusinessUnitCode,
		UseSequentialNumber:    input.UseSequentialNumber,
		Separator:              input.Separator,
		SequentialNumberLength: input.SequentialNumberLength,
		LastModifiedAt:         s.allocator.now().UTC(),
	}
	if err := format.Validate(); err != nil {
		return Format{}, err
	}
	saved, err := s.repo.UpsertFormat(ctx, format)
	if err != nil {
		return Format{}, fmt.Errorf("numbering: save format: %w", err)
	}
	s.logger.Info("invoice number format saved",
		slog.Int64("business_unit_id", saved.BusinessUnitID),
		slog.Int64("sales_category_id", saved.SalesCategoryID))
	return saved, nil
}

// PreviewNext renders the next number for a pair without consuming it.
func (s *Service) PreviewNext(ctx context.Context, businessUnitID, salesCategoryID int64) (Number, error) {
	format, err := s.GetFormat(ctx, businessUnitID, salesCategoryID)
	if err != nil {
		return Number{}, err
	}
	buCode, err := s.repo.BusinessUnitCode(ctx, businessUnitID)
	if err != nil {
		return Number{}, fmt.Errorf("numbering: business unit code: %w", err)
	}
	catCode, err := s.repo.SalesCategoryCode(ctx, salesCategoryID)
	if err != nil {
		return Number{}, fmt.Errorf("numbering: sales category code: %w", err)
	}
	return s.allocator.Preview(format, buCode, catCode), nil
}
