// Package numbering allocates sequential invoice numbers per business unit and
// sales category and renders them with a configurable template.
package numbering

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
)

const (
	DefaultSeparator              = "-"
	DefaultSequentialNumberLength = 4
	MaxSequentialNumberLength     = 18
	MaxSeparatorLength            = 3
)

var (
	ErrFormatNotFound      = errors.New("numbering: format not found")
	ErrFormatExists        = errors.New("numbering: format already exists")
	ErrFormatMisconfigured = fmt.Errorf("numbering: invoice number format misconfigured: %w", httpx.ErrValidation)
	ErrInvalidKey          = fmt.Errorf("numbering: business unit and sales category are required: %w", httpx.ErrValidation)
)

// Format is the template and counter for one (business unit, sales category) pair.
type Format struct {
	ID                       int64     `json:"id"`
	BusinessUnitID           int64     `json:"business_unit_id"`
	SalesCategoryID          int64     `json:"sales_category_id"`
	UseYear                  bool      `json:"use_year"`
	UseSalesCategoryCode     bool      `json:"use_sales_category_code"`
	UseBusinessUnitCode      bool      `json:"use_business_unit_code"`
	UseSequentialNumber      bool      `json:"use_sequential_number"`
	Separator                string    `json:"separator"`
	SequentialNumberLength   int       `json:"sequential_number_length"`
	LastUsedSequentialNumber int64     `json:"last_used_sequential_number"`
	CreatedAt                time.Time `json:"created_at"`
	LastModifiedAt           time.Time `json:"last_modified_at"`
}

// Number is one allocated invoice number.
type Number struct {
	Formatted  string `json:"invoice_number"`
	Sequential int64  `json:"sequential_number"`
}

// DefaultFormat returns the format created on first allocation for a pair.
func DefaultFormat(businessUnitID, salesCategoryID int64) Format {
	return Format{
		BusinessUnitID:         businessUnitID,
		SalesCategoryID:        salesCategoryID,
		UseYear:                true,
		UseSalesCategoryCode:   true,
		UseBusinessUnitCode:    true,
		UseSequentialNumber:    true,
		Separator:              DefaultSeparator,
		SequentialNumberLength: DefaultSequentialNumberLength,
	}
}

// Validate rejects templates that cannot produce a usable number.
func (f Format) Validate() error {
	if !f.UseYear && !f.UseSalesCategoryCode && !f.UseBusinessUnitCode && !f.UseSequentialNumber {
		return fmt.Errorf("%w: at least one component must be enabled", ErrFormatMisconfigured)
	}
	if f.SequentialNumberLength < 0 || f.SequentialNumberLength > MaxSequentialNumberLength {
		return fmt.Errorf("%w: sequential number length must be between 0 and %d", ErrFormatMisconfigured, MaxSequentialNumberLength)
	}
	if len(f.Separator) > MaxSeparatorLength {
		return fmt.Errorf("%w: separator longer than %d characters", ErrFormatMisconfigured, MaxSeparatorLength)
	}
	return nil
}

// Render builds the formatted number. Components appear in fixed order: year,
// sales category code, business unit code, sequence. An empty category code is
// skipped; an empty business unit code falls back to the zero padded id.
// Padding never truncates a sequence wider than SequentialNumberLength.
func Render(f Format, seq int64, year int, businessUnitCode, salesCategoryCode string) string {
	parts := make([]string, 0, 4)
	if f.UseYear {
		parts = append(parts, fmt.Sprintf("%02d", year%100))
	}
	if f.UseSalesCategoryCode && strings.TrimSpace(salesCategoryCode) != "" {
		parts = append(parts, strings.TrimSpace(salesCategoryCode))
	}
	if f.UseBusinessUnitCode {
		code := strings.TrimSpace(businessUnitCode)
		if code == "" {
			code = fmt.Sprintf("%03d", f.BusinessUnitID)
		}
		parts = append(parts, code)
	}
	if f.UseSequentialNumber {
		parts = append(parts, fmt.Sprintf("%0*d", f.SequentialNumberLength, seq))
	}
	return strings.Join(parts, f.Separator)
}
