package invoices

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
)

var (
	ErrNotFound         = fmt.Errorf("sales: invoice %w", httpx.ErrNotFound)
	ErrInvoicePosted    = fmt.Errorf("sales: posted invoices cannot be edited: %w", httpx.ErrConflict)
	ErrInvoiceCancelled = fmt.Errorf("sales: invoice is cancelled: %w", httpx.ErrConflict)
	ErrForbidden        = fmt.Errorf("sales: business unit not accessible: %w", httpx.ErrForbidden)
	ErrDuplicateRequest = fmt.Errorf("sales: request already processed: %w", httpx.ErrDuplicate)

	ErrBusinessUnitRequired   = errors.New("business unit is required")
	ErrBuyerNotFound          = errors.New("valid buyer not found")
	ErrInvalidItem            = errors.New("invalid invoice item")
	ErrReturnQuantityExceeded = errors.New("return quantity exceeds returnable quantity")
	ErrOriginalNotFound       = errors.New("original invoice not found")
)

// ValidationError carries a message meant to be shown to the user verbatim.
// It matches both its cause and httpx.ErrValidation with errors.Is.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{httpx.ErrValidation}
	}
	return []error{e.Err, httpx.ErrValidation}
}

func validationf(cause error, format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...), Err: cause}
}
