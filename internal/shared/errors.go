package shared

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
)

// Authentication.
var (
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", httpx.ErrUnauthorized)
	ErrCSRFTokenMissing   = fmt.Errorf("csrf token missing: %w", httpx.ErrForbidden)
	ErrCSRFTokenMismatch  = fmt.Errorf("csrf token mismatch: %w", httpx.ErrForbidden)
)

// Idempotency.
var (
	ErrIdempotencyConflict    = fmt.Errorf("idempotent request already processed: %w", httpx.ErrConflict)
	ErrIdempotencyKeyRequired = errors.New("idempotency key and module required")
	errIdempotencyStoreNil    = errors.New("idempotency store not initialised")
)
