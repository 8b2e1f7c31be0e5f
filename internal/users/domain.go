package users

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
)

var (
	// ErrNotFound is returned for unknown user or role ids.
	ErrNotFound = fmt.Errorf("users: not found: %w", httpx.ErrNotFound)
	// ErrDuplicateEmail rejects a second account for the same address.
	ErrDuplicateEmail = fmt.Errorf("users: email already registered: %w", httpx.ErrDuplicate)
	// ErrSelfDeactivation stops administrators from locking themselves out.
	ErrSelfDeactivation = fmt.Errorf("users: cannot deactivate own account: %w", httpx.ErrConflict)
)

// User represents a user account for management.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateUserInput carries the fields of a new account.
type CreateUserInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Name     string `json:"name" validate:"required,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}
