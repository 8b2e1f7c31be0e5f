// Package access stores which modules and submodules a user may open and
// which business units they may operate on.
package access

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
)

var (
	ErrUserRequired   = fmt.Errorf("access: user id is required: %w", httpx.ErrValidation)
	ErrInvalidGrant   = fmt.Errorf("access: grant ids must be positive: %w", httpx.ErrValidation)
	errEmptyModuleKey = fmt.Errorf("access: module code is required: %w", httpx.ErrValidation)
)

// Module is a top level application area.
type Module struct {
	ID          int64       `json:"id"`
	Code        string      `json:"code"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Page        string      `json:"page,omitempty"`
	Submodules  []Submodule `json:"submodules,omitempty"`
}

// Submodule is a page inside a module, optionally narrowed by a variant code.
type Submodule struct {
	ID          int64  `json:"id"`
	ModuleID    int64  `json:"module_id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Page        string `json:"page,omitempty"`
	VariantCode string `json:"variant_code,omitempty"`
}

// Grant is one user_module_access row. A nil SubmoduleID grants the whole module.
type Grant struct {
	ModuleID    int64  `json:"module_id"`
	SubmoduleID *int64 `json:"submodule_id,omitempty"`
}

// UserAccess is the full set of grants of one user.
type UserAccess struct {
	UserID        string               `json:"user_id"`
	Modules       []int64              `json:"modules"`
	Submodules    []int64              `json:"submodules"`
	BusinessUnits []BusinessUnitMember `json:"business_units"`
}

// BusinessUnitMember is a user_business_units row.
type BusinessUnitMember struct {
	BusinessUnitID int64     `json:"business_unit_id"`
	AssignedAt     time.Time `json:"assigned_at"`
	IsActive       bool      `json:"is_active"`
}
