// Package localization serves UI strings per language through a Redis
// cache-aside layer that is invalidated by bumping a version counter.
package localization

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
)

var (
	ErrLanguageNotFound = fmt.Errorf("localization: language %w", httpx.ErrNotFound)
	ErrInvalidString    = fmt.Errorf("localization: key and text are required: %w", httpx.ErrValidation)
)

// Language is a selectable UI language.
type Language struct {
	ID         int64  `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	NativeName string `json:"native_name"`
	IsDefault  bool   `json:"is_default"`
	IsActive   bool   `json:"is_active"`
}

// Entry is one translated string.
type Entry struct {
	Key        string     `json:"key"`
	LanguageID int64      `json:"language_id"`
	Text       string     `json:"text"`
	Category   string     `json:"category,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}
