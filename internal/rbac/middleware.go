package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
)

// PermissionSource resolves the permission names granted to a user.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// Middleware guards routes by permission. Anonymous requests get 401, signed-in
// users lacking the permission get 403.
type Middleware struct {
	Service PermissionSource
	Logger  *slog.Logger
}

type matchMode int

const (
	matchAny matchMode = iota
	matchAll
)

// RequireAny lets the request through when the user holds at least one of perms.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return m.require(matchAny, perms)
}

// RequireAll lets the request through only when the user holds every one of perms.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return m.require(matchAll, perms)
}

func (m Middleware) require(mode matchMode, perms []string) func(http.Handler) http.Handler {
	required := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			userID, ok := CurrentUserID(r)
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
				return
			}
			granted, err := m.Service.EffectivePermissions(r.Context(), userID)
			if err != nil {
				m.logger().Error("rbac permission lookup", slog.Int64("user_id", userID), slog.Any("error", err))
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "the request could not be completed")
				return
			}
			if !matches(mode, granted, required) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission: "+strings.Join(required, ", "))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// CurrentUserID returns the numeric id of the signed-in user.
func CurrentUserID(r *http.Request) (int64, bool) {
	id := shared.SessionFromContext(r.Context()).UserID()
	return id, id > 0
}

func normalizePermissions(perms []string) []string {
	seen := make(map[string]bool, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		normalized = append(normalized, p)
	}
	return normalized
}

func matches(mode matchMode, granted, required []string) bool {
	set := make(map[string]bool, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = true
	}
	for _, p := range required {
		if set[p] && mode == matchAny {
			return true
		}
		if !set[p] && mode == matchAll {
			return false
		}
	}
	return mode == matchAll
}
