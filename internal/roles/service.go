package roles

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-invoicing/internal/rbac"
	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
)

// ErrUnknownPermission rejects grants naming permissions outside the catalogue.
var ErrUnknownPermission = fmt.Errorf("roles: unknown permission: %w", httpx.ErrValidation)

// Store is the slice of rbac.Service that role administration needs.
type Store interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	CreateRole(ctx context.Context, name, description string) (rbac.Role, error)
	ListPermissions(ctx context.Context) ([]rbac.Permission, error)
	EnsurePermission(ctx context.Context, name, description string) (rbac.Permission, error)
	SetRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error
}

// AuditPort records role changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles role business logic.
type Service struct {
	store  Store
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(store Store, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, audit: audit, logger: logger}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	return s.store.ListRoles(ctx)
}

// SyncCatalogue makes sure every permission the application checks exists.
func (s *Service) SyncCatalogue(ctx context.Context) (int, error) {
	scopes := shared.AllScopes()
	for _, name := range scopes {
		if _, err := s.store.EnsurePermission(ctx, name, name); err != nil {
			return 0, fmt.Errorf("roles: ensure %s: %w", name, err)
		}
	}
	return len(scopes), nil
}

// CreateRole creates or updates a role by name.
func (s *Service) CreateRole(ctx context.Context, actorID, name, description string) (rbac.Role, error) {
	role, err := s.store.CreateRole(ctx, strings.ToLower(strings.TrimSpace(name)), description)
	if err != nil {
		return rbac.Role{}, err
	}
	s.record(ctx, actorID, "role.create", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

// SetPermissions replaces the permissions of a role, addressed by name.
func (s *Service) SetPermissions(ctx context.Context, actorID string, roleID int64, names []string) ([]string, error) {
	catalogue, err := s.store.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("roles: list permissions: %w", err)
	}
	byName := make(map[string]int64, len(catalogue))
	for _, p := range catalogue {
		byName[strings.ToLower(p.Name)] = p.ID
	}

	seen := make(map[string]struct{}, len(names))
	granted := make([]string, 0, len(names))
	ids := make([]int64, 0, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		id, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, ErrUnknownPermission)
		}
		seen[name] = struct{}{}
		granted = append(granted, name)
		ids = append(ids, id)
	}
	sort.Strings(granted)

	if err := s.store.SetRolePermissions(ctx, roleID, ids); err != nil {
		return nil, err
	}
	s.record(ctx, actorID, "role.permissions", roleID, map[string]any{"permissions": granted})
	return granted, nil
}

func (s *Service) record(ctx context.Context, actorID, action string, roleID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "role",
		EntityID: strconv.FormatInt(roleID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit role change", slog.String("action", action), slog.Any("error", err))
	}
}
