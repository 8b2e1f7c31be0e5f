package access

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
)

// AuditPort records grant changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service answers access questions and edits grants.
type Service struct {
	repo   Repository
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

func (s *Service) Modules(ctx context.Context) ([]Module, error) {
	return s.repo.ListModules(ctx)
}

// UserAccess returns the grants and memberships of a user.
func (s *Service) UserAccess(ctx context.Context, userID string) (UserAccess, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserAccess{}, ErrUserRequired
	}
	grants, err := s.repo.ListGrants(ctx, userID)
	if err != nil {
		return UserAccess{}, fmt.Errorf("access: list grants: %w", err)
	}
	members, err := s.repo.ListMemberships(ctx, userID)
	if err != nil {
		return UserAccess{}, fmt.Errorf("access: list memberships: %w", err)
	}
	out := UserAccess{UserID: userID, Modules: []int64{}, Submodules: []int64{}, BusinessUnits: members}
	for _, g := range grants {
		if g.SubmoduleID == nil {
			out.Modules = append(out.Modules, g.ModuleID)
		} else {
			out.Submodules = append(out.Submodules, *g.SubmoduleID)
		}
	}
	return out, nil
}

// SaveUserAccess replaces every grant of the user with the given module and submodule ids.
func (s *Service) SaveUserAccess(ctx context.Context, actorID, userID string, modules, submodules []int64) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrUserRequired
	}
	mods, err := distinct(modules)
	if err != nil {
		return err
	}
	subs, err := distinct(submodules)
	if err != nil {
		return err
	}
	if err := s.repo.ReplaceGrants(ctx, userID, mods, subs); err != nil {
		return fmt.Errorf("access: replace grants: %w", err)
	}
	s.record(ctx, actorID, "access:grants:replace", userID, map[string]any{"modules": mods, "submodules": subs})
	return nil
}

func (s *Service) AllowedModules(ctx context.Context, userID string) ([]Module, error) {
	return s.repo.AllowedModules(ctx, userID)
}

func (s *Service) AllowedSubmodules(ctx context.Context, userID string, moduleID int64) ([]Submodule, error) {
	return s.repo.AllowedSubmodules(ctx, userID, moduleID)
}

// HasModuleAccess reports whether the user holds any grant within the module.
func (s *Service) HasModuleAccess(ctx context.Context, userID, moduleCode string) (bool, error) {
	moduleCode = strings.TrimSpace(moduleCode)
	if moduleCode == "" {
		return false, errEmptyModuleKey
	}
	if strings.TrimSpace(userID) == "" {
		return false, nil
	}
	return s.repo.HasModuleAccess(ctx, userID, moduleCode)
}

// CanOperate reports whether the user holds an active membership of the business unit.
func (s *Service) CanOperate(ctx context.Context, userID string, businessUnitID int64) (bool, error) {
	if strings.TrimSpace(userID) == "" || businessUnitID <= 0 {
		return false, nil
	}
	return s.repo.IsMember(ctx, userID, businessUnitID)
}

// AssignBusinessUnit activates the user's membership of a business unit.
func (s *Service) AssignBusinessUnit(ctx context.Context, actorID, userID string, businessUnitID int64) error {
	return s.setMembership(ctx, actorID, userID, businessUnitID, true)
}

// RevokeBusinessUnit deactivates the membership, keeping its history.
func (s *Service) RevokeBusinessUnit(ctx context.Context, actorID, userID string, businessUnitID int64) error {
	return s.setMembership(ctx, actorID, userID, businessUnitID, false)
}

func (s *Service) setMembership(ctx context.Context, actorID, userID string, businessUnitID int64, active bool) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrUserRequired
	}
	if businessUnitID <= 0 {
		return ErrInvalidGrant
	}
	if err := s.repo.SetMembership(ctx, userID, businessUnitID, active, s.now().UTC()); err != nil {
		return fmt.Errorf("access: membership: %w", err)
	}
	action := "access:business_unit:revoke"
	if active {
		action = "access:business_unit:assign"
	}
	s.record(ctx, actorID, action, userID, map[string]any{"business_unit_id": businessUnitID})
	return nil
}

func (s *Service) record(ctx context.Context, actorID, action, userID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: userID,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit access change", slog.String("action", action), slog.Any("error", err))
	}
}

func distinct(ids []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidGrant, strconv.FormatInt(id, 10))
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
