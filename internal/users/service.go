package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-invoicing/internal/rbac"
	"github.com/odyssey-erp/odyssey-invoicing/internal/shared"
)

// RoleAssigner links users to roles. *rbac.Service satisfies it.
type RoleAssigner interface {
	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) error
}

// AuditPort records account changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles user business logic.
type Service struct {
	repo   Repository
	roles  RoleAssigner
	audit  AuditPort
	logger *slog.Logger
	cost   int
}

// NewService builds Service instance.
func NewService(repo Repository, roles RoleAssigner, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roles: roles, audit: audit, logger: logger, cost: bcrypt.DefaultCost}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// CreateUser hashes the password and stores a new active account.
func (s *Service) CreateUser(ctx context.Context, actorID string, input CreateUserInput) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	user, err := s.repo.CreateUser(ctx, strings.TrimSpace(input.Email), strings.TrimSpace(input.Name), string(hash))
	if err != nil {
		return User{}, err
	}
	s.record(ctx, actorID, "user.create", user.ID, map[string]any{"email": user.Email})
	return user, nil
}

// SetActive enables or disables sign-in for an account.
func (s *Service) SetActive(ctx context.Context, actorID string, userID int64, active bool) error {
	if !active && actorID == strconv.FormatInt(userID, 10) {
		return ErrSelfDeactivation
	}
	if err := s.repo.SetActive(ctx, userID, active); err != nil {
		return err
	}
	s.record(ctx, actorID, "user.active", userID, map[string]any{"active": active})
	return nil
}

// AssignRole grants a role to a user.
func (s *Service) AssignRole(ctx context.Context, actorID string, userID, roleID int64) error {
	if err := s.roles.AssignRole(ctx, userID, roleID); err != nil {
		return mapRoleError(err)
	}
	s.record(ctx, actorID, "user.role.assign", userID, map[string]any{"role_id": roleID})
	return nil
}

// RemoveRole revokes a role from a user.
func (s *Service) RemoveRole(ctx context.Context, actorID string, userID, roleID int64) error {
	if err := s.roles.RemoveRole(ctx, userID, roleID); err != nil {
		return mapRoleError(err)
	}
	s.record(ctx, actorID, "user.role.remove", userID, map[string]any{"role_id": roleID})
	return nil
}

func mapRoleError(err error) error {
	if errors.Is(err, rbac.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *Service) record(ctx context.Context, actorID, action string, userID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit user change", slog.String("action", action), slog.Any("error", err))
	}
}
