package access

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-invoicing/internal/platform/db"
)

// Repository persists grants and business unit membership.
type Repository interface {
	ListModules(ctx context.Context) ([]Module, error)
	ListGrants(ctx context.Context, userID string) ([]Grant, error)
	ReplaceGrants(ctx context.Context, userID string, modules, submodules []int64) error
	AllowedModules(ctx context.Context, userID string) ([]Module, error)
	AllowedSubmodules(ctx context.Context, userID string, moduleID int64) ([]Submodule, error)
	HasModuleAccess(ctx context.Context, userID, moduleCode string) (bool, error)
	ListMemberships(ctx context.Context, userID string) ([]BusinessUnitMember, error)
	IsMember(ctx context.Context, userID string, businessUnitID int64) (bool, error)
	SetMembership(ctx context.Context, userID string, businessUnitID int64, active bool, at time.Time) error
}

// PgRepository implements Repository on PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) ListModules(ctx context.Context) ([]Module, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, COALESCE(description, ''), COALESCE(page, '')
FROM modules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	modules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Module, error) {
		var m Module
		err := row.Scan(&m.ID, &m.Code, &m.Name, &m.Description, &m.Page)
		return m, err
	})
	if err != nil {
		return nil, err
	}
	subs, err := r.querySubmodules(ctx, `ORDER BY module_id, id`)
	if err != nil {
		return nil, err
	}
	index := make(map[int64]int, len(modules))
	for i, m := range modules {
		index[m.ID] = i
	}
	for _, s := range subs {
		if i, ok := index[s.ModuleID]; ok {
			modules[i].Submodules = append(modules[i].Submodules, s)
		}
	}
	return modules, nil
}

func (r *PgRepository) querySubmodules(ctx context.Context, tail string, args ...any) ([]Submodule, error) {
	rows, err := r.pool.Query(ctx, `SELECT s.id, s.module_id, s.code, s.name, COALESCE(s.description, ''),
	COALESCE(s.page, ''), COALESCE(s.variant_code, '')
FROM submodules s `+tail, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Submodule, error) {
		var s Submodule
		err := row.Scan(&s.ID, &s.ModuleID, &s.Code, &s.Name, &s.Description, &s.Page, &s.VariantCode)
		return s, err
	})
}

func (r *PgRepository) ListGrants(ctx context.Context, userID string) ([]Grant, error) {
	rows, err := r.pool.Query(ctx, `SELECT module_id, submodule_id FROM user_module_access
WHERE user_id = $1 ORDER BY module_id, submodule_id NULLS FIRST`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Grant, error) {
		var g Grant
		err := row.Scan(&g.ModuleID, &g.SubmoduleID)
		return g, err
	})
}

// ReplaceGrants deletes every grant of the user and inserts the new set in one
// transaction. Submodule grants take their module from the submodules table;
// unknown submodule ids are skipped.
func (r *PgRepository) ReplaceGrants(ctx context.Context, userID string, modules, submodules []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_module_access WHERE user_id = $1`, userID); err != nil {
			return err
		}
		if len(modules) > 0 {
			if _, err := tx.Exec(ctx, `INSERT INTO user_module_access (user_id, module_id, submodule_id)
SELECT $1, m.id, NULL FROM modules m WHERE m.id = ANY($2)`, userID, modules); err != nil {
				return err
			}
		}
		if len(submodules) > 0 {
			if _, err := tx.Exec(ctx, `INSERT INTO user_module_access (user_id, module_id, submodule_id)
SELECT $1, s.module_id, s.id FROM submodules s WHERE s.id = ANY($2)`, userID, submodules); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PgRepository) AllowedModules(ctx context.Context, userID string) ([]Module, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT m.id, m.code, m.name, COALESCE(m.description, ''), COALESCE(m.page, '')
FROM user_module_access uma
JOIN modules m ON m.id = uma.module_id
WHERE uma.user_id = $1 AND uma.submodule_id IS NULL
ORDER BY m.id`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Module, error) {
		var m Module
		err := row.Scan(&m.ID, &m.Code, &m.Name, &m.Description, &m.Page)
		return m, err
	})
}

func (r *PgRepository) AllowedSubmodules(ctx context.Context, userID string, moduleID int64) ([]Submodule, error) {
	return r.querySubmodules(ctx, `JOIN user_module_access uma ON uma.submodule_id = s.id
WHERE uma.user_id = $1 AND uma.module_id = $2
ORDER BY s.id`, userID, moduleID)
}

// HasModuleAccess is true for a module level grant or any submodule grant within the module.
func (r *PgRepository) HasModuleAccess(ctx context.Context, userID, moduleCode string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM user_module_access uma
	JOIN modules m ON m.id = uma.module_id
	WHERE uma.user_id = $1 AND m.code = $2)`, userID, moduleCode).Scan(&ok)
	return ok, err
}

func (r *PgRepository) ListMemberships(ctx context.Context, userID string) ([]BusinessUnitMember, error) {
	rows, err := r.pool.Query(ctx, `SELECT business_unit_id, assigned_at, is_active
FROM user_business_units WHERE user_id = $1 ORDER BY business_unit_id`, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (BusinessUnitMember, error) {
		var m BusinessUnitMember
		err := row.Scan(&m.BusinessUnitID, &m.AssignedAt, &m.IsActive)
		return m, err
	})
}

func (r *PgRepository) IsMember(ctx context.Context, userID string, businessUnitID int64) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx, `SELECT is_active FROM user_business_units
WHERE user_id = $1 AND business_unit_id = $2`, userID, businessUnitID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return active, err
}

func (r *PgRepository) SetMembership(ctx context.Context, userID string, businessUnitID int64, active bool, at time.Time) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_business_units (user_id, business_unit_id, assigned_at, is_active)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, business_unit_id) DO UPDATE SET is_active = EXCLUDED.is_active`,
		userID, businessUnitID, at, active)
	return err
}
