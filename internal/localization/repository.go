package localization

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads languages and strings.
type Repository interface {
	ListLanguages(ctx context.Context) ([]Language, error)
	LanguageByCode(ctx context.Context, code string) (Language, error)
	Strings(ctx context.Context, languageID int64) (map[string]string, error)
	UpsertString(ctx context.Context, entry Entry, at time.Time) error
}

// PgRepository implements Repository on PostgreSQL.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// ListLanguages returns active languages, default first.
func (r *PgRepository) ListLanguages(ctx context.Context) ([]Language, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, native_name, is_default, is_active
FROM languages WHERE is_active ORDER BY is_default DESC, name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Language, error) {
		var l Language
		err := row.Scan(&l.ID, &l.Code, &l.Name, &l.NativeName, &l.IsDefault, &l.IsActive)
		return l, err
	})
}

func (r *PgRepository) LanguageByCode(ctx context.Context, code string) (Language, error) {
	var l Language
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, native_name, is_default, is_active
FROM languages WHERE lower(code) = lower($1)`, code).
		Scan(&l.ID, &l.Code, &l.Name, &l.NativeName, &l.IsDefault, &l.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return Language{}, ErrLanguageNotFound
	}
	return l, err
}

func (r *PgRepository) Strings(ctx context.Context, languageID int64) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT string_key, text FROM localization_strings WHERE language_id = $1`, languageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var key, text string
		if err := rows.Scan(&key, &text); err != nil {
			return nil, err
		}
		out[key] = text
	}
	return out, rows.Err()
}

func (r *PgRepository) UpsertString(ctx context.Context, e Entry, at time.Time) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO localization_strings (string_key, language_id, text, category, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5)
ON CONFLICT (string_key, language_id) DO UPDATE
SET text = EXCLUDED.text, category = EXCLUDED.category, updated_at = $5`,
		e.Key, e.LanguageID, e.Text, e.Category, at)
	return err
}
