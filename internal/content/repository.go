package content

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/presenta-live/backend/internal/models"
)

// ErrNotFound is returned when a module or submodule does not exist.
var ErrNotFound = errors.New("content not found")

// Repository handles module/submodule persistence and owns the monotonic
// content version counter. Every content mutation bumps the version.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a content repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateModule inserts a module.
func (r *Repository) CreateModule(ctx context.Context, m *models.Module) error {
	const query = `INSERT INTO modules (id, title, description, position)
		VALUES (gen_random_uuid(), $1, $2, $3)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query, m.Title, m.Description, m.Position).
		Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

// ListModules returns all modules in sequence order.
func (r *Repository) ListModules(ctx context.Context) ([]models.Module, error) {
	const query = `SELECT id, title, description, position, created_at, updated_at
		FROM modules ORDER BY position, created_at`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Module
	for rows.Next() {
		var m models.Module
		if err := rows.Scan(&m.ID, &m.Title, &m.Description, &m.Position, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetModule returns one module.
func (r *Repository) GetModule(ctx context.Context, id uuid.UUID) (*models.Module, error) {
	const query = `SELECT id, title, description, position, created_at, updated_at
		FROM modules WHERE id = $1`
	var m models.Module
	err := r.pool.QueryRow(ctx, query, id).
		Scan(&m.ID, &m.Title, &m.Description, &m.Position, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateModule updates module fields.
func (r *Repository) UpdateModule(ctx context.Context, m *models.Module) error {
	const query = `UPDATE modules SET title = $2, description = $3, position = $4, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query, m.ID, m.Title, m.Description, m.Position).Scan(&m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// DeleteModule removes a module and its submodules.
func (r *Repository) DeleteModule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM modules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSubmodule inserts a submodule at the given index within its module.
func (r *Repository) CreateSubmodule(ctx context.Context, s *models.Submodule) error {
	const query = `INSERT INTO submodules (id, module_id, index, title, kind, body, asset_key)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query, s.ModuleID, s.Index, s.Title, s.Kind, s.Body, s.AssetKey).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

// ListSubmodules returns a module's submodules ordered by index.
func (r *Repository) ListSubmodules(ctx context.Context, moduleID uuid.UUID) ([]models.Submodule, error) {
	const query = `SELECT id, module_id, index, title, kind, body, asset_key, created_at, updated_at
		FROM submodules WHERE module_id = $1 ORDER BY index`
	rows, err := r.pool.Query(ctx, query, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Submodule
	for rows.Next() {
		var s models.Submodule
		if err := rows.Scan(&s.ID, &s.ModuleID, &s.Index, &s.Title, &s.Kind, &s.Body, &s.AssetKey, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateSubmodule updates submodule fields.
func (r *Repository) UpdateSubmodule(ctx context.Context, s *models.Submodule) error {
	const query = `UPDATE submodules SET index = $2, title = $3, kind = $4, body = $5, asset_key = $6, updated_at = NOW()
		WHERE id = $1 RETURNING module_id, updated_at`
	err := r.pool.QueryRow(ctx, query, s.ID, s.Index, s.Title, s.Kind, s.Body, s.AssetKey).
		Scan(&s.ModuleID, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// DeleteSubmodule removes a submodule.
func (r *Repository) DeleteSubmodule(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM submodules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResolvePosition reports whether (moduleID, submoduleIndex) maps to real
// content. This implements the lookup the session hub validates navigation
// against.
func (r *Repository) ResolvePosition(ctx context.Context, moduleID uuid.UUID, submoduleIndex int) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM submodules WHERE module_id = $1 AND index = $2)`
	var ok bool
	if err := r.pool.QueryRow(ctx, query, moduleID, submoduleIndex).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// Describe returns the content descriptor at a position.
func (r *Repository) Describe(ctx context.Context, moduleID uuid.UUID, submoduleIndex int) (*models.ContentDescriptor, error) {
	const query = `SELECT kind, body, asset_key FROM submodules WHERE module_id = $1 AND index = $2`
	d := models.ContentDescriptor{ModuleID: moduleID, Index: submoduleIndex}
	err := r.pool.QueryRow(ctx, query, moduleID, submoduleIndex).Scan(&d.Kind, &d.Body, &d.AssetKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	version, err := r.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	d.Version = version
	return &d, nil
}

// CurrentVersion returns the content version token.
func (r *Repository) CurrentVersion(ctx context.Context) (string, error) {
	var v int64
	if err := r.pool.QueryRow(ctx, `SELECT version FROM content_version WHERE id = 1`).Scan(&v); err != nil {
		return "", err
	}
	return strconv.FormatInt(v, 10), nil
}

// BumpVersion increments the content version and returns the new token.
// Called after every content mutation so active sessions and client caches
// can detect staleness.
func (r *Repository) BumpVersion(ctx context.Context) (string, error) {
	var v int64
	err := r.pool.QueryRow(ctx,
		`UPDATE content_version SET version = version + 1, updated_at = NOW() WHERE id = 1 RETURNING version`).
		Scan(&v)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(v, 10), nil
}
