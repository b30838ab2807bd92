package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-sqlguard/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/database"
	"github.com/ekaya-inc/ekaya-sqlguard/pkg/models"
)

// PermissionRepository defines data access for per-user permission records.
// Allow-lists keep their three states through the store: NULL is unrestricted,
// an empty array allows nothing.
type PermissionRepository interface {
	GetByID(ctx context.Context, userID string) (*models.UserPermissions, error)
	GetByUsername(ctx context.Context, username string) (*models.UserPermissions, error)
	Upsert(ctx context.Context, perms *models.UserPermissions) error
	Delete(ctx context.Context, userID string) error
	List(ctx context.Context) ([]*models.UserPermissions, error)
}

type permissionRepository struct {
	db *database.DB
}

// NewPermissionRepository creates a PostgreSQL-backed permission repository.
func NewPermissionRepository(db *database.DB) PermissionRepository {
	return &permissionRepository{db: db}
}

const permissionColumns = `user_id, username, is_admin,
	allowed_planning_areas, allowed_scenarios, allowed_plants, allowed_table_access,
	created_at, updated_at`

func (r *permissionRepository) GetByID(ctx context.Context, userID string) (*models.UserPermissions, error) {
	query := `SELECT ` + permissionColumns + ` FROM user_permissions WHERE user_id = $1`

	perms, err := scanPermissions(r.db.Pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get permissions: %w", err)
	}
	return perms, nil
}

func (r *permissionRepository) GetByUsername(ctx context.Context, username string) (*models.UserPermissions, error) {
	query := `SELECT ` + permissionColumns + ` FROM user_permissions WHERE LOWER(username) = LOWER($1)`

	perms, err := scanPermissions(r.db.Pool.QueryRow(ctx, query, strings.TrimSpace(username)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get permissions by username: %w", err)
	}
	return perms, nil
}

// Upsert creates or replaces a permission record. CreatedAt is preserved on update.
func (r *permissionRepository) Upsert(ctx context.Context, perms *models.UserPermissions) error {
	now := time.Now().UTC()
	perms.UpdatedAt = now

	query := `
		INSERT INTO user_permissions (` + permissionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (user_id) DO UPDATE
		SET username = EXCLUDED.username,
		    is_admin = EXCLUDED.is_admin,
		    allowed_planning_areas = EXCLUDED.allowed_planning_areas,
		    allowed_scenarios = EXCLUDED.allowed_scenarios,
		    allowed_plants = EXCLUDED.allowed_plants,
		    allowed_table_access = EXCLUDED.allowed_table_access,
		    updated_at = EXCLUDED.updated_at
		RETURNING created_at`

	err := r.db.Pool.QueryRow(ctx, query,
		perms.UserID,
		perms.Username,
		perms.IsAdmin,
		perms.AllowedPlanningAreas,
		perms.AllowedScenarios,
		perms.AllowedPlants,
		perms.AllowedTableAccess,
		now,
	).Scan(&perms.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("username %q is already assigned to another user: %w", perms.Username, apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to upsert permissions: %w", err)
	}
	return nil
}

func (r *permissionRepository) Delete(ctx context.Context, userID string) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete permissions: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *permissionRepository) List(ctx context.Context) ([]*models.UserPermissions, error) {
	query := `SELECT ` + permissionColumns + ` FROM user_permissions ORDER BY LOWER(username), user_id`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var all []*models.UserPermissions
	for rows.Next() {
		perms, err := scanPermissions(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permissions: %w", err)
		}
		all = append(all, perms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}
	return all, nil
}

func scanPermissions(row pgx.Row) (*models.UserPermissions, error) {
	var p models.UserPermissions
	err := row.Scan(
		&p.UserID,
		&p.Username,
		&p.IsAdmin,
		&p.AllowedPlanningAreas,
		&p.AllowedScenarios,
		&p.AllowedPlants,
		&p.AllowedTableAccess,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
