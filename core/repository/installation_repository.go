package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"runner-insights/core/models"
)

// InstallationRepository handles database operations for app installations
type InstallationRepository struct {
	db *DB
}

// NewInstallationRepository creates a new installation repository
func NewInstallationRepository(db *DB) *InstallationRepository {
	return &InstallationRepository{db: db}
}

// UpsertInstallation creates the installation or reactivates and renames it
func (r *InstallationRepository) UpsertInstallation(ctx context.Context, inst *models.Installation) error {
	query := `
		INSERT INTO installations (id, account_login, account_type, created_at, deleted_at)
		VALUES ($1, $2, $3, $4, NULL)
		ON CONFLICT (id) DO UPDATE SET
			account_login = EXCLUDED.account_login,
			account_type = CASE WHEN EXCLUDED.account_type = '' THEN installations.account_type ELSE EXCLUDED.account_type END,
			deleted_at = NULL
	`
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	inst.DeletedAt = nil

	_, err := r.db.ExecContext(ctx, query, inst.ID, inst.AccountLogin, inst.AccountType, inst.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert installation %d: %w", inst.ID, err)
	}
	return nil
}

// DeleteInstallation marks the installation as removed
func (r *InstallationRepository) DeleteInstallation(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE installations SET deleted_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("delete installation %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByAccount returns the most recent active installation for an account
func (r *InstallationRepository) FindByAccount(ctx context.Context, login string) (*models.Installation, error) {
	return r.findByAccount(ctx, r.db, login)
}

func (r *InstallationRepository) findByAccount(ctx context.Context, q queryer, login string) (*models.Installation, error) {
	query := `
		SELECT id, account_login, account_type, created_at
		FROM installations
		WHERE LOWER(account_login) = LOWER($1) AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`
	var inst models.Installation
	err := q.QueryRowContext(ctx, query, login).Scan(
		&inst.ID,
		&inst.AccountLogin,
		&inst.AccountType,
		&inst.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find installation for %s: %w", login, err)
	}
	return &inst, nil
}
