package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/knoguchi/ingestcore/internal/repository"
)

// OwnerRepo implements repository.OwnerRepository. It generalizes the
// teacher's multi-tenant TenantRepo down to what the ingestion core
// needs: API-key lookup and per-owner ingestion defaults. Usage-stats
// aggregation and tenant listing/deletion are dropped along with the
// retrieval-time Tenant.Config fields they supported.
type OwnerRepo struct {
	db *DB
}

// NewOwnerRepo creates a new owner repository
func NewOwnerRepo(db *DB) *OwnerRepo {
	return &OwnerRepo{db: db}
}

// Create creates a new owner
func (r *OwnerRepo) Create(ctx context.Context, owner *repository.Owner) error {
	defaultsJSON, err := json.Marshal(owner.Defaults)
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}

	query := `
		INSERT INTO owners (id, name, api_key, defaults, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		owner.ID, owner.Name, owner.APIKey, defaultsJSON, owner.CreatedAt, owner.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create owner: %w", err)
	}
	return nil
}

// GetByID retrieves an owner by ID
func (r *OwnerRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Owner, error) {
	query := `
		SELECT id, name, api_key, defaults, created_at, updated_at
		FROM owners
		WHERE id = $1
	`
	return r.scanOwner(ctx, query, id)
}

// GetByAPIKey retrieves an owner by API key
func (r *OwnerRepo) GetByAPIKey(ctx context.Context, apiKey string) (*repository.Owner, error) {
	query := `
		SELECT id, name, api_key, defaults, created_at, updated_at
		FROM owners
		WHERE api_key = $1
	`
	return r.scanOwner(ctx, query, apiKey)
}

func (r *OwnerRepo) scanOwner(ctx context.Context, query string, args ...any) (*repository.Owner, error) {
	var owner repository.Owner
	var defaultsJSON []byte

	err := r.db.Pool.QueryRow(ctx, query, args...).Scan(
		&owner.ID, &owner.Name, &owner.APIKey, &defaultsJSON,
		&owner.CreatedAt, &owner.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get owner: %w", err)
	}

	if err := json.Unmarshal(defaultsJSON, &owner.Defaults); err != nil {
		return nil, fmt.Errorf("failed to unmarshal defaults: %w", err)
	}

	return &owner, nil
}

// Update updates an owner's name and ingestion defaults.
func (r *OwnerRepo) Update(ctx context.Context, owner *repository.Owner) error {
	defaultsJSON, err := json.Marshal(owner.Defaults)
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}

	query := `
		UPDATE owners
		SET name = $2, defaults = $3, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Pool.Exec(ctx, query, owner.ID, owner.Name, defaultsJSON)
	if err != nil {
		return fmt.Errorf("failed to update owner: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ repository.OwnerRepository = (*OwnerRepo)(nil)
