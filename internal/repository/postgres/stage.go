package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/knoguchi/ingestcore/internal/repository"
)

// StageRepo implements repository.StageRepository. It stores one row per
// (document, stage, attempt), the same append-mostly status-row shape the
// teacher uses for crawl job bookkeeping.
type StageRepo struct {
	db *DB
}

// NewStageRepo creates a new stage record repository
func NewStageRepo(db *DB) *StageRepo {
	return &StageRepo{db: db}
}

// Create inserts a new stage attempt row.
func (r *StageRepo) Create(ctx context.Context, rec *repository.StageRecord) error {
	query := `
		INSERT INTO stage_records (document_id, stage, attempt, started_at, completed_at,
		                            checkpoint_hash, error_message, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		rec.DocumentID, rec.Stage, rec.Attempt, rec.StartedAt, rec.CompletedAt,
		rec.CheckpointHash, rec.Error, rec.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to create stage record: %w", err)
	}
	return nil
}

// Update updates a stage attempt row in place, identified by
// (document_id, stage, attempt).
func (r *StageRepo) Update(ctx context.Context, rec *repository.StageRecord) error {
	query := `
		UPDATE stage_records
		SET completed_at = $4, checkpoint_hash = $5, error_message = $6, retry_count = $7
		WHERE document_id = $1 AND stage = $2 AND attempt = $3
	`
	result, err := r.db.Pool.Exec(ctx, query,
		rec.DocumentID, rec.Stage, rec.Attempt,
		rec.CompletedAt, rec.CheckpointHash, rec.Error, rec.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to update stage record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Latest returns the most recent attempt row for a (document, stage) pair,
// backing Reporter.Checkpoint's skip-on-resume comparison.
func (r *StageRepo) Latest(ctx context.Context, documentID uuid.UUID, stage repository.ProcessingStage) (*repository.StageRecord, error) {
	query := `
		SELECT document_id, stage, attempt, started_at, completed_at, checkpoint_hash, error_message, retry_count
		FROM stage_records
		WHERE document_id = $1 AND stage = $2
		ORDER BY attempt DESC
		LIMIT 1
	`
	var rec repository.StageRecord
	err := r.db.Pool.QueryRow(ctx, query, documentID, stage).Scan(
		&rec.DocumentID, &rec.Stage, &rec.Attempt, &rec.StartedAt, &rec.CompletedAt,
		&rec.CheckpointHash, &rec.Error, &rec.RetryCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest stage record: %w", err)
	}
	return &rec, nil
}

// History returns every attempt row for a document, across all stages,
// ordered for a human-readable audit trail.
func (r *StageRepo) History(ctx context.Context, documentID uuid.UUID) ([]*repository.StageRecord, error) {
	query := `
		SELECT document_id, stage, attempt, started_at, completed_at, checkpoint_hash, error_message, retry_count
		FROM stage_records
		WHERE document_id = $1
		ORDER BY started_at ASC
	`
	rows, err := r.db.Pool.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stage history: %w", err)
	}
	defer rows.Close()

	var recs []*repository.StageRecord
	for rows.Next() {
		var rec repository.StageRecord
		if err := rows.Scan(&rec.DocumentID, &rec.Stage, &rec.Attempt, &rec.StartedAt, &rec.CompletedAt,
			&rec.CheckpointHash, &rec.Error, &rec.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan stage record: %w", err)
		}
		recs = append(recs, &rec)
	}
	return recs, nil
}

var _ repository.StageRepository = (*StageRepo)(nil)
