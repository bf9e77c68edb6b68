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

// DocumentRepo implements repository.DocumentRepository
type DocumentRepo struct {
	db *DB
}

// NewDocumentRepo creates a new document repository
func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

// Create creates a new document
func (r *DocumentRepo) Create(ctx context.Context, doc *repository.Document) error {
	rawExtraJSON, err := json.Marshal(doc.RawExtra)
	if err != nil {
		return fmt.Errorf("failed to marshal raw_extra: %w", err)
	}

	query := `
		INSERT INTO documents (id, owner, source_kind, source_path, markdown_path, chunker_kind,
		                        processing_stage, review_stage, word_count, raw_extra, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.Pool.Exec(ctx, query,
		doc.ID, doc.Owner, doc.SourceKind, doc.SourcePath, doc.MarkdownPath, doc.ChunkerKind,
		doc.ProcessingStage, doc.ReviewStage, doc.WordCount, rawExtraJSON,
		doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetByID retrieves a document by ID
func (r *DocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.Document, error) {
	query := `
		SELECT id, owner, source_kind, source_path, markdown_path, chunker_kind,
		       processing_stage, review_stage, word_count, raw_extra, created_at, updated_at
		FROM documents
		WHERE id = $1
	`
	return r.scanDocument(ctx, query, id)
}

// GetBySourceHash retrieves a document by its source content hash, scoped
// to an owner (spec §4.1's dedup-by-hash invariant).
func (r *DocumentRepo) GetBySourceHash(ctx context.Context, owner, hash string) (*repository.Document, error) {
	query := `
		SELECT id, owner, source_kind, source_path, markdown_path, chunker_kind,
		       processing_stage, review_stage, word_count, raw_extra, created_at, updated_at
		FROM documents
		WHERE owner = $1 AND raw_extra->>'source_sha256' = $2
	`
	return r.scanDocument(ctx, query, owner, hash)
}

func (r *DocumentRepo) scanDocument(ctx context.Context, query string, args ...any) (*repository.Document, error) {
	var doc repository.Document
	var rawExtraJSON []byte

	err := r.db.Pool.QueryRow(ctx, query, args...).Scan(
		&doc.ID, &doc.Owner, &doc.SourceKind, &doc.SourcePath, &doc.MarkdownPath, &doc.ChunkerKind,
		&doc.ProcessingStage, &doc.ReviewStage, &doc.WordCount, &rawExtraJSON,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	if len(rawExtraJSON) > 0 {
		if err := json.Unmarshal(rawExtraJSON, &doc.RawExtra); err != nil {
			return nil, fmt.Errorf("failed to unmarshal raw_extra: %w", err)
		}
	}

	return &doc, nil
}

// List retrieves documents for an owner with pagination, optionally
// filtered to a single processing stage.
func (r *DocumentRepo) List(ctx context.Context, owner string, stage repository.ProcessingStage, limit, offset int) ([]*repository.Document, int, error) {
	countQuery := `SELECT COUNT(*) FROM documents WHERE owner = $1`
	listQuery := `
		SELECT id, owner, source_kind, source_path, markdown_path, chunker_kind,
		       processing_stage, review_stage, word_count, raw_extra, created_at, updated_at
		FROM documents
		WHERE owner = $1
	`
	args := []any{owner}

	if stage != "" {
		countQuery += ` AND processing_stage = $2`
		listQuery += ` AND processing_stage = $2`
		args = append(args, stage)
	}

	listQuery += ` ORDER BY created_at DESC LIMIT $` + fmt.Sprintf("%d", len(args)+1) + ` OFFSET $` + fmt.Sprintf("%d", len(args)+2)

	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count documents: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.db.Pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*repository.Document
	for rows.Next() {
		var doc repository.Document
		var rawExtraJSON []byte
		if err := rows.Scan(&doc.ID, &doc.Owner, &doc.SourceKind, &doc.SourcePath, &doc.MarkdownPath, &doc.ChunkerKind,
			&doc.ProcessingStage, &doc.ReviewStage, &doc.WordCount, &rawExtraJSON,
			&doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan document: %w", err)
		}
		if len(rawExtraJSON) > 0 {
			if err := json.Unmarshal(rawExtraJSON, &doc.RawExtra); err != nil {
				return nil, 0, fmt.Errorf("failed to unmarshal raw_extra: %w", err)
			}
		}
		docs = append(docs, &doc)
	}

	return docs, total, nil
}

// Update updates a document's mutable fields.
func (r *DocumentRepo) Update(ctx context.Context, doc *repository.Document) error {
	rawExtraJSON, err := json.Marshal(doc.RawExtra)
	if err != nil {
		return fmt.Errorf("failed to marshal raw_extra: %w", err)
	}

	query := `
		UPDATE documents
		SET markdown_path = $2, chunker_kind = $3, processing_stage = $4, review_stage = $5,
		    word_count = $6, raw_extra = $7, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Pool.Exec(ctx, query,
		doc.ID, doc.MarkdownPath, doc.ChunkerKind, doc.ProcessingStage, doc.ReviewStage,
		doc.WordCount, rawExtraJSON)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete deletes a document.
func (r *DocumentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ repository.DocumentRepository = (*DocumentRepo)(nil)
