package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/knoguchi/ingestcore/internal/repository"
)

// ChunkRepo implements repository.ChunkRepository
type ChunkRepo struct {
	db *DB
}

// NewChunkRepo creates a new chunk repository
func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// ReplaceCurrent atomically swaps a document's current chunk set: the
// previous generation is deleted and the new one inserted in a single
// transaction, so readers never observe a partial chunk set (spec §4.4's
// re-chunk-on-change invariant).
func (r *ChunkRepo) ReplaceCurrent(ctx context.Context, documentID uuid.UUID, chunks []*repository.Chunk) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to clear previous chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		conceptsJSON, err := json.Marshal(c.Concepts)
		if err != nil {
			return fmt.Errorf("failed to marshal concepts: %w", err)
		}
		conceptualJSON, err := json.Marshal(c.Conceptual)
		if err != nil {
			return fmt.Errorf("failed to marshal conceptual: %w", err)
		}
		rawExtraJSON, err := json.Marshal(c.RawExtra)
		if err != nil {
			return fmt.Errorf("failed to marshal raw_extra: %w", err)
		}
		themesJSON, err := json.Marshal(c.Themes)
		if err != nil {
			return fmt.Errorf("failed to marshal themes: %w", err)
		}
		headingPathJSON, err := json.Marshal(c.HeadingPath)
		if err != nil {
			return fmt.Errorf("failed to marshal heading_path: %w", err)
		}
		bboxesJSON, err := json.Marshal(c.BBoxes)
		if err != nil {
			return fmt.Errorf("failed to marshal bboxes: %w", err)
		}

		batch.Queue(`
			INSERT INTO chunks (
				document_id, chunk_index, content, start_offset, end_offset, token_count,
				chunker_type, heading_path, page_start, page_end, section_marker, bboxes,
				position_method, position_confidence,
				metadata_overlap_count, metadata_interpolated, metadata_confidence,
				themes, concepts, importance, summary, emotional_polarity, emotional_primary,
				emotional_intensity, conceptual, domain_primary, domain_confidence,
				embedding, is_current, raw_extra
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
				$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30
			)
		`,
			c.DocumentID, c.ChunkIndex, c.Content, c.StartOffset, c.EndOffset, c.TokenCount,
			c.ChunkerType, headingPathJSON, c.PageStart, c.PageEnd, c.SectionMarker, bboxesJSON,
			c.PositionMethod, c.PositionConfidence,
			c.MetadataOverlapCount, c.MetadataInterpolated, c.MetadataConfidence,
			themesJSON, conceptsJSON, c.Importance, c.Summary, c.Emotional.Polarity, c.Emotional.PrimaryEmotion,
			c.Emotional.Intensity, conceptualJSON, c.Domain.PrimaryDomain, c.Domain.Confidence,
			c.Embedding, true, rawExtraJSON,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to finalize chunk batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit chunk replacement: %w", err)
	}
	return nil
}

// GetCurrent retrieves a document's current chunk set, ordered by index.
func (r *ChunkRepo) GetCurrent(ctx context.Context, documentID uuid.UUID) ([]*repository.Chunk, error) {
	query := `
		SELECT document_id, chunk_index, content, start_offset, end_offset, token_count,
		       chunker_type, heading_path, page_start, page_end, section_marker, bboxes,
		       position_method, position_confidence,
		       metadata_overlap_count, metadata_interpolated, metadata_confidence,
		       themes, concepts, importance, summary, emotional_polarity, emotional_primary,
		       emotional_intensity, conceptual, domain_primary, domain_confidence,
		       embedding, raw_extra
		FROM chunks
		WHERE document_id = $1 AND is_current = true
		ORDER BY chunk_index
	`
	rows, err := r.db.Pool.Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*repository.Chunk
	for rows.Next() {
		var c repository.Chunk
		var headingPathJSON, bboxesJSON, themesJSON, conceptsJSON, conceptualJSON, rawExtraJSON []byte
		if err := rows.Scan(
			&c.DocumentID, &c.ChunkIndex, &c.Content, &c.StartOffset, &c.EndOffset, &c.TokenCount,
			&c.ChunkerType, &headingPathJSON, &c.PageStart, &c.PageEnd, &c.SectionMarker, &bboxesJSON,
			&c.PositionMethod, &c.PositionConfidence,
			&c.MetadataOverlapCount, &c.MetadataInterpolated, &c.MetadataConfidence,
			&themesJSON, &conceptsJSON, &c.Importance, &c.Summary, &c.Emotional.Polarity, &c.Emotional.PrimaryEmotion,
			&c.Emotional.Intensity, &conceptualJSON, &c.Domain.PrimaryDomain, &c.Domain.Confidence,
			&c.Embedding, &rawExtraJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if err := unmarshalAll(
			jsonField{headingPathJSON, &c.HeadingPath},
			jsonField{bboxesJSON, &c.BBoxes},
			jsonField{themesJSON, &c.Themes},
			jsonField{conceptsJSON, &c.Concepts},
			jsonField{conceptualJSON, &c.Conceptual},
			jsonField{rawExtraJSON, &c.RawExtra},
		); err != nil {
			return nil, err
		}
		c.IsCurrent = true
		chunks = append(chunks, &c)
	}

	return chunks, nil
}

// DeleteAll removes every chunk generation for a document.
func (r *ChunkRepo) DeleteAll(ctx context.Context, documentID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

type jsonField struct {
	raw []byte
	out any
}

func unmarshalAll(fields ...jsonField) error {
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.out); err != nil {
			return fmt.Errorf("failed to unmarshal chunk field: %w", err)
		}
	}
	return nil
}

var _ repository.ChunkRepository = (*ChunkRepo)(nil)
