// Package ingesterr defines the error taxonomy shared across the
// Document Ingestion Core's stages (spec §7). Each tag from the
// specification is represented as a sentinel error or a typed error with
// Is/As support, never as a control-flow exception — stages always
// return (Result, error) and the Stage Machine alone decides retries.
package ingesterr

import (
	"errors"
	"fmt"
)

// Sentinel errors for tags that carry no extra data.
var (
	// ErrSourceUnreadable indicates the source artifact could not be opened or decoded.
	ErrSourceUnreadable = errors.New("source unreadable")

	// ErrPageCountInvalid indicates the page-count probe did not return a
	// strictly positive integer.
	ErrPageCountInvalid = errors.New("page count invalid")

	// ErrInsufficientContent indicates a batch result was shorter than the content floor.
	ErrInsufficientContent = errors.New("insufficient content")

	// ErrStitchNoOverlap is informational: the stitcher fell back to a
	// separator because no exact or fuzzy overlap was found.
	ErrStitchNoOverlap = errors.New("stitch: no overlap found, joined with separator")

	// ErrReviewPending is not a failure; it signals the Stage Machine has
	// paused at a review checkpoint awaiting an external continue signal.
	ErrReviewPending = errors.New("review pending")

	// ErrCheckpointMismatch indicates a stage's checkpoint hash did not
	// match its recorded inputs; the Stage Machine resumes from the last
	// clean stage.
	ErrCheckpointMismatch = errors.New("checkpoint mismatch")

	// ErrEmbeddingFailed indicates an embedding call failed; retried by
	// the Stage Machine up to max_retries.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrUnsupportedManifestVersion indicates an import encountered a
	// manifest.json with an unknown major version.
	ErrUnsupportedManifestVersion = errors.New("unsupported manifest version")

	// ErrNoEmbedder indicates the Embedding stage ran without a Model
	// collaborator configured for embeddings.
	ErrNoEmbedder = errors.New("no embedder configured")
)

// BatchFailed wraps a single batch's extraction failure. The pipeline
// continues with remaining batches; this is recorded, not raised.
type BatchFailed struct {
	BatchIndex int
	Err        error
}

func (e *BatchFailed) Error() string {
	return fmt.Sprintf("batch %d failed: %v", e.BatchIndex, e.Err)
}

func (e *BatchFailed) Unwrap() error { return e.Err }

// ChunkInvariantViolated is fatal: a chunk failed one of the offset or
// ordering invariants of spec §3/§8.
type ChunkInvariantViolated struct {
	ChunkIndex int
	Reason     string
}

func (e *ChunkInvariantViolated) Error() string {
	return fmt.Sprintf("chunk %d invariant violated: %s", e.ChunkIndex, e.Reason)
}

// MatchMonotonicityViolation indicates a matcher candidate would break
// the non-decreasing-start guarantee; the caller retries at the next
// layer rather than accepting the candidate.
type MatchMonotonicityViolation struct {
	RawChunkIndex int
	CandidateStart int
	FloorStart     int
}

func (e *MatchMonotonicityViolation) Error() string {
	return fmt.Sprintf("raw chunk %d: candidate start %d precedes floor %d", e.RawChunkIndex, e.CandidateStart, e.FloorStart)
}

// EnrichmentFailed is per-chunk and non-fatal: the batch continues with
// empty enrichment metadata for the affected chunk.
type EnrichmentFailed struct {
	ChunkIndex int
	Err        error
}

func (e *EnrichmentFailed) Error() string {
	return fmt.Sprintf("chunk %d enrichment failed: %v", e.ChunkIndex, e.Err)
}

func (e *EnrichmentFailed) Unwrap() error { return e.Err }

// CleanupFailed is recoverable via the rule-based fallback cleaner.
type CleanupFailed struct {
	Err error
}

func (e *CleanupFailed) Error() string { return fmt.Sprintf("cleanup failed: %v", e.Err) }
func (e *CleanupFailed) Unwrap() error { return e.Err }

// StructuredOutputError is raised by the Model collaborator when a
// structured-output response fails schema validation (spec §6).
type StructuredOutputError struct {
	Schema string
	Err    error
}

func (e *StructuredOutputError) Error() string {
	return fmt.Sprintf("structured output did not validate against schema %s: %v", e.Schema, e.Err)
}

func (e *StructuredOutputError) Unwrap() error { return e.Err }

// StageUnit identifies the failed unit within a stage for user-facing
// error reporting (spec §7: "a stage name, a short reason, and a pointer
// to the failed unit").
type StageUnit struct {
	Stage      string
	BatchIndex *int
	ChunkIndex *int
	Reason     string
}

func (u StageUnit) String() string {
	switch {
	case u.BatchIndex != nil:
		return fmt.Sprintf("%s: batch %d: %s", u.Stage, *u.BatchIndex, u.Reason)
	case u.ChunkIndex != nil:
		return fmt.Sprintf("%s: chunk %d: %s", u.Stage, *u.ChunkIndex, u.Reason)
	default:
		return fmt.Sprintf("%s: %s", u.Stage, u.Reason)
	}
}
