// Package repository defines the domain model and persistence interfaces
// for the Document Ingestion Core: documents, batch ranges, raw extractor
// chunks, cleaned markdown, final chunks, and stage records.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// SourceKind identifies the shape of the opaque source artifact.
type SourceKind string

const (
	SourceKindPDF      SourceKind = "pdf"
	SourceKindEPUB     SourceKind = "epub"
	SourceKindMarkdown SourceKind = "md"
	SourceKindText     SourceKind = "text"
)

// ProcessingStage names a node in the Stage Machine's DAG (spec §4.8).
type ProcessingStage string

const (
	StageQueued               ProcessingStage = "queued"
	StageExtracting            ProcessingStage = "extracting"
	StageExtracted             ProcessingStage = "extracted"
	StageReviewDocling         ProcessingStage = "review:docling"
	StageCleaning              ProcessingStage = "cleaning"
	StageCleaned               ProcessingStage = "cleaned"
	StageChunking              ProcessingStage = "chunking"
	StageChunked               ProcessingStage = "chunked"
	StageReviewBeforeChunking  ProcessingStage = "review:before_chunking"
	StageMatching              ProcessingStage = "matching"
	StageMatched               ProcessingStage = "matched"
	StageEnriching             ProcessingStage = "enriching"
	StageEnriched              ProcessingStage = "enriched"
	StageEmbedding             ProcessingStage = "embedding"
	StageEmbedded              ProcessingStage = "embedded"
	StageCompleted             ProcessingStage = "completed"
	StageFailed                ProcessingStage = "failed"
)

// ReviewStage names which review checkpoint, if any, a document is
// currently paused at.
type ReviewStage string

const (
	ReviewNone            ReviewStage = ""
	ReviewPostExtract     ReviewStage = "docling"
	ReviewBeforeChunking  ReviewStage = "before_chunking"
)

// ConfidenceTag describes how a chunk's structural metadata was obtained
// (spec §3, §4.5, Glossary).
type ConfidenceTag string

const (
	ConfidenceExact     ConfidenceTag = "exact"
	ConfidenceHigh      ConfidenceTag = "high"
	ConfidenceMedium    ConfidenceTag = "medium"
	ConfidenceSynthetic ConfidenceTag = "synthetic"
)

// ChunkerKind is the chunking strategy tag a user picks per document
// (spec §4.4).
type ChunkerKind string

const (
	ChunkerRecursive ChunkerKind = "recursive"
	ChunkerSemantic  ChunkerKind = "semantic"
	ChunkerToken     ChunkerKind = "token"
	ChunkerSentence  ChunkerKind = "sentence"
	ChunkerLate      ChunkerKind = "late"
	ChunkerCode      ChunkerKind = "code"
	ChunkerHybrid    ChunkerKind = "hybrid"
)

// Owner represents the owning principal of a set of documents. It
// generalizes the teacher's multi-tenant "Tenant" concept down to what
// the ingestion core actually needs: an API key and ingestion defaults.
// Query-time fields (TopK, MinScore, RerankerEnabled) are not carried —
// they belong to the out-of-scope retrieval subsystem.
type Owner struct {
	ID          uuid.UUID
	Name        string
	APIKey      string
	Defaults    OwnerDefaults
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OwnerDefaults holds an owner's default ingestion preferences.
type OwnerDefaults struct {
	ChunkerKind    ChunkerKind `json:"chunker_kind"`
	EmbeddingModel string      `json:"embedding_model"`
	PagesPerBatch  int         `json:"pages_per_batch"`
	OverlapPages   int         `json:"overlap_pages"`
}

// Document is the root entity of the ingestion pipeline (spec §3).
type Document struct {
	ID              uuid.UUID
	Owner           string
	SourceKind      SourceKind
	SourcePath      string
	MarkdownPath    string
	ChunkerKind     ChunkerKind
	ProcessingStage ProcessingStage
	ReviewStage     ReviewStage
	WordCount       int
	RawExtra        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasMarkdown reports whether the document has progressed far enough for
// markdown_path to be set, per the invariant "markdown_path set iff
// stage >= stitched".
func (d *Document) HasMarkdown() bool {
	switch d.ProcessingStage {
	case StageQueued, StageExtracting, StageExtracted, StageReviewDocling, StageCleaning:
		return false
	default:
		return true
	}
}

// BatchRange is one page window emitted by the batch-range algorithm
// (spec §4.1). Discarded after stitching.
type BatchRange struct {
	BatchIndex int
	PageStart  int
	PageEnd    int
}

// BBox is a page-relative bounding rectangle for a span of extracted
// content, used for provenance and downstream highlighting.
type BBox struct {
	Page   int     `json:"page"`
	X0     float64 `json:"x0"`
	Y0     float64 `json:"y0"`
	X1     float64 `json:"x1"`
	Y1     float64 `json:"y1"`
}

// CharSpan is a half-open interval [Start, End) into a text stream.
type CharSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the span's width.
func (s CharSpan) Len() int { return s.End - s.Start }

// Empty reports whether the span is empty (zero-width).
func (s CharSpan) Empty() bool { return s.End <= s.Start }

// RawChunk is a provenance-bearing chunk emitted by the Batch Extractor,
// referencing offsets in the *uncleaned* extracted stream (spec §3, §4.1).
type RawChunk struct {
	DocumentID  uuid.UUID
	Index       int
	Content     string
	PageStart   int
	PageEnd     int
	HeadingPath []string
	BBoxes      []BBox
	CharSpan    CharSpan
}

// CleanedMarkdown is the authoritative post-Cleaner text for offsets and
// embeddings (spec §3).
type CleanedMarkdown struct {
	DocumentID uuid.UUID
	Text       string
	SHA256     string
	CreatedAt  time.Time
}

// Concept is one extracted concept with an importance weight (spec §4.7).
type Concept struct {
	Text       string  `json:"text"`
	Importance float64 `json:"importance"`
}

// Emotional is the emotional-polarity blob produced by the Enricher.
type Emotional struct {
	Polarity       float64 `json:"polarity"`
	PrimaryEmotion string  `json:"primary_emotion"`
	Intensity      float64 `json:"intensity"`
}

// Domain is the domain-classification blob produced by the Enricher.
type Domain struct {
	PrimaryDomain string  `json:"primary_domain"`
	Confidence    float64 `json:"confidence"`
}

// Chunk is a final, offset-aligned, enriched, embedding-ready record
// (spec §3). ChunkIndex is dense from 0; intervals are non-overlapping
// and monotone.
type Chunk struct {
	DocumentID   uuid.UUID
	ChunkIndex   int
	Content      string
	StartOffset  int
	EndOffset    int
	TokenCount   int
	ChunkerType  ChunkerKind
	HeadingPath  []string
	PageStart    *int
	PageEnd      *int
	SectionMarker string
	BBoxes       []BBox

	PositionMethod     string
	PositionConfidence ConfidenceTag

	MetadataOverlapCount int
	MetadataInterpolated bool
	MetadataConfidence   ConfidenceTag

	Themes    []string
	Concepts  []Concept
	Importance float64
	Summary   string
	Emotional Emotional
	Conceptual map[string]any
	Domain    Domain

	Embedding []float32
	IsCurrent bool

	RawExtra map[string]any
}

// Span returns the chunk's half-open character span.
func (c *Chunk) Span() CharSpan { return CharSpan{Start: c.StartOffset, End: c.EndOffset} }

// StageRecord is one row per (document, stage, attempt), tracking the
// Stage Machine's transitions (spec §3, §4.8).
type StageRecord struct {
	DocumentID     uuid.UUID
	Stage          ProcessingStage
	Attempt        int
	StartedAt      time.Time
	CompletedAt    *time.Time
	CheckpointHash string
	Error          string
	RetryCount     int
}

// DocumentRepository defines persistence operations for documents.
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	GetBySourceHash(ctx context.Context, owner, hash string) (*Document, error)
	List(ctx context.Context, owner string, stage ProcessingStage, limit, offset int) ([]*Document, int, error)
	Update(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ChunkRepository defines persistence operations for final chunks.
type ChunkRepository interface {
	ReplaceCurrent(ctx context.Context, documentID uuid.UUID, chunks []*Chunk) error
	GetCurrent(ctx context.Context, documentID uuid.UUID) ([]*Chunk, error)
	DeleteAll(ctx context.Context, documentID uuid.UUID) error
}

// StageRepository defines persistence operations for stage records,
// backing the Stage collaborator contract of spec §6.
type StageRepository interface {
	Create(ctx context.Context, rec *StageRecord) error
	Update(ctx context.Context, rec *StageRecord) error
	Latest(ctx context.Context, documentID uuid.UUID, stage ProcessingStage) (*StageRecord, error)
	History(ctx context.Context, documentID uuid.UUID) ([]*StageRecord, error)
}

// OwnerRepository defines persistence operations for owners.
type OwnerRepository interface {
	Create(ctx context.Context, owner *Owner) error
	GetByID(ctx context.Context, id uuid.UUID) (*Owner, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*Owner, error)
	Update(ctx context.Context, owner *Owner) error
}
