// Package enricher implements the Enricher (spec §4.7): per-chunk
// structured extraction of themes, concepts, importance, a summary, an
// emotional read, and a domain classification. A single chunk's failure
// is logged and recorded as empty metadata; it never fails the batch.
package enricher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/invopop/jsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/ingestcore/internal/ingesterr"
	"github.com/knoguchi/ingestcore/internal/llm"
	"github.com/knoguchi/ingestcore/internal/repository"
)

// Config configures the Enricher's worker pool.
type Config struct {
	Workers int
}

// Enricher extracts structured metadata per chunk via the Model
// collaborator's structured-output call.
type Enricher struct {
	model  llm.LLM
	cfg    Config
	logger *slog.Logger
}

// New constructs an Enricher. logger may be nil, in which case
// slog.Default() is used.
func New(model llm.LLM, cfg Config, logger *slog.Logger) *Enricher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{model: model, cfg: cfg, logger: logger}
}

// extraction is the JSON shape requested from the model, mirroring the
// Chunk fields it populates (spec §4.7's contract).
type extraction struct {
	Themes    []string  `json:"themes" jsonschema:"minItems=1,maxItems=5"`
	Concepts  []concept `json:"concepts"`
	Importance float64  `json:"importance" jsonschema:"minimum=0,maximum=1"`
	Summary   string    `json:"summary,omitempty"`
	Emotional emotional `json:"emotional"`
	Domain    domain    `json:"domain"`
}

type concept struct {
	Text       string  `json:"text"`
	Importance float64 `json:"importance" jsonschema:"minimum=0,maximum=1"`
}

type emotional struct {
	Polarity       float64 `json:"polarity" jsonschema:"minimum=-1,maximum=1"`
	PrimaryEmotion string  `json:"primary_emotion"`
	Intensity      float64 `json:"intensity" jsonschema:"minimum=0,maximum=1"`
}

type domain struct {
	PrimaryDomain string  `json:"primary_domain"`
	Confidence    float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

var extractionSchema = jsonschema.Reflect(&extraction{})

const enrichmentPrompt = `Analyze the following text chunk and extract structured metadata.
Return themes (1-5 short strings), concepts (each with an importance 0-1),
an overall importance 0-1, an optional one-sentence summary, an emotional
read (polarity -1..1, primary_emotion, intensity 0..1), and a domain
classification (primary_domain, confidence 0..1).

Text:
`

// EnrichAll runs enrichment over every chunk concurrently, writing
// results in place. A per-chunk failure never aborts the batch.
func (e *Enricher) EnrichAll(ctx context.Context, chunks []*repository.Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for _, ch := range chunks {
		ch := ch
		g.Go(func() error {
			if err := e.enrichOne(gctx, ch); err != nil {
				e.logger.Warn("chunk enrichment failed",
					"chunk_index", ch.ChunkIndex, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Enricher) enrichOne(ctx context.Context, ch *repository.Chunk) error {
	raw, err := e.model.GenerateStructured(ctx, enrichmentPrompt+ch.Content, llm.GenerateOptions{Temperature: 0.2}, extractionSchema)
	if err != nil {
		return &ingesterr.EnrichmentFailed{ChunkIndex: ch.ChunkIndex, Err: err}
	}

	var ex extraction
	if err := json.Unmarshal(raw, &ex); err != nil {
		return &ingesterr.EnrichmentFailed{ChunkIndex: ch.ChunkIndex, Err: fmt.Errorf("decoding structured output: %w", err)}
	}

	ch.Themes = ex.Themes
	ch.Concepts = make([]repository.Concept, len(ex.Concepts))
	for i, c := range ex.Concepts {
		ch.Concepts[i] = repository.Concept{Text: c.Text, Importance: c.Importance}
	}
	ch.Importance = ex.Importance
	ch.Summary = ex.Summary
	ch.Emotional = repository.Emotional{
		Polarity:       ex.Emotional.Polarity,
		PrimaryEmotion: ex.Emotional.PrimaryEmotion,
		Intensity:      ex.Emotional.Intensity,
	}
	ch.Domain = repository.Domain{
		PrimaryDomain: ex.Domain.PrimaryDomain,
		Confidence:    ex.Domain.Confidence,
	}
	return nil
}
