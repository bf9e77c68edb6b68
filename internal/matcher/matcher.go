// Package matcher implements the Bulletproof Matcher (spec §4.5): for
// every extractor RawChunk, recover its position in the cleaned markdown
// stream through a layered fallback (fuzzy-exact, embedding search, LLM
// localization, interpolation, zero-width), preserving a non-decreasing
// start order across the whole document.
package matcher

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"golang.org/x/sync/errgroup"

	"github.com/knoguchi/ingestcore/internal/embedder"
	"github.com/knoguchi/ingestcore/internal/ingesterr"
	"github.com/knoguchi/ingestcore/internal/llm"
	"github.com/knoguchi/ingestcore/internal/repository"
	"github.com/knoguchi/ingestcore/internal/textnorm"
)

// Config configures the matcher's thresholds and worker pool.
type Config struct {
	Workers int

	// ExactSimThreshold is layer 1's acceptance floor (spec default 0.98).
	ExactSimThreshold float64
	// SimHi is layer 2's acceptance floor (spec default ~0.85).
	SimHi float64
	// SimLo is layer 3's back-match acceptance floor (spec default ~0.70).
	SimLo float64

	// WindowStride is a stride in runes (default 64). Layer 2 samples
	// the cleaned stream by paragraph windows and does not read it.
	WindowStride int
}

// Matcher recovers RawChunk positions in the cleaned markdown stream.
type Matcher struct {
	cfg      Config
	embedder embedder.Embedder
	model    llm.LLM
}

// New constructs a Matcher. embedder and model may be nil if the caller
// only intends to exercise layers 1/4/5 (useful for tests and for
// documents processed without a model collaborator configured).
func New(cfg Config, emb embedder.Embedder, model llm.LLM) *Matcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ExactSimThreshold <= 0 {
		cfg.ExactSimThreshold = 0.98
	}
	if cfg.SimHi <= 0 {
		cfg.SimHi = 0.85
	}
	if cfg.SimLo <= 0 {
		cfg.SimLo = 0.70
	}
	if cfg.WindowStride <= 0 {
		cfg.WindowStride = 64
	}
	return &Matcher{cfg: cfg, embedder: emb, model: model}
}

// Matched is a RawChunk positioned in the cleaned stream, with the layer
// that found it, confidence tag, and merged bbox rectangles.
type Matched struct {
	RawChunk   *repository.RawChunk
	Span       repository.CharSpan
	Method     string
	Confidence repository.ConfidenceTag
	MergedBBox []repository.BBox
}

// Match positions every raw chunk within cleaned, preserving RawChunk
// order (which is assumed to already be in char_span order per spec
// §4.5's neighbor-interpolation basis) and guaranteeing the accepted
// spans are non-decreasing in start.
func (m *Matcher) Match(ctx context.Context, cleaned string, raw []*repository.RawChunk, rawStreamLen int) ([]*Matched, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	results := make([]*Matched, len(raw))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)

	for i, rc := range raw {
		i, rc := i, rc
		g.Go(func() error {
			candidateStart, candidateEnd, method, conf, err := m.attemptLayers(gctx, cleaned, rc, rawStreamLen)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = &Matched{
				RawChunk:   rc,
				Span:       repository.CharSpan{Start: candidateStart, End: candidateEnd},
				Method:     method,
				Confidence: conf,
				MergedBBox: mergeBBoxes(rc.BBoxes),
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return m.enforceMonotonicity(ctx, cleaned, results, rawStreamLen)
}

// attemptLayers runs layers 1-3 for a single raw chunk (layer 4/5 need
// assigned neighbors and are applied afterward by enforceMonotonicity,
// since they require the final accepted sequence).
func (m *Matcher) attemptLayers(ctx context.Context, cleaned string, rc *repository.RawChunk, rawLen int) (int, int, string, repository.ConfidenceTag, error) {
	if start, end, ok := layer1FuzzyExact(cleaned, rc.Content, m.cfg.ExactSimThreshold); ok {
		return start, end, "layer1", repository.ConfidenceExact, nil
	}

	if m.embedder != nil {
		if start, end, ok, err := m.layer2EmbeddingSearch(ctx, cleaned, rc.Content); err != nil {
			return 0, 0, "", "", err
		} else if ok {
			return start, end, "layer2", repository.ConfidenceHigh, nil
		}
	}

	if m.model != nil {
		if start, end, ok, err := m.layer3LLMLocalization(ctx, cleaned, rc.Content); err != nil {
			return 0, 0, "", "", err
		} else if ok {
			return start, end, "layer3", repository.ConfidenceMedium, nil
		}
	}

	// Defer to interpolation; signalled via negative start.
	return -1, -1, "pending", repository.ConfidenceSynthetic, nil
}

// structuredSpan is the JSON shape layer 3 asks the model to return.
type structuredSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

var spanSchema = jsonschema.Reflect(&structuredSpan{})

func (m *Matcher) layer3LLMLocalization(ctx context.Context, cleaned, content string) (int, int, bool, error) {
	prompt := buildLocalizationPrompt(cleaned, content)
	raw, err := m.model.GenerateStructured(ctx, prompt, llm.GenerateOptions{Temperature: 0}, spanSchema)
	if err != nil {
		return 0, 0, false, nil // model failure falls through to layer 4, not fatal
	}
	var sp structuredSpan
	if err := json.Unmarshal(raw, &sp); err != nil {
		return 0, 0, false, &ingesterr.StructuredOutputError{Schema: "structuredSpan", Err: err}
	}
	if sp.Start < 0 || sp.End > len(cleaned) || sp.Start >= sp.End {
		return 0, 0, false, nil
	}
	candidate := cleaned[sp.Start:sp.End]
	if textnorm.SimilarityRatio(textnorm.Normalize(candidate), textnorm.Normalize(content)) < m.cfg.SimLo {
		return 0, 0, false, nil
	}
	return sp.Start, sp.End, true, nil
}

func buildLocalizationPrompt(cleaned, content string) string {
	return "Find the start and end character offsets (0-indexed, end exclusive) of the following passage within the document below. Return only {\"start\":N,\"end\":M}.\n\nPassage:\n" + content + "\n\nDocument:\n" + cleaned
}
