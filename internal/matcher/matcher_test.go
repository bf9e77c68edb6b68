package matcher

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/knoguchi/ingestcore/internal/repository"
)

func TestMatchExactOccurrenceUsesLayer1(t *testing.T) {
	cleaned := "Intro paragraph.\n\nThe quick brown fox jumps over the lazy dog.\n\nClosing paragraph."
	raw := []*repository.RawChunk{
		{DocumentID: uuid.New(), Index: 0, Content: "The quick brown fox jumps over the lazy dog."},
	}

	m := New(Config{}, nil, nil)
	results, err := m.Match(context.Background(), cleaned, raw, len(cleaned))
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Method != "layer1" {
		t.Errorf("expected layer1, got %s", results[0].Method)
	}
	if results[0].Confidence != repository.ConfidenceExact {
		t.Errorf("expected exact confidence, got %s", results[0].Confidence)
	}
	got := cleaned[results[0].Span.Start:results[0].Span.End]
	if got != raw[0].Content {
		t.Errorf("matched span = %q, want %q", got, raw[0].Content)
	}
}

func TestMatchNoCandidateFallsBackToInterpolation(t *testing.T) {
	cleaned := "Intro paragraph.\n\nCompletely rewritten middle content, nothing like the source.\n\nClosing paragraph."
	raw := []*repository.RawChunk{
		{DocumentID: uuid.New(), Index: 0, Content: "Intro paragraph.", CharSpan: repository.CharSpan{Start: 0, End: 17}},
		{DocumentID: uuid.New(), Index: 1, Content: "some text that was entirely removed during cleanup", CharSpan: repository.CharSpan{Start: 17, End: 68}},
		{DocumentID: uuid.New(), Index: 2, Content: "Closing paragraph.", CharSpan: repository.CharSpan{Start: 68, End: 87}},
	}

	m := New(Config{}, nil, nil)
	results, err := m.Match(context.Background(), cleaned, raw, 87)
	if err != nil {
		t.Fatalf("Match returned error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Span.Start < results[i-1].Span.Start {
			t.Errorf("monotonicity violated: result %d starts at %d, result %d starts at %d",
				i, results[i].Span.Start, i-1, results[i-1].Span.Start)
		}
	}
	if results[1].Confidence != repository.ConfidenceSynthetic {
		t.Errorf("expected synthetic confidence for unmatched middle chunk, got %s", results[1].Confidence)
	}
}

func TestMergeBBoxesCombinesSameLineAdjacent(t *testing.T) {
	boxes := []repository.BBox{
		{Page: 1, X0: 0, Y0: 0, X1: 50, Y1: 10},
		{Page: 1, X0: 52, Y0: 0, X1: 100, Y1: 10},
		{Page: 1, X0: 200, Y0: 0, X1: 250, Y1: 10},
	}
	merged := mergeBBoxes(boxes)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged boxes, got %d: %+v", len(merged), merged)
	}
	if merged[0].X0 != 0 || merged[0].X1 != 100 {
		t.Errorf("expected first box to span 0..100, got %+v", merged[0])
	}
}
