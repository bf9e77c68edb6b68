package metadata

import (
	"testing"

	"github.com/knoguchi/ingestcore/internal/matcher"
	"github.com/knoguchi/ingestcore/internal/repository"
)

func TestTransferAggregatesOverlappingRawChunks(t *testing.T) {
	chunks := []*repository.Chunk{
		{StartOffset: 0, EndOffset: 50},
		{StartOffset: 50, EndOffset: 100},
	}
	matched := []*matcher.Matched{
		{
			RawChunk:   &repository.RawChunk{PageStart: 1, PageEnd: 1, HeadingPath: []string{"Intro", "Background"}},
			Span:       repository.CharSpan{Start: 0, End: 30},
			Confidence: repository.ConfidenceExact,
		},
		{
			RawChunk:   &repository.RawChunk{PageStart: 1, PageEnd: 2, HeadingPath: []string{"Intro", "Details"}},
			Span:       repository.CharSpan{Start: 20, End: 60},
			Confidence: repository.ConfidenceHigh,
		},
		{
			RawChunk:   &repository.RawChunk{PageStart: 2, PageEnd: 2, HeadingPath: []string{"Conclusion"}},
			Span:       repository.CharSpan{Start: 70, End: 100},
			Confidence: repository.ConfidenceMedium,
		},
	}

	out := Transfer(chunks, matched)

	if out[0].MetadataOverlapCount != 2 {
		t.Errorf("chunk 0: expected 2 overlaps, got %d", out[0].MetadataOverlapCount)
	}
	if out[0].PageStart == nil || *out[0].PageStart != 1 {
		t.Errorf("chunk 0: expected page_start 1, got %v", out[0].PageStart)
	}
	if out[0].PageEnd == nil || *out[0].PageEnd != 2 {
		t.Errorf("chunk 0: expected page_end 2, got %v", out[0].PageEnd)
	}
	if len(out[0].HeadingPath) != 1 || out[0].HeadingPath[0] != "Intro" {
		t.Errorf("chunk 0: expected longest-common-prefix [Intro], got %v", out[0].HeadingPath)
	}
	if out[0].MetadataConfidence != repository.ConfidenceHigh {
		t.Errorf("chunk 0: expected high confidence (has an exact overlap), got %s", out[0].MetadataConfidence)
	}

	if out[1].MetadataOverlapCount != 2 {
		t.Errorf("chunk 1: expected 2 overlaps, got %d", out[1].MetadataOverlapCount)
	}
}

func TestTransferInterpolatesWhenNoOverlap(t *testing.T) {
	chunks := []*repository.Chunk{
		{StartOffset: 200, EndOffset: 250},
	}
	matched := []*matcher.Matched{
		{
			RawChunk: &repository.RawChunk{PageStart: 3, PageEnd: 3, HeadingPath: []string{"Appendix"}},
			Span:     repository.CharSpan{Start: 0, End: 50},
		},
	}

	out := Transfer(chunks, matched)

	if out[0].MetadataOverlapCount != 0 {
		t.Errorf("expected 0 overlaps, got %d", out[0].MetadataOverlapCount)
	}
	if !out[0].MetadataInterpolated {
		t.Error("expected MetadataInterpolated=true")
	}
	if out[0].PageStart == nil || *out[0].PageStart != 3 {
		t.Errorf("expected interpolated page_start 3, got %v", out[0].PageStart)
	}
}

func TestSetEPUBDefaultsClearsPages(t *testing.T) {
	page := 1
	chunks := []*repository.Chunk{{PageStart: &page, PageEnd: &page}}
	SetEPUBDefaults(chunks)
	if chunks[0].PageStart != nil || chunks[0].PageEnd != nil {
		t.Error("expected pages cleared for EPUB source")
	}
	if chunks[0].SectionMarker == "" {
		t.Error("expected a non-empty section_marker fallback")
	}
}
