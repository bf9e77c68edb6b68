package stitcher

import "testing"

func defaultConfig() Config {
	return Config{MaxOverlapChars: 4000, MaxOverlapPercent: 0.5, MinOverlapChars: 10, FuzzyThreshold: 0.80}
}

func TestStitchExactOverlap(t *testing.T) {
	// Scenario 3 (spec §8): exact overlap merges to a single occurrence.
	a := "Some introductory text here overlap text"
	b := "overlap text continues into the next batch"
	res := Stitch([]string{a, b}, defaultConfig())

	if len(res.Pairs) != 1 || res.Pairs[0].Method != "exact" {
		t.Fatalf("expected exact method, got %+v", res.Pairs)
	}
	if res.Pairs[0].Confidence != 1.0 {
		t.Errorf("expected confidence 1.0, got %v", res.Pairs[0].Confidence)
	}
	count := countOccurrences(res.Markdown, "overlap text")
	if count != 1 {
		t.Errorf("expected 'overlap text' to appear exactly once, got %d in %q", count, res.Markdown)
	}
}

func TestStitchFuzzyOverlapTypo(t *testing.T) {
	// Scenario 4 (spec §8): a typo in the overlap region still merges via
	// the fuzzy pass, ratio >= 0.80, no duplication.
	a := "Document body text ending in overlaping region here"
	b := "overlapping region here is where batch two begins"
	res := Stitch([]string{a, b}, defaultConfig())

	if len(res.Pairs) != 1 {
		t.Fatalf("expected 1 pair result, got %d", len(res.Pairs))
	}
	if res.Pairs[0].Method == "none" {
		t.Fatalf("expected fuzzy or exact merge, got none: %+v", res.Pairs[0])
	}
	if res.Pairs[0].Method == "fuzzy" && res.Pairs[0].Confidence < 0.80 {
		t.Errorf("fuzzy confidence %v below threshold 0.80", res.Pairs[0].Confidence)
	}
}

func TestStitchNoOverlapFallsBackToSeparator(t *testing.T) {
	a := "Completely unrelated first batch content."
	b := "Totally different second batch content, no shared text."
	res := Stitch([]string{a, b}, Config{MaxOverlapChars: 10, MaxOverlapPercent: 0.1, MinOverlapChars: 50, FuzzyThreshold: 0.95})

	if len(res.Pairs) != 1 || res.Pairs[0].Method != "none" {
		t.Fatalf("expected none method, got %+v", res.Pairs)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("expected 1 stitch-no-overlap warning, got %d", len(res.Warnings))
	}
}

func TestStitchSingleBatch(t *testing.T) {
	res := Stitch([]string{"only one batch"}, defaultConfig())
	if res.Markdown != "only one batch" {
		t.Errorf("expected passthrough, got %q", res.Markdown)
	}
	if len(res.Pairs) != 0 {
		t.Errorf("expected no pairs for single batch, got %d", len(res.Pairs))
	}
}

func TestStitchPreservesOrder(t *testing.T) {
	batches := []string{"AAAA unique-marker-one BBBB", "BBBB unique-marker-two CCCC", "CCCC unique-marker-three DDDD"}
	res := Stitch(batches, defaultConfig())

	posOne := indexOf(res.Markdown, "unique-marker-one")
	posTwo := indexOf(res.Markdown, "unique-marker-two")
	posThree := indexOf(res.Markdown, "unique-marker-three")
	if !(posOne < posTwo && posTwo < posThree) {
		t.Errorf("expected markers in order, got positions %d %d %d in %q", posOne, posTwo, posThree, res.Markdown)
	}
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
			i += len(substr) - 1
		}
	}
	return count
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
