// Package metadata implements Metadata Transfer (spec §4.6): for every
// final Chunk, find the matched RawChunks whose recovered interval
// overlaps it and aggregate their page/heading/bbox provenance onto the
// chunk.
package metadata

import (
	"sort"
	"strconv"

	"github.com/knoguchi/ingestcore/internal/matcher"
	"github.com/knoguchi/ingestcore/internal/repository"
)

// Transfer implements transfer(chunks[], raw_chunks_with_positions[]) ->
// chunks[] (spec §4.6). matched MUST already carry each RawChunk's
// recovered span (matcher.Matcher.Match's output) and is assumed sorted
// by Span.Start, which the matcher guarantees.
func Transfer(chunks []*repository.Chunk, matched []*matcher.Matched) []*repository.Chunk {
	if len(chunks) == 0 {
		return chunks
	}

	sorted := append([]*matcher.Matched(nil), matched...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Span.Start < sorted[j].Span.Start })

	// Sorted-sweep: since both chunks and matched spans are sorted by
	// start, a single linear scan finds all overlaps per chunk without
	// an interval tree (spec §9 grounding note).
	j := 0
	for _, ch := range chunks {
		var overlaps []*matcher.Matched

		// Advance j past any matched span that ends before this chunk
		// starts; those can never overlap this or any later chunk.
		for j < len(sorted) && sorted[j].Span.End <= ch.StartOffset {
			j++
		}
		for k := j; k < len(sorted) && sorted[k].Span.Start < ch.EndOffset; k++ {
			if intervalsOverlap(sorted[k].Span.Start, sorted[k].Span.End, ch.StartOffset, ch.EndOffset) {
				overlaps = append(overlaps, sorted[k])
			}
		}

		applyOverlaps(ch, overlaps, sorted)
	}
	return chunks
}

func intervalsOverlap(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && bStart < aEnd
}

func applyOverlaps(ch *repository.Chunk, overlaps []*matcher.Matched, all []*matcher.Matched) {
	ch.MetadataOverlapCount = len(overlaps)

	if len(overlaps) == 0 {
		interpolateFromNearest(ch, all)
		return
	}

	pageMin, pageMax := -1, -1
	var headingPath []string
	var bboxes []repository.BBox
	sectionMarker := ""

	for i, m := range overlaps {
		rc := m.RawChunk
		if pageMin == -1 || rc.PageStart < pageMin {
			pageMin = rc.PageStart
		}
		if pageMax == -1 || rc.PageEnd > pageMax {
			pageMax = rc.PageEnd
		}
		if i == 0 {
			headingPath = rc.HeadingPath
		} else {
			headingPath = longestCommonPrefix(headingPath, rc.HeadingPath)
		}
		bboxes = append(bboxes, m.MergedBBox...)
		if sectionMarker == "" && len(rc.HeadingPath) > 0 {
			sectionMarker = rc.HeadingPath[len(rc.HeadingPath)-1]
		}
	}

	if pageMin >= 0 {
		ch.PageStart = &pageMin
		ch.PageEnd = &pageMax
	}
	ch.HeadingPath = headingPath
	ch.BBoxes = bboxes
	ch.SectionMarker = sectionMarker
	ch.MetadataConfidence = overlapConfidenceTag(overlaps)
}

// overlapConfidenceTag derives metadata_confidence per spec §4.6: "high"
// if any overlap has exact method confidence, "medium" if the best is
// high, else "low". There is no repository.ConfidenceTag value for
// "low"; the matcher's tag set only distinguishes down to synthetic, so
// "low" is represented as ConfidenceSynthetic here, matching how the
// matcher itself reports its weakest tier.
func overlapConfidenceTag(overlaps []*matcher.Matched) repository.ConfidenceTag {
	haveHigh := false
	for _, m := range overlaps {
		if m.Confidence == repository.ConfidenceExact {
			return repository.ConfidenceHigh
		}
		if m.Confidence == repository.ConfidenceHigh {
			haveHigh = true
		}
	}
	if haveHigh {
		return repository.ConfidenceMedium
	}
	return repository.ConfidenceSynthetic
}

// interpolateFromNearest handles metadata_overlap_count=0: find the
// nearest matched RawChunk by center distance and copy its structural
// fields, flagging the result as interpolated.
func interpolateFromNearest(ch *repository.Chunk, all []*matcher.Matched) {
	if len(all) == 0 {
		ch.MetadataInterpolated = true
		ch.MetadataConfidence = repository.ConfidenceSynthetic
		return
	}
	center := (ch.StartOffset + ch.EndOffset) / 2
	best := all[0]
	bestDist := abs(center - matchedCenter(best))
	for _, m := range all[1:] {
		d := abs(center - matchedCenter(m))
		if d < bestDist {
			bestDist = d
			best = m
		}
	}

	pageStart, pageEnd := best.RawChunk.PageStart, best.RawChunk.PageEnd
	ch.PageStart = &pageStart
	ch.PageEnd = &pageEnd
	ch.HeadingPath = best.RawChunk.HeadingPath
	if len(best.RawChunk.HeadingPath) > 0 {
		ch.SectionMarker = best.RawChunk.HeadingPath[len(best.RawChunk.HeadingPath)-1]
	}
	ch.MetadataInterpolated = true
	ch.MetadataConfidence = repository.ConfidenceSynthetic
}

func matchedCenter(m *matcher.Matched) int {
	return (m.Span.Start + m.Span.End) / 2
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// longestCommonPrefix returns the longest shared prefix of two heading
// paths.
func longestCommonPrefix(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var out []string
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			break
		}
		out = append(out, a[i])
	}
	return out
}

// SetEPUBDefaults applies the spec §4.6 rule for EPUB sources: pages are
// left nil, but every chunk MUST have a non-empty section_marker, falling
// back to a positional placeholder when no heading overlap was found.
func SetEPUBDefaults(chunks []*repository.Chunk) {
	for i, ch := range chunks {
		ch.PageStart = nil
		ch.PageEnd = nil
		if ch.SectionMarker == "" {
			ch.SectionMarker = "section-" + strconv.Itoa(i)
		}
	}
}
