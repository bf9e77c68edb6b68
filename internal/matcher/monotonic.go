package matcher

import (
	"context"

	"github.com/knoguchi/ingestcore/internal/repository"
)

// enforceMonotonicity walks the per-chunk layer-1/2/3 results in order
// and, for each one still pending (no layer accepted it) or that would
// violate the non-decreasing-start guarantee, applies layer 4
// (interpolation between already-accepted neighbors) and the implicit
// layer 5 (zero-width fallback) so every RawChunk ends up with exactly
// one accepted span.
func (m *Matcher) enforceMonotonicity(_ context.Context, cleaned string, results []*Matched, rawLen int) ([]*Matched, error) {
	floor := 0
	for i, r := range results {
		accepted := r.Span.Start >= 0 && r.Span.Start >= floor

		if !accepted {
			start, end := m.interpolate(cleaned, results, i, rawLen)
			r.Span = repository.CharSpan{Start: start, End: end}
			r.Method = "layer4"
			r.Confidence = repository.ConfidenceSynthetic
			if start == end {
				r.Method = "layer5"
			}
		}
		if r.Span.Start < floor {
			// Interpolation still landed before the floor (can happen
			// with degenerate neighbor spacing): clamp to a zero-width
			// marker at the floor, the guaranteed-safe layer 5 case.
			r.Span = repository.CharSpan{Start: floor, End: floor}
			r.Method = "layer5"
			r.Confidence = repository.ConfidenceSynthetic
		}
		floor = r.Span.Start
		results[i] = r
	}
	return results, nil
}

// interpolate computes layer 4's linear interpolation using the nearest
// already-accepted neighbors by index, or proportional mapping against
// the raw stream length if no neighbor is yet assigned.
func (m *Matcher) interpolate(cleaned string, results []*Matched, i int, rawLen int) (int, int) {
	rc := results[i].RawChunk
	width := len(rc.Content)

	var prevEnd, nextStart int
	havePrev, haveNext := false, false

	for j := i - 1; j >= 0; j-- {
		if results[j].Span.Start >= 0 {
			prevEnd = results[j].Span.End
			havePrev = true
			break
		}
	}
	for j := i + 1; j < len(results); j++ {
		if results[j].Span.Start >= 0 {
			nextStart = results[j].Span.Start
			haveNext = true
			break
		}
	}

	var start int
	switch {
	case havePrev && haveNext && nextStart > prevEnd:
		start = prevEnd + (nextStart-prevEnd)/2
	case havePrev:
		start = prevEnd
	case haveNext:
		start = nextStart - width
		if start < 0 {
			start = 0
		}
	default:
		if rawLen > 0 {
			start = int(float64(len(cleaned)) * float64(rc.CharSpan.Start) / float64(rawLen))
		}
	}

	end := start + width
	if end > len(cleaned) {
		end = len(cleaned)
	}
	if start > end {
		start = end
	}
	return start, end
}
