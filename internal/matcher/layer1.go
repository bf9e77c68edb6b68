package matcher

import (
	"strings"

	"github.com/knoguchi/ingestcore/internal/textnorm"
)

// layer1FuzzyExact searches the cleaned stream for a normalized
// occurrence of content. If an exact substring match exists it is
// accepted outright; otherwise a sliding window scored by
// textnorm.SimilarityRatio is used, accepting the single best-scoring
// window if it clears threshold and is not ambiguous with a second
// near-equal candidate.
func layer1FuzzyExact(cleaned, content string, threshold float64) (int, int, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return 0, 0, false
	}

	normContent := textnorm.Normalize(content)

	// Fast path: literal substring match in the raw stream.
	if idx := strings.Index(cleaned, content); idx >= 0 {
		return idx, idx + len(content), true
	}

	windowLen := len(content)
	bestScore := 0.0
	bestStart := -1
	step := stepFor(windowLen)

	// clusters counts contiguous runs of qualifying window starts, so
	// overlapping windows around a single true match count as one
	// candidate rather than many.
	clusters := 0
	inCluster := false

	for start := 0; start+windowLen <= len(cleaned); start += step {
		window := cleaned[start : start+windowLen]
		score := textnorm.SimilarityRatio(textnorm.Normalize(window), normContent)
		if score >= threshold {
			if !inCluster {
				clusters++
				inCluster = true
			}
		} else {
			inCluster = false
		}
		if score > bestScore {
			bestScore = score
			bestStart = start
		}
	}

	// Per spec §4.5: accept only when exactly one candidate region
	// clears the threshold; multiple near-equal candidates are
	// ambiguous and fall through to the next layer.
	if bestStart < 0 || bestScore < threshold || clusters != 1 {
		return 0, 0, false
	}
	return bestStart, bestStart + windowLen, true
}

func stepFor(windowLen int) int {
	step := windowLen / 8
	if step < 1 {
		step = 1
	}
	return step
}
