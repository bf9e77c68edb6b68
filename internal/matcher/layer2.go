package matcher

import (
	"context"
	"math"
	"strings"
)

// layer2EmbeddingSearch precomputes embeddings for a sliding window of
// the cleaned stream (paragraph-sized), then accepts the window with
// highest cosine similarity to content's embedding if it clears SimHi.
func (m *Matcher) layer2EmbeddingSearch(ctx context.Context, cleaned, content string) (int, int, bool, error) {
	windows := paragraphWindows(cleaned)
	if len(windows) == 0 {
		return 0, 0, false, nil
	}

	texts := make([]string, len(windows)+1)
	texts[0] = content
	for i, w := range windows {
		texts[i+1] = cleaned[w.start:w.end]
	}

	vecs, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, 0, false, err
	}
	target := vecs[0]

	bestScore := -1.0
	bestIdx := -1
	for i := 1; i < len(vecs); i++ {
		score := cosineSim(target, vecs[i])
		if score > bestScore {
			bestScore = score
			bestIdx = i - 1
		}
	}
	if bestIdx < 0 || bestScore < m.cfg.SimHi {
		return 0, 0, false, nil
	}
	w := windows[bestIdx]
	return w.start, w.end, true, nil
}

// paragraphWindows splits the cleaned stream on blank lines, the
// natural window for comparing against a RawChunk's content (which is
// itself typically paragraph-scale).
func paragraphWindows(cleaned string) []span {
	var windows []span
	start := 0
	for {
		idx := strings.Index(cleaned[start:], "\n\n")
		if idx < 0 {
			if start < len(cleaned) {
				windows = append(windows, span{start: start, end: len(cleaned)})
			}
			break
		}
		end := start + idx
		if strings.TrimSpace(cleaned[start:end]) != "" {
			windows = append(windows, span{start: start, end: end})
		}
		start = end + 2
	}
	return windows
}

type span struct{ start, end int }

func cosineSim(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
