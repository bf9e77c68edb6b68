package matcher

import (
	"math"

	"github.com/knoguchi/ingestcore/internal/repository"
)

// mergeBBoxGapPx is the maximum horizontal gap, in the extractor's bbox
// coordinate units, for two same-line boxes to be merged into one
// rectangle.
const mergeBBoxGapPx = 5.0

// mergeBBoxes unions adjacent bounding boxes on the same line separated
// by at most mergeBBoxGapPx, producing the merged-rectangle output the
// Matcher owes downstream highlighting (spec §4.5).
func mergeBBoxes(boxes []repository.BBox) []repository.BBox {
	if len(boxes) == 0 {
		return nil
	}

	sorted := append([]repository.BBox(nil), boxes...)
	// Insertion sort by (page, Y0, X0): bboxes arrive in reading order
	// from the extractor, so this is usually a no-op; kept explicit
	// since the merge below assumes sorted input.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && less(sorted[j], sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	var merged []repository.BBox
	cur := sorted[0]
	for _, b := range sorted[1:] {
		if sameLine(cur, b) && b.X0-cur.X1 <= mergeBBoxGapPx {
			cur = union(cur, b)
			continue
		}
		merged = append(merged, cur)
		cur = b
	}
	merged = append(merged, cur)
	return merged
}

func less(a, b repository.BBox) bool {
	if a.Page != b.Page {
		return a.Page < b.Page
	}
	if a.Y0 != b.Y0 {
		return a.Y0 < b.Y0
	}
	return a.X0 < b.X0
}

func sameLine(a, b repository.BBox) bool {
	if a.Page != b.Page {
		return false
	}
	overlapTop := math.Max(a.Y0, b.Y0)
	overlapBottom := math.Min(a.Y1, b.Y1)
	return overlapBottom-overlapTop > 0
}

func union(a, b repository.BBox) repository.BBox {
	return repository.BBox{
		Page: a.Page,
		X0:   math.Min(a.X0, b.X0),
		Y0:   math.Min(a.Y0, b.Y0),
		X1:   math.Max(a.X1, b.X1),
		Y1:   math.Max(a.Y1, b.Y1),
	}
}
