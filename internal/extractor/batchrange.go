package extractor

import "github.com/knoguchi/ingestcore/internal/repository"

// CalculateBatchRanges implements the batch range algorithm of spec
// §4.1: given total pages P, pages per batch B, and overlap O, emit
// [1, min(B,P)], then repeatedly [end_prev-O+1, min(end_prev-O+B, P)]
// until the window reaches P. O is clamped to min(O, B-1) to prevent
// infinite loops. For P <= B, returns a single [1, P] range.
func CalculateBatchRanges(totalPages, pagesPerBatch, overlap int) []repository.BatchRange {
	if totalPages <= 0 || pagesPerBatch <= 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= pagesPerBatch {
		overlap = pagesPerBatch - 1
	}
	if overlap < 0 {
		overlap = 0
	}

	if totalPages <= pagesPerBatch {
		return []repository.BatchRange{{BatchIndex: 0, PageStart: 1, PageEnd: totalPages}}
	}

	var ranges []repository.BatchRange
	start := 1
	end := min(pagesPerBatch, totalPages)
	ranges = append(ranges, repository.BatchRange{BatchIndex: 0, PageStart: start, PageEnd: end})

	for end < totalPages {
		start = end - overlap + 1
		end = min(start+pagesPerBatch-1, totalPages)
		ranges = append(ranges, repository.BatchRange{
			BatchIndex: len(ranges),
			PageStart:  start,
			PageEnd:    end,
		})
	}

	return ranges
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
