// Package textnorm provides the normalization rules and fuzzy-similarity
// function shared by the Stitcher (§4.2) and the Bulletproof Matcher's
// layer-1 fuzzy-exact pass (§4.5). Pinning both call sites to the same
// normalization resolves the Open Question recorded in spec §9: the
// source's matcher varied normalization between call sites; here there is
// exactly one normalizer.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	crlf          = regexp.MustCompile(`\r\n|\r`)
	threeOrMoreNL = regexp.MustCompile(`\n{3,}`)
	intraLineRuns = regexp.MustCompile(`[ \t]{2,}`)
	trailingSpace = regexp.MustCompile(`(?m)[ \t]+$`)
)

// Normalize applies the Stitcher's matching-scratch normalization rules
// (spec §4.2): CRLF -> LF, runs of 3+ newlines collapsed to 2, trailing
// whitespace stripped per line, runs of 2+ intra-line spaces collapsed to
// 1. It must never be applied to stored output, only to text used as
// scratch space for overlap/fuzzy matching.
func Normalize(s string) string {
	s = crlf.ReplaceAllString(s, "\n")
	s = trailingSpace.ReplaceAllString(s, "")
	s = intraLineRuns.ReplaceAllString(s, " ")
	s = threeOrMoreNL.ReplaceAllString(s, "\n\n")
	return s
}

// NFCIfEnabled optionally applies a light Unicode normalization pass for
// heavily-OCR'd PDFs (spec §9 Open Question resolution). It folds common
// compatibility artifacts (non-breaking spaces, soft hyphens) that OCR
// engines frequently emit; it is intentionally narrow rather than a full
// NFKC table since no normalization library is present in the retrieval
// pack (see DESIGN.md).
func NFCIfEnabled(s string, enabled bool) string {
	if !enabled {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ': // non-breaking space
			b.WriteRune(' ')
		case '­': // soft hyphen
			// drop
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TrimNormalizeEqual reports whether a and b are equal after trimming
// surrounding whitespace and normalizing interior whitespace, matching
// the "modulo whitespace normalization" clause of the offset-integrity
// invariant (spec §8).
func TrimNormalizeEqual(a, b string) bool {
	return collapseSpace(strings.TrimSpace(a)) == collapseSpace(strings.TrimSpace(b))
}

func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !prevSpace {
				b.WriteByte(' ')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// SimilarityRatio returns a Levenshtein-ratio in [0,1]: 1.0 for identical
// strings, 0.0 for maximally different strings of the combined length.
// This is the fuzzy-match primitive used by the Stitcher's fuzzy overlap
// pass and the Matcher's layer-1 fuzzy-exact pass. No fuzzy-matching
// library was found anywhere in the retrieval pack (see DESIGN.md); this
// is a standard Wagner-Fischer edit distance over runes, bounded to avoid
// pathological allocation for very long inputs by the caller capping
// window size before calling in.
func SimilarityRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1.0
	}
	dist := levenshtein(ra, rb)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

// levenshtein computes the edit distance between two rune slices using
// the classic two-row dynamic-programming table.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
