package chunker

import (
	"strings"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// tokenCounter counts tokens the same way the embedder's tokenizer would,
// so the token and hybrid strategies budget against the model's actual
// input limit rather than a byte or word proxy (spec.md §6: "The
// embedding model identity MUST match the tokenizer used by the
// Chunker").
type tokenCounter struct {
	enc *tiktoken.Tiktoken
}

// newTokenCounter loads the named tiktoken-go encoding. Falls back to a
// word-count heuristic if the encoding can't be loaded (e.g. no network
// access to fetch its BPE ranks at process start), so the Chunker never
// hard-fails purely over tokenizer unavailability.
func newTokenCounter(encodingName string) *tokenCounter {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return &tokenCounter{}
	}
	return &tokenCounter{enc: enc}
}

func (t *tokenCounter) Count(s string) int {
	if t.enc == nil {
		return len(strings.Fields(s))
	}
	return len(t.enc.Encode(s, nil, nil))
}
