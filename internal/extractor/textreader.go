package extractor

import (
	"context"
	"os"
	"strings"

	"github.com/knoguchi/ingestcore/internal/repository"
)

// formFeedPageReader treats a plain markdown/text source as one "page"
// per form-feed-delimited section (the conventional page-break marker
// for plain-text sources), or the whole file as a single page if no
// form feeds are present. It is the one concrete PageReader this module
// ships; pdf/epub decoding is supplied by the caller via PageReader,
// per spec §1's non-commitment to a specific extractor implementation.
type formFeedPageReader struct{}

// NewFormFeedPageReader returns the default PageReader for
// source_kind=md|text.
func NewFormFeedPageReader() PageReader { return formFeedPageReader{} }

func (formFeedPageReader) ProbePageCount(_ context.Context, source string) (int, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return 0, err
	}
	pages := splitPages(string(data))
	return len(pages), nil
}

func (formFeedPageReader) ReadPages(_ context.Context, source string, start, end int) (string, []repository.BBox, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return "", nil, err
	}
	pages := splitPages(string(data))
	if start < 1 {
		start = 1
	}
	if end > len(pages) {
		end = len(pages)
	}
	if start > end {
		return "", nil, nil
	}
	return strings.Join(pages[start-1:end], "\n\n"), nil, nil
}

func splitPages(text string) []string {
	if !strings.Contains(text, "\f") {
		return []string{text}
	}
	parts := strings.Split(text, "\f")
	pages := make([]string, 0, len(parts))
	for _, p := range parts {
		pages = append(pages, p)
	}
	return pages
}
