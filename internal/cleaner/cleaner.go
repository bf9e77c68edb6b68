// Package cleaner implements the Cleaner (spec §4.3): invokes a local
// LLM or rule-based cleanup, producing a cleaned markdown stream whose
// offsets no longer align with the extractor's. Heading-boundary
// splitting reuses goldmark's AST (grounded on HSn0918-rag's go.mod) to
// find safe split points before calling the Model collaborator.
package cleaner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/knoguchi/ingestcore/internal/ingesterr"
	"github.com/knoguchi/ingestcore/internal/llm"
	"github.com/knoguchi/ingestcore/internal/repository"
)

// Config configures the Cleaner.
type Config struct {
	// MaxPartChars bounds each LLM call's input size; the input is split
	// at heading boundaries to stay under this budget.
	MaxPartChars int
}

// Cleaner invokes an LLM per heading-bounded part and concatenates,
// falling back to a rule-based cleanup on model failure.
type Cleaner struct {
	model  llm.LLM
	cfg    Config
	md     goldmark.Markdown
}

// New creates a Cleaner backed by the given Model collaborator.
func New(model llm.LLM, cfg Config) *Cleaner {
	if cfg.MaxPartChars <= 0 {
		cfg.MaxPartChars = 6000
	}
	return &Cleaner{model: model, cfg: cfg, md: goldmark.New()}
}

const systemPrompt = `You clean up OCR/extraction artifacts in markdown text.
Fix broken words, stray page-break markers, and obvious OCR mistakes.
Preserve all factual content, headings, lists, tables, and code blocks verbatim.
Do not summarize, rephrase, or omit content. Return only the cleaned markdown.`

// Clean implements the Cleaner contract: clean(markdown) ->
// CleanedMarkdown. It MUST be idempotent: clean(clean(x)) == clean(x) up
// to whitespace (spec §4.3).
func (c *Cleaner) Clean(ctx context.Context, markdown string) (*repository.CleanedMarkdown, error) {
	parts := c.splitAtHeadings(markdown)

	var sb strings.Builder
	var llmFailed error
	for i, part := range parts {
		cleaned, err := c.model.Generate(ctx, part, llm.GenerateOptions{
			SystemPrompt: systemPrompt,
			Temperature:  0.1,
		})
		if err != nil {
			llmFailed = &ingesterr.CleanupFailed{Err: err}
			break
		}
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(cleaned)
	}

	var text string
	if llmFailed != nil {
		text = RuleBasedClean(markdown)
	} else {
		text = sb.String()
	}

	return &repository.CleanedMarkdown{
		Text:   text,
		SHA256: hashContent(text),
	}, nil
}

// splitAtHeadings splits the input at top-level heading boundaries so
// each part fits within MaxPartChars, using goldmark's AST to locate
// heading node byte offsets rather than a regex scanner.
func (c *Cleaner) splitAtHeadings(markdown string) []string {
	src := []byte(markdown)
	doc := c.md.Parser().Parse(text.NewReader(src))

	var headingOffsets []int
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			if lines := h.Lines(); lines.Len() > 0 {
				headingOffsets = append(headingOffsets, lines.At(0).Start)
			}
		}
		return ast.WalkContinue, nil
	})

	if len(headingOffsets) == 0 {
		return chunkByBudget(markdown, c.cfg.MaxPartChars)
	}

	var parts []string
	last := 0
	partStart := 0
	for _, off := range headingOffsets {
		if off-partStart > c.cfg.MaxPartChars && off > last {
			parts = append(parts, markdown[partStart:off])
			partStart = off
		}
		last = off
	}
	parts = append(parts, markdown[partStart:])

	var out []string
	for _, p := range parts {
		out = append(out, chunkByBudget(p, c.cfg.MaxPartChars)...)
	}
	return out
}

func chunkByBudget(s string, budget int) []string {
	if budget <= 0 || len(s) <= budget {
		return []string{s}
	}
	var out []string
	for len(s) > budget {
		cut := strings.LastIndex(s[:budget], "\n\n")
		if cut <= 0 {
			cut = budget
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}

var (
	ligatures        = map[string]string{"ﬁ": "fi", "ﬂ": "fl", "ﬀ": "ff", "ﬃ": "ffi", "ﬄ": "ffl"}
	hyphenAtLinebreak = regexp.MustCompile(`(\w)-\n(\w)`)
	excessBlankLines  = regexp.MustCompile(`\n{3,}`)
	trailingWS        = regexp.MustCompile(`(?m)[ \t]+$`)
	crlf              = regexp.MustCompile(`\r\n|\r`)
)

// RuleBasedClean is the deterministic fallback cleaner: it preserves
// text exactly but normalizes whitespace and fixes obvious OCR artifacts
// (spec §4.3). It is itself idempotent by construction (every rule is a
// fixed point once applied).
func RuleBasedClean(markdown string) string {
	s := crlf.ReplaceAllString(markdown, "\n")
	for lig, plain := range ligatures {
		s = strings.ReplaceAll(s, lig, plain)
	}
	s = trailingWS.ReplaceAllString(s, "")
	for {
		next := hyphenAtLinebreak.ReplaceAllString(s, "$1$2")
		if next == s {
			break
		}
		s = next
	}
	s = excessBlankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func hashContent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
