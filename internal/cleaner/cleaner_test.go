package cleaner

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/invopop/jsonschema"

	"github.com/knoguchi/ingestcore/internal/llm"
)

type stubLLM struct {
	fn func(prompt string) (string, error)
}

func (s stubLLM) Generate(_ context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
	return s.fn(prompt)
}

func (s stubLLM) GenerateStream(context.Context, string, llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	panic("not used")
}

func (s stubLLM) GenerateStructured(context.Context, string, llm.GenerateOptions, *jsonschema.Schema) (json.RawMessage, error) {
	panic("not used")
}

func TestRuleBasedCleanFixesLigaturesAndHyphenation(t *testing.T) {
	in := "The ﬁrst word and a hyphen-\nated word, with   extra   spaces  \n\n\n\nand more."
	out := RuleBasedClean(in)

	if strings.Contains(out, "ﬁ") {
		t.Errorf("expected ligature fixed, got %q", out)
	}
	if strings.Contains(out, "hyphen-\nated") {
		t.Errorf("expected hyphen-linebreak joined, got %q", out)
	}
	if strings.Contains(out, "\n\n\n") {
		t.Errorf("expected excess blank lines collapsed, got %q", out)
	}
}

func TestRuleBasedCleanIdempotent(t *testing.T) {
	in := "Some ﬁrst draft text-\nwith artifacts.   \n\n\n\nSecond paragraph."
	once := RuleBasedClean(in)
	twice := RuleBasedClean(once)
	if once != twice {
		t.Errorf("RuleBasedClean not idempotent: once=%q twice=%q", once, twice)
	}
}

func TestCleanFallsBackToRuleBasedOnModelFailure(t *testing.T) {
	model := stubLLM{fn: func(string) (string, error) {
		return "", errBoom
	}}
	c := New(model, Config{MaxPartChars: 100})
	result, err := c.Clean(context.Background(), "# Heading\n\nSome body text-\nwith a break.")
	if err != nil {
		t.Fatalf("Clean returned error: %v", err)
	}
	if result.Text == "" {
		t.Fatal("expected non-empty fallback text")
	}
	if result.SHA256 == "" {
		t.Fatal("expected hash to be populated")
	}
}

func TestCleanUsesModelOutputOnSuccess(t *testing.T) {
	model := stubLLM{fn: func(prompt string) (string, error) {
		return "cleaned: " + prompt, nil
	}}
	c := New(model, Config{MaxPartChars: 1000})
	result, err := c.Clean(context.Background(), "raw content")
	if err != nil {
		t.Fatalf("Clean returned error: %v", err)
	}
	if !strings.HasPrefix(result.Text, "cleaned: ") {
		t.Errorf("expected model output to be used, got %q", result.Text)
	}
}

type boom struct{}

func (boom) Error() string { return "boom" }

var errBoom = boom{}
