package enricher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/invopop/jsonschema"

	"github.com/knoguchi/ingestcore/internal/llm"
	"github.com/knoguchi/ingestcore/internal/repository"
)

type stubLLM struct {
	resp json.RawMessage
	err  error
}

func (s stubLLM) Generate(context.Context, string, llm.GenerateOptions) (string, error) {
	panic("not used")
}

func (s stubLLM) GenerateStream(context.Context, string, llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	panic("not used")
}

func (s stubLLM) GenerateStructured(context.Context, string, llm.GenerateOptions, *jsonschema.Schema) (json.RawMessage, error) {
	return s.resp, s.err
}

func TestEnrichAllPopulatesChunkFields(t *testing.T) {
	resp := `{"themes":["testing"],"concepts":[{"text":"unit test","importance":0.8}],
"importance":0.6,"summary":"a short summary","emotional":{"polarity":0.1,"primary_emotion":"neutral","intensity":0.2},
"domain":{"primary_domain":"software","confidence":0.9}}`
	e := New(stubLLM{resp: json.RawMessage(resp)}, Config{Workers: 2}, nil)

	chunks := []*repository.Chunk{{ChunkIndex: 0, Content: "some text"}}
	if err := e.EnrichAll(context.Background(), chunks); err != nil {
		t.Fatalf("EnrichAll returned error: %v", err)
	}

	ch := chunks[0]
	if len(ch.Themes) != 1 || ch.Themes[0] != "testing" {
		t.Errorf("expected themes [testing], got %v", ch.Themes)
	}
	if ch.Importance != 0.6 {
		t.Errorf("expected importance 0.6, got %v", ch.Importance)
	}
	if ch.Domain.PrimaryDomain != "software" {
		t.Errorf("expected domain software, got %v", ch.Domain)
	}
}

func TestEnrichAllDoesNotFailBatchOnModelError(t *testing.T) {
	e := New(stubLLM{err: errors.New("model unavailable")}, Config{Workers: 2}, nil)
	chunks := []*repository.Chunk{
		{ChunkIndex: 0, Content: "first"},
		{ChunkIndex: 1, Content: "second"},
	}
	if err := e.EnrichAll(context.Background(), chunks); err != nil {
		t.Fatalf("EnrichAll must not fail the batch on a per-chunk model error, got: %v", err)
	}
	for _, ch := range chunks {
		if ch.Importance != 0 || ch.Themes != nil {
			t.Errorf("chunk %d: expected untouched zero-value metadata, got %+v", ch.ChunkIndex, ch)
		}
	}
}
