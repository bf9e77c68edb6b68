// Package embedder provides interfaces and implementations for text embedding.
package embedder

import "context"

// Embedder defines the interface for text embedding services.
type Embedder interface {
	// Embed generates an embedding vector for a single text input.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple text inputs.
	// Returns a slice of embeddings in the same order as the input texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the embedding vectors.
	Dimension() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string

	// TokenizerName returns the tiktoken-go encoding name whose token
	// count matches this model's input budget. The Chunker's token
	// strategy MUST use the same tokenizer so chunk sizes line up with
	// what the embedding model actually sees.
	TokenizerName() string
}

// ModelConfig holds configuration for a specific embedding model.
type ModelConfig struct {
	Dimension       int // Embedding dimension
	ContextLength   int // Max tokens the model can process
	MaxChunkWords   int // Recommended max chunk size in words (safe limit)
	TargetChunkWords int // Recommended target chunk size in words
}

// KnownModels maps embedding model names to their configurations.
// These limits are conservative to avoid "context length exceeded" errors.
var KnownModels = map[string]ModelConfig{
	"nomic-embed-text": {
		Dimension:        768,
		ContextLength:    8192,
		MaxChunkWords:    512, // ~700 tokens, safe margin under 8192
		TargetChunkWords: 256,
	},
	"mxbai-embed-large": {
		Dimension:        1024,
		ContextLength:    512, // Very limited context
		MaxChunkWords:    300,
		TargetChunkWords: 150,
	},
	"all-minilm": {
		Dimension:        384,
		ContextLength:    256,
		MaxChunkWords:    150,
		TargetChunkWords: 100,
	},
	"snowflake-arctic-embed": {
		Dimension:        1024,
		ContextLength:    8192,
		MaxChunkWords:    512,
		TargetChunkWords: 256,
	},
}

// TokenizerForModel maps a known embedding model to the tiktoken-go
// encoding name that approximates its tokenizer. None of these models
// ship a public BPE vocabulary, so cl100k_base is used as the closest
// general-purpose approximation across the board; this is recorded here
// once so the Chunker and the embedder agree on which encoding to load.
var TokenizerForModel = map[string]string{
	"nomic-embed-text":       "cl100k_base",
	"mxbai-embed-large":      "cl100k_base",
	"all-minilm":             "cl100k_base",
	"snowflake-arctic-embed": "cl100k_base",
}

// DefaultTokenizer is used for models absent from TokenizerForModel.
const DefaultTokenizer = "cl100k_base"

// TokenizerForModelName returns the tiktoken-go encoding name for a model.
func TokenizerForModelName(model string) string {
	if enc, ok := TokenizerForModel[model]; ok {
		return enc
	}
	return DefaultTokenizer
}

// GetModelConfig returns the configuration for a model, or defaults if unknown.
func GetModelConfig(modelName string) ModelConfig {
	if cfg, ok := KnownModels[modelName]; ok {
		return cfg
	}
	// Conservative defaults for unknown models
	return ModelConfig{
		Dimension:        768,
		ContextLength:    2048,
		MaxChunkWords:    256,
		TargetChunkWords: 128,
	}
}
