// Package embedding turns text into vectors via an external model service.
package embedding

import "context"

// Embedder produces vector embeddings for text. EmbedBatch is order- and
// length-preserving: result[i] is the embedding of texts[i].
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
