package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kotae-ai/kotae/internal/models"
	"github.com/kotae-ai/kotae/pkg/utils"
)

const (
	maxAttempts = 5
	baseBackoff = 1 * time.Second
	maxBackoff  = 60 * time.Second
)

// ServiceEmbedder calls an OpenAI-compatible embedding endpoint. Server
// errors are retried with randomized exponential backoff before surfacing a
// typed service error.
type ServiceEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	logger     *zap.Logger // optional
}

// NewServiceEmbedder creates an embedder against baseURL (empty uses the
// client default). logger may be nil.
func NewServiceEmbedder(baseURL, apiKey, model string, dimensions int, logger *zap.Logger) *ServiceEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &ServiceEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dimensions,
		logger:     logger,
	}
}

// Embed returns the embedding for a single text.
func (e *ServiceEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request. The response must contain exactly
// one vector per input in input order; a length mismatch aborts the operation
// rather than continuing with misaligned data.
func (e *ServiceEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var (
		resp openai.EmbeddingResponse
		err  error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err = e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.model),
			Input: texts,
		})
		if err == nil {
			break
		}
		if !retryable(err) {
			return nil, fmt.Errorf("embedding request: %w", err)
		}
		if attempt == maxAttempts {
			break
		}
		wait := backoffDelay(attempt)
		if e.logger != nil {
			e.logger.Warn("embedding service error, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: embedding service failed after %d attempts: %v", models.ErrServiceUnavailable, maxAttempts, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", models.ErrEmbeddingMismatch, len(resp.Data), len(texts))
	}
	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		v := make([]float32, len(d.Embedding))
		copy(v, d.Embedding)
		utils.NormalizeL2(v)
		vecs[i] = v
	}
	return vecs, nil
}

// Dimensions returns the embedding dimension.
func (e *ServiceEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for ServiceEmbedder.
func (e *ServiceEmbedder) Close() error {
	return nil
}

// retryable reports whether err is worth retrying: 5xx and rate-limit
// responses are transient, 4xx are not. Transport-level failures are treated
// as transient.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == 429
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == 429
	}
	return true
}

// backoffDelay returns the randomized exponential delay for the given attempt,
// bounded by maxBackoff. Jitter avoids thundering-herd against the model service.
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(float64(baseBackoff) * math.Pow(2, float64(attempt-1)))
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d/2 + jitter
}

