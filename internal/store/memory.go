package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kotae-ai/kotae/internal/models"
)

// MemoryBackend keeps collections in process memory with brute-force inner
// product search. Suitable for tests and small datasets.
type MemoryBackend struct {
	mu          sync.Mutex
	collections map[string]*memoryCollection
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string]*memoryCollection)}
}

// GetOrCreate returns the named collection, creating it if absent.
func (b *MemoryBackend) GetOrCreate(_ context.Context, name string, schema Schema) (Collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if col, ok := b.collections[name]; ok {
		return col, nil
	}
	col := &memoryCollection{
		name:   name,
		schema: schema,
		chunks: make(map[string]*models.Chunk),
	}
	b.collections[name] = col
	return col, nil
}

// List returns the existing collection names and schemas.
func (b *MemoryBackend) List(_ context.Context) (map[string]Schema, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Schema, len(b.collections))
	for name, col := range b.collections {
		out[name] = col.schema
	}
	return out, nil
}

// Close is a no-op for MemoryBackend.
func (b *MemoryBackend) Close() error { return nil }

type memoryCollection struct {
	name   string
	schema Schema

	mu     sync.RWMutex
	chunks map[string]*models.Chunk
	order  []string // insertion order, keeps search ties stable
}

func (c *memoryCollection) Name() string   { return c.name }
func (c *memoryCollection) Schema() Schema { return c.schema }

func (c *memoryCollection) QueryByDoc(_ context.Context, docID string) ([]*models.Chunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*models.Chunk
	for _, hash := range c.order {
		if ch := c.chunks[hash]; ch != nil && ch.DocID == docID {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (c *memoryCollection) Insert(_ context.Context, chunks []*models.Chunk) error {
	if err := validateBatch(chunks); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range chunks {
		cp := *ch
		if _, exists := c.chunks[ch.Hash]; !exists {
			c.order = append(c.order, ch.Hash)
		}
		c.chunks[ch.Hash] = &cp
	}
	return nil
}

func (c *memoryCollection) Delete(_ context.Context, docID string, hashes []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	remove := make(map[string]bool)
	if len(hashes) == 0 {
		for hash, ch := range c.chunks {
			if ch.DocID == docID {
				remove[hash] = true
			}
		}
	} else {
		for _, h := range hashes {
			remove[h] = true
		}
	}
	for hash := range remove {
		delete(c.chunks, hash)
	}
	kept := c.order[:0]
	for _, hash := range c.order {
		if !remove[hash] {
			kept = append(kept, hash)
		}
	}
	c.order = kept
	return nil
}

func (c *memoryCollection) Search(_ context.Context, query []float32, topK int) ([]*Hit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if topK <= 0 || len(c.order) == 0 {
		return nil, nil
	}
	hits := make([]*Hit, 0, len(c.order))
	for _, hash := range c.order {
		ch := c.chunks[hash]
		if len(ch.Embedding) != len(query) {
			return nil, fmt.Errorf("%w: query dimension %d, stored %d", models.ErrValidation, len(query), len(ch.Embedding))
		}
		var dot float64
		for i := range query {
			dot += float64(query[i] * ch.Embedding[i])
		}
		hits = append(hits, &Hit{Chunk: ch, Score: dot})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK < len(hits) {
		hits = hits[:topK]
	}
	return hits, nil
}

func (c *memoryCollection) Count(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.chunks), nil
}
