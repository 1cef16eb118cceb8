package store

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kotae-ai/kotae/internal/models"
)

// ChromemBackend pairs a chromem vector database (similarity search over the
// embedding field) with a SQLite record table (exact-match queries and
// diffing). Both sides are keyed by chunk hash.
type ChromemBackend struct {
	db      *chromem.DB
	records *recordDB
	mu      sync.Mutex
}

// NewChromemBackend opens a persistent backend under dataDir. When dataDir is
// empty, both sides are in-memory (useful for tests and ephemeral deployments).
func NewChromemBackend(dataDir string) (*ChromemBackend, error) {
	var (
		db  *chromem.DB
		err error
	)
	recordPath := ":memory:"
	if dataDir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(filepath.Join(dataDir, "vectors"), false)
		if err != nil {
			return nil, fmt.Errorf("open vector database: %w", err)
		}
		recordPath = filepath.Join(dataDir, "chunks.db")
	}
	records, err := openRecordDB(recordPath)
	if err != nil {
		return nil, err
	}
	return &ChromemBackend{db: db, records: records}, nil
}

// GetOrCreate opens or creates the named collection. The underlying create is
// idempotent on both sides, so concurrent callers converge on one physical
// collection.
func (b *ChromemBackend) GetOrCreate(ctx context.Context, name string, schema Schema) (Collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Embeddings are always supplied by the caller, so no embedding func is
	// registered with chromem.
	col, err := b.db.GetOrCreateCollection(name, map[string]string{"schema": string(schema)}, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("chromem collection: %w", err)
	}
	if err := b.records.registerCollection(ctx, name, schema); err != nil {
		return nil, fmt.Errorf("register collection: %w", err)
	}
	return &chromemCollection{name: name, schema: schema, col: col, records: b.records}, nil
}

// List returns the collections registered in the record database.
func (b *ChromemBackend) List(ctx context.Context) (map[string]Schema, error) {
	return b.records.listCollections(ctx)
}

// Close closes the record database. chromem itself holds no open handles.
func (b *ChromemBackend) Close() error {
	return b.records.close()
}

// noEmbedding guards against accidental text-only inserts: every document we
// add carries a precomputed embedding, so chromem must never embed on its own.
func noEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("%w: collection has no embedding function; embeddings must be precomputed", models.ErrValidation)
}

type chromemCollection struct {
	name    string
	schema  Schema
	col     *chromem.Collection
	records *recordDB
}

func (c *chromemCollection) Name() string   { return c.name }
func (c *chromemCollection) Schema() Schema { return c.schema }

func (c *chromemCollection) QueryByDoc(ctx context.Context, docID string) ([]*models.Chunk, error) {
	return c.records.chunksByDoc(ctx, c.name, docID)
}

func (c *chromemCollection) Insert(ctx context.Context, chunks []*models.Chunk) error {
	if err := validateBatch(chunks); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(chunks))
	for i, ch := range chunks {
		docs[i] = chromem.Document{
			ID:        ch.Hash,
			Content:   ch.Text,
			Embedding: ch.Embedding,
			Metadata:  map[string]string{"doc_id": ch.DocID},
		}
	}
	if err := c.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add vectors: %w", err)
	}
	if err := c.records.insertChunks(ctx, c.name, chunks); err != nil {
		return fmt.Errorf("insert records: %w", err)
	}
	return nil
}

func (c *chromemCollection) Delete(ctx context.Context, docID string, hashes []string) error {
	if len(hashes) == 0 {
		if err := c.col.Delete(ctx, map[string]string{"doc_id": docID}, nil); err != nil {
			return fmt.Errorf("delete vectors: %w", err)
		}
	} else {
		if err := c.col.Delete(ctx, nil, nil, hashes...); err != nil {
			return fmt.Errorf("delete vectors: %w", err)
		}
	}
	if err := c.records.deleteChunks(ctx, c.name, docID, hashes); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

func (c *chromemCollection) Search(ctx context.Context, query []float32, topK int) ([]*Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	// chromem rejects nResults above the collection size.
	if n := c.col.Count(); topK > n {
		topK = n
	}
	if topK == 0 {
		return nil, nil
	}
	results, err := c.col.QueryEmbedding(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	hashes := make([]string, len(results))
	for i, r := range results {
		hashes[i] = r.ID
	}
	records, err := c.records.chunksByHashes(ctx, c.name, hashes)
	if err != nil {
		return nil, fmt.Errorf("load hit records: %w", err)
	}
	byHash := make(map[string]*models.Chunk, len(records))
	for _, rec := range records {
		byHash[rec.Hash] = rec
	}
	hits := make([]*Hit, 0, len(results))
	for _, r := range results {
		rec, ok := byHash[r.ID]
		if !ok {
			// Vector without a record: deleted mid-search, skip.
			continue
		}
		hits = append(hits, &Hit{Chunk: rec, Score: float64(r.Similarity)})
	}
	return hits, nil
}

func (c *chromemCollection) Count(ctx context.Context) (int, error) {
	return c.records.countChunks(ctx, c.name)
}
