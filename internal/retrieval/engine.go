// Package retrieval runs multi-collection similarity search, ranks and
// filters the hits, and assembles completion context from them.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kotae-ai/kotae/internal/access"
	"github.com/kotae-ai/kotae/internal/embedding"
	"github.com/kotae-ai/kotae/internal/models"
	"github.com/kotae-ai/kotae/internal/store"
)

const (
	defaultTopK = 5

	// Similarity a canned question must reach before its stored answer is
	// returned verbatim instead of running the general search.
	defaultCannedThreshold = 0.92
)

// Hit is one ranked chunk with the collection it came from.
type Hit struct {
	Chunk      *models.Chunk
	Collection string
	Score      float64
}

// Request describes one retrieval call.
type Request struct {
	Query        string
	Collections  []string
	TopK         int
	SecurityMask uint64
	ExcludeDocID string
	// AllowDuplicateDocs keeps several chunks of the same document in the
	// result. Ranking lists want one entry per document; completion context
	// wants every relevant passage.
	AllowDuplicateDocs bool
}

// Engine queries collections through the registry and merges the results.
type Engine struct {
	registry        *store.Registry
	embedder        embedding.Embedder
	topK            int
	cannedThreshold float64
	logger          *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

func WithCannedThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 {
			e.cannedThreshold = t
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a retrieval engine over the given registry and embedder.
func NewEngine(registry *store.Registry, embedder embedding.Embedder, opts ...Option) *Engine {
	e := &Engine{
		registry:        registry,
		embedder:        embedder,
		topK:            defaultTopK,
		cannedThreshold: defaultCannedThreshold,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search embeds the query and ranks hits across the requested collections.
// Canned-answer collections are consulted first: a sufficiently close canned
// question short-circuits the general search and its chunk is returned as
// canned, with no hits. Otherwise canned is nil and hits hold the merged,
// filtered, deduplicated ranking.
func (e *Engine) Search(ctx context.Context, req *Request) (hits []*Hit, canned *models.Chunk, err error) {
	if req.Query == "" {
		return nil, nil, fmt.Errorf("%w: empty query", models.ErrValidation)
	}
	if req.TopK <= 0 {
		req.TopK = e.topK
	}

	var cannedCols, docCols []store.Collection
	for _, name := range req.Collections {
		col, err := e.registry.Get(name)
		if err != nil {
			return nil, nil, err
		}
		if col.Schema() == store.SchemaCanned {
			cannedCols = append(cannedCols, col)
		} else {
			docCols = append(docCols, col)
		}
	}

	vec, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, nil, err
	}

	if len(cannedCols) > 0 {
		// Fetch a few candidates per collection: the access filter runs after
		// the similarity search, so the single closest question may belong to
		// a group the caller is not in while an allowed one sits just below.
		cannedHits, err := e.searchAll(ctx, cannedCols, vec, req.TopK)
		if err != nil {
			return nil, nil, err
		}
		best := bestAllowed(cannedHits, req.SecurityMask)
		if best != nil && best.Score >= e.cannedThreshold {
			e.logger.Debug("canned answer matched",
				zap.String("collection", best.Collection),
				zap.Float64("score", best.Score))
			return nil, best.Chunk, nil
		}
	}

	merged, err := e.searchAll(ctx, docCols, vec, req.TopK)
	if err != nil {
		return nil, nil, err
	}
	return rank(merged, req), nil, nil
}

// searchAll queries every collection concurrently and concatenates the hits
// in collection request order, so equal scores keep a deterministic
// first-appearance order through the stable sort in rank.
func (e *Engine) searchAll(ctx context.Context, cols []store.Collection, vec []float32, topK int) ([]*Hit, error) {
	var (
		results = make([][]*Hit, len(cols))
		wg      sync.WaitGroup
		errChan = make(chan error, len(cols))
	)
	for i, col := range cols {
		wg.Add(1)
		go func(i int, col store.Collection) {
			defer wg.Done()
			found, err := col.Search(ctx, vec, topK)
			if err != nil {
				errChan <- fmt.Errorf("search %s: %w", col.Name(), err)
				return
			}
			slot := make([]*Hit, 0, len(found))
			for _, h := range found {
				slot = append(slot, &Hit{Chunk: h.Chunk, Collection: col.Name(), Score: h.Score})
			}
			results[i] = slot
		}(i, col)
	}
	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}
	var hits []*Hit
	for _, r := range results {
		hits = append(hits, r...)
	}
	return hits, nil
}

// rank sorts merged hits by score, applies the security filter and the
// exclusion and dedup rules, and truncates to TopK. The sort is stable so
// equal scores keep their first-appearance order.
func rank(hits []*Hit, req *Request) []*Hit {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	seen := make(map[string]bool)
	out := make([]*Hit, 0, req.TopK)
	for _, h := range hits {
		if !access.Allowed(h.Chunk.SecurityGroups, req.SecurityMask) {
			continue
		}
		if req.ExcludeDocID != "" && h.Chunk.DocID == req.ExcludeDocID {
			continue
		}
		if !req.AllowDuplicateDocs {
			if seen[h.Chunk.DocID] {
				continue
			}
			seen[h.Chunk.DocID] = true
		}
		out = append(out, h)
		if len(out) == req.TopK {
			break
		}
	}
	return out
}

func bestAllowed(hits []*Hit, mask uint64) *Hit {
	var best *Hit
	for _, h := range hits {
		if !access.Allowed(h.Chunk.SecurityGroups, mask) {
			continue
		}
		if best == nil || h.Score > best.Score {
			best = h
		}
	}
	return best
}

// Sources projects hits into their display form, preserving rank order.
func Sources(hits []*Hit) []*models.Source {
	sources := make([]*models.Source, 0, len(hits))
	for _, h := range hits {
		sources = append(sources, &models.Source{
			DocID:      h.Chunk.DocID,
			Title:      h.Chunk.DocTitle,
			Collection: h.Collection,
			Score:      h.Score,
			Summary:    h.Chunk.DocSummary,
		})
	}
	return sources
}
