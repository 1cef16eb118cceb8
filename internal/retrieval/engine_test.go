package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/kotae-ai/kotae/internal/embedding"
	"github.com/kotae-ai/kotae/internal/models"
	"github.com/kotae-ai/kotae/internal/store"
)

// scale returns v scaled by f. Stored embeddings that are scaled copies of
// the query vector produce a known inner-product score, since mock embeddings
// are unit length.
func scale(v []float32, f float32) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * f
	}
	return out
}

type fixture struct {
	engine   *Engine
	registry *store.Registry
	queryVec []float32
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	embedder := embedding.NewMockEmbedder(8)
	registry := store.NewRegistry(store.NewMemoryBackend(), nil)
	vec, err := embedder.Embed(context.Background(), "query")
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		engine:   NewEngine(registry, embedder, opts...),
		registry: registry,
		queryVec: vec,
	}
}

func (f *fixture) collection(t *testing.T, name string, schema store.Schema, chunks ...*models.Chunk) {
	t.Helper()
	col, err := f.registry.GetOrCreate(context.Background(), name, schema)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) > 0 {
		if err := col.Insert(context.Background(), chunks); err != nil {
			t.Fatal(err)
		}
	}
}

func (f *fixture) chunk(hash, docID string, score float32, mask uint64) *models.Chunk {
	return &models.Chunk{
		Hash:           hash,
		DocID:          docID,
		Text:           "text " + hash,
		Embedding:      scale(f.queryVec, score),
		SecurityGroups: mask,
	}
}

func TestSearchMergesAcrossCollections(t *testing.T) {
	f := newFixture(t)
	open := ^uint64(0)
	f.collection(t, "acme_a_docs", store.SchemaDocument,
		f.chunk("h1", "d1", 0.9, open),
		f.chunk("h2", "d2", 0.5, open),
	)
	f.collection(t, "acme_a_wiki", store.SchemaDocument,
		f.chunk("h3", "d3", 0.7, open),
	)

	hits, canned, err := f.engine.Search(context.Background(), &Request{
		Query:        "query",
		Collections:  []string{"acme_a_docs", "acme_a_wiki"},
		TopK:         10,
		SecurityMask: open,
	})
	if err != nil {
		t.Fatal(err)
	}
	if canned != nil {
		t.Fatal("unexpected canned answer")
	}
	var got []string
	for _, h := range hits {
		got = append(got, h.Chunk.Hash)
	}
	want := []string{"h1", "h3", "h2"}
	if len(got) != len(want) {
		t.Fatalf("hits = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("hit[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if hits[1].Collection != "acme_a_wiki" {
		t.Errorf("hit[1].Collection = %s", hits[1].Collection)
	}
}

func TestSearchTieOrderFollowsRequestOrder(t *testing.T) {
	f := newFixture(t)
	open := ^uint64(0)
	f.collection(t, "acme_a_one", store.SchemaDocument,
		f.chunk("h1", "d1", 0.8, open),
	)
	f.collection(t, "acme_a_two", store.SchemaDocument,
		f.chunk("h2", "d2", 0.8, open),
	)

	// Equal scores break ties by collection request order, independent of
	// which search goroutine finishes first.
	for i := 0; i < 50; i++ {
		hits, _, err := f.engine.Search(context.Background(), &Request{
			Query:        "query",
			Collections:  []string{"acme_a_one", "acme_a_two"},
			SecurityMask: open,
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 2 || hits[0].Chunk.Hash != "h1" {
			t.Fatalf("iteration %d: first hit = %v, want h1 from acme_a_one", i, hits)
		}
	}
	for i := 0; i < 50; i++ {
		hits, _, err := f.engine.Search(context.Background(), &Request{
			Query:        "query",
			Collections:  []string{"acme_a_two", "acme_a_one"},
			SecurityMask: open,
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 2 || hits[0].Chunk.Hash != "h2" {
			t.Fatalf("iteration %d: first hit = %v, want h2 from acme_a_two", i, hits)
		}
	}
}

func TestSearchSecurityFilter(t *testing.T) {
	f := newFixture(t)
	f.collection(t, "acme_a_docs", store.SchemaDocument,
		f.chunk("open", "d1", 0.5, ^uint64(0)),
		f.chunk("hr", "d2", 0.9, 1<<3),
	)

	hits, _, err := f.engine.Search(context.Background(), &Request{
		Query:        "query",
		Collections:  []string{"acme_a_docs"},
		SecurityMask: 1 << 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Chunk.Hash != "open" {
		t.Errorf("hits = %v, want only the unrestricted chunk", hits)
	}
}

func TestSearchDedupByDocument(t *testing.T) {
	f := newFixture(t)
	open := ^uint64(0)
	f.collection(t, "acme_a_docs", store.SchemaDocument,
		f.chunk("h1", "d1", 0.9, open),
		f.chunk("h2", "d1", 0.8, open),
		f.chunk("h3", "d2", 0.7, open),
	)

	req := &Request{Query: "query", Collections: []string{"acme_a_docs"}, SecurityMask: open}
	hits, _, err := f.engine.Search(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("deduplicated hits = %d, want 2", len(hits))
	}
	if hits[0].Chunk.Hash != "h1" || hits[1].Chunk.Hash != "h3" {
		t.Errorf("hits = %s, %s; want h1, h3", hits[0].Chunk.Hash, hits[1].Chunk.Hash)
	}

	req.AllowDuplicateDocs = true
	hits, _, err = f.engine.Search(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Errorf("with duplicates allowed hits = %d, want 3", len(hits))
	}
}

func TestSearchExcludeDoc(t *testing.T) {
	f := newFixture(t)
	open := ^uint64(0)
	f.collection(t, "acme_a_docs", store.SchemaDocument,
		f.chunk("h1", "self", 0.9, open),
		f.chunk("h2", "other", 0.5, open),
	)

	hits, _, err := f.engine.Search(context.Background(), &Request{
		Query:        "query",
		Collections:  []string{"acme_a_docs"},
		SecurityMask: open,
		ExcludeDocID: "self",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Chunk.DocID != "other" {
		t.Errorf("hits = %v, want only doc other", hits)
	}
}

func TestSearchCannedShortCircuit(t *testing.T) {
	f := newFixture(t)
	open := ^uint64(0)
	canned := f.chunk("q1", "faq", 1.0, open)
	canned.Answer = "Use the account page."
	f.collection(t, "acme_a_faq", store.SchemaCanned, canned)
	f.collection(t, "acme_a_docs", store.SchemaDocument,
		f.chunk("h1", "d1", 0.9, open),
	)

	hits, got, err := f.engine.Search(context.Background(), &Request{
		Query:        "query",
		Collections:  []string{"acme_a_faq", "acme_a_docs"},
		SecurityMask: open,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected canned short-circuit")
	}
	if got.Answer != "Use the account page." {
		t.Errorf("canned answer = %q", got.Answer)
	}
	if hits != nil {
		t.Errorf("general search ran despite canned match: %v", hits)
	}
}

func TestSearchCannedRestrictedTopDoesNotHideAllowed(t *testing.T) {
	f := newFixture(t)
	restricted := f.chunk("q1", "faq", 0.99, 1<<3)
	restricted.Answer = "restricted answer"
	allowed := f.chunk("q2", "faq", 0.95, 1<<5)
	allowed.Answer = "allowed answer"
	f.collection(t, "acme_a_faq", store.SchemaCanned, restricted, allowed)

	_, canned, err := f.engine.Search(context.Background(), &Request{
		Query:        "query",
		Collections:  []string{"acme_a_faq"},
		SecurityMask: 1 << 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if canned == nil {
		t.Fatal("allowed canned match above threshold was not returned")
	}
	if canned.Answer != "allowed answer" {
		t.Errorf("canned answer = %q, want the allowed one", canned.Answer)
	}
}

func TestSearchCannedBelowThresholdFallsThrough(t *testing.T) {
	f := newFixture(t)
	open := ^uint64(0)
	weak := f.chunk("q1", "faq", 0.5, open)
	weak.Answer = "canned"
	f.collection(t, "acme_a_faq", store.SchemaCanned, weak)
	f.collection(t, "acme_a_docs", store.SchemaDocument,
		f.chunk("h1", "d1", 0.9, open),
	)

	hits, canned, err := f.engine.Search(context.Background(), &Request{
		Query:        "query",
		Collections:  []string{"acme_a_faq", "acme_a_docs"},
		SecurityMask: open,
	})
	if err != nil {
		t.Fatal(err)
	}
	if canned != nil {
		t.Fatal("weak canned match must not short-circuit")
	}
	if len(hits) != 1 || hits[0].Chunk.Hash != "h1" {
		t.Errorf("hits = %v, want h1", hits)
	}
}

func TestSearchUnknownCollection(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.engine.Search(context.Background(), &Request{
		Query:       "query",
		Collections: []string{"missing"},
	})
	if !errors.Is(err, models.ErrCollectionNotFound) {
		t.Errorf("err = %v, want ErrCollectionNotFound", err)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.engine.Search(context.Background(), &Request{Collections: []string{"x"}})
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestSources(t *testing.T) {
	hits := []*Hit{
		{Chunk: &models.Chunk{DocID: "d1", DocTitle: "Title", DocSummary: "S"}, Collection: "c", Score: 0.8},
	}
	sources := Sources(hits)
	if len(sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(sources))
	}
	s := sources[0]
	if s.DocID != "d1" || s.Title != "Title" || s.Collection != "c" || s.Score != 0.8 || s.Summary != "S" {
		t.Errorf("source = %+v", s)
	}
}
