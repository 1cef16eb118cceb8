// Package indexer reconciles freshly chunked documents against stored chunk
// sets so only changed content is re-embedded.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kotae-ai/kotae/internal/access"
	"github.com/kotae-ai/kotae/internal/chunker"
	"github.com/kotae-ai/kotae/internal/embedding"
	"github.com/kotae-ai/kotae/internal/identity"
	"github.com/kotae-ai/kotae/internal/models"
	"github.com/kotae-ai/kotae/internal/store"
)

// Plan is the symmetric difference between a document's new chunk set and its
// stored one: chunks to embed and insert, and stale hashes to delete.
type Plan struct {
	Insert []*models.Chunk
	Delete []string
}

// Indexer chunks documents and applies reconciliation plans to collections.
// Authored text (plain, markdown, chat) goes through the token-budget line
// chunker; converter output (pdf, docx, xlsx, crawled pages) has no
// meaningful line structure and goes through the character-budget sentence
// chunker instead.
type Indexer struct {
	chunker   *chunker.TokenChunker
	sentences *chunker.SentenceChunker
	embedder  embedding.Embedder
	logger    *zap.Logger // optional
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets a logger for debug events.
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) { idx.logger = l }
}

// WithSentenceChunker replaces the default sentence chunker used for
// converter-produced documents.
func WithSentenceChunker(c *chunker.SentenceChunker) Option {
	return func(idx *Indexer) { idx.sentences = c }
}

// New creates an indexer with the given chunker and embedder.
func New(c *chunker.TokenChunker, e embedding.Embedder, opts ...Option) *Indexer {
	idx := &Indexer{
		chunker:   c,
		sentences: chunker.NewSentenceChunker(0, nil),
		embedder:  e,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Reconcile computes the plan for docID given its freshly computed chunk
// texts. A new chunk whose hash already exists in the collection with the
// same security mask is unchanged and left alone; everything else is
// inserted, and stored chunks absent from the new set are deleted by primary
// key. After applying the plan, the document's live chunk-hash set exactly
// equals the hashes of texts.
//
// Concurrent reconciliation of the same docID is not race-free; callers must
// serialize per document if it can occur.
func Reconcile(ctx context.Context, col store.Collection, docID string, texts []string, meta models.DocumentMeta) (*Plan, error) {
	existing, err := col.QueryByDoc(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("query existing chunks: %w", err)
	}
	stale := make(map[string]*models.Chunk, len(existing))
	for _, c := range existing {
		stale[c.Hash] = c
	}

	plan := &Plan{}
	seen := make(map[string]bool, len(texts))
	for _, text := range texts {
		hash := identity.ChunkHash(text)
		if seen[hash] {
			continue
		}
		seen[hash] = true
		if prev, ok := stale[hash]; ok && prev.SecurityGroups == meta.SecurityGroups {
			delete(stale, hash)
			continue
		}
		delete(stale, hash)
		plan.Insert = append(plan.Insert, &models.Chunk{
			Hash:           hash,
			DocID:          docID,
			Text:           text,
			DocTitle:       meta.Title,
			DocSummary:     meta.Summary,
			URL:            meta.URL,
			Timestamp:      meta.Timestamp,
			SecurityGroups: meta.SecurityGroups,
		})
	}
	for hash := range stale {
		plan.Delete = append(plan.Delete, hash)
	}
	return plan, nil
}

// IndexDocument chunks input, reconciles against the collection, embeds only
// the delta, and applies the plan. Returns the number of chunks inserted and
// deleted. Re-submitting an unchanged document is a near no-op.
func (idx *Indexer) IndexDocument(ctx context.Context, col store.Collection, input *models.DocumentInput) (inserted, deleted int, err error) {
	if input.ID == "" {
		input.ID = uuid.New().String()
	}
	mask, err := access.EncodeGroups(input.SecurityGroups)
	if err != nil {
		return 0, 0, err
	}
	meta := models.DocumentMeta{
		DocID:          input.ID,
		Title:          input.Title,
		Summary:        input.Summary,
		URL:            input.URL,
		Timestamp:      time.Now().Unix(),
		SecurityGroups: mask,
	}
	texts := idx.chunkTexts(input)
	plan, err := Reconcile(ctx, col, input.ID, texts, meta)
	if err != nil {
		return 0, 0, err
	}
	if err := idx.apply(ctx, col, input.ID, plan); err != nil {
		return 0, 0, err
	}
	if idx.logger != nil {
		idx.logger.Debug("document indexed",
			zap.String("collection", col.Name()),
			zap.String("doc_id", input.ID),
			zap.Int("inserted", len(plan.Insert)),
			zap.Int("deleted", len(plan.Delete)))
	}
	return len(plan.Insert), len(plan.Delete), nil
}

// chunkTexts picks the chunking policy by source format.
func (idx *Indexer) chunkTexts(input *models.DocumentInput) []string {
	switch input.Format {
	case models.FormatPDF, models.FormatDOCX, models.FormatXLSX, models.FormatLink:
		return idx.sentences.Chunk(input.Content)
	}
	return idx.chunker.Chunk(input.Content, input.Title, input.Summary)
}

// IndexCannedPairs indexes question/answer pairs into a canned-answer
// collection: the question is the embedded text, the answer rides along and
// is returned verbatim on a high-confidence match.
func (idx *Indexer) IndexCannedPairs(ctx context.Context, col store.Collection, docID string, pairs []models.QAPair, meta models.DocumentMeta) (inserted, deleted int, err error) {
	questions := make([]string, len(pairs))
	answers := make(map[string]string, len(pairs))
	for i, p := range pairs {
		questions[i] = p.Question
		answers[identity.ChunkHash(p.Question)] = p.Answer
	}
	plan, err := Reconcile(ctx, col, docID, questions, meta)
	if err != nil {
		return 0, 0, err
	}
	for _, c := range plan.Insert {
		c.Answer = answers[c.Hash]
	}
	if err := idx.apply(ctx, col, docID, plan); err != nil {
		return 0, 0, err
	}
	return len(plan.Insert), len(plan.Delete), nil
}

// DeleteDocument removes every chunk of docID. Unknown ids are an error so
// callers can distinguish a no-op delete from a real one.
func (idx *Indexer) DeleteDocument(ctx context.Context, col store.Collection, docID string) error {
	existing, err := col.QueryByDoc(ctx, docID)
	if err != nil {
		return fmt.Errorf("query document: %w", err)
	}
	if len(existing) == 0 {
		return fmt.Errorf("%w: %q in collection %q", models.ErrDocumentNotFound, docID, col.Name())
	}
	if err := col.Delete(ctx, docID, nil); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if idx.logger != nil {
		idx.logger.Debug("document deleted",
			zap.String("collection", col.Name()),
			zap.String("doc_id", docID),
			zap.Int("chunks", len(existing)))
	}
	return nil
}

func (idx *Indexer) apply(ctx context.Context, col store.Collection, docID string, plan *Plan) error {
	if len(plan.Insert) > 0 {
		texts := make([]string, len(plan.Insert))
		for i, c := range plan.Insert {
			texts[i] = c.Text
		}
		vecs, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		for i := range plan.Insert {
			plan.Insert[i].Embedding = vecs[i]
		}
		if err := col.Insert(ctx, plan.Insert); err != nil {
			return fmt.Errorf("insert chunks: %w", err)
		}
	}
	if len(plan.Delete) > 0 {
		if err := col.Delete(ctx, docID, plan.Delete); err != nil {
			return fmt.Errorf("delete stale chunks: %w", err)
		}
	}
	return nil
}
