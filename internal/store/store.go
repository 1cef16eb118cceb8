// Package store owns named chunk collections backed by a vector index and a
// record table.
package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/kotae-ai/kotae/internal/identity"
	"github.com/kotae-ai/kotae/internal/models"
)

// Schema selects the field semantics of a collection.
type Schema string

const (
	// SchemaDocument holds free document chunks.
	SchemaDocument Schema = "document"
	// SchemaCanned holds question/answer pairs: Text is the question, Answer
	// is returned verbatim on a high-confidence match.
	SchemaCanned Schema = "canned"
)

// Hit is one similarity-search result.
type Hit struct {
	Chunk *models.Chunk
	Score float64
}

// Collection is a named set of chunks with an inner-product similarity index
// over the embedding field.
type Collection interface {
	Name() string
	Schema() Schema

	// QueryByDoc returns the stored chunk records for a document id by exact
	// match, without similarity. Used for existence checks and reconciliation.
	QueryByDoc(ctx context.Context, docID string) ([]*models.Chunk, error)

	// Insert appends chunk records. Every record must carry a hash, a doc id,
	// and an embedding of the collection's uniform dimension; a partial batch
	// is rejected whole.
	Insert(ctx context.Context, chunks []*models.Chunk) error

	// Delete removes chunks matching the filter: the listed hashes within
	// docID, or every chunk of docID when hashes is empty.
	Delete(ctx context.Context, docID string, hashes []string) error

	// Search returns the top-k chunks by inner product against query.
	Search(ctx context.Context, query []float32, topK int) ([]*Hit, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)
}

// Backend creates and reopens physical collections. GetOrCreate must be
// idempotent: concurrent calls for the same name yield the same physical
// collection.
type Backend interface {
	GetOrCreate(ctx context.Context, name string, schema Schema) (Collection, error)
	// List returns the names and schemas of existing collections, used to
	// populate the handle cache at startup.
	List(ctx context.Context) (map[string]Schema, error)
	Close() error
}

var collectionNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// CollectionName builds the canonical collection name for a vendor,
// organization, and topic: vendor_orgHash_topic.
func CollectionName(vendor, org, topic string) string {
	return fmt.Sprintf("%s_%s_%s", vendor, identity.OrgHash(org), topic)
}

// ValidateName rejects collection names that cannot be used as identifiers in
// the backing stores.
func ValidateName(name string) error {
	if name == "" || !collectionNameRe.MatchString(name) {
		return fmt.Errorf("%w: invalid collection name %q", models.ErrValidation, name)
	}
	return nil
}

// validateBatch checks the insert invariants shared by all backends.
func validateBatch(chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	dim := len(chunks[0].Embedding)
	for i, c := range chunks {
		if c.Hash == "" || c.DocID == "" {
			return fmt.Errorf("%w: chunk %d missing hash or doc id", models.ErrValidation, i)
		}
		if len(c.Embedding) == 0 || len(c.Embedding) != dim {
			return fmt.Errorf("%w: chunk %d embedding length %d, want %d", models.ErrValidation, i, len(c.Embedding), dim)
		}
	}
	return nil
}
