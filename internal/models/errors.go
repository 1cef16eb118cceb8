package models

import "errors"

// Error taxonomy. The core returns these classified values (wrapped with
// context via fmt.Errorf and %w); only the HTTP boundary maps them to status
// codes. None of these are retried except through the bounded retry budget of
// the service gateways, which surface ErrServiceUnavailable once exhausted.
var (
	// ErrCollectionNotFound signals a request for a collection name that does
	// not exist, distinct from transient connectivity errors.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDocumentNotFound signals an unknown document id within a collection.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrAmbiguousDocument signals a document id pattern matching more than
	// one stored document where exactly one was required.
	ErrAmbiguousDocument = errors.New("ambiguous document id")

	// ErrAccessDenied signals that the caller's security mask has no overlap
	// with the chunk's mask.
	ErrAccessDenied = errors.New("access denied")

	// ErrServiceUnavailable signals an upstream model service failure that
	// persisted through the retry budget.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrValidation signals malformed input (security group out of range,
	// conflicting request parameters). Never retried.
	ErrValidation = errors.New("validation error")

	// ErrEmbeddingMismatch signals an embedding response whose length does not
	// match the input batch. Fatal: the operation must abort rather than
	// continue with misaligned vectors.
	ErrEmbeddingMismatch = errors.New("embedding count mismatch")
)
