// Package tokenizer counts encoded token lengths for chunk and context budgets.
package tokenizer

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer reports the encoded token length of text under a model's encoding.
type Tokenizer interface {
	Count(text string) int
}

// defaultEncoding is the BPE encoding shared by current embedding and
// completion models.
const defaultEncoding = "cl100k_base"

// BPETokenizer counts tokens with a tiktoken BPE encoding.
type BPETokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewBPETokenizer loads the named tiktoken encoding; empty name uses the default.
func NewBPETokenizer(encoding string) (*BPETokenizer, error) {
	if encoding == "" {
		encoding = defaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &BPETokenizer{enc: enc}, nil
}

// Count returns the number of BPE tokens in text.
func (t *BPETokenizer) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// WordTokenizer approximates token counts by whitespace-separated words.
// Deterministic and dependency-free; used in tests and as a fallback when the
// BPE data files are unavailable.
type WordTokenizer struct{}

// Count returns the number of whitespace-separated fields in text.
func (WordTokenizer) Count(text string) int {
	return len(strings.Fields(text))
}
