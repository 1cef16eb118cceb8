package retrieval

import (
	"fmt"
	"strings"

	"github.com/kotae-ai/kotae/internal/tokenizer"
)

// ContextFormat selects how packed chunks are rendered.
type ContextFormat int

const (
	// ContextPlain joins chunk texts with a visible separator.
	ContextPlain ContextFormat = iota
	// ContextIndexed prefixes each chunk with its ordinal so the completion
	// model can cite doc_idx positions that map back to sources.
	ContextIndexed
)

const chunkSeparator = "\n---\n"

// BuildContext packs ranked hits into a context string, walking them in rank
// order and stopping at the first chunk whose addition would push the encoded
// length past maxTokens. The overflowing chunk is left out whole; there is no
// partial-chunk truncation. Returns the rendered context and the number of
// chunks used.
func BuildContext(hits []*Hit, tok tokenizer.Tokenizer, maxTokens int, format ContextFormat) (string, int) {
	var b strings.Builder
	used := 0
	for _, h := range hits {
		var fragment string
		switch format {
		case ContextIndexed:
			fragment = fmt.Sprintf("doc_idx: %d\n%s", used, h.Chunk.Text)
		default:
			fragment = h.Chunk.Text
		}
		candidate := b.String()
		if candidate != "" {
			candidate += chunkSeparator
		}
		candidate += fragment
		if tok.Count(candidate) > maxTokens {
			break
		}
		if used > 0 {
			b.WriteString(chunkSeparator)
		}
		b.WriteString(fragment)
		used++
	}
	return b.String(), used
}
