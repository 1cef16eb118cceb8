// Package chunker splits document text into bounded-size, context-preserving chunks.
package chunker

import (
	"strings"

	"github.com/kotae-ai/kotae/internal/tokenizer"
)

// TokenChunker splits text line by line into chunks whose encoded token
// length stays within a budget, seeding each chunk after the first with a
// short tail of the previous chunk for continuity at boundaries.
type TokenChunker struct {
	tok          tokenizer.Tokenizer
	maxTokens    int
	overlapLines int
}

// NewTokenChunker creates a chunker with the given token budget and overlap
// window size (in sentences carried across chunk boundaries).
func NewTokenChunker(tok tokenizer.Tokenizer, maxTokens, overlapLines int) *TokenChunker {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if overlapLines < 0 {
		overlapLines = 0
	}
	return &TokenChunker{tok: tok, maxTokens: maxTokens, overlapLines: overlapLines}
}

// Chunk splits content into ordered chunks. Title and summary, when non-empty,
// are prefixed to every chunk so each is retrievable in isolation.
//
// Lines accumulate into the current buffer until appending the next one would
// push the buffer's token count past the budget; the buffer is then flushed
// and a new one starts with the overlap window's recent sentences. A single
// line over the budget is split at sentence boundaries with the same
// accumulate/flush policy; a single sentence over the budget is emitted as an
// oversized chunk rather than split further, since downstream consumers rely
// on sentences staying intact.
//
// Non-empty input always yields at least one chunk. Empty input yields a
// single empty-string chunk.
func (c *TokenChunker) Chunk(content, title, summary string) []string {
	if content == "" {
		return []string{""}
	}
	prefix := chunkPrefix(title, summary)

	var (
		chunks  []string
		window  []string
		current = prefix
		base    = prefix // buffer content at last seed; anything beyond it is new
	)
	flush := func() {
		chunks = append(chunks, current)
		current = prefix
		if c.overlapLines > 0 && len(window) > 0 {
			current = joinUnit(current, strings.Join(window, " "), "\n")
		}
		base = current
	}
	add := func(unit, sep string) {
		cand := joinUnit(current, unit, sep)
		if c.tok.Count(cand) > c.maxTokens && current != base {
			flush()
			cand = joinUnit(current, unit, sep)
		}
		current = cand
	}

	for _, line := range strings.Split(content, "\n") {
		sentences := SplitSentences(line)
		if c.tok.Count(line) > c.maxTokens {
			for _, s := range sentences {
				add(s, " ")
			}
		} else {
			add(line, "\n")
		}
		if c.overlapLines > 0 {
			window = append(window, sentences...)
			if len(window) > c.overlapLines {
				window = window[len(window)-c.overlapLines:]
			}
		}
	}
	if current != base || len(chunks) == 0 {
		flush()
	}
	return chunks
}

func chunkPrefix(title, summary string) string {
	var b strings.Builder
	if title != "" {
		b.WriteString(title)
	}
	if summary != "" {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(summary)
	}
	return b.String()
}

func joinUnit(current, unit, sep string) string {
	if current == "" {
		return unit
	}
	return current + sep + unit
}
