package chunker

import (
	"strings"
	"testing"

	"github.com/kotae-ai/kotae/internal/tokenizer"
)

func TestChunkEmptyInput(t *testing.T) {
	c := NewTokenChunker(tokenizer.WordTokenizer{}, 10, 0)
	got := c.Chunk("", "title", "")
	if len(got) != 1 || got[0] != "" {
		t.Errorf("Chunk(\"\") = %q, want single empty chunk", got)
	}
}

func TestChunkLosslessLineCoverage(t *testing.T) {
	content := "alpha beta\ngamma delta\nepsilon zeta\neta theta"
	c := NewTokenChunker(tokenizer.WordTokenizer{}, 2, 0)
	chunks := c.Chunk(content, "", "")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if got := strings.Join(chunks, "\n"); got != content {
		t.Errorf("concatenated chunks = %q, want original content", got)
	}
}

func TestChunkSingleChunkUnderBudget(t *testing.T) {
	content := "A. B. C."
	c := NewTokenChunker(tokenizer.WordTokenizer{}, 100, 2)
	chunks := c.Chunk(content, "", "")
	if len(chunks) != 1 || chunks[0] != content {
		t.Errorf("Chunk = %q, want one chunk with all sentences", chunks)
	}
}

func TestChunkOverlapSeedsNextChunk(t *testing.T) {
	content := "First one.\nSecond two.\nThird three."
	c := NewTokenChunker(tokenizer.WordTokenizer{}, 2, 1)
	chunks := c.Chunk(content, "", "")
	if len(chunks) != 3 {
		t.Fatalf("chunks = %q, want 3", chunks)
	}
	if chunks[1] != "First one.\nSecond two." {
		t.Errorf("chunk[1] = %q, want previous sentence as overlap seed", chunks[1])
	}
	if chunks[2] != "Second two.\nThird three." {
		t.Errorf("chunk[2] = %q, want previous sentence as overlap seed", chunks[2])
	}
}

func TestChunkOversizedLineSplitsAtSentences(t *testing.T) {
	content := "aa bb. cc dd. ee ff."
	c := NewTokenChunker(tokenizer.WordTokenizer{}, 3, 0)
	chunks := c.Chunk(content, "", "")
	want := []string{"aa bb.", "cc dd.", "ee ff."}
	if len(chunks) != len(want) {
		t.Fatalf("chunks = %q, want %q", chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestChunkOversizedSentencePreserved(t *testing.T) {
	content := "one two three four five six seven."
	c := NewTokenChunker(tokenizer.WordTokenizer{}, 3, 0)
	chunks := c.Chunk(content, "", "")
	if len(chunks) != 1 {
		t.Fatalf("chunks = %q, want 1 oversized chunk", chunks)
	}
	if chunks[0] != content {
		t.Errorf("oversized sentence was altered: %q", chunks[0])
	}
}

func TestChunkTitlePrefix(t *testing.T) {
	c := NewTokenChunker(tokenizer.WordTokenizer{}, 2, 0)
	chunks := c.Chunk("alpha\nbeta", "Manual", "")
	if len(chunks) != 2 {
		t.Fatalf("chunks = %q, want 2", chunks)
	}
	for i, ch := range chunks {
		if !strings.HasPrefix(ch, "Manual\n") {
			t.Errorf("chunk[%d] = %q, missing title prefix", i, ch)
		}
	}
}

func TestChunkTitleAndSummaryPrefix(t *testing.T) {
	c := NewTokenChunker(tokenizer.WordTokenizer{}, 100, 0)
	chunks := c.Chunk("body", "Title", "Summary")
	if len(chunks) != 1 {
		t.Fatalf("chunks = %q, want 1", chunks)
	}
	if chunks[0] != "Title\nSummary\nbody" {
		t.Errorf("chunk = %q", chunks[0])
	}
}
