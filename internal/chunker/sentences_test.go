package chunker

import (
	"strings"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"", nil},
		{"One sentence.", []string{"One sentence."}},
		{"One. Two! Three?", []string{"One.", "Two!", "Three?"}},
		{"No terminator", []string{"No terminator"}},
		{"Ends mid. stream", []string{"Ends mid.", "stream"}},
	}
	for _, tt := range tests {
		got := SplitSentences(tt.text)
		if len(got) != len(tt.want) {
			t.Errorf("SplitSentences(%q) = %q, want %q", tt.text, got, tt.want)
			continue
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("SplitSentences(%q)[%d] = %q, want %q", tt.text, i, got[i], tt.want[i])
			}
		}
	}
}

func TestSentenceChunkerAccumulates(t *testing.T) {
	c := NewSentenceChunker(20, nil)
	chunks := c.Chunk("Aaa bbb. Ccc ddd. Eee fff.")
	// "Aaa bbb. Ccc ddd." is 17 chars; adding "Eee fff." would exceed 20.
	want := []string{"Aaa bbb. Ccc ddd.", "Eee fff."}
	if len(chunks) != len(want) {
		t.Fatalf("chunks = %q, want %q", chunks, want)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestSentenceChunkerHalvesLongSentence(t *testing.T) {
	long := strings.Repeat("word ", 20) + "end."
	c := NewSentenceChunker(30, nil)
	chunks := c.Chunk(long)
	if len(chunks) < 2 {
		t.Fatalf("expected long sentence to be halved, got %q", chunks)
	}
	for i, ch := range chunks {
		if len(ch) > 30 {
			t.Errorf("chunk[%d] length %d exceeds budget", i, len(ch))
		}
	}
	joined := strings.Join(chunks, " ")
	if !strings.Contains(joined, "end.") {
		t.Errorf("content lost during halving: %q", joined)
	}
}

func TestSentenceChunkerDropsUnsplittable(t *testing.T) {
	token := strings.Repeat("x", 50)
	c := NewSentenceChunker(10, nil)
	chunks := c.Chunk(token)
	if len(chunks) != 0 {
		t.Errorf("unsplittable oversized token should be dropped, got %q", chunks)
	}
}

func TestSentenceChunkerEmpty(t *testing.T) {
	c := NewSentenceChunker(100, nil)
	if chunks := c.Chunk(""); len(chunks) != 0 {
		t.Errorf("Chunk(\"\") = %q, want none", chunks)
	}
}
