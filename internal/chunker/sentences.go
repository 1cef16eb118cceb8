package chunker

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// sentenceRe matches terminated sentences and a trailing unterminated tail.
var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`)

// SplitSentences splits text into trimmed sentences on ., ! and ? boundaries.
// Text without any terminator comes back as a single sentence.
func SplitSentences(text string) []string {
	matches := sentenceRe.FindAllString(text, -1)
	sentences := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimSpace(m)
		if m != "" {
			sentences = append(sentences, m)
		}
	}
	return sentences
}

// SentenceChunker accumulates whole sentences into chunks bounded by total
// character length. Used for PDFs and other converter output where token
// budgets are not required.
type SentenceChunker struct {
	maxChars int
	logger   *zap.Logger // optional
}

// NewSentenceChunker creates a character-budget sentence chunker. logger may
// be nil.
func NewSentenceChunker(maxChars int, logger *zap.Logger) *SentenceChunker {
	if maxChars <= 0 {
		maxChars = 1000
	}
	return &SentenceChunker{maxChars: maxChars, logger: logger}
}

// Chunk splits content into chunks of whole sentences, flushing whenever the
// next sentence would exceed the character budget. A sentence longer than the
// budget on its own is recursively halved at whitespace boundaries until each
// half fits. A sentence that cannot be split (a single over-long token) is
// dropped with a warning; that is deliberate policy, oversized atomic tokens
// carry no retrievable meaning.
func (c *SentenceChunker) Chunk(content string) []string {
	var (
		chunks  []string
		current string
	)
	flush := func() {
		if current != "" {
			chunks = append(chunks, current)
			current = ""
		}
	}
	add := func(s string) {
		if current != "" && len(current)+1+len(s) > c.maxChars {
			flush()
		}
		current = joinUnit(current, s, " ")
	}
	for _, s := range SplitSentences(content) {
		if len(s) > c.maxChars {
			for _, part := range c.halve(s) {
				add(part)
			}
			continue
		}
		add(s)
	}
	flush()
	return chunks
}

// halve recursively splits s at the whitespace boundary nearest its middle
// until every part fits the budget. Parts with no whitespace to split on are
// dropped.
func (c *SentenceChunker) halve(s string) []string {
	if len(s) <= c.maxChars {
		return []string{s}
	}
	mid := nearestSpace(s, len(s)/2)
	if mid <= 0 {
		if c.logger != nil {
			c.logger.Warn("dropping unsplittable oversized sentence",
				zap.Int("length", len(s)),
				zap.Int("budget", c.maxChars))
		}
		return nil
	}
	left := strings.TrimSpace(s[:mid])
	right := strings.TrimSpace(s[mid:])
	return append(c.halve(left), c.halve(right)...)
}

// nearestSpace returns the index of the whitespace byte closest to from, or -1.
func nearestSpace(s string, from int) int {
	for d := 0; d < len(s); d++ {
		if i := from - d; i >= 0 && i < len(s) && isSpace(s[i]) {
			return i
		}
		if i := from + d; i < len(s) && isSpace(s[i]) {
			return i
		}
	}
	return -1
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n'
}
