// Package models defines core data structures for chunks, documents, and retrieval results.
package models

// Chunk is the smallest retrievable unit: a bounded slice of a document's text
// together with its embedding and denormalized document metadata.
// Hash is the content-addressed primary key within a collection; several
// chunks may share the same DocID.
type Chunk struct {
	Hash           string    `json:"hash"`
	DocID          string    `json:"doc_id"`
	Text           string    `json:"text"`
	Embedding      []float32 `json:"-"`
	DocTitle       string    `json:"doc_title"`
	DocSummary     string    `json:"doc_summary,omitempty"`
	URL            string    `json:"url,omitempty"`
	Timestamp      int64     `json:"timestamp"`
	SecurityGroups uint64    `json:"security_groups"`
	// Answer is set only on canned-answer collections, where Text holds the
	// question and Answer is returned verbatim on a high-confidence match.
	Answer string `json:"answer,omitempty"`
}

// DocumentMeta carries per-document metadata copied onto every chunk of that
// document so retrieval can display it without a join.
type DocumentMeta struct {
	DocID          string
	Title          string
	Summary        string
	URL            string
	Timestamp      int64
	SecurityGroups uint64
}

// SourceFormat tags the input format of a document so the matching converter
// can be selected at the call site.
type SourceFormat string

const (
	FormatText     SourceFormat = "text"
	FormatMarkdown SourceFormat = "markdown"
	FormatPDF      SourceFormat = "pdf"
	FormatDOCX     SourceFormat = "docx"
	FormatXLSX     SourceFormat = "xlsx"
	FormatChat     SourceFormat = "chat"
	FormatLink     SourceFormat = "link"
)

// DocumentInput is one logical document submitted for indexing.
// ID may be empty for uploads (a UUID is assigned) but is derived from the
// URL for crawled pages so re-crawls update the same document.
type DocumentInput struct {
	ID             string       `json:"id,omitempty"`
	Title          string       `json:"title,omitempty"`
	Summary        string       `json:"summary,omitempty"`
	URL            string       `json:"url,omitempty"`
	Content        string       `json:"content"`
	Format         SourceFormat `json:"format,omitempty"`
	SecurityGroups []int        `json:"security_groups,omitempty"`
}

// QAPair is one pre-authored question/answer pair for a canned collection.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Source is the display projection of one retrieved chunk.
type Source struct {
	DocID      string  `json:"doc_id"`
	Title      string  `json:"title"`
	Collection string  `json:"collection"`
	Score      float64 `json:"score"`
	Summary    string  `json:"summary,omitempty"`
	Canned     bool    `json:"canned,omitempty"`
}

// Answer is the response to an answer request: the generated text plus the
// sources whose chunks were packed into the completion context.
type Answer struct {
	Text    string    `json:"answer"`
	Sources []*Source `json:"sources"`
	Canned  bool      `json:"canned,omitempty"`
}
