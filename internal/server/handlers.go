package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kotae-ai/kotae/internal/access"
	"github.com/kotae-ai/kotae/internal/convert"
	"github.com/kotae-ai/kotae/internal/models"
	"github.com/kotae-ai/kotae/internal/retrieval"
	"github.com/kotae-ai/kotae/internal/store"
)

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	req, err := s.retrievalRequest(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	req.AllowDuplicateDocs = true

	hits, canned, err := s.engine.Search(r.Context(), req)
	if err != nil {
		s.logger.Error("answer search failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}

	if canned != nil {
		s.respondAnswer(w, r, &models.Answer{
			Text: canned.Answer,
			Sources: []*models.Source{{
				DocID:      canned.DocID,
				Title:      canned.DocTitle,
				Score:      1,
				Canned:     true,
				Collection: cannedCollection(req.Collections),
			}},
			Canned: true,
		})
		return
	}

	format := retrieval.ContextPlain
	if r.URL.Query().Get("format") == "indexed" {
		format = retrieval.ContextIndexed
	}
	packed, used := retrieval.BuildContext(hits, s.tokenizer, s.config.Retrieval.MaxContextTokens, format)
	// The indexed format labels fragments doc_idx: 0..used-1, so its source
	// list must keep one entry per fragment for the citation indices to
	// resolve. The plain format collapses to one entry per document.
	sources := dedupSources(hits[:used])
	if format == retrieval.ContextIndexed {
		sources = retrieval.Sources(hits[:used])
	}

	if r.URL.Query().Get("stream") == "true" {
		s.streamAnswer(w, r, req, packed, sources)
		return
	}

	text, err := s.generator.Answer(r.Context(), req.Query, packed, req.Collections)
	if err != nil {
		s.logger.Error("answer generation failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	if lang := r.URL.Query().Get("translate_to"); lang != "" && s.translator != nil {
		res, err := s.translator.Translate(r.Context(), text, lang, "")
		if err != nil {
			s.logger.Warn("answer translation failed", zap.Error(err))
		} else {
			text = res.Text
		}
	}
	s.respondAnswer(w, r, &models.Answer{Text: text, Sources: sources})
}

func (s *Server) respondAnswer(w http.ResponseWriter, r *http.Request, answer *models.Answer) {
	if r.URL.Query().Get("stream") == "true" {
		flusher, ok := w.(http.Flusher)
		if !ok {
			s.respondJSON(w, http.StatusOK, answer)
			return
		}
		sseHeaders(w)
		writeEvent(w, "sources", answer.Sources)
		writeEvent(w, "delta", map[string]string{"text": answer.Text})
		writeEvent(w, "done", map[string]bool{"canned": answer.Canned})
		flusher.Flush()
		return
	}
	s.respondJSON(w, http.StatusOK, answer)
}

// streamAnswer emits the sources first, then completion fragments as they
// arrive, as server-sent events.
func (s *Server) streamAnswer(w http.ResponseWriter, r *http.Request, req *retrieval.Request, packed string, sources []*models.Source) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondErr(w, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	fragments, errc, err := s.generator.AnswerStream(r.Context(), req.Query, packed)
	if err != nil {
		s.logger.Error("answer stream failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}

	sseHeaders(w)
	writeEvent(w, "sources", sources)
	flusher.Flush()

	for fragment := range fragments {
		writeEvent(w, "delta", map[string]string{"text": fragment})
		flusher.Flush()
	}
	if err := <-errc; err != nil {
		s.logger.Error("answer stream aborted", zap.Error(err))
		writeEvent(w, "error", map[string]string{"message": err.Error()})
		flusher.Flush()
		return
	}
	writeEvent(w, "done", map[string]bool{"canned": false})
	flusher.Flush()
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	req, err := s.retrievalRequest(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	hits, canned, err := s.engine.Search(r.Context(), req)
	if err != nil {
		s.logger.Error("ranking search failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	if canned != nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"sources": []*models.Source{{
				DocID:      canned.DocID,
				Title:      canned.DocTitle,
				Score:      1,
				Canned:     true,
				Collection: cannedCollection(req.Collections),
			}},
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"sources": retrieval.Sources(hits)})
}

// uploadRequest is the POST body for a collection: inline documents, chat
// transcripts and binary payloads ride in documents (with per-document
// format), links are crawled, canned holds question/answer pairs.
type uploadRequest struct {
	Documents      []*models.DocumentInput `json:"documents,omitempty"`
	Links          []string                `json:"links,omitempty"`
	Canned         []models.QAPair         `json:"canned,omitempty"`
	CannedID       string                  `json:"canned_id,omitempty"`
	SecurityGroups []int                   `json:"security_groups,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := store.ValidateName(name); err != nil {
		s.respondErr(w, err)
		return
	}
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondErr(w, fmt.Errorf("%w: invalid request body: %v", models.ErrValidation, err))
		return
	}
	if len(req.Documents) == 0 && len(req.Links) == 0 && len(req.Canned) == 0 {
		s.respondErr(w, fmt.Errorf("%w: nothing to upload", models.ErrValidation))
		return
	}

	schema := store.SchemaDocument
	if len(req.Canned) > 0 {
		schema = store.SchemaCanned
	}
	col, err := s.registry.GetOrCreate(r.Context(), name, schema)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	ctx := r.Context()
	var inserted, deleted int

	for _, input := range req.Documents {
		if len(input.SecurityGroups) == 0 {
			input.SecurityGroups = req.SecurityGroups
		}
		text, err := documentText(input)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		input.Content = text
		ins, del, err := s.indexer.IndexDocument(ctx, col, input)
		if err != nil {
			s.logger.Error("document indexing failed", zap.String("doc", input.ID), zap.Error(err))
			s.respondErr(w, err)
			return
		}
		inserted += ins
		deleted += del
	}

	for _, link := range req.Links {
		docs, err := s.crawler.Crawl(ctx, link)
		if err != nil {
			s.logger.Error("crawl failed", zap.String("url", link), zap.Error(err))
			s.respondErr(w, err)
			return
		}
		for _, doc := range docs {
			doc.SecurityGroups = req.SecurityGroups
			ins, del, err := s.indexer.IndexDocument(ctx, col, doc)
			if err != nil {
				s.respondErr(w, err)
				return
			}
			inserted += ins
			deleted += del
		}
	}

	if len(req.Canned) > 0 {
		mask, err := access.EncodeGroups(req.SecurityGroups)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		id := req.CannedID
		if id == "" {
			id = uuid.NewString()
		}
		ins, del, err := s.indexer.IndexCannedPairs(ctx, col, id, req.Canned, models.DocumentMeta{
			DocID:          id,
			SecurityGroups: mask,
		})
		if err != nil {
			s.respondErr(w, err)
			return
		}
		inserted += ins
		deleted += del
	}

	s.respondJSON(w, http.StatusOK, map[string]int{
		"chunks_inserted": inserted,
		"chunks_deleted":  deleted,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	col, err := s.registry.Get(name)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	ids := splitParam(r.URL.Query().Get("document"))
	if len(ids) == 0 {
		var body struct {
			Documents []string `json:"documents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			ids = body.Documents
		}
	}
	if len(ids) == 0 {
		s.respondErr(w, fmt.Errorf("%w: no document ids given", models.ErrValidation))
		return
	}

	for _, id := range ids {
		if err := s.indexer.DeleteDocument(r.Context(), col, id); err != nil {
			s.logger.Error("deletion failed", zap.String("doc", id), zap.Error(err))
			s.respondErr(w, err)
			return
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": ids})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// retrievalRequest builds the engine request common to answer and ranking:
// either a free-text query or a document id whose text stands in for the
// query, plus the collection list and the caller's security mask.
func (s *Server) retrievalRequest(r *http.Request) (*retrieval.Request, error) {
	q := r.URL.Query()
	query := q.Get("query")
	document := q.Get("document")
	if query == "" && document == "" {
		return nil, fmt.Errorf("%w: one of query or document is required", models.ErrValidation)
	}
	if query != "" && document != "" {
		return nil, fmt.Errorf("%w: query and document are mutually exclusive", models.ErrValidation)
	}

	collections := splitParam(q.Get("collections"))
	if len(collections) == 0 {
		return nil, fmt.Errorf("%w: collections parameter is required", models.ErrValidation)
	}

	mask := access.Unrestricted
	if groupsParam := q.Get("groups"); groupsParam != "" {
		groups, err := parseGroups(groupsParam)
		if err != nil {
			return nil, err
		}
		mask, err = access.EncodeGroups(groups)
		if err != nil {
			return nil, err
		}
	}

	req := &retrieval.Request{
		Collections:  collections,
		TopK:         s.config.Retrieval.TopK,
		SecurityMask: mask,
	}
	if k := q.Get("top_k"); k != "" {
		n, err := strconv.Atoi(k)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: invalid top_k %q", models.ErrValidation, k)
		}
		req.TopK = n
	}

	if document != "" {
		text, err := s.documentQuery(r, collections, document)
		if err != nil {
			return nil, err
		}
		req.Query = text
		req.ExcludeDocID = document
	} else {
		req.Query = query
	}
	return req, nil
}

// documentQuery resolves a document id to its first chunk's text, for
// "more like this document" requests. The id must match in exactly one of
// the requested collections.
func (s *Server) documentQuery(r *http.Request, collections []string, docID string) (string, error) {
	var found []*models.Chunk
	matches := 0
	for _, name := range collections {
		col, err := s.registry.Get(name)
		if err != nil {
			return "", err
		}
		chunks, err := col.QueryByDoc(r.Context(), docID)
		if err != nil {
			return "", err
		}
		if len(chunks) > 0 {
			matches++
			found = chunks
		}
	}
	if matches == 0 {
		return "", fmt.Errorf("%w: %s", models.ErrDocumentNotFound, docID)
	}
	if matches > 1 {
		return "", fmt.Errorf("%w: %s matches in %d collections", models.ErrAmbiguousDocument, docID, matches)
	}
	return found[0].Text, nil
}

// documentText converts an uploaded document's payload to plain text.
// Binary formats arrive base64-encoded.
func documentText(input *models.DocumentInput) (string, error) {
	raw := []byte(input.Content)
	switch input.Format {
	case models.FormatPDF, models.FormatDOCX, models.FormatXLSX:
		decoded, err := base64.StdEncoding.DecodeString(input.Content)
		if err != nil {
			return "", fmt.Errorf("%w: content of %s document is not base64: %v", models.ErrValidation, input.Format, err)
		}
		raw = decoded
	}
	return convert.Text(raw, input.Format)
}

// dedupSources projects hits into sources keeping one entry per document,
// first occurrence wins.
func dedupSources(hits []*retrieval.Hit) []*models.Source {
	seen := make(map[string]bool)
	var unique []*retrieval.Hit
	for _, h := range hits {
		if seen[h.Chunk.DocID] {
			continue
		}
		seen[h.Chunk.DocID] = true
		unique = append(unique, h)
	}
	return retrieval.Sources(unique)
}

func cannedCollection(names []string) string {
	if len(names) > 0 {
		return names[0]
	}
	return ""
}

func parseGroups(param string) ([]int, error) {
	parts := splitParam(param)
	groups := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid security group %q", models.ErrValidation, p)
		}
		groups = append(groups, n)
	}
	return groups, nil
}

func splitParam(param string) []string {
	if param == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(param, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeEvent(w http.ResponseWriter, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondErr maps a typed error to its HTTP status. Unclassified errors are
// 500s carrying the error's type name and message.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := fmt.Sprintf("%T", err)
	switch {
	case errors.Is(err, models.ErrCollectionNotFound):
		status, kind = http.StatusNotFound, "collection_not_found"
	case errors.Is(err, models.ErrDocumentNotFound):
		status, kind = http.StatusNotFound, "document_not_found"
	case errors.Is(err, models.ErrAmbiguousDocument):
		status, kind = http.StatusUnprocessableEntity, "ambiguous_document"
	case errors.Is(err, models.ErrValidation):
		status, kind = http.StatusUnprocessableEntity, "validation"
	case errors.Is(err, models.ErrAccessDenied):
		status, kind = http.StatusForbidden, "access_denied"
	case errors.Is(err, models.ErrServiceUnavailable):
		status, kind = http.StatusBadGateway, "service_unavailable"
	case errors.Is(err, models.ErrEmbeddingMismatch):
		status, kind = http.StatusInternalServerError, "embedding_mismatch"
	}
	s.respondJSON(w, status, map[string]string{"error": err.Error(), "type": kind})
}
