package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kotae-ai/kotae/internal/models"
)

type fakeEmbeddingServer struct {
	failures int32 // 500s to serve before succeeding
	perInput bool  // one embedding per input when true, always one otherwise
	calls    int32
}

func (f *fakeEmbeddingServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.calls, 1)
		if atomic.AddInt32(&f.failures, -1) >= 0 {
			http.Error(w, "upstream overloaded", http.StatusInternalServerError)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		n := 1
		if f.perInput {
			n = len(req.Input)
		}
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, n)
		for i := range data {
			data[i] = item{Object: "embedding", Embedding: []float32{3, 4}, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   data,
			"model":  "test-embed",
		})
	}
}

func newTestEmbedder(t *testing.T, f *fakeEmbeddingServer) *ServiceEmbedder {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewServiceEmbedder(srv.URL+"/v1", "test-key", "test-embed", 2, nil)
}

func TestEmbedBatchOrderAndNormalization(t *testing.T) {
	e := newTestEmbedder(t, &fakeEmbeddingServer{perInput: true})
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	// [3,4] normalized is [0.6,0.8]
	for i, v := range vecs {
		if len(v) != 2 || v[0] < 0.59 || v[0] > 0.61 || v[1] < 0.79 || v[1] > 0.81 {
			t.Errorf("vecs[%d] = %v, want normalized [0.6 0.8]", i, v)
		}
	}
}

func TestEmbedBatchRetriesServerError(t *testing.T) {
	f := &fakeEmbeddingServer{failures: 1, perInput: true}
	e := newTestEmbedder(t, f)
	if _, err := e.EmbedBatch(context.Background(), []string{"a"}); err != nil {
		t.Fatalf("expected success after retry: %v", err)
	}
	if got := atomic.LoadInt32(&f.calls); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestEmbedBatchExhaustsRetries(t *testing.T) {
	if testing.Short() {
		t.Skip("backoff sleeps")
	}
	f := &fakeEmbeddingServer{failures: int32(maxAttempts)}
	e := newTestEmbedder(t, f)
	_, err := e.EmbedBatch(context.Background(), []string{"a"})
	if !errors.Is(err, models.ErrServiceUnavailable) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
	if got := atomic.LoadInt32(&f.calls); got != int32(maxAttempts) {
		t.Errorf("calls = %d, want %d", got, maxAttempts)
	}
}

func TestEmbedBatchLengthMismatchFatal(t *testing.T) {
	e := newTestEmbedder(t, &fakeEmbeddingServer{perInput: false})
	_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if !errors.Is(err, models.ErrEmbeddingMismatch) {
		t.Fatalf("err = %v, want ErrEmbeddingMismatch", err)
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	f := &fakeEmbeddingServer{perInput: true}
	e := newTestEmbedder(t, f)
	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", vecs, err)
	}
	if atomic.LoadInt32(&f.calls) != 0 {
		t.Error("empty batch should not call the service")
	}
}
