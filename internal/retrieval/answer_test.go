package retrieval

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

// fakeCompletionServer mimics the chat completions endpoint, plain and
// streaming.
func fakeCompletionServer(t *testing.T, answer string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if strings.Contains(readBody(r), `"stream":true`) {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, piece := range strings.SplitAfter(answer, " ") {
				fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", piece)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, answer)
	}))
}

func readBody(r *http.Request) string {
	var b strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := r.Body.Read(buf)
		b.Write(buf[:n])
		if err != nil {
			return b.String()
		}
	}
}

func TestGeneratorAnswer(t *testing.T) {
	srv := fakeCompletionServer(t, "The release script handles it.", nil)
	defer srv.Close()

	g := NewGenerator(srv.URL+"/v1", "key", "test-model", 0, zap.NewNop())
	got, err := g.Answer(context.Background(), "how to deploy", "ctx", []string{"acme_a_docs"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "The release script handles it." {
		t.Errorf("answer = %q", got)
	}
}

func TestGeneratorAnswerCached(t *testing.T) {
	var calls atomic.Int64
	srv := fakeCompletionServer(t, "cached answer", &calls)
	defer srv.Close()

	g := NewGenerator(srv.URL+"/v1", "key", "test-model", 8, zap.NewNop())
	for i := 0; i < 3; i++ {
		if _, err := g.Answer(context.Background(), "q", "ctx", []string{"c"}); err != nil {
			t.Fatal(err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("service calls = %d, want 1", calls.Load())
	}

	// A different collection set is a different cache key.
	if _, err := g.Answer(context.Background(), "q", "ctx", []string{"other"}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("service calls = %d, want 2", calls.Load())
	}
}

func TestGeneratorAnswerNotCachedAcrossContexts(t *testing.T) {
	// Two callers with the same query and collections but different visible
	// context (different security masks, or content changed by a reindex)
	// must not share a cache entry.
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		answer := "answer from public context"
		if strings.Contains(readBody(r), "restricted-material") {
			answer = "answer from restricted context"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, answer)
	}))
	defer srv.Close()

	g := NewGenerator(srv.URL+"/v1", "key", "test-model", 8, zap.NewNop())
	cols := []string{"acme_a_docs"}

	got, err := g.Answer(context.Background(), "q", "restricted-material", cols)
	if err != nil {
		t.Fatal(err)
	}
	if got != "answer from restricted context" {
		t.Fatalf("first answer = %q", got)
	}

	got, err = g.Answer(context.Background(), "q", "", cols)
	if err != nil {
		t.Fatal(err)
	}
	if got != "answer from public context" {
		t.Errorf("filtered caller got %q, cache leaked across contexts", got)
	}
	if calls.Load() != 2 {
		t.Errorf("service calls = %d, want 2", calls.Load())
	}

	// Each context still hits its own cache entry on repeat.
	if _, err := g.Answer(context.Background(), "q", "restricted-material", cols); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("service calls = %d after repeats, want 2", calls.Load())
	}
}

func TestGeneratorAnswerStream(t *testing.T) {
	srv := fakeCompletionServer(t, "one two three", nil)
	defer srv.Close()

	g := NewGenerator(srv.URL+"/v1", "key", "test-model", 0, zap.NewNop())
	fragments, errc, err := g.AnswerStream(context.Background(), "q", "ctx")
	if err != nil {
		t.Fatal(err)
	}
	var b strings.Builder
	for f := range fragments {
		b.WriteString(f)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if b.String() != "one two three" {
		t.Errorf("streamed answer = %q", b.String())
	}
}

func TestAnswerCacheEviction(t *testing.T) {
	c := newAnswerCache(2)
	c.put("a", "1")
	c.put("b", "2")
	c.put("c", "3")
	if _, ok := c.get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	for key, want := range map[string]string{"b": "2", "c": "3"} {
		got, ok := c.get(key)
		if !ok || got != want {
			t.Errorf("get(%s) = %q ok=%v", key, got, ok)
		}
	}
}
