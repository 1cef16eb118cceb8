package retrieval

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kotae-ai/kotae/internal/identity"
	"github.com/kotae-ai/kotae/internal/models"
	"github.com/kotae-ai/kotae/pkg/utils"
)

const systemPrompt = "You are a support assistant. Answer the question using only the provided context. " +
	"If the context does not contain the answer, say you do not know."

// Generator produces answers from packed retrieval context via an
// OpenAI-compatible chat completion service.
type Generator struct {
	client *openai.Client
	model  string
	cache  *answerCache
	logger *zap.Logger
}

// NewGenerator creates a Generator for the given completion endpoint.
// cacheSize <= 0 disables the answer cache.
func NewGenerator(baseURL, apiKey, model string, cacheSize int, logger *zap.Logger) *Generator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var cache *answerCache
	if cacheSize > 0 {
		cache = newAnswerCache(cacheSize)
	}
	return &Generator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		cache:  cache,
		logger: logger,
	}
}

// Answer runs one chat completion over the packed context. The cache key
// covers the packed context as well as the query and collection set, so a
// caller whose security mask (or a reindex) changed the visible context never
// sees an answer generated from different chunks.
func (g *Generator) Answer(ctx context.Context, query, packedContext string, collections []string) (string, error) {
	key := identity.CacheKey(append([]string{query, packedContext}, collections...)...)
	if g.cache != nil {
		if text, ok := g.cache.get(key); ok {
			g.logger.Debug("answer cache hit", zap.String("query", utils.Truncate(query, 80)))
			return text, nil
		}
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: promptMessages(query, packedContext),
	})
	if err != nil {
		return "", fmt.Errorf("%w: completion: %v", models.ErrServiceUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: completion returned no choices", models.ErrServiceUnavailable)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if g.cache != nil {
		g.cache.put(key, text)
	}
	return text, nil
}

// AnswerStream starts a streaming completion and returns a channel of text
// fragments in arrival order. The channel is closed when the stream ends or
// ctx is cancelled; a terminal stream error is sent on errc before close.
func (g *Generator) AnswerStream(ctx context.Context, query, packedContext string) (<-chan string, <-chan error, error) {
	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: promptMessages(query, packedContext),
		Stream:   true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: completion stream: %v", models.ErrServiceUnavailable, err)
	}

	fragments := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(fragments)
		defer close(errc)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					errc <- fmt.Errorf("%w: completion stream: %v", models.ErrServiceUnavailable, err)
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case fragments <- delta:
			case <-ctx.Done():
				return
			}
		}
	}()
	return fragments, errc, nil
}

func promptMessages(query, packedContext string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", packedContext, query)},
	}
}

// answerCache is a small LRU of generated answers keyed by query and
// collection set.
type answerCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

type answerEntry struct {
	key  string
	text string
}

func newAnswerCache(capacity int) *answerCache {
	return &answerCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func (c *answerCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return "", false
	}
	c.order.MoveToFront(el)
	return el.Value.(*answerEntry).text, true
}

func (c *answerCache) put(key, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*answerEntry).text = text
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&answerEntry{key: key, text: text})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*answerEntry).key)
	}
}
